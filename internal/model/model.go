// Package model defines the core working-memory data types.
package model

import "time"

// Phase is one step of the guarded reasoning cycle.
type Phase string

// The seven cycle phases, in execution order.
const (
	PhaseSnapshot    Phase = "SNAPSHOT"
	PhaseRouter      Phase = "ROUTER"
	PhaseContextPack Phase = "CONTEXT_PACK"
	PhaseDraft       Phase = "DRAFT"
	PhaseFinalize    Phase = "FINALIZE_RESPONSE"
	PhaseGovernance  Phase = "GOVERNANCE_VALIDATE"
	PhaseMemory      Phase = "MEMORY_UPDATE"
)

// PhaseOrder lists the cycle phases in their fixed execution order.
var PhaseOrder = []Phase{
	PhaseSnapshot,
	PhaseRouter,
	PhaseContextPack,
	PhaseDraft,
	PhaseFinalize,
	PhaseGovernance,
	PhaseMemory,
}

// PhaseIndex returns the position of p in the cycle, or -1 if unknown.
func PhaseIndex(p Phase) int {
	for i, ph := range PhaseOrder {
		if ph == p {
			return i
		}
	}
	return -1
}

// NextPhase returns the phase following last, or false when the cycle is
// complete. An empty last means the cycle has not started.
func NextPhase(last Phase) (Phase, bool) {
	if last == "" {
		return PhaseOrder[0], true
	}
	i := PhaseIndex(last)
	if i < 0 || i+1 >= len(PhaseOrder) {
		return "", false
	}
	return PhaseOrder[i+1], true
}

// Session is one reasoning turn's lifecycle record.
type Session struct {
	ID              string            `json:"id"`
	ScopeMode       string            `json:"scope_mode"`
	Flags           map[string]string `json:"flags,omitempty"`
	LastPhase       Phase             `json:"last_phase,omitempty"`
	LastContextHash string            `json:"last_context_hash,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// Invocation is one tool call inside a session, hash-linked to its
// predecessor. Rows are immutable once written.
type Invocation struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	ToolName  string    `json:"tool_name"`
	Input     string    `json:"input"`
	Output    string    `json:"output"`
	Timestamp time.Time `json:"timestamp"`
	Hash      string    `json:"hash"`
	PrevHash  string    `json:"prev_hash,omitempty"`
}

// Outcome of an episodic experience.
const (
	OutcomeSuccess = "success"
	OutcomeFail    = "fail"
)

// Source of an episodic experience.
const (
	SourceSystem = "system"
	SourceAgent  = "agent"
)

// Experience is a single timestamped outcome record.
type Experience struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id,omitempty"`
	Scope        string    `json:"scope"`
	ContextKeys  []string  `json:"context_keys,omitempty"`
	Summary      string    `json:"summary"`
	Outcome      string    `json:"outcome"`
	Trust        int       `json:"trust"`
	Source       string    `json:"source"`
	Consolidated bool      `json:"consolidated,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Scene groups related cells under a scope and a shared set of context keys.
type Scene struct {
	ID          string    `json:"id"`
	Scope       string    `json:"scope"`
	Label       string    `json:"label"`
	ContextKeys []string  `json:"context_keys,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Cell lifecycle states.
const (
	CellStateUnverified = "unverified"
	CellStateObserved   = "observed"
	CellStateStable     = "stable"
)

// Cell kinds.
const (
	CellTypeFact = "fact"
	CellTypeRule = "rule"
)

// Cell is a unit of consolidated semantic memory.
type Cell struct {
	ID                 string    `json:"id"`
	SceneID            string    `json:"scene_id"`
	Scope              string    `json:"scope"`
	CellType           string    `json:"cell_type"`
	Title              string    `json:"title"`
	Body               string    `json:"body"`
	Trust              int       `json:"trust"`
	State              string    `json:"state"`
	EvidenceCount      int       `json:"evidence_count"`
	ContradictionCount int       `json:"contradiction_count"`
	Salience           int       `json:"salience"`
	CanonicalKey       string    `json:"canonical_key"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Evidence link relations.
const (
	RelationSupports    = "supports"
	RelationContradicts = "contradicts"
)

// EvidenceLink ties a cell to the experience that supports or contradicts it.
type EvidenceLink struct {
	CellID       string    `json:"cell_id"`
	ExperienceID string    `json:"experience_id"`
	Relation     string    `json:"relation"`
	CreatedAt    time.Time `json:"created_at"`
}

// ReceiptPayload is the signed body of a governance receipt.
type ReceiptPayload struct {
	SessionID         string `json:"session_id"`
	Scope             string `json:"scope"`
	Timestamp         string `json:"timestamp"`
	ContextHash       string `json:"context_hash,omitempty"`
	ChainHead         string `json:"invocation_chain_head,omitempty"`
	ComplianceVersion string `json:"compliance_version"`
}

// Receipt is a signed, immutable record of a governance checkpoint.
type Receipt struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"session_id"`
	ReceiptType string         `json:"receipt_type"`
	Payload     ReceiptPayload `json:"payload"`
	PayloadHash string         `json:"payload_hash"`
	Signature   string         `json:"signature"`
	PublicMeta  string         `json:"public_meta,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// TokenPayload is the signed body of a capability token.
type TokenPayload struct {
	SessionID   string   `json:"session_id"`
	Scope       string   `json:"scope"`
	Permissions []string `json:"permissions"`
	Expiry      string   `json:"expiry"`
}

// Token is a signed, time-boxed capability grant. It is never deleted;
// past-expiry tokens are logically invalid.
type Token struct {
	ID          string       `json:"id"`
	SessionID   string       `json:"session_id"`
	TokenType   string       `json:"token_type"`
	Payload     TokenPayload `json:"payload"`
	PayloadHash string       `json:"payload_hash"`
	Signature   string       `json:"signature"`
	CreatedAt   time.Time    `json:"created_at"`
}

// ValidOutcomes are the allowed experience outcomes.
var ValidOutcomes = map[string]bool{
	OutcomeSuccess: true,
	OutcomeFail:    true,
}

// ValidSources are the allowed experience sources.
var ValidSources = map[string]bool{
	SourceSystem: true,
	SourceAgent:  true,
}

// ValidCellStates are the allowed cell lifecycle states.
var ValidCellStates = map[string]bool{
	CellStateUnverified: true,
	CellStateObserved:   true,
	CellStateStable:     true,
}

// ValidCellTypes are the allowed cell kinds.
var ValidCellTypes = map[string]bool{
	CellTypeFact: true,
	CellTypeRule: true,
}

// ValidRelations are the allowed evidence link relations.
var ValidRelations = map[string]bool{
	RelationSupports:    true,
	RelationContradicts: true,
}
