// Package cycle enforces the guarded reasoning cycle: seven ordered phases,
// one per invocation, each recorded on the session's invocation chain.
package cycle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"workmem/internal/finalize"
	"workmem/internal/model"
	"workmem/internal/store"
)

// Status of one Advance call.
const (
	StatusExecuted = "executed"
	StatusWaiting  = "waiting"
	StatusComplete = "cycle_complete"
)

// Inputs carries caller-supplied data for the phases that need it. Phases
// that find their input missing report a waiting status instead of erroring.
type Inputs struct {
	// ROUTER
	Route string

	// CONTEXT_PACK
	ContextKeys    []string
	Scope          string
	MaxCells       int
	MaxExperiences int
	ByteBudget     int

	// DRAFT
	Draft string

	// FINALIZE_RESPONSE
	Finalize *finalize.Result

	// GOVERNANCE_VALIDATE
	GovernanceValid  *bool
	GovernanceErrors []string
}

// Result reports the outcome of one Advance call.
type Result struct {
	Status     string             `json:"status"`
	Phase      model.Phase        `json:"phase,omitempty"`
	Waiting    string             `json:"waiting,omitempty"` // what input the phase needs
	Pack       *store.PackResult  `json:"pack,omitempty"`
	Chain      *store.ChainResult `json:"chain,omitempty"`
	Experience *model.Experience  `json:"experience,omitempty"`
}

// Engine drives sessions through the cycle. Advances on the same session are
// serialized by a per-session mutex; concurrent calls block rather than
// interleave.
type Engine struct {
	store  *store.SQLiteStore
	logger *zap.Logger
	locks  sync.Map // session id -> *sync.Mutex
}

// NewEngine creates a cycle engine. A nil logger disables logging.
func NewEngine(s *store.SQLiteStore, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: s, logger: logger.With(zap.String("component", "cycle"))}
}

func (e *Engine) sessionLock(id string) *sync.Mutex {
	mu, _ := e.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Advance executes exactly the next phase for the session. It returns a
// waiting result when the phase needs input the caller has not supplied yet,
// and a cycle_complete result once every phase has run.
func (e *Engine) Advance(ctx context.Context, sessionID string, in Inputs, now time.Time) (*Result, error) {
	mu := e.sessionLock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	sess, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	phase, ok := model.NextPhase(sess.LastPhase)
	if !ok {
		return &Result{Status: StatusComplete}, nil
	}

	if missing := missingInput(phase, in); missing != "" {
		return &Result{Status: StatusWaiting, Phase: phase, Waiting: missing}, nil
	}

	result := &Result{Status: StatusExecuted, Phase: phase}
	var input, output any

	switch phase {
	case model.PhaseSnapshot:
		input = map[string]any{"session_id": sessionID}
		head, err := e.store.ChainHead(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		output = map[string]any{
			"scope_mode": sess.ScopeMode,
			"flags":      sess.Flags,
			"chain_head": head,
		}

	case model.PhaseRouter:
		route := in.Route
		if route == "" {
			route = "default"
		}
		input = map[string]any{"route": in.Route}
		output = map[string]any{"route": route}

	case model.PhaseContextPack:
		scope := in.Scope
		if scope == "" {
			scope = sess.ScopeMode
		}
		pack, err := e.store.PackForSession(ctx, store.PackParams{
			SessionID:      sessionID,
			Scope:          scope,
			ContextKeys:    in.ContextKeys,
			MaxCells:       in.MaxCells,
			MaxExperiences: in.MaxExperiences,
			ByteBudget:     in.ByteBudget,
		}, now)
		if err != nil {
			return nil, fmt.Errorf("context pack: %w", err)
		}
		result.Pack = pack
		input = map[string]any{"scope": scope, "context_keys": in.ContextKeys}
		output = map[string]any{
			"context_hash": pack.ContextHash,
			"byte_size":    pack.ByteSize,
			"cells":        len(pack.Cells),
			"experiences":  len(pack.Experiences),
		}

	case model.PhaseDraft:
		input = map[string]any{"draft": in.Draft}
		output = map[string]any{"draft_len": len(in.Draft)}

	case model.PhaseFinalize:
		input = map[string]any{"integrity": in.Finalize.Integrity}
		output = map[string]any{
			"integrity":  in.Finalize.Integrity,
			"violations": len(in.Finalize.Violations),
		}

	case model.PhaseGovernance:
		input = map[string]any{"valid": *in.GovernanceValid}
		output = map[string]any{
			"valid":  *in.GovernanceValid,
			"errors": in.GovernanceErrors,
		}

	case model.PhaseMemory:
		exp, err := e.writeOutcome(ctx, sess, now)
		if err != nil {
			return nil, err
		}
		result.Experience = exp
		input = map[string]any{"session_id": sessionID}
		output = map[string]any{"experience_id": exp.ID, "outcome": exp.Outcome}
	}

	chain, err := e.store.RecordInvocation(ctx, sessionID, toolName(phase), input, output, now)
	if err != nil {
		return nil, fmt.Errorf("record invocation: %w", err)
	}
	result.Chain = chain

	if err := e.store.UpdateSession(ctx, sessionID, store.SessionUpdate{LastPhase: &phase}, now); err != nil {
		return nil, err
	}

	e.logger.Debug("phase executed",
		zap.String("session_id", sessionID),
		zap.String("phase", string(phase)))

	return result, nil
}

// missingInput names the caller-supplied input a phase still needs.
func missingInput(phase model.Phase, in Inputs) string {
	switch phase {
	case model.PhaseDraft:
		if strings.TrimSpace(in.Draft) == "" {
			return "draft"
		}
	case model.PhaseFinalize:
		if in.Finalize == nil {
			return "finalize_result"
		}
	case model.PhaseGovernance:
		if in.GovernanceValid == nil {
			return "governance_result"
		}
	}
	return ""
}

// writeOutcome ends the cycle with exactly one episodic experience capturing
// overall success or failure, derived from the recorded finalize and
// governance phase outputs.
func (e *Engine) writeOutcome(ctx context.Context, sess *model.Session, now time.Time) (*model.Experience, error) {
	invocations, err := e.store.ListInvocations(ctx, sess.ID)
	if err != nil {
		return nil, err
	}

	outcome := model.OutcomeSuccess
	for _, inv := range invocations {
		var out map[string]any
		if err := json.Unmarshal([]byte(inv.Output), &out); err != nil {
			continue
		}
		switch inv.ToolName {
		case toolName(model.PhaseFinalize):
			if integrity, _ := out["integrity"].(string); integrity == finalize.IntegrityBlocked {
				outcome = model.OutcomeFail
			}
		case toolName(model.PhaseGovernance):
			if valid, ok := out["valid"].(bool); ok && !valid {
				outcome = model.OutcomeFail
			}
		}
	}

	return e.store.RecordExperience(ctx, store.ExperienceParams{
		SessionID:   sess.ID,
		Scope:       sess.ScopeMode,
		ContextKeys: []string{"cycle"},
		Summary:     fmt.Sprintf("reasoning cycle %s completed with outcome %s", sess.ID, outcome),
		Outcome:     outcome,
		Trust:       2,
		Source:      model.SourceSystem,
	}, now)
}

func toolName(p model.Phase) string {
	return strings.ToLower(string(p))
}
