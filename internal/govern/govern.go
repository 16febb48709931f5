// Package govern mints and verifies signed receipts and capability tokens,
// validates phase order, chain integrity and context-hash continuity, and
// records governance outcomes as audit experiences.
package govern

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"workmem/internal/canon"
	"workmem/internal/model"
	"workmem/internal/store"
)

// ComplianceVersion is stamped into every receipt payload.
const ComplianceVersion = "1.0"

// EscalationThreshold is the number of consecutive governance failures after
// which the escalator fires. The triggered action belongs to the caller;
// this core only counts.
const EscalationThreshold = 3

// violationTag marks governance outcome experiences for later consolidation
// and audit.
const violationTag = "behavioral_violation"

// Escalator is the extension point invoked when a session accumulates
// EscalationThreshold consecutive failures.
type Escalator interface {
	Escalate(sessionID string, failures int)
}

// Governor is the governance layer over a store and a signer.
type Governor struct {
	store     *store.SQLiteStore
	signer    *canon.Signer
	logger    *zap.Logger
	escalator Escalator

	mu       sync.Mutex
	failures map[string]int // session id -> consecutive failures
}

// NewGovernor creates a governance layer. A nil logger disables logging; a
// nil escalator disables the escalation callback (the counter still runs).
func NewGovernor(s *store.SQLiteStore, signer *canon.Signer, logger *zap.Logger, escalator Escalator) *Governor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Governor{
		store:     s,
		signer:    signer,
		logger:    logger.With(zap.String("component", "govern")),
		escalator: escalator,
		failures:  map[string]int{},
	}
}

// ValidationResult reports a governance validation.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// Validate checks a session's governance invariants: its last phase is
// recognized, its invocation chain verifies, and — when a context hash is
// supplied — it matches the session's last recorded hash. Any mismatch is an
// error, never a warning.
func (g *Governor) Validate(ctx context.Context, sessionID, contextHash string, now time.Time) (*ValidationResult, error) {
	sess, err := g.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	result := &ValidationResult{Valid: true}
	fail := func(format string, args ...any) {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf(format, args...))
	}

	if sess.LastPhase == "" {
		fail("session has no recorded phase")
	} else if model.PhaseIndex(sess.LastPhase) < 0 {
		fail("unrecognized phase %q", sess.LastPhase)
	}

	chain, err := g.store.VerifyChain(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !chain.Valid {
		fail("invocation chain broken: %v", chain.Errors)
	}

	if contextHash != "" && contextHash != sess.LastContextHash {
		fail("context hash %q does not match session hash %q", contextHash, sess.LastContextHash)
	}

	return result, nil
}

// MintReceipt builds, signs and persists a receipt for a governance
// checkpoint. A receipt attests the session's chain head, so minting over a
// broken chain fails with ErrChainBroken; minting without a loaded secret
// fails with ErrNoSigningKey.
func (g *Governor) MintReceipt(ctx context.Context, sessionID, receiptType, publicMeta string, now time.Time) (*model.Receipt, error) {
	if !g.signer.HasKey() {
		return nil, model.ErrNoSigningKey
	}
	sess, err := g.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := g.store.RequireChain(ctx, sessionID); err != nil {
		return nil, err
	}
	head, err := g.store.ChainHead(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	payload := model.ReceiptPayload{
		SessionID:         sessionID,
		Scope:             sess.ScopeMode,
		Timestamp:         now.UTC().Format(time.RFC3339Nano),
		ContextHash:       sess.LastContextHash,
		ChainHead:         head,
		ComplianceVersion: ComplianceVersion,
	}

	hash, err := canon.Hash(payload)
	if err != nil {
		return nil, err
	}
	sig, err := g.signer.Sign(payload)
	if err != nil {
		return nil, err
	}

	receipt := &model.Receipt{
		ID:          newID(),
		SessionID:   sessionID,
		ReceiptType: receiptType,
		Payload:     payload,
		PayloadHash: hash,
		Signature:   sig,
		PublicMeta:  publicMeta,
		CreatedAt:   now.UTC(),
	}
	if err := g.store.SaveReceipt(ctx, receipt); err != nil {
		return nil, err
	}
	return receipt, nil
}

// ReceiptVerification reports an independent receipt check.
type ReceiptVerification struct {
	Valid          bool `json:"valid"`
	HashValid      bool `json:"hash_valid"`
	SignatureValid bool `json:"signature_valid"`
}

// VerifyReceipt recomputes the payload hash and signature from the stored
// payload. Failures are reported, never repaired.
func (g *Governor) VerifyReceipt(ctx context.Context, id string) (*ReceiptVerification, error) {
	receipt, err := g.store.GetReceipt(ctx, id)
	if err != nil {
		return nil, err
	}

	hash, err := canon.Hash(receipt.Payload)
	if err != nil {
		return nil, err
	}
	sigOK, err := g.signer.Verify(receipt.Payload, receipt.Signature)
	if err != nil {
		return nil, err
	}

	v := &ReceiptVerification{
		HashValid:      hash == receipt.PayloadHash,
		SignatureValid: sigOK,
	}
	v.Valid = v.HashValid && v.SignatureValid
	return v, nil
}

// MintToken builds, signs and persists a capability token valid for ttl
// from now. Fails with ErrNoSigningKey when no secret is loaded.
func (g *Governor) MintToken(ctx context.Context, sessionID, tokenType string, permissions []string, ttl time.Duration, now time.Time) (*model.Token, error) {
	if !g.signer.HasKey() {
		return nil, model.ErrNoSigningKey
	}
	sess, err := g.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	payload := model.TokenPayload{
		SessionID:   sessionID,
		Scope:       sess.ScopeMode,
		Permissions: permissions,
		Expiry:      now.Add(ttl).UTC().Format(time.RFC3339Nano),
	}

	hash, err := canon.Hash(payload)
	if err != nil {
		return nil, err
	}
	sig, err := g.signer.Sign(payload)
	if err != nil {
		return nil, err
	}

	token := &model.Token{
		ID:          newID(),
		SessionID:   sessionID,
		TokenType:   tokenType,
		Payload:     payload,
		PayloadHash: hash,
		Signature:   sig,
		CreatedAt:   now.UTC(),
	}
	if err := g.store.SaveToken(ctx, token); err != nil {
		return nil, err
	}
	return token, nil
}

// TokenVerification reports an independent token check. Expiry is distinct
// from signature failure: an expired token can still be correctly signed.
type TokenVerification struct {
	Valid          bool `json:"valid"`
	HashValid      bool `json:"hash_valid"`
	SignatureValid bool `json:"signature_valid"`
	Expired        bool `json:"expired"`
}

// VerifyToken recomputes the token's hash and signature and checks expiry
// against the supplied now.
func (g *Governor) VerifyToken(ctx context.Context, id string, now time.Time) (*TokenVerification, error) {
	token, err := g.store.GetToken(ctx, id)
	if err != nil {
		return nil, err
	}

	hash, err := canon.Hash(token.Payload)
	if err != nil {
		return nil, err
	}
	sigOK, err := g.signer.Verify(token.Payload, token.Signature)
	if err != nil {
		return nil, err
	}

	v := &TokenVerification{
		HashValid:      hash == token.PayloadHash,
		SignatureValid: sigOK,
	}
	if expiry, err := time.Parse(time.RFC3339Nano, token.Payload.Expiry); err != nil || !now.Before(expiry) {
		v.Expired = true
	}
	v.Valid = v.HashValid && v.SignatureValid && !v.Expired
	return v, nil
}

// Authorize gates an action on a token: the token must verify and carry the
// permission. Failures are returned as hard errors so callers cannot proceed
// by ignoring a field: ErrHashMismatch for an altered stored hash,
// ErrSignatureInvalid for a forged payload, ErrExpired for a token past its
// expiry.
func (g *Governor) Authorize(ctx context.Context, tokenID, permission string, now time.Time) error {
	token, err := g.store.GetToken(ctx, tokenID)
	if err != nil {
		return err
	}

	hash, err := canon.Hash(token.Payload)
	if err != nil {
		return err
	}
	if hash != token.PayloadHash {
		return fmt.Errorf("token %s: %w", tokenID, model.ErrHashMismatch)
	}
	sigOK, err := g.signer.Verify(token.Payload, token.Signature)
	if err != nil {
		return err
	}
	if !sigOK {
		return fmt.Errorf("token %s: %w", tokenID, model.ErrSignatureInvalid)
	}
	if expiry, err := time.Parse(time.RFC3339Nano, token.Payload.Expiry); err != nil || !now.Before(expiry) {
		return fmt.Errorf("token %s: %w", tokenID, model.ErrExpired)
	}

	for _, p := range token.Payload.Permissions {
		if p == permission {
			return nil
		}
	}
	return fmt.Errorf("token %s does not grant %q", tokenID, permission)
}

// RecordViolation appends a governance failure as an audit experience and
// advances the session's consecutive-failure counter.
func (g *Governor) RecordViolation(ctx context.Context, sessionID, rule, detail string, now time.Time) (*model.Experience, error) {
	exp, err := g.store.RecordExperience(ctx, store.ExperienceParams{
		SessionID:   sessionID,
		Scope:       "governance",
		ContextKeys: []string{violationTag, rule},
		Summary:     fmt.Sprintf("governance violation %s: %s", rule, detail),
		Outcome:     model.OutcomeFail,
		Trust:       3,
		Source:      model.SourceSystem,
	}, now)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	g.failures[sessionID]++
	count := g.failures[sessionID]
	g.mu.Unlock()

	if count >= EscalationThreshold {
		g.logger.Warn("escalation threshold reached",
			zap.String("session_id", sessionID),
			zap.Int("failures", count))
		if g.escalator != nil {
			g.escalator.Escalate(sessionID, count)
		}
	}
	return exp, nil
}

// RecordSuccess appends a governance success as an audit experience and
// resets the session's consecutive-failure counter.
func (g *Governor) RecordSuccess(ctx context.Context, sessionID, rule string, now time.Time) (*model.Experience, error) {
	exp, err := g.store.RecordExperience(ctx, store.ExperienceParams{
		SessionID:   sessionID,
		Scope:       "governance",
		ContextKeys: []string{violationTag, rule},
		Summary:     fmt.Sprintf("governance check %s passed", rule),
		Outcome:     model.OutcomeSuccess,
		Trust:       3,
		Source:      model.SourceSystem,
	}, now)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	delete(g.failures, sessionID)
	g.mu.Unlock()

	return exp, nil
}

func newID() string {
	return ulid.Make().String()
}

// Failures returns the session's current consecutive-failure count.
func (g *Governor) Failures(sessionID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.failures[sessionID]
}
