package model

import "errors"

// Error taxonomy. Callers discriminate with errors.Is; store and governance
// functions wrap these with context via fmt.Errorf("...: %w", err).
var (
	// ErrNotFound reports an absent session, experience, cell, receipt or token.
	ErrNotFound = errors.New("not found")

	// ErrInvalidPhase reports a phase advance attempted out of order or on a
	// completed cycle.
	ErrInvalidPhase = errors.New("invalid phase")

	// ErrPayloadTooLarge reports a summary or body exceeding its bound.
	// Oversized payloads are rejected, never truncated.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrChainBroken reports an invocation hash-chain verification failure.
	ErrChainBroken = errors.New("invocation chain broken")

	// ErrSignatureInvalid reports a signature that does not verify.
	ErrSignatureInvalid = errors.New("signature invalid")

	// ErrHashMismatch reports a stored payload hash that does not match the
	// recomputed canonical hash.
	ErrHashMismatch = errors.New("hash mismatch")

	// ErrExpired reports a token past its expiry. Distinct from signature
	// failure: an expired token may still be correctly signed.
	ErrExpired = errors.New("expired")

	// ErrNoSigningKey reports a signing operation attempted without a secret.
	ErrNoSigningKey = errors.New("no signing key")
)
