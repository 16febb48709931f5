package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"workmem/internal/canon"
	"workmem/internal/model"
)

// invocationRecord is the canonical payload an invocation hash covers.
type invocationRecord struct {
	ToolName  string `json:"tool_name"`
	Input     string `json:"input"`
	Output    string `json:"output"`
	Timestamp string `json:"timestamp"`
}

// ChainResult reports an appended invocation's place in the chain.
type ChainResult struct {
	ID       string `json:"id"`
	Hash     string `json:"hash"`
	PrevHash string `json:"prev_hash,omitempty"`
}

// ChainVerification is the outcome of recomputing a session's chain.
type ChainVerification struct {
	Valid  bool     `json:"valid"`
	Count  int      `json:"count"`
	Errors []string `json:"errors,omitempty"`
}

// RecordInvocation appends one tool call to the session's hash chain.
// Input and output are canonicalized before hashing and storage, so the
// recorded hash is insensitive to key order in the original payloads.
func (s *SQLiteStore) RecordInvocation(ctx context.Context, sessionID, toolName string, input, output any, now time.Time) (*ChainResult, error) {
	inputC, err := canon.Canonicalize(input)
	if err != nil {
		return nil, fmt.Errorf("canonicalize input: %w", err)
	}
	outputC, err := canon.Canonicalize(output)
	if err != nil {
		return nil, fmt.Errorf("canonicalize output: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// Head of the chain: the most recently appended invocation.
	var prevHash string
	err = tx.QueryRowContext(ctx,
		`SELECT hash FROM invocations WHERE session_id = ? ORDER BY rowid DESC LIMIT 1`,
		sessionID).Scan(&prevHash)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("read chain head: %w", err)
	}

	hash, err := linkHash(prevHash, invocationRecord{
		ToolName:  toolName,
		Input:     inputC,
		Output:    outputC,
		Timestamp: formatTime(now),
	})
	if err != nil {
		return nil, err
	}

	id := s.newID()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO invocations (id, session_id, tool_name, input, output, ts, hash, prev_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, sessionID, toolName, inputC, outputC, formatTime(now), hash, nullable(prevHash))
	if err != nil {
		return nil, fmt.Errorf("insert invocation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &ChainResult{ID: id, Hash: hash, PrevHash: prevHash}, nil
}

// ChainHead returns the hash of the session's most recent invocation, or an
// empty string for a session with no invocations yet.
func (s *SQLiteStore) ChainHead(ctx context.Context, sessionID string) (string, error) {
	var head string
	err := s.db.QueryRowContext(ctx,
		`SELECT hash FROM invocations WHERE session_id = ? ORDER BY rowid DESC LIMIT 1`,
		sessionID).Scan(&head)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read chain head: %w", err)
	}
	return head, nil
}

// ListInvocations returns a session's invocations in chain order.
func (s *SQLiteStore) ListInvocations(ctx context.Context, sessionID string) ([]model.Invocation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, tool_name, input, output, ts, hash, prev_hash
		 FROM invocations WHERE session_id = ? ORDER BY rowid`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invocations []model.Invocation
	for rows.Next() {
		var inv model.Invocation
		var ts string
		var prev sql.NullString
		if err := rows.Scan(&inv.ID, &inv.SessionID, &inv.ToolName, &inv.Input, &inv.Output, &ts, &inv.Hash, &prev); err != nil {
			return nil, err
		}
		inv.Timestamp = parseTime(ts)
		if prev.Valid {
			inv.PrevHash = prev.String
		}
		invocations = append(invocations, inv)
	}
	return invocations, rows.Err()
}

// VerifyChain recomputes every link of a session's invocation chain from the
// stored rows. Any stored hash that does not match the recomputed digest, or
// any broken prev linkage, is reported as an error; the chain is never
// repaired.
func (s *SQLiteStore) VerifyChain(ctx context.Context, sessionID string) (*ChainVerification, error) {
	invocations, err := s.ListInvocations(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	result := &ChainVerification{Valid: true, Count: len(invocations)}
	prev := ""
	for i, inv := range invocations {
		if inv.PrevHash != prev {
			result.Valid = false
			result.Errors = append(result.Errors,
				fmt.Sprintf("link %d: prev_hash %q does not match prior hash %q", i, inv.PrevHash, prev))
		}
		want, err := linkHash(inv.PrevHash, invocationRecord{
			ToolName:  inv.ToolName,
			Input:     inv.Input,
			Output:    inv.Output,
			Timestamp: formatTime(inv.Timestamp),
		})
		if err != nil {
			return nil, err
		}
		if inv.Hash != want {
			result.Valid = false
			result.Errors = append(result.Errors,
				fmt.Sprintf("link %d: stored hash does not match recomputed digest", i))
		}
		prev = inv.Hash
	}
	return result, nil
}

// RequireChain verifies a session's chain and turns any break into a hard
// failure, for callers that must not proceed over tampered history.
func (s *SQLiteStore) RequireChain(ctx context.Context, sessionID string) error {
	result, err := s.VerifyChain(ctx, sessionID)
	if err != nil {
		return err
	}
	if !result.Valid {
		return fmt.Errorf("session %s: %s: %w", sessionID, strings.Join(result.Errors, "; "), model.ErrChainBroken)
	}
	return nil
}

func linkHash(prevHash string, rec invocationRecord) (string, error) {
	c, err := canon.Canonicalize(rec)
	if err != nil {
		return "", fmt.Errorf("canonicalize invocation: %w", err)
	}
	return canon.Digest(prevHash, c), nil
}
