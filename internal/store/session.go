package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"workmem/internal/model"
)

// SessionUpdate holds the mutable session fields. Nil fields are untouched.
type SessionUpdate struct {
	LastPhase       *model.Phase
	LastContextHash *string
}

// CreateSession starts a new reasoning-turn session.
func (s *SQLiteStore) CreateSession(ctx context.Context, scopeMode string, flags map[string]string, now time.Time) (*model.Session, error) {
	id := s.newID()

	var flagsJSON *string
	if len(flags) > 0 {
		b, err := json.Marshal(flags)
		if err != nil {
			return nil, fmt.Errorf("encode flags: %w", err)
		}
		str := string(b)
		flagsJSON = &str
	}

	ts := formatTime(now)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, scope_mode, flags, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		id, scopeMode, flagsJSON, ts, ts)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	return &model.Session{
		ID:        id,
		ScopeMode: scopeMode,
		Flags:     flags,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}, nil
}

// GetSession retrieves a session by id.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, scope_mode, flags, last_phase, last_context_hash, created_at, updated_at
		 FROM sessions WHERE id = ?`, id)

	var sess model.Session
	var flagsJSON, lastPhase, lastHash sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&sess.ID, &sess.ScopeMode, &flagsJSON, &lastPhase, &lastHash, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	if flagsJSON.Valid {
		json.Unmarshal([]byte(flagsJSON.String), &sess.Flags)
	}
	if lastPhase.Valid {
		sess.LastPhase = model.Phase(lastPhase.String)
	}
	if lastHash.Valid {
		sess.LastContextHash = lastHash.String
	}
	sess.CreatedAt = parseTime(createdAt)
	sess.UpdatedAt = parseTime(updatedAt)

	return &sess, nil
}

// UpdateSession applies a partial update to a session. A session whose
// last_phase is set only moves forward through the cycle; regressions are
// rejected with ErrInvalidPhase.
func (s *SQLiteStore) UpdateSession(ctx context.Context, id string, upd SessionUpdate, now time.Time) error {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}

	if upd.LastPhase != nil {
		if model.PhaseIndex(*upd.LastPhase) < 0 {
			return fmt.Errorf("phase %q: %w", *upd.LastPhase, model.ErrInvalidPhase)
		}
		if sess.LastPhase != "" && model.PhaseIndex(*upd.LastPhase) <= model.PhaseIndex(sess.LastPhase) {
			return fmt.Errorf("phase %q after %q: %w", *upd.LastPhase, sess.LastPhase, model.ErrInvalidPhase)
		}
		sess.LastPhase = *upd.LastPhase
	}
	if upd.LastContextHash != nil {
		sess.LastContextHash = *upd.LastContextHash
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_phase = ?, last_context_hash = ?, updated_at = ? WHERE id = ?`,
		nullable(string(sess.LastPhase)), nullable(sess.LastContextHash), formatTime(now), id)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", id, model.ErrNotFound)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
