package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"workmem/internal/model"
)

// MaxSummaryLen bounds an experience summary in bytes. Oversized summaries
// are rejected, not truncated.
const MaxSummaryLen = 2000

// ExperienceParams holds parameters for recording an episodic experience.
type ExperienceParams struct {
	SessionID   string
	Scope       string
	ContextKeys []string
	Summary     string
	Outcome     string
	Trust       int
	Source      string
}

// ExperienceQuery holds filters for querying experiences.
type ExperienceQuery struct {
	Scope          string
	SessionID      string
	Outcome        string
	Source         string
	ContextKeys    []string // only experiences sharing at least one key
	Unconsolidated bool
	Limit          int
}

// NormalizeKeys canonicalizes context keys: lower-cased, trimmed,
// deduplicated, sorted. Always applied before storage or comparison.
func NormalizeKeys(keys []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, k := range keys {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// RecordExperience stores a normalized outcome record.
func (s *SQLiteStore) RecordExperience(ctx context.Context, p ExperienceParams, now time.Time) (*model.Experience, error) {
	if len(p.Summary) > MaxSummaryLen {
		return nil, fmt.Errorf("summary %d bytes exceeds %d: %w", len(p.Summary), MaxSummaryLen, model.ErrPayloadTooLarge)
	}
	if !model.ValidOutcomes[p.Outcome] {
		return nil, fmt.Errorf("invalid outcome %q", p.Outcome)
	}
	source := p.Source
	if source == "" {
		source = model.SourceAgent
	}
	if !model.ValidSources[source] {
		return nil, fmt.Errorf("invalid source %q", source)
	}
	trust := p.Trust
	if trust < 0 {
		trust = 0
	}
	if trust > 3 {
		trust = 3
	}

	keys := NormalizeKeys(p.ContextKeys)
	var keysJSON *string
	if len(keys) > 0 {
		b, _ := json.Marshal(keys)
		str := string(b)
		keysJSON = &str
	}

	id := s.newID()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO experiences (id, session_id, scope, context_keys, summary, outcome, trust, source, consolidated, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		id, nullable(p.SessionID), p.Scope, keysJSON, p.Summary, p.Outcome, trust, source, formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("insert experience: %w", err)
	}

	return &model.Experience{
		ID:          id,
		SessionID:   p.SessionID,
		Scope:       p.Scope,
		ContextKeys: keys,
		Summary:     p.Summary,
		Outcome:     p.Outcome,
		Trust:       trust,
		Source:      source,
		CreatedAt:   now.UTC(),
	}, nil
}

// GetExperience retrieves a single experience by id.
func (s *SQLiteStore) GetExperience(ctx context.Context, id string) (*model.Experience, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, scope, context_keys, summary, outcome, trust, source, consolidated, created_at
		 FROM experiences WHERE id = ?`, id)
	exp, err := scanExperience(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("experience %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return exp, nil
}

// QueryExperiences returns experiences matching the filters, ordered by
// trust descending, then recency descending, then id ascending. The ordering
// is stable and reproducible for identical inputs.
func (s *SQLiteStore) QueryExperiences(ctx context.Context, q ExperienceQuery) ([]model.Experience, error) {
	where := []string{"1=1"}
	var args []any

	if q.Scope != "" {
		where = append(where, "scope = ?")
		args = append(args, q.Scope)
	}
	if q.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, q.SessionID)
	}
	if q.Outcome != "" {
		where = append(where, "outcome = ?")
		args = append(args, q.Outcome)
	}
	if q.Source != "" {
		where = append(where, "source = ?")
		args = append(args, q.Source)
	}
	if q.Unconsolidated {
		where = append(where, "consolidated = 0")
	}

	query := fmt.Sprintf(
		`SELECT id, session_id, scope, context_keys, summary, outcome, trust, source, consolidated, created_at
		 FROM experiences WHERE %s
		 ORDER BY trust DESC, created_at DESC, id ASC`, strings.Join(where, " AND "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	wantKeys := NormalizeKeys(q.ContextKeys)
	var out []model.Experience
	for rows.Next() {
		exp, err := scanExperience(rows)
		if err != nil {
			return nil, err
		}
		// Key-overlap filtering is computed in Go; the embedded driver has
		// no set operators over the stored JSON arrays.
		if len(wantKeys) > 0 && !sharesKey(wantKeys, exp.ContextKeys) {
			continue
		}
		out = append(out, *exp)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, rows.Err()
}

// MarkConsolidated flags experiences as processed by consolidation so a
// re-run does not see them again.
func (s *SQLiteStore) MarkConsolidated(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `UPDATE experiences SET consolidated = 1 WHERE id = ?`, id); err != nil {
			return fmt.Errorf("mark consolidated: %w", err)
		}
	}
	return tx.Commit()
}

func sharesKey(want, have []string) bool {
	set := map[string]bool{}
	for _, k := range want {
		set[k] = true
	}
	for _, k := range have {
		if set[k] {
			return true
		}
	}
	return false
}

func scanExperience(row scanner) (*model.Experience, error) {
	var exp model.Experience
	var sessionID, keysJSON sql.NullString
	var consolidated int
	var createdAt string

	err := row.Scan(&exp.ID, &sessionID, &exp.Scope, &keysJSON, &exp.Summary,
		&exp.Outcome, &exp.Trust, &exp.Source, &consolidated, &createdAt)
	if err != nil {
		return nil, err
	}

	if sessionID.Valid {
		exp.SessionID = sessionID.String
	}
	if keysJSON.Valid {
		json.Unmarshal([]byte(keysJSON.String), &exp.ContextKeys)
	}
	exp.Consolidated = consolidated != 0
	exp.CreatedAt = parseTime(createdAt)
	return &exp, nil
}

type scanner interface {
	Scan(dest ...any) error
}
