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

	"workmem/internal/canon"
	"workmem/internal/model"
)

// Evidence thresholds for forward state promotion. A cell never moves back.
const (
	observedEvidenceMin = 1
	stableEvidenceMin   = 5
)

// SceneParams holds parameters for creating a scene.
type SceneParams struct {
	Scope       string
	Label       string
	ContextKeys []string
}

// CellParams holds parameters for creating a cell.
type CellParams struct {
	SceneID  string
	Scope    string
	CellType string
	Title    string
	Body     string
	Trust    int
	State    string
}

// CellQuery holds parameters for context-driven cell retrieval.
type CellQuery struct {
	Scope       string
	ContextKeys []string
	Limit       int
}

// CanonicalCellKey computes the content-addressed dedup key of a cell from
// its normalized scope, type, title and body.
func CanonicalCellKey(scope, cellType, title, body string) (string, error) {
	return canon.Hash(map[string]any{
		"scope":     strings.ToLower(strings.TrimSpace(scope)),
		"cell_type": strings.ToLower(strings.TrimSpace(cellType)),
		"title":     normalizeText(title),
		"body":      normalizeText(body),
	})
}

// normalizeText lowercases and collapses runs of whitespace so trivially
// reworded duplicates hash identically.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// ComputeOverlap returns the Jaccard overlap of two key sets. Two empty sets
// overlap fully by convention.
func ComputeOverlap(a, b []string) float64 {
	a = NormalizeKeys(a)
	b = NormalizeKeys(b)
	if len(a) == 0 && len(b) == 0 {
		return 1
	}

	set := map[string]bool{}
	for _, k := range a {
		set[k] = true
	}
	inter := 0
	for _, k := range b {
		if set[k] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 1
	}
	return float64(inter) / float64(union)
}

// CreateScene creates a named grouping for related cells.
func (s *SQLiteStore) CreateScene(ctx context.Context, p SceneParams, now time.Time) (*model.Scene, error) {
	keys := NormalizeKeys(p.ContextKeys)
	var keysJSON *string
	if len(keys) > 0 {
		b, _ := json.Marshal(keys)
		str := string(b)
		keysJSON = &str
	}

	id := s.newID()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scenes (id, scope, label, context_keys, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, p.Scope, p.Label, keysJSON, formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("insert scene: %w", err)
	}

	return &model.Scene{
		ID: id, Scope: p.Scope, Label: p.Label, ContextKeys: keys, CreatedAt: now.UTC(),
	}, nil
}

// GetScene retrieves a scene by id.
func (s *SQLiteStore) GetScene(ctx context.Context, id string) (*model.Scene, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, scope, label, context_keys, created_at FROM scenes WHERE id = ?`, id)

	var sc model.Scene
	var keysJSON sql.NullString
	var createdAt string
	err := row.Scan(&sc.ID, &sc.Scope, &sc.Label, &keysJSON, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("scene %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if keysJSON.Valid {
		json.Unmarshal([]byte(keysJSON.String), &sc.ContextKeys)
	}
	sc.CreatedAt = parseTime(createdAt)
	return &sc, nil
}

// FindScene returns the scene in scope with the given label, if any.
func (s *SQLiteStore) FindScene(ctx context.Context, scope, label string) (*model.Scene, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM scenes WHERE scope = ? AND label = ? ORDER BY id LIMIT 1`,
		scope, label).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("scene %s/%s: %w", scope, label, model.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return s.GetScene(ctx, id)
}

// CreateCell creates a semantic memory unit with its canonical key and an
// initial salience. Creating a second cell with the same canonical key fails;
// use GetCellByKey and LinkCellEvidence instead.
func (s *SQLiteStore) CreateCell(ctx context.Context, p CellParams, now time.Time) (*model.Cell, error) {
	if !model.ValidCellTypes[p.CellType] {
		return nil, fmt.Errorf("invalid cell type %q", p.CellType)
	}
	state := p.State
	if state == "" {
		state = model.CellStateUnverified
	}
	if !model.ValidCellStates[state] {
		return nil, fmt.Errorf("invalid cell state %q", state)
	}
	trust := p.Trust
	if trust < 0 {
		trust = 0
	}
	if trust > 3 {
		trust = 3
	}

	key, err := CanonicalCellKey(p.Scope, p.CellType, p.Title, p.Body)
	if err != nil {
		return nil, err
	}

	sal := s.weights.Score(state, 0, 0, trust, now, now)
	id := s.newID()
	ts := formatTime(now)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cells (id, scene_id, scope, cell_type, title, body, trust, state,
		                    evidence_count, contradiction_count, salience, canonical_key, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?, ?, ?, ?)`,
		id, p.SceneID, p.Scope, p.CellType, p.Title, p.Body, trust, state, sal, key, ts, ts)
	if err != nil {
		return nil, fmt.Errorf("insert cell: %w", err)
	}

	return &model.Cell{
		ID: id, SceneID: p.SceneID, Scope: p.Scope, CellType: p.CellType,
		Title: p.Title, Body: p.Body, Trust: trust, State: state,
		Salience: sal, CanonicalKey: key, CreatedAt: now.UTC(), UpdatedAt: now.UTC(),
	}, nil
}

// GetCell retrieves a cell by id.
func (s *SQLiteStore) GetCell(ctx context.Context, id string) (*model.Cell, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+cellColumns+` FROM cells WHERE id = ?`, id)
	c, err := scanCell(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cell %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetCellByKey retrieves a cell by its canonical content key.
func (s *SQLiteStore) GetCellByKey(ctx context.Context, canonicalKey string) (*model.Cell, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+cellColumns+` FROM cells WHERE canonical_key = ?`, canonicalKey)
	c, err := scanCell(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cell key %s: %w", canonicalKey, model.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// LinkCellEvidence associates a cell with an experience. A supports relation
// increments evidence_count, a contradicts relation increments
// contradiction_count; either way salience is recomputed with the supplied
// now. Salience is never hand-set.
func (s *SQLiteStore) LinkCellEvidence(ctx context.Context, cellID, experienceID, relation string, now time.Time) (*model.Cell, error) {
	if !model.ValidRelations[relation] {
		return nil, fmt.Errorf("invalid relation %q", relation)
	}

	cell, err := s.GetCell(ctx, cellID)
	if err != nil {
		return nil, err
	}
	if _, err := s.GetExperience(ctx, experienceID); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO evidence_links (cell_id, experience_id, relation, created_at)
		 VALUES (?, ?, ?, ?)`,
		cellID, experienceID, relation, formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("insert evidence link: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Duplicate link: counters stay untouched.
		return cell, tx.Commit()
	}

	if relation == model.RelationSupports {
		cell.EvidenceCount++
	} else {
		cell.ContradictionCount++
	}
	cell.State = promoteState(cell.State, cell.EvidenceCount)
	cell.Salience = s.weights.Score(cell.State, cell.EvidenceCount, cell.ContradictionCount, cell.Trust, now, now)
	cell.UpdatedAt = now.UTC()

	_, err = tx.ExecContext(ctx,
		`UPDATE cells SET evidence_count = ?, contradiction_count = ?, state = ?, salience = ?, updated_at = ?
		 WHERE id = ?`,
		cell.EvidenceCount, cell.ContradictionCount, cell.State, cell.Salience, formatTime(now), cellID)
	if err != nil {
		return nil, fmt.Errorf("update cell counters: %w", err)
	}

	return cell, tx.Commit()
}

// promoteState advances a cell's lifecycle state on accumulated evidence.
func promoteState(state string, evidence int) string {
	switch state {
	case model.CellStateUnverified:
		if evidence >= stableEvidenceMin {
			return model.CellStateStable
		}
		if evidence >= observedEvidenceMin {
			return model.CellStateObserved
		}
	case model.CellStateObserved:
		if evidence >= stableEvidenceMin {
			return model.CellStateStable
		}
	}
	return state
}

// QueryCellsForContext returns the cells in scope whose scene keys overlap
// the supplied context keys, ordered by trust desc, salience desc,
// updated_at desc, then cell id asc as the final deterministic tie-break.
func (s *SQLiteStore) QueryCellsForContext(ctx context.Context, q CellQuery) ([]model.Cell, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+cellColumnsPrefixed+`, sc.context_keys
		 FROM cells c JOIN scenes sc ON sc.id = c.scene_id
		 WHERE c.scope = ?`, q.Scope)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	wantKeys := NormalizeKeys(q.ContextKeys)
	var cells []model.Cell
	for rows.Next() {
		cell, sceneKeys, err := scanCellWithKeys(rows)
		if err != nil {
			return nil, err
		}
		if len(wantKeys) > 0 && ComputeOverlap(wantKeys, sceneKeys) == 0 {
			continue
		}
		cells = append(cells, *cell)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(cells, func(i, j int) bool {
		a, b := cells[i], cells[j]
		if a.Trust != b.Trust {
			return a.Trust > b.Trust
		}
		if a.Salience != b.Salience {
			return a.Salience > b.Salience
		}
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID < b.ID
	})

	if q.Limit > 0 && len(cells) > q.Limit {
		cells = cells[:q.Limit]
	}
	return cells, nil
}

const cellColumns = `id, scene_id, scope, cell_type, title, body, trust, state,
	evidence_count, contradiction_count, salience, canonical_key, created_at, updated_at`

const cellColumnsPrefixed = `c.id, c.scene_id, c.scope, c.cell_type, c.title, c.body, c.trust, c.state,
	c.evidence_count, c.contradiction_count, c.salience, c.canonical_key, c.created_at, c.updated_at`

func scanCell(row scanner) (*model.Cell, error) {
	var c model.Cell
	var createdAt, updatedAt string
	err := row.Scan(&c.ID, &c.SceneID, &c.Scope, &c.CellType, &c.Title, &c.Body,
		&c.Trust, &c.State, &c.EvidenceCount, &c.ContradictionCount,
		&c.Salience, &c.CanonicalKey, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return &c, nil
}

func scanCellWithKeys(row scanner) (*model.Cell, []string, error) {
	var c model.Cell
	var createdAt, updatedAt string
	var keysJSON sql.NullString
	err := row.Scan(&c.ID, &c.SceneID, &c.Scope, &c.CellType, &c.Title, &c.Body,
		&c.Trust, &c.State, &c.EvidenceCount, &c.ContradictionCount,
		&c.Salience, &c.CanonicalKey, &createdAt, &updatedAt, &keysJSON)
	if err != nil {
		return nil, nil, err
	}
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	var keys []string
	if keysJSON.Valid {
		json.Unmarshal([]byte(keysJSON.String), &keys)
	}
	return &c, keys, nil
}
