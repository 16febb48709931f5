package consolidate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"workmem/internal/model"
	"workmem/internal/store"
)

// Engine merges extracted candidates into scene/cell memory.
type Engine struct {
	store  *store.SQLiteStore
	logger *zap.Logger
}

// NewEngine creates a consolidation engine. A nil logger disables logging.
func NewEngine(s *store.SQLiteStore, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: s, logger: logger.With(zap.String("component", "consolidate"))}
}

// Params configures one consolidation run.
type Params struct {
	Scope    string
	MinTrust int // experiences below this trust are left for a later run
}

// Result reports one consolidation run. A re-run with the same inputs and no
// new experiences reports Processed = 0.
type Result struct {
	Processed    int `json:"processed"`
	CellsCreated int `json:"cells_created"`
	CellsUpdated int `json:"cells_updated"`
}

// Run scans not-yet-consolidated experiences in scope, extracts candidate
// cells, and either creates new cells or links supporting evidence to
// existing cells with the same canonical key. Every scanned experience is
// marked consolidated, which makes the run idempotent.
func (e *Engine) Run(ctx context.Context, p Params, now time.Time) (*Result, error) {
	experiences, err := e.store.QueryExperiences(ctx, store.ExperienceQuery{
		Scope:          p.Scope,
		Unconsolidated: true,
	})
	if err != nil {
		return nil, fmt.Errorf("scan experiences: %w", err)
	}

	result := &Result{}
	var processed []string

	for _, exp := range experiences {
		if exp.Trust < p.MinTrust {
			continue
		}
		processed = append(processed, exp.ID)

		for _, cand := range Extract(exp.Summary) {
			created, err := e.merge(ctx, exp, cand, now)
			if err != nil {
				return nil, err
			}
			if created {
				result.CellsCreated++
			} else {
				result.CellsUpdated++
			}
		}
	}

	if err := e.store.MarkConsolidated(ctx, processed); err != nil {
		return nil, err
	}
	result.Processed = len(processed)

	e.logger.Info("consolidation run complete",
		zap.String("scope", p.Scope),
		zap.Int("processed", result.Processed),
		zap.Int("cells_created", result.CellsCreated),
		zap.Int("cells_updated", result.CellsUpdated))

	return result, nil
}

// merge creates the cell for a candidate or links evidence to the existing
// one. Returns true when a new cell was created.
func (e *Engine) merge(ctx context.Context, exp model.Experience, cand Candidate, now time.Time) (bool, error) {
	key, err := store.CanonicalCellKey(exp.Scope, cand.CellType, cand.Title, cand.Body)
	if err != nil {
		return false, err
	}

	existing, err := e.store.GetCellByKey(ctx, key)
	switch {
	case err == nil:
		if _, err := e.store.LinkCellEvidence(ctx, existing.ID, exp.ID, model.RelationSupports, now); err != nil {
			return false, fmt.Errorf("link evidence: %w", err)
		}
		return false, nil
	case errors.Is(err, model.ErrNotFound):
		scene, err := e.sceneFor(ctx, exp, now)
		if err != nil {
			return false, err
		}
		cell, err := e.store.CreateCell(ctx, store.CellParams{
			SceneID:  scene.ID,
			Scope:    exp.Scope,
			CellType: cand.CellType,
			Title:    cand.Title,
			Body:     cand.Body,
			Trust:    exp.Trust,
		}, now)
		if err != nil {
			return false, fmt.Errorf("create cell: %w", err)
		}
		if _, err := e.store.LinkCellEvidence(ctx, cell.ID, exp.ID, model.RelationSupports, now); err != nil {
			return false, fmt.Errorf("link origin evidence: %w", err)
		}
		return true, nil
	default:
		return false, err
	}
}

// sceneFor finds or creates the scene grouping cells that share the
// experience's context keys.
func (e *Engine) sceneFor(ctx context.Context, exp model.Experience, now time.Time) (*model.Scene, error) {
	label := sceneLabel(exp.ContextKeys)
	scene, err := e.store.FindScene(ctx, exp.Scope, label)
	if err == nil {
		return scene, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}
	return e.store.CreateScene(ctx, store.SceneParams{
		Scope:       exp.Scope,
		Label:       label,
		ContextKeys: exp.ContextKeys,
	}, now)
}

func sceneLabel(keys []string) string {
	if len(keys) == 0 {
		return "general"
	}
	return strings.Join(store.NormalizeKeys(keys), ",")
}
