package store

import (
	"context"
	"fmt"
	"time"

	"workmem/internal/canon"
)

// PackParams holds parameters for assembling a context bundle.
type PackParams struct {
	SessionID      string
	Scope          string
	ContextKeys    []string
	MaxCells       int
	MaxExperiences int
	ByteBudget     int
}

// PackedCell is a cell as it appears in a context bundle.
type PackedCell struct {
	ID       string `json:"id"`
	CellType string `json:"cell_type"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	Trust    int    `json:"trust"`
	State    string `json:"state"`
	Salience int    `json:"salience"`
}

// PackedExperience is an experience as it appears in a context bundle.
type PackedExperience struct {
	ID      string `json:"id"`
	Summary string `json:"summary"`
	Outcome string `json:"outcome"`
	Trust   int    `json:"trust"`
}

// PackResult is the assembled, reproducibly-hashed context bundle.
type PackResult struct {
	Cells       []PackedCell       `json:"cells"`
	Experiences []PackedExperience `json:"experiences"`
	ByteSize    int                `json:"byte_size"`
	ContextHash string             `json:"context_hash"`
}

// Default packing limits, applied when params leave them zero.
const (
	defaultMaxCells       = 20
	defaultMaxExperiences = 20
	defaultByteBudget     = 16 * 1024
)

// ContextPack assembles a byte-budgeted bundle of cells and experiences for
// a session. Candidates are ranked by the standard cell and experience
// orderings and added greedily while the running serialized size stays at or
// under the budget; the first candidate that does not fit stops its
// category. Identical inputs, including now, produce the identical bundle
// and hash.
func (s *SQLiteStore) ContextPack(ctx context.Context, p PackParams, now time.Time) (*PackResult, error) {
	maxCells := p.MaxCells
	if maxCells <= 0 {
		maxCells = defaultMaxCells
	}
	maxExp := p.MaxExperiences
	if maxExp <= 0 {
		maxExp = defaultMaxExperiences
	}
	budget := p.ByteBudget
	if budget <= 0 {
		budget = defaultByteBudget
	}

	cells, err := s.QueryCellsForContext(ctx, CellQuery{
		Scope:       p.Scope,
		ContextKeys: p.ContextKeys,
		Limit:       maxCells,
	})
	if err != nil {
		return nil, fmt.Errorf("pack cells: %w", err)
	}

	experiences, err := s.QueryExperiences(ctx, ExperienceQuery{
		Scope:       p.Scope,
		ContextKeys: p.ContextKeys,
		Limit:       maxExp,
	})
	if err != nil {
		return nil, fmt.Errorf("pack experiences: %w", err)
	}

	result := &PackResult{
		Cells:       []PackedCell{},
		Experiences: []PackedExperience{},
	}
	used := 0

	for _, c := range cells {
		pc := PackedCell{
			ID: c.ID, CellType: c.CellType, Title: c.Title, Body: c.Body,
			Trust: c.Trust, State: c.State, Salience: c.Salience,
		}
		size, err := canonicalSize(pc)
		if err != nil {
			return nil, err
		}
		if used+size > budget {
			break
		}
		result.Cells = append(result.Cells, pc)
		used += size
	}

	for _, e := range experiences {
		pe := PackedExperience{ID: e.ID, Summary: e.Summary, Outcome: e.Outcome, Trust: e.Trust}
		size, err := canonicalSize(pe)
		if err != nil {
			return nil, err
		}
		if used+size > budget {
			break
		}
		result.Experiences = append(result.Experiences, pe)
		used += size
	}

	result.ByteSize = used

	hash, err := canon.Hash(map[string]any{
		"cells":       result.Cells,
		"experiences": result.Experiences,
	})
	if err != nil {
		return nil, fmt.Errorf("hash bundle: %w", err)
	}
	result.ContextHash = hash

	return result, nil
}

// PackForSession runs ContextPack and records the resulting hash as the
// session's last context hash for governance continuity checks.
func (s *SQLiteStore) PackForSession(ctx context.Context, p PackParams, now time.Time) (*PackResult, error) {
	if _, err := s.GetSession(ctx, p.SessionID); err != nil {
		return nil, err
	}
	result, err := s.ContextPack(ctx, p, now)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE sessions SET last_context_hash = ?, updated_at = ? WHERE id = ?`,
		result.ContextHash, formatTime(now), p.SessionID)
	if err != nil {
		return nil, fmt.Errorf("record context hash: %w", err)
	}
	return result, nil
}

func canonicalSize(v any) (int, error) {
	c, err := canon.Canonicalize(v)
	if err != nil {
		return 0, err
	}
	return len(c), nil
}
