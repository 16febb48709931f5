package consolidate

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"workmem/internal/model"
	"workmem/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.SQLiteStore) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewEngine(s, nil), s
}

func testNow() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func record(t *testing.T, s *store.SQLiteStore, summary string, trust int) *model.Experience {
	t.Helper()
	exp, err := s.RecordExperience(context.Background(), store.ExperienceParams{
		Scope:       "proj",
		ContextKeys: []string{"deploy"},
		Summary:     summary,
		Outcome:     model.OutcomeSuccess,
		Trust:       trust,
	}, testNow())
	if err != nil {
		t.Fatalf("record experience: %v", err)
	}
	return exp
}

func TestRunCreatesCells(t *testing.T) {
	ctx := context.Background()
	e, s := newTestEngine(t)

	record(t, s, "Releases must pass CI. The registry is hosted internally", 2)

	res, err := e.Run(ctx, Params{Scope: "proj"}, testNow())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Processed != 1 {
		t.Errorf("expected 1 processed, got %d", res.Processed)
	}
	if res.CellsCreated != 2 {
		t.Errorf("expected 2 cells created, got %d", res.CellsCreated)
	}

	cells, _ := s.QueryCellsForContext(ctx, store.CellQuery{Scope: "proj", ContextKeys: []string{"deploy"}})
	if len(cells) != 2 {
		t.Fatalf("expected 2 cells, got %d", len(cells))
	}
	for _, c := range cells {
		if c.EvidenceCount != 1 {
			t.Errorf("expected origin evidence on %q, got %d", c.Title, c.EvidenceCount)
		}
		if c.State != model.CellStateObserved {
			t.Errorf("expected observed state on %q, got %q", c.Title, c.State)
		}
	}
}

func TestRunIdempotent(t *testing.T) {
	ctx := context.Background()
	e, s := newTestEngine(t)

	record(t, s, "Deploys must be approved", 1)

	first, err := e.Run(ctx, Params{Scope: "proj"}, testNow())
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Processed != 1 {
		t.Fatalf("expected 1 processed, got %d", first.Processed)
	}

	second, err := e.Run(ctx, Params{Scope: "proj"}, testNow())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Processed != 0 || second.CellsCreated != 0 || second.CellsUpdated != 0 {
		t.Errorf("expected no-op second run, got %+v", second)
	}
}

func TestRunMergesDuplicateCandidates(t *testing.T) {
	ctx := context.Background()
	e, s := newTestEngine(t)

	record(t, s, "Secrets must never be committed", 1)
	if _, err := e.Run(ctx, Params{Scope: "proj"}, testNow()); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// Same statement from a new experience links evidence instead of
	// creating a second cell.
	record(t, s, "secrets  must never be COMMITTED", 2)
	res, err := e.Run(ctx, Params{Scope: "proj"}, testNow())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res.CellsCreated != 0 || res.CellsUpdated != 1 {
		t.Errorf("expected merge into existing cell, got %+v", res)
	}

	cells, _ := s.QueryCellsForContext(ctx, store.CellQuery{Scope: "proj", ContextKeys: []string{"deploy"}})
	if len(cells) != 1 {
		t.Fatalf("expected single deduplicated cell, got %d", len(cells))
	}
	if cells[0].EvidenceCount != 2 {
		t.Errorf("expected 2 evidence links, got %d", cells[0].EvidenceCount)
	}
}

func TestRunMinTrustLeavesExperiences(t *testing.T) {
	ctx := context.Background()
	e, s := newTestEngine(t)

	record(t, s, "Logs must rotate daily", 0)

	res, err := e.Run(ctx, Params{Scope: "proj", MinTrust: 2}, testNow())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Processed != 0 {
		t.Errorf("expected low-trust experience skipped, got %d processed", res.Processed)
	}

	// A later, lower-threshold run still sees it.
	res, err = e.Run(ctx, Params{Scope: "proj"}, testNow())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res.Processed != 1 {
		t.Errorf("expected skipped experience consolidated later, got %d", res.Processed)
	}
}
