package bridge

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"workmem/internal/model"
	"workmem/internal/store"
)

func newTestRecorder(t *testing.T) (*Recorder, *store.SQLiteStore) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewRecorder(s, nil), s
}

func testNow() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func TestRecordSucceeds(t *testing.T) {
	r, s := newTestRecorder(t)

	exp := r.Record(context.Background(), store.ExperienceParams{
		Scope:   "session",
		Summary: "deploy completed",
		Outcome: model.OutcomeSuccess,
		Trust:   2,
		Source:  model.SourceAgent,
	}, testNow())
	if exp == nil {
		t.Fatal("expected a recorded experience")
	}
	if r.Dropped() != 0 {
		t.Fatalf("dropped = %d", r.Dropped())
	}

	got, err := s.GetExperience(context.Background(), exp.ID)
	if err != nil {
		t.Fatalf("get experience: %v", err)
	}
	if got.Summary != "deploy completed" {
		t.Fatalf("summary = %q", got.Summary)
	}
}

func TestRecordSwallowsFailure(t *testing.T) {
	r, _ := newTestRecorder(t)

	exp := r.Record(context.Background(), store.ExperienceParams{
		Scope:   "session",
		Summary: strings.Repeat("x", store.MaxSummaryLen+1),
		Outcome: model.OutcomeSuccess,
		Trust:   2,
		Source:  model.SourceAgent,
	}, testNow())
	if exp != nil {
		t.Fatalf("expected dropped record, got %+v", exp)
	}
	if r.Dropped() != 1 {
		t.Fatalf("dropped = %d", r.Dropped())
	}
}
