package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"workmem/internal/model"
)

func TestRecordExperienceNormalizesKeys(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	exp, err := s.RecordExperience(ctx, ExperienceParams{
		Scope:       "proj",
		ContextKeys: []string{"Deploy", "deploy", "  CI  ", "api"},
		Summary:     "deploy succeeded",
		Outcome:     model.OutcomeSuccess,
		Trust:       2,
		Source:      model.SourceAgent,
	}, testNow())
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	want := []string{"api", "ci", "deploy"}
	if len(exp.ContextKeys) != len(want) {
		t.Fatalf("expected %v, got %v", want, exp.ContextKeys)
	}
	for i := range want {
		if exp.ContextKeys[i] != want[i] {
			t.Errorf("expected %v, got %v", want, exp.ContextKeys)
			break
		}
	}

	got, err := s.GetExperience(ctx, exp.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.ContextKeys) != 3 || got.ContextKeys[0] != "api" {
		t.Errorf("expected stored keys canonicalized, got %v", got.ContextKeys)
	}
}

func TestRecordExperienceRejectsOversizedSummary(t *testing.T) {
	s := newTestStore(t)
	_, err := s.RecordExperience(context.Background(), ExperienceParams{
		Scope:   "proj",
		Summary: strings.Repeat("x", MaxSummaryLen+1),
		Outcome: model.OutcomeFail,
	}, testNow())
	if !errors.Is(err, model.ErrPayloadTooLarge) {
		t.Errorf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestRecordExperienceClampsTrust(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	exp, err := s.RecordExperience(ctx, ExperienceParams{
		Scope: "proj", Summary: "s", Outcome: model.OutcomeSuccess, Trust: 9,
	}, testNow())
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if exp.Trust != 3 {
		t.Errorf("expected trust clamped to 3, got %d", exp.Trust)
	}
}

func TestQueryExperiencesOrdering(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := testNow()

	lo, _ := s.RecordExperience(ctx, ExperienceParams{
		Scope: "proj", Summary: "low trust", Outcome: model.OutcomeSuccess, Trust: 0,
	}, now)
	oldHi, _ := s.RecordExperience(ctx, ExperienceParams{
		Scope: "proj", Summary: "old high trust", Outcome: model.OutcomeSuccess, Trust: 3,
	}, now.Add(-48*time.Hour))
	newHi, _ := s.RecordExperience(ctx, ExperienceParams{
		Scope: "proj", Summary: "new high trust", Outcome: model.OutcomeSuccess, Trust: 3,
	}, now)

	got, err := s.QueryExperiences(ctx, ExperienceQuery{Scope: "proj"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3, got %d", len(got))
	}
	if got[0].ID != newHi.ID || got[1].ID != oldHi.ID || got[2].ID != lo.ID {
		t.Errorf("expected order [new-high, old-high, low], got %q %q %q",
			got[0].Summary, got[1].Summary, got[2].Summary)
	}

	// Stable across repeated identical queries.
	again, _ := s.QueryExperiences(ctx, ExperienceQuery{Scope: "proj"})
	for i := range got {
		if got[i].ID != again[i].ID {
			t.Errorf("expected reproducible ordering at %d", i)
		}
	}
}

func TestQueryExperiencesSubSecondRecency(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := testNow()

	older, _ := s.RecordExperience(ctx, ExperienceParams{
		Scope: "proj", Summary: "older", Outcome: model.OutcomeSuccess, Trust: 2,
	}, now)
	newer, _ := s.RecordExperience(ctx, ExperienceParams{
		Scope: "proj", Summary: "newer", Outcome: model.OutcomeSuccess, Trust: 2,
	}, now.Add(500*time.Millisecond))

	got, err := s.QueryExperiences(ctx, ExperienceQuery{Scope: "proj"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2, got %d", len(got))
	}
	// Whole-second and sub-second timestamps sort by time, not by their
	// textual encoding.
	if got[0].ID != newer.ID || got[1].ID != older.ID {
		t.Errorf("expected order [newer, older], got %q %q", got[0].Summary, got[1].Summary)
	}
}

func TestQueryExperiencesKeyOverlap(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := testNow()

	hit, _ := s.RecordExperience(ctx, ExperienceParams{
		Scope: "proj", ContextKeys: []string{"deploy", "ci"},
		Summary: "hit", Outcome: model.OutcomeSuccess,
	}, now)
	s.RecordExperience(ctx, ExperienceParams{
		Scope: "proj", ContextKeys: []string{"docs"},
		Summary: "miss", Outcome: model.OutcomeSuccess,
	}, now)

	got, err := s.QueryExperiences(ctx, ExperienceQuery{Scope: "proj", ContextKeys: []string{"DEPLOY"}})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 || got[0].ID != hit.ID {
		t.Errorf("expected single overlap hit, got %d results", len(got))
	}
}

func TestMarkConsolidated(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	exp, _ := s.RecordExperience(ctx, ExperienceParams{
		Scope: "proj", Summary: "s", Outcome: model.OutcomeSuccess,
	}, testNow())

	pending, _ := s.QueryExperiences(ctx, ExperienceQuery{Scope: "proj", Unconsolidated: true})
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending, got %d", len(pending))
	}

	if err := s.MarkConsolidated(ctx, []string{exp.ID}); err != nil {
		t.Fatalf("mark: %v", err)
	}

	pending, _ = s.QueryExperiences(ctx, ExperienceQuery{Scope: "proj", Unconsolidated: true})
	if len(pending) != 0 {
		t.Errorf("expected 0 pending after mark, got %d", len(pending))
	}
}
