package store

import (
	"context"
	"fmt"
	"testing"

	"workmem/internal/model"
)

func seedPackData(t *testing.T, s *SQLiteStore, n int) {
	t.Helper()
	ctx := context.Background()
	now := testNow()

	sc, err := s.CreateScene(ctx, SceneParams{Scope: "proj", Label: "pack", ContextKeys: []string{"deploy"}}, now)
	if err != nil {
		t.Fatalf("scene: %v", err)
	}
	for i := 0; i < n; i++ {
		_, err := s.CreateCell(ctx, CellParams{
			SceneID: sc.ID, Scope: "proj", CellType: model.CellTypeFact,
			Title: fmt.Sprintf("fact %02d", i), Body: fmt.Sprintf("body of fact %02d with some padding text", i),
			Trust: i % 4,
		}, now)
		if err != nil {
			t.Fatalf("cell %d: %v", i, err)
		}
		_, err = s.RecordExperience(ctx, ExperienceParams{
			Scope: "proj", ContextKeys: []string{"deploy"},
			Summary: fmt.Sprintf("experience %02d with some padding text", i),
			Outcome: model.OutcomeSuccess, Trust: i % 4,
		}, now)
		if err != nil {
			t.Fatalf("experience %d: %v", i, err)
		}
	}
}

func TestContextPackReproducible(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedPackData(t, s, 10)

	p := PackParams{Scope: "proj", ContextKeys: []string{"deploy"}, ByteBudget: 2000}

	a, err := s.ContextPack(ctx, p, testNow())
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	b, err := s.ContextPack(ctx, p, testNow())
	if err != nil {
		t.Fatalf("pack again: %v", err)
	}

	if a.ContextHash != b.ContextHash {
		t.Errorf("expected identical hashes, got %q vs %q", a.ContextHash, b.ContextHash)
	}
	if len(a.Cells) != len(b.Cells) || len(a.Experiences) != len(b.Experiences) {
		t.Error("expected identical selection across calls")
	}
}

func TestContextPackRespectsBudget(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedPackData(t, s, 50)

	for _, budget := range []int{150, 500, 2000} {
		got, err := s.ContextPack(ctx, PackParams{
			Scope: "proj", ContextKeys: []string{"deploy"}, ByteBudget: budget,
			MaxCells: 100, MaxExperiences: 100,
		}, testNow())
		if err != nil {
			t.Fatalf("pack budget %d: %v", budget, err)
		}
		if got.ByteSize > budget {
			t.Errorf("budget %d exceeded: byte_size %d", budget, got.ByteSize)
		}
	}
}

func TestContextPackEmptyStore(t *testing.T) {
	s := newTestStore(t)
	got, err := s.ContextPack(context.Background(), PackParams{Scope: "proj"}, testNow())
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	if len(got.Cells) != 0 || len(got.Experiences) != 0 {
		t.Error("expected empty bundle")
	}
	if got.ContextHash == "" {
		t.Error("expected hash even for empty bundle")
	}
}

func TestPackForSessionRecordsHash(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedPackData(t, s, 3)

	sess, _ := s.CreateSession(ctx, "proj", nil, testNow())
	got, err := s.PackForSession(ctx, PackParams{
		SessionID: sess.ID, Scope: "proj", ContextKeys: []string{"deploy"},
	}, testNow())
	if err != nil {
		t.Fatalf("pack for session: %v", err)
	}

	after, _ := s.GetSession(ctx, sess.ID)
	if after.LastContextHash != got.ContextHash {
		t.Errorf("expected session hash %q, got %q", got.ContextHash, after.LastContextHash)
	}
}
