package cycle

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"workmem/internal/finalize"
	"workmem/internal/model"
	"workmem/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.SQLiteStore) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewEngine(s, nil), s
}

func testNow() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func startSession(t *testing.T, s *store.SQLiteStore) *model.Session {
	t.Helper()
	sess, err := s.CreateSession(context.Background(), "session", map[string]string{"mode": "test"}, testNow())
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return sess
}

func fullInputs() Inputs {
	valid := true
	return Inputs{
		Route: "answer",
		Draft: "The service is reachable.",
		Finalize: &finalize.Result{
			FinalizedText: "The service is reachable.",
			Integrity:     finalize.IntegrityOK,
		},
		GovernanceValid: &valid,
	}
}

func TestAdvanceFullCycle(t *testing.T) {
	e, s := newTestEngine(t)
	sess := startSession(t, s)
	ctx := context.Background()
	in := fullInputs()

	for i, want := range model.PhaseOrder {
		res, err := e.Advance(ctx, sess.ID, in, testNow().Add(time.Duration(i)*time.Second))
		if err != nil {
			t.Fatalf("advance %d: %v", i, err)
		}
		if res.Status != StatusExecuted {
			t.Fatalf("advance %d: status = %q", i, res.Status)
		}
		if res.Phase != want {
			t.Fatalf("advance %d: phase = %q, want %q", i, res.Phase, want)
		}
		if res.Chain == nil || res.Chain.Hash == "" {
			t.Fatalf("advance %d: no chain entry", i)
		}
	}

	res, err := e.Advance(ctx, sess.ID, in, testNow())
	if err != nil {
		t.Fatalf("advance after completion: %v", err)
	}
	if res.Status != StatusComplete {
		t.Fatalf("status = %q, want %q", res.Status, StatusComplete)
	}

	chain, err := s.VerifyChain(ctx, sess.ID)
	if err != nil {
		t.Fatalf("verify chain: %v", err)
	}
	if !chain.Valid || chain.Count != len(model.PhaseOrder) {
		t.Fatalf("chain valid=%v count=%d", chain.Valid, chain.Count)
	}
}

func TestAdvanceWaitsForInputs(t *testing.T) {
	e, s := newTestEngine(t)
	sess := startSession(t, s)
	ctx := context.Background()

	in := Inputs{Route: "answer"}
	for i := 0; i < 3; i++ {
		res, err := e.Advance(ctx, sess.ID, in, testNow())
		if err != nil {
			t.Fatalf("advance %d: %v", i, err)
		}
		if res.Status != StatusExecuted {
			t.Fatalf("advance %d: status = %q", i, res.Status)
		}
	}

	res, err := e.Advance(ctx, sess.ID, in, testNow())
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if res.Status != StatusWaiting || res.Phase != model.PhaseDraft || res.Waiting != "draft" {
		t.Fatalf("expected waiting on draft, got %+v", res)
	}

	in.Draft = "A draft."
	res, err = e.Advance(ctx, sess.ID, in, testNow())
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if res.Status != StatusExecuted || res.Phase != model.PhaseDraft {
		t.Fatalf("expected draft executed, got %+v", res)
	}

	res, err = e.Advance(ctx, sess.ID, in, testNow())
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if res.Status != StatusWaiting || res.Waiting != "finalize_result" {
		t.Fatalf("expected waiting on finalize, got %+v", res)
	}

	in.Finalize = &finalize.Result{FinalizedText: "A draft.", Integrity: finalize.IntegrityOK}
	if _, err := e.Advance(ctx, sess.ID, in, testNow()); err != nil {
		t.Fatalf("advance: %v", err)
	}

	res, err = e.Advance(ctx, sess.ID, in, testNow())
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if res.Status != StatusWaiting || res.Waiting != "governance_result" {
		t.Fatalf("expected waiting on governance, got %+v", res)
	}
}

func TestWaitingDoesNotAdvancePhase(t *testing.T) {
	e, s := newTestEngine(t)
	sess := startSession(t, s)
	ctx := context.Background()

	in := Inputs{}
	for i := 0; i < 3; i++ {
		if _, err := e.Advance(ctx, sess.ID, in, testNow()); err != nil {
			t.Fatalf("advance %d: %v", i, err)
		}
	}

	for i := 0; i < 2; i++ {
		res, err := e.Advance(ctx, sess.ID, in, testNow())
		if err != nil {
			t.Fatalf("waiting advance %d: %v", i, err)
		}
		if res.Status != StatusWaiting {
			t.Fatalf("waiting advance %d: status = %q", i, res.Status)
		}
	}

	got, err := s.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.LastPhase != model.PhaseContextPack {
		t.Fatalf("phase moved while waiting: %q", got.LastPhase)
	}

	invocations, err := s.ListInvocations(ctx, sess.ID)
	if err != nil {
		t.Fatalf("list invocations: %v", err)
	}
	if len(invocations) != 3 {
		t.Fatalf("waiting advances must not write invocations, got %d", len(invocations))
	}
}

func TestCycleOutcomeSuccess(t *testing.T) {
	e, s := newTestEngine(t)
	sess := startSession(t, s)
	ctx := context.Background()
	in := fullInputs()

	var last *Result
	for range model.PhaseOrder {
		res, err := e.Advance(ctx, sess.ID, in, testNow())
		if err != nil {
			t.Fatalf("advance: %v", err)
		}
		last = res
	}

	if last.Experience == nil {
		t.Fatal("memory phase returned no experience")
	}
	if last.Experience.Outcome != model.OutcomeSuccess {
		t.Fatalf("outcome = %q", last.Experience.Outcome)
	}
	if last.Experience.SessionID != sess.ID {
		t.Fatalf("experience session = %q", last.Experience.SessionID)
	}

	exps, err := s.QueryExperiences(ctx, store.ExperienceQuery{SessionID: sess.ID})
	if err != nil {
		t.Fatalf("query experiences: %v", err)
	}
	if len(exps) != 1 {
		t.Fatalf("expected exactly one outcome experience, got %d", len(exps))
	}
}

func TestCycleOutcomeBlockedDraft(t *testing.T) {
	e, s := newTestEngine(t)
	sess := startSession(t, s)
	ctx := context.Background()

	in := fullInputs()
	in.Finalize = &finalize.Result{
		FinalizedText: "It is guaranteed to always work.",
		Integrity:     finalize.IntegrityBlocked,
		Violations:    []finalize.Violation{{Rule: "absolute_claim", Severity: finalize.SeverityError}},
	}

	var last *Result
	for range model.PhaseOrder {
		res, err := e.Advance(ctx, sess.ID, in, testNow())
		if err != nil {
			t.Fatalf("advance: %v", err)
		}
		last = res
	}

	if last.Experience == nil || last.Experience.Outcome != model.OutcomeFail {
		t.Fatalf("expected fail outcome, got %+v", last.Experience)
	}
}

func TestCycleOutcomeGovernanceFailure(t *testing.T) {
	e, s := newTestEngine(t)
	sess := startSession(t, s)
	ctx := context.Background()

	in := fullInputs()
	invalid := false
	in.GovernanceValid = &invalid
	in.GovernanceErrors = []string{"context hash mismatch"}

	var last *Result
	for range model.PhaseOrder {
		res, err := e.Advance(ctx, sess.ID, in, testNow())
		if err != nil {
			t.Fatalf("advance: %v", err)
		}
		last = res
	}

	if last.Experience == nil || last.Experience.Outcome != model.OutcomeFail {
		t.Fatalf("expected fail outcome, got %+v", last.Experience)
	}
}

func TestContextPackPhaseRecordsHash(t *testing.T) {
	e, s := newTestEngine(t)
	sess := startSession(t, s)
	ctx := context.Background()
	in := fullInputs()

	for i := 0; i < 3; i++ {
		res, err := e.Advance(ctx, sess.ID, in, testNow())
		if err != nil {
			t.Fatalf("advance %d: %v", i, err)
		}
		if res.Phase == model.PhaseContextPack {
			if res.Pack == nil || res.Pack.ContextHash == "" {
				t.Fatalf("context pack phase returned no pack: %+v", res)
			}
		}
	}

	got, err := s.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.LastContextHash == "" {
		t.Fatal("session has no recorded context hash")
	}
}

func TestAdvanceSessionNotFound(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.Advance(context.Background(), "missing", Inputs{}, testNow())
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
