package salience

import (
	"testing"
	"time"

	"workmem/internal/model"
)

func TestScoreBounds(t *testing.T) {
	w := DefaultWeights()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name           string
		state          string
		evidence       int
		contradictions int
		trust          int
		updated        time.Time
		want           int
		exact          bool
	}{
		{
			name:  "heavily contradicted bottoms out at zero",
			state: model.CellStateUnverified, contradictions: 10, trust: 0,
			updated: now.AddDate(0, 0, -365),
			want:    0, exact: true,
		},
		{
			name:  "maximal everything caps at 1000",
			state: model.CellStateStable, evidence: 50, trust: 3,
			updated: now,
			want:    1000, exact: true,
		},
		{
			name:  "plain observed cell lands mid-range",
			state: model.CellStateObserved, evidence: 2, trust: 1,
			updated: now.AddDate(0, 0, -3),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := w.Score(tt.state, tt.evidence, tt.contradictions, tt.trust, tt.updated, now)
			if got < MinScore || got > MaxScore {
				t.Fatalf("score %d out of [%d,%d]", got, MinScore, MaxScore)
			}
			if tt.exact && got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestScoreDeterministic(t *testing.T) {
	w := DefaultWeights()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	updated := now.AddDate(0, 0, -10)

	a := w.Score(model.CellStateObserved, 3, 1, 2, updated, now)
	b := w.Score(model.CellStateObserved, 3, 1, 2, updated, now)
	if a != b {
		t.Errorf("expected identical scores, got %d and %d", a, b)
	}
}

func TestRecencyBucket(t *testing.T) {
	w := DefaultWeights()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if got := w.RecencyBucket(now, now); got != 5 {
		t.Errorf("same instant: expected bucket 5, got %d", got)
	}
	if got := w.RecencyBucket(now.AddDate(0, 0, -5), now); got >= 5 {
		t.Errorf("5 days elapsed: expected bucket below 5, got %d", got)
	}
	if got := w.RecencyBucket(now.AddDate(0, 0, -100), now); got != 1 {
		t.Errorf("100 days elapsed: expected minimum bucket 1, got %d", got)
	}

	// Non-increasing with age.
	prev := 6
	for _, days := range []int{0, 1, 3, 7, 14, 30, 60, 90, 365} {
		got := w.RecencyBucket(now.AddDate(0, 0, -days), now)
		if got > prev {
			t.Errorf("bucket increased with age at %d days: %d > %d", days, got, prev)
		}
		prev = got
	}
}

func TestRecencyBucketFutureUpdate(t *testing.T) {
	w := DefaultWeights()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if got := w.RecencyBucket(now.Add(time.Hour), now); got != 5 {
		t.Errorf("future update: expected bucket 5, got %d", got)
	}
}
