// Package salience scores how prominent a memory cell should be when
// retrieving context. The score is a pure function of the cell's state,
// evidence, trust and age; callers supply now explicitly so results are
// reproducible.
package salience

import (
	"time"

	"workmem/internal/model"
)

// Bounds of the salience scale.
const (
	MinScore = 0
	MaxScore = 1000
)

// Weights are the tunable constants of the salience formula. The recency
// cutoffs and the contradiction penalty are calibration points rather than
// derived values; adjust them against observed retrieval quality.
type Weights struct {
	StateBase     map[string]int // base score per lifecycle state
	Evidence      int            // per supporting evidence link
	Recency       int            // per recency bucket (1-5)
	Trust         int            // per trust level (0-3)
	Contradiction int            // penalty per contradicting link

	// Recency bucket day cutoffs, youngest first: elapsed < Cutoffs[i] days
	// falls in bucket 5-i.
	Cutoffs [4]int
}

// DefaultWeights returns the calibrated defaults.
func DefaultWeights() Weights {
	return Weights{
		StateBase: map[string]int{
			model.CellStateUnverified: 50,
			model.CellStateObserved:   150,
			model.CellStateStable:     300,
		},
		Evidence:      25,
		Recency:       60,
		Trust:         100,
		Contradiction: 80,
		Cutoffs:       [4]int{1, 7, 30, 90},
	}
}

// Score computes the salience of a cell in [MinScore, MaxScore].
func (w Weights) Score(state string, evidence, contradictions, trust int, updatedAt, now time.Time) int {
	s := w.StateBase[state]
	s += evidence * w.Evidence
	s += w.RecencyBucket(updatedAt, now) * w.Recency
	s += trust * w.Trust
	s -= contradictions * w.Contradiction

	if s < MinScore {
		return MinScore
	}
	if s > MaxScore {
		return MaxScore
	}
	return s
}

// RecencyBucket maps elapsed time since updatedAt into five decaying tiers:
// 5 for same-day updates down to 1 for very old ones. Non-increasing with
// age; a future updatedAt counts as same-day.
func (w Weights) RecencyBucket(updatedAt, now time.Time) int {
	elapsed := now.Sub(updatedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	days := int(elapsed / (24 * time.Hour))
	for i, cutoff := range w.Cutoffs {
		if days < cutoff {
			return 5 - i
		}
	}
	return 1
}
