// Package bridge is the fail-soft recording surface for callers that must
// never be blocked by memory errors. Failures are logged and swallowed; the
// caller's turn always proceeds.
package bridge

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"workmem/internal/model"
	"workmem/internal/store"
)

// Recorder wraps the episodic store with best-effort semantics.
type Recorder struct {
	store   *store.SQLiteStore
	logger  *zap.Logger
	dropped atomic.Int64
}

// NewRecorder creates a best-effort recorder. A nil logger disables logging.
func NewRecorder(s *store.SQLiteStore, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{store: s, logger: logger.With(zap.String("component", "bridge"))}
}

// Record writes an experience and never returns an error. On failure it logs
// the cause, counts the drop, and returns nil.
func (r *Recorder) Record(ctx context.Context, p store.ExperienceParams, now time.Time) *model.Experience {
	exp, err := r.store.RecordExperience(ctx, p, now)
	if err != nil {
		r.dropped.Add(1)
		r.logger.Warn("experience dropped",
			zap.String("scope", p.Scope),
			zap.String("outcome", p.Outcome),
			zap.Error(err))
		return nil
	}
	return exp
}

// Dropped returns the number of records swallowed since start.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}
