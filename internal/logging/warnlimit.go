package logging

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// DefaultWarnDetail is how many per-item warnings are logged in full before
// the limiter switches to counting, matching the batch stages' flood cap.
const DefaultWarnDetail = 5

// WarnLimiter logs full detail for the first N occurrences of a recurring
// per-item condition and only counts thereafter. Safe for concurrent use by
// build workers.
type WarnLimiter struct {
	log   *slog.Logger
	max   int64
	count atomic.Int64
	once  sync.Once
}

// NewWarnLimiter returns a limiter emitting at most max detailed records.
// A max of zero uses DefaultWarnDetail.
func NewWarnLimiter(log *slog.Logger, max int) *WarnLimiter {
	if max <= 0 {
		max = DefaultWarnDetail
	}
	return &WarnLimiter{log: log, max: int64(max)}
}

// Warn records one occurrence, logging it in full while under the cap.
func (w *WarnLimiter) Warn(msg string, args ...any) {
	n := w.count.Add(1)
	if n <= w.max {
		w.log.Warn(msg, args...)
		return
	}
	w.once.Do(func() {
		w.log.Warn("further warnings suppressed; totals reported at stage end")
	})
}

// Count returns the total number of occurrences recorded.
func (w *WarnLimiter) Count() int {
	return int(w.count.Load())
}
