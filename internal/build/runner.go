package build

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"faceprep/internal/logging"
	"faceprep/internal/validity"
)

// BuildFunc produces the output for one id: load source, transform, write
// atomically. It is a pure function of (source, parameters); no cross-item
// dependency exists, so items run concurrently.
type BuildFunc func(ctx context.Context, id string) error

// Outcome describes one attempted item.
type Outcome struct {
	ID       string
	Err      error
	Duration time.Duration
}

// Report summarizes a build pass. Valid is the re-verified final output set,
// the only set a manifest may record.
type Report struct {
	Planned int
	Built   int
	Failed  int
	Valid   []string
}

// Runner executes a plan's to-build set over a bounded worker pool.
type Runner struct {
	Workers int
	Log     *slog.Logger
	// OnOutcome, when set, observes every attempted item (progress feeds).
	OnOutcome func(Outcome)
}

// Run builds the plan's delta and re-scans the output directory. Per-item
// failures are logged and skipped; the batch continues. Cancellation is
// honored between items, never mid-item, so an interrupted run leaves either
// a finished output or a temp file the next scan ignores.
func (r *Runner) Run(ctx context.Context, plan *Plan, fn BuildFunc, sc *validity.Scanner) (Report, error) {
	report := Report{Planned: len(plan.ToBuild)}

	if plan.Complete() {
		report.Valid = setToSorted(plan.ValidNow)
		return report, nil
	}

	workers := r.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(plan.ToBuild) {
		workers = len(plan.ToBuild)
	}

	jobs := make(chan string)
	outcomes := make(chan Outcome)
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				start := time.Now()
				err := fn(ctx, id)
				outcomes <- Outcome{ID: id, Err: err, Duration: time.Since(start)}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, id := range plan.ToBuild {
			select {
			case <-ctx.Done():
				return
			case jobs <- id:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	warn := logging.NewWarnLimiter(r.Log, logging.DefaultWarnDetail)
	for out := range outcomes {
		if out.Err != nil {
			report.Failed++
			warn.Warn("item build failed; skipping", "id", out.ID, "error", out.Err)
		} else {
			report.Built++
		}
		if r.OnOutcome != nil {
			r.OnOutcome(out)
		}
	}

	// The final set is what the filesystem verifies, not what was attempted.
	valid, _, err := sc.ScanDir(plan.OutDir)
	if err != nil {
		return report, err
	}
	report.Valid = setToSorted(valid)

	if report.Failed > 0 {
		r.Log.Warn("build pass finished with skipped items",
			"built", report.Built, "failed", report.Failed, "out_dir", plan.OutDir)
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

// SanityCheck compares the manifest row count against the independently
// verified valid file count. A mismatch means manifest and filesystem have
// diverged and must not propagate downstream.
func SanityCheck(manifestRows, verifiedValid int) error {
	if manifestRows != verifiedValid {
		return fmt.Errorf("sanity check failed: manifest rows=%d, verified valid files=%d",
			manifestRows, verifiedValid)
	}
	return nil
}

func setToSorted(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
