// Package stages wires the pipeline's four passes behind a common handler
// interface: verify the raw dataset, align it into the canonical frame,
// synthesize degradations and run the restoration sweep. Handlers are
// stateless and constructed fresh per invocation.
package stages

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"faceprep/internal/build"
	"faceprep/internal/config"
	"faceprep/internal/restore"
	"faceprep/internal/storage"
)

// Stage failure sentinels. Per-item failures never carry either of these;
// they terminate nothing.
var (
	// ErrStructural marks a missing directory, missing metadata file or a
	// schema violation. The stage aborts before writing anything.
	ErrStructural = errors.New("structural error")
	// ErrSanity marks a manifest/filesystem divergence detected after a
	// build pass. The stage aborts before the manifest is written.
	ErrSanity = errors.New("sanity check failure")
)

func structural(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrStructural, fmt.Sprintf(format, args...))
}

// Event is one progress notification from a running stage.
type Event struct {
	RunID  string    `json:"run_id"`
	Stage  string    `json:"stage"`
	ItemID string    `json:"item_id,omitempty"`
	Status string    `json:"status"`
	Detail string    `json:"detail,omitempty"`
	Time   time.Time `json:"time"`
}

// EventSink receives progress events. Publish must not block the caller.
type EventSink interface {
	Publish(Event)
}

// Env carries the shared collaborators into a stage execution.
type Env struct {
	Cfg    *config.Config
	Log    *slog.Logger
	Store  *storage.Store
	Events EventSink
	RunID  string

	// Restorer overrides the configured restoration adapter when set;
	// tests inject a stub here.
	Restorer restore.Restorer
}

func (e *Env) publish(stage, itemID, status, detail string) {
	if e.Events == nil {
		return
	}
	e.Events.Publish(Event{
		RunID:  e.RunID,
		Stage:  stage,
		ItemID: itemID,
		Status: status,
		Detail: detail,
		Time:   time.Now(),
	})
}

// onOutcome feeds per-item results to the store and the event sink.
func (e *Env) onOutcome(stage string) func(build.Outcome) {
	return func(out build.Outcome) {
		status := "built"
		detail := ""
		if out.Err != nil {
			status = "failed"
			detail = out.Err.Error()
		}
		e.publish(stage, out.ID, status, detail)
		if out.Err != nil {
			_ = e.Store.RecordEvent(storage.EventRecord{
				RunID:  e.RunID,
				ItemID: out.ID,
				Stage:  stage,
				Status: status,
				Detail: detail,
			})
		}
	}
}

func (e *Env) runner(stage string) *build.Runner {
	return &build.Runner{
		Workers:   e.Cfg.Processing.ParallelJobs,
		Log:       e.Log.With("stage", stage),
		OnOutcome: e.onOutcome(stage),
	}
}

// Handler is one pipeline stage.
type Handler interface {
	Name() string
	Describe() string
	Execute(ctx context.Context, env *Env) error
}

// order fixes the pipeline sequence for `run all`.
var order = []string{"verify", "align", "degrade", "restore"}

// IDs returns the stage identifiers in execution order.
func IDs() []string {
	return append([]string(nil), order...)
}

// New constructs a fresh handler for the given stage id.
func New(id string) (Handler, error) {
	switch id {
	case "verify":
		return &verifyStage{}, nil
	case "align":
		return &alignStage{}, nil
	case "degrade":
		return &degradeStage{}, nil
	case "restore":
		return &restoreStage{}, nil
	default:
		return nil, fmt.Errorf("unknown stage %q (known: %v)", id, order)
	}
}
