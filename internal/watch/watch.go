// Package watch triggers incremental pipeline passes when the raw dataset
// changes on disk. Bursts of create/write events collapse into a single
// callback after a quiet period; the incremental scheduler then rebuilds only
// what the new files require.
package watch

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"

	"faceprep/internal/fsutil"
)

// DefaultQuiet is how long the directory must stay silent before the
// callback fires.
const DefaultQuiet = 2 * time.Second

// Watcher debounces filesystem activity under one directory.
type Watcher struct {
	Dir   string
	Quiet time.Duration
	Log   *slog.Logger

	// OnChange runs after each quiet period that saw at least one relevant
	// event. It receives the number of events in the burst.
	OnChange func(ctx context.Context, events int)
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := fw.Add(w.Dir); err != nil {
		return err
	}
	quiet := w.Quiet
	if quiet <= 0 {
		quiet = DefaultQuiet
	}
	w.Log.Info("watching dataset directory", "dir", w.Dir, "quiet", quiet)

	timer := time.NewTimer(quiet)
	if !timer.Stop() {
		<-timer.C
	}
	pending := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !fsutil.IsImageFile(event.Name) {
				continue
			}
			pending++
			// Reset the quiet window on every relevant event so a long
			// copy burst fires exactly once at the end.
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(quiet)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.Log.Warn("watcher error", "error", err)

		case <-timer.C:
			if pending == 0 {
				continue
			}
			n := pending
			pending = 0
			w.Log.Info("dataset changed; triggering incremental pass", "events", n)
			if w.OnChange != nil {
				w.OnChange(ctx, n)
			}
		}
	}
}
