package probe

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchProbe wraps an inner probe with an fsnotify witness on the target's
// directory: the inner probe's side effect should surface as a Create or
// Write event within the settle window.
//
// A missing witness degrades the Result detail, never the outcome of the
// inner probe and never the exit status.
type WatchProbe struct {
	Inner  Probe
	Target string
	Settle time.Duration
}

// Name identifies the probe in journal and metrics labels.
func (p *WatchProbe) Name() string { return p.Inner.Name() + "+watch" }

// Run starts the watcher, runs the inner probe, then waits for the event.
func (p *WatchProbe) Run(ctx context.Context) Result {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		result := p.Inner.Run(ctx)
		result.Probe = p.Name()
		result.Detail = appendDetail(result.Detail, fmt.Sprintf("watch witness unavailable: %v", err))
		return result
	}
	defer watcher.Close()

	absTarget, err := filepath.Abs(p.Target)
	if err != nil {
		absTarget = p.Target
	}

	watchErr := watcher.Add(filepath.Dir(absTarget))

	result := p.Inner.Run(ctx)
	result.Probe = p.Name()

	if watchErr != nil {
		result.Detail = appendDetail(result.Detail, fmt.Sprintf("watch witness unavailable: %v", watchErr))
		return result
	}

	if p.witnessed(ctx, watcher, absTarget) {
		result.Detail = appendDetail(result.Detail, "fsnotify witnessed the write")
	} else {
		result.Detail = appendDetail(result.Detail, fmt.Sprintf("no fsnotify event within %s", p.Settle))
	}

	return result
}

func (p *WatchProbe) witnessed(ctx context.Context, watcher *fsnotify.Watcher, target string) bool {
	deadline := time.NewTimer(p.Settle)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case evt, ok := <-watcher.Events:
			if !ok {
				return false
			}
			if evt.Name == target && evt.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				return true
			}
		case <-watcher.Errors:
			// Watcher errors do not invalidate the inner probe's result.
		}
	}
}

func appendDetail(detail, note string) string {
	if detail == "" {
		return note
	}
	return detail + "; " + note
}
