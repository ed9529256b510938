// Package watch reruns an action when files matching a set of glob
// patterns change. Events are debounced so that an editor's save burst
// triggers one run.
//
// Typical usage:
//
//	w, err := watch.New([]string{"tests/*.yaml", "snapdiff.yaml"}, watch.Options{Debounce: 300 * time.Millisecond})
//	defer w.Close()
//	err = w.OnChange(ctx, func(changed []string) error { return rerun(ctx) })
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Options tunes the watcher behaviour.
type Options struct {
	// Debounce is the quiet period after a change before the action fires.
	// Further changes during the window reset it. Default: 300ms.
	Debounce time.Duration
	Logger   *slog.Logger
}

func (o *Options) defaults() {
	if o.Debounce <= 0 {
		o.Debounce = 300 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Watcher watches the directories of its patterns and filters events by
// pattern. Patterns may name files that do not exist yet, but their
// directory must exist.
type Watcher struct {
	fsw      *fsnotify.Watcher
	patterns []string
	opts     Options

	// version counts completed actions.
	version atomic.Int64

	events   atomic.Int64
	errors   atomic.Int64
	reloads  atomic.Int64
	reloadNs atomic.Int64
}

// Stats are point-in-time counters.
type Stats struct {
	Events        int64         `json:"events"`
	Errors        int64         `json:"errors"`
	Reloads       int64         `json:"reloads"`
	AvgReloadTime time.Duration `json:"avg_reload_time"`
}

// New creates a Watcher for patterns. Call OnChange to start the loop and
// Close to release it.
func New(patterns []string, opts Options) (*Watcher, error) {
	opts.defaults()
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	w := &Watcher{fsw: fsw, opts: opts}

	var dirs []string
	for _, p := range patterns {
		abs, err := filepath.Abs(p)
		if err != nil {
			fsw.Close()
			return nil, fmt.Errorf("watch: %s: %w", p, err)
		}
		if _, err := filepath.Match(abs, ""); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("watch: bad pattern %q: %w", p, err)
		}
		w.patterns = append(w.patterns, abs)
		dir := filepath.Dir(abs)
		if !slices.Contains(dirs, dir) {
			dirs = append(dirs, dir)
		}
	}
	for _, dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("watch: add %s: %w", dir, err)
		}
	}
	return w, nil
}

// Close stops watching.
func (w *Watcher) Close() error { return w.fsw.Close() }

// Version returns the number of completed actions.
func (w *Watcher) Version() int64 { return w.version.Load() }

// Stats returns the current counters.
func (w *Watcher) Stats() Stats {
	s := Stats{
		Events:  w.events.Load(),
		Errors:  w.errors.Load(),
		Reloads: w.reloads.Load(),
	}
	if s.Reloads > 0 {
		s.AvgReloadTime = time.Duration(w.reloadNs.Load() / s.Reloads)
	}
	return s
}

// matches reports whether path is covered by a pattern.
func (w *Watcher) matches(path string) bool {
	for _, p := range w.patterns {
		if ok, _ := filepath.Match(p, path); ok {
			return true
		}
	}
	return false
}

// OnChange blocks until ctx is cancelled or the watcher is closed. After a
// debounced burst of matching events, action is called with the changed
// paths, sorted. An action error is logged and the loop continues.
func (w *Watcher) OnChange(ctx context.Context, action func(changed []string) error) error {
	log := w.opts.Logger

	var (
		timer   *time.Timer
		timerC  <-chan time.Time
		pending = map[string]bool{}
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	log.Info("watch: started", "patterns", w.patterns, "debounce", w.opts.Debounce)
	for {
		select {
		case <-ctx.Done():
			log.Info("watch: stopped")
			return ctx.Err()

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) &&
				!ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if !w.matches(ev.Name) {
				continue
			}
			w.events.Add(1)
			pending[ev.Name] = true
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.opts.Debounce)
			timerC = timer.C
			log.Debug("watch: change detected, debouncing", "path", ev.Name, "op", ev.Op.String())

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.errors.Add(1)
			log.Warn("watch: fsnotify error", "error", err)

		case <-timerC:
			timerC = nil
			changed := make([]string, 0, len(pending))
			for p := range pending {
				changed = append(changed, p)
			}
			slices.Sort(changed)
			clear(pending)
			w.fire(log, action, changed)
		}
	}
}

func (w *Watcher) fire(log *slog.Logger, action func([]string) error, changed []string) {
	log.Info("watch: change", "files", changed)
	start := time.Now()
	if err := action(changed); err != nil {
		w.errors.Add(1)
		log.Error("watch: action failed", "error", err)
		return
	}
	elapsed := time.Since(start)
	w.reloads.Add(1)
	w.reloadNs.Add(int64(elapsed))
	w.version.Add(1)
	log.Info("watch: action complete", "duration", elapsed)
}
