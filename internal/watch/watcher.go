// SPDX-License-Identifier: MPL-2.0

// Package watch reports debounced changes to the files of one directory.
// It drives catalog hot reload: editors that write, rename and chmod in
// quick succession produce a single callback.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period before OnChange fires.
const DefaultDebounce = 500 * time.Millisecond

// ErrAlreadyRunning is returned by a second call to Run.
var ErrAlreadyRunning = errors.New("watch: Run called more than once")

type (
	// Config configures a Watcher.
	Config struct {
		// Dir is watched non-recursively.
		Dir string
		// Pattern is a filepath.Match pattern on base names; empty matches
		// every file.
		Pattern  string
		Debounce time.Duration
		// OnChange receives the sorted base names changed since the last
		// call. Calls never overlap.
		OnChange func(ctx context.Context, changed []string) error
	}

	// Watcher monitors one directory. Run must be called exactly once.
	Watcher struct {
		cfg     Config
		fsw     *fsnotify.Watcher
		logger  *slog.Logger
		started atomic.Bool
	}
)

// New validates cfg and registers Dir with the OS watcher.
func New(cfg Config) (*Watcher, error) {
	if cfg.Dir == "" {
		return nil, errors.New("watch: directory is empty")
	}
	if cfg.Pattern != "" {
		if _, err := filepath.Match(cfg.Pattern, ""); err != nil {
			return nil, fmt.Errorf("watch: invalid pattern %q: %w", cfg.Pattern, err)
		}
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create watcher: %w", err)
	}
	if err := fsw.Add(cfg.Dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch: add %s: %w", cfg.Dir, err)
	}
	return &Watcher{
		cfg:    cfg,
		fsw:    fsw,
		logger: slog.Default().With("component", "watch", "dir", cfg.Dir),
	}, nil
}

// Run dispatches debounced callbacks until ctx is done. It returns nil on
// cancellation and an error when the OS watcher breaks.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	var (
		mu      sync.Mutex
		pending = make(map[string]struct{})
		timer   *time.Timer
		busy    atomic.Bool
	)

	fire := func() {
		if ctx.Err() != nil {
			return
		}
		if !busy.CompareAndSwap(false, true) {
			// Retry later so pending names are not lost.
			mu.Lock()
			timer.Reset(w.cfg.Debounce)
			mu.Unlock()
			return
		}
		defer busy.Store(false)

		mu.Lock()
		changed := slices.Sorted(maps.Keys(pending))
		clear(pending)
		mu.Unlock()
		if len(changed) == 0 || w.cfg.OnChange == nil {
			return
		}
		if err := w.cfg.OnChange(ctx, changed); err != nil {
			w.logger.Warn("change handler failed", "files", changed, "error", err)
		}
	}

	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
		if err := w.fsw.Close(); err != nil {
			w.logger.Debug("closing watcher failed", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("watch: event channel closed")
			}
			name := filepath.Base(evt.Name)
			if !w.matches(name) {
				continue
			}
			mu.Lock()
			pending[name] = struct{}{}
			if timer == nil {
				timer = time.AfterFunc(w.cfg.Debounce, fire)
			} else {
				timer.Reset(w.cfg.Debounce)
			}
			mu.Unlock()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("watch: error channel closed")
			}
			if isFatalError(err) {
				return fmt.Errorf("watch: %w", err)
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) matches(name string) bool {
	if w.cfg.Pattern == "" {
		return true
	}
	ok, _ := filepath.Match(w.cfg.Pattern, name)
	return ok
}
