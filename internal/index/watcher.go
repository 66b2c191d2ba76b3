// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package index

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jeranaias/ragchat/internal/logging"
)

// DefaultDebounce is the quiet period before a change triggers a re-ingest.
const DefaultDebounce = 500 * time.Millisecond

// ChangeFunc is called after the documents directory changed and then
// stayed quiet for the debounce period.
type ChangeFunc func(ctx context.Context) error

// =============================================================================
// WATCHER
// =============================================================================

// Watcher observes a documents directory and calls OnChange once per burst
// of changes to supported files. It uses fsnotify and falls back to
// polling when fsnotify is unavailable.
type Watcher struct {
	Dir      string
	Options  LoadOptions
	Debounce time.Duration
	// PollInterval is used by the polling fallback (default 5s)
	PollInterval time.Duration
	OnChange     ChangeFunc
	Logger       *slog.Logger

	mu      sync.Mutex
	pending time.Time // last unprocessed change, zero when idle
}

// NewWatcher creates a watcher with default options.
func NewWatcher(dir string, onChange ChangeFunc, logger *slog.Logger) *Watcher {
	return &Watcher{
		Dir:          dir,
		Options:      DefaultLoadOptions(),
		Debounce:     DefaultDebounce,
		PollInterval: 5 * time.Second,
		OnChange:     onChange,
		Logger:       logging.OrDiscard(logger),
	}
}

// Run blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	w.Logger = logging.OrDiscard(w.Logger)
	if w.Debounce <= 0 {
		w.Debounce = DefaultDebounce
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.Logger.Warn("fsnotify unavailable, falling back to polling", "error", err)
		return w.poll(ctx)
	}
	defer fw.Close()

	if err := w.addRecursive(fw, w.Dir); err != nil {
		return err
	}
	w.Logger.Info("watching documents", "dir", w.Dir)

	go w.processPending(ctx)
	return w.processEvents(ctx, fw)
}

// addRecursive adds a directory and all its subdirectories to the watch list
func (w *Watcher) addRecursive(fw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Skip errors
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && w.Options.shouldIgnore(d.Name()) {
			return filepath.SkipDir
		}
		if err := fw.Add(path); err != nil {
			w.Logger.Debug("cannot watch directory", "dir", path, "error", err)
		}
		return nil
	})
}

func (w *Watcher) processEvents(ctx context.Context, fw *fsnotify.Watcher) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}

			if event.Op&fsnotify.Create == fsnotify.Create {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = w.addRecursive(fw, event.Name)
					w.touch()
					continue
				}
			}

			if !w.Options.Supports(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				w.Logger.Debug("document changed", "path", event.Name, "op", event.Op.String())
				w.touch()
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.Logger.Warn("watcher error", "error", err)
		}
	}
}

func (w *Watcher) touch() {
	w.mu.Lock()
	w.pending = time.Now()
	w.mu.Unlock()
}

// processPending fires OnChange once the pending change is older than the debounce.
func (w *Watcher) processPending(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case now := <-ticker.C:
			w.mu.Lock()
			due := !w.pending.IsZero() && now.Sub(w.pending) >= w.Debounce
			if due {
				w.pending = time.Time{}
			}
			w.mu.Unlock()

			if due {
				w.fire(ctx)
			}
		}
	}
}

func (w *Watcher) fire(ctx context.Context) {
	if w.OnChange == nil {
		return
	}
	if err := w.OnChange(ctx); err != nil {
		w.Logger.Error("re-ingest after change failed", "error", err)
	}
}

// =============================================================================
// POLLING FALLBACK
// =============================================================================

func (w *Watcher) poll(ctx context.Context) error {
	interval := w.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	files := w.scan()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			current := w.scan()
			if changed(files, current) {
				w.fire(ctx)
			}
			files = current
		}
	}
}

// scan records the modification time of every supported file.
func (w *Watcher) scan() map[string]time.Time {
	files := make(map[string]time.Time)
	_ = filepath.WalkDir(w.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != w.Dir && w.Options.shouldIgnore(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !w.Options.Supports(path) {
			return nil
		}
		if info, err := d.Info(); err == nil {
			files[path] = info.ModTime()
		}
		return nil
	})
	return files
}

func changed(old, current map[string]time.Time) bool {
	if len(old) != len(current) {
		return true
	}
	for path, mod := range current {
		if prev, ok := old[path]; !ok || !prev.Equal(mod) {
			return true
		}
	}
	return false
}
