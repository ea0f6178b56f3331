// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/morganforge/coachline/internal/logger"
)

// DefaultPromptDebounce coalesces the bursts of events editors emit on save.
const DefaultPromptDebounce = 200 * time.Millisecond

// =============================================================================
// PROMPT WATCHER
// =============================================================================

// PromptWatcher serves the system prompt from a file and reloads it when the
// file changes. With no file it serves the fallback prompt.
type PromptWatcher struct {
	path     string
	fallback string
	debounce time.Duration
	log      *slog.Logger

	mu       sync.RWMutex
	prompt   string
	onReload func(string)
}

// NewPromptWatcher reads path (if set) and returns a watcher serving it.
func NewPromptWatcher(path, fallback string) (*PromptWatcher, error) {
	w := &PromptWatcher{
		fallback: fallback,
		prompt:   fallback,
		debounce: DefaultPromptDebounce,
		log:      slog.Default(),
	}
	if path == "" {
		return w, nil
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve prompt file: %w", err)
	}
	w.path = abs

	if err := w.Reload(); err != nil {
		return nil, err
	}
	return w, nil
}

// WithLogger sets the logger used for reload events.
func (w *PromptWatcher) WithLogger(l *slog.Logger) *PromptWatcher {
	w.log = l
	return w
}

// WithDebounce sets the quiet period before a change is reloaded.
func (w *PromptWatcher) WithDebounce(d time.Duration) *PromptWatcher {
	w.debounce = d
	return w
}

// OnReload registers fn to be called with each newly loaded prompt.
func (w *PromptWatcher) OnReload(fn func(string)) {
	w.mu.Lock()
	w.onReload = fn
	w.mu.Unlock()
}

// Path returns the watched file, or "" when serving the fallback.
func (w *PromptWatcher) Path() string {
	return w.path
}

// SystemPrompt returns the current prompt.
func (w *PromptWatcher) SystemPrompt() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.prompt
}

// Reload re-reads the prompt file. An empty file selects the fallback.
// On error the previous prompt stays in effect.
func (w *PromptWatcher) Reload() error {
	if w.path == "" {
		return nil
	}

	data, err := os.ReadFile(w.path)
	if err != nil {
		return fmt.Errorf("failed to read prompt file: %w", err)
	}

	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		prompt = w.fallback
	}

	w.mu.Lock()
	w.prompt = prompt
	fn := w.onReload
	w.mu.Unlock()

	if fn != nil {
		fn(prompt)
	}
	return nil
}

// Run watches the prompt file until ctx is done. The parent directory is
// watched so that editors which replace the file by rename are followed.
func (w *PromptWatcher) Run(ctx context.Context) error {
	if w.path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}

	w.log.Info("watching system prompt", "path", w.path)

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	schedule := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(w.debounce, func() {
			if err := w.Reload(); err != nil {
				w.log.Warn("system prompt reload failed", "path", w.path, logger.Err(err))
				return
			}
			w.log.Info("system prompt reloaded", "path", w.path)
		})
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				schedule()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("prompt watcher error", logger.Err(err))
		}
	}
}
