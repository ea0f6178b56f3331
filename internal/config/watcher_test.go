// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromptWatcher_Fallback(t *testing.T) {
	w, err := NewPromptWatcher("", "be helpful")
	require.NoError(t, err)
	assert.Equal(t, "be helpful", w.SystemPrompt())
	assert.Empty(t, w.Path())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, w.Run(ctx))
}

func TestPromptWatcher_ReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.txt")
	writeFile(t, path, "  You are a running coach.\n")

	w, err := NewPromptWatcher(path, "fallback")
	require.NoError(t, err)
	assert.Equal(t, "You are a running coach.", w.SystemPrompt())
}

func TestPromptWatcher_MissingFile(t *testing.T) {
	_, err := NewPromptWatcher(filepath.Join(t.TempDir(), "nope.txt"), "fallback")
	assert.Error(t, err)
}

func TestPromptWatcher_EmptyFileUsesFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.txt")
	writeFile(t, path, "\n\n")

	w, err := NewPromptWatcher(path, "fallback")
	require.NoError(t, err)
	assert.Equal(t, "fallback", w.SystemPrompt())
}

func TestPromptWatcher_ReloadKeepsPreviousOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.txt")
	writeFile(t, path, "first")

	w, err := NewPromptWatcher(path, "fallback")
	require.NoError(t, err)

	require.NoError(t, os.Remove(path))
	assert.Error(t, w.Reload())
	assert.Equal(t, "first", w.SystemPrompt())
}

func TestPromptWatcher_HotReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.txt")
	writeFile(t, path, "first")

	w, err := NewPromptWatcher(path, "fallback")
	require.NoError(t, err)
	w.WithDebounce(10 * time.Millisecond)

	reloaded := make(chan string, 4)
	w.OnReload(func(p string) { reloaded <- p })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher time to register
	time.Sleep(50 * time.Millisecond)
	writeFile(t, path, "second")

	select {
	case p := <-reloaded:
		assert.Equal(t, "second", p)
	case <-time.After(3 * time.Second):
		t.Fatal("prompt was not reloaded")
	}
	assert.Equal(t, "second", w.SystemPrompt())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}
