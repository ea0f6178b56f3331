// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes chat transcripts to Markdown or JSON files.
package export

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/morganforge/coachline/internal/chat"
)

// ErrEmpty is returned when a transcript has no messages.
var ErrEmpty = errors.New("transcript has no messages")

// DefaultTitle is used when no user message is available to name the session.
const DefaultTitle = "Coaching session"

const maxTitleRunes = 60

// Transcript is a conversation prepared for export.
type Transcript struct {
	Title     string
	Locale    string
	CreatedAt time.Time
	Messages  []chat.Message
}

// New builds a transcript titled after the first user message.
func New(msgs []chat.Message, locale string) *Transcript {
	t := &Transcript{
		Title:    DefaultTitle,
		Locale:   locale,
		Messages: msgs,
	}
	if len(msgs) > 0 {
		t.CreatedAt = msgs[0].CreatedAt
	}
	for _, m := range msgs {
		if m.Role != chat.RoleUser {
			continue
		}
		title := strings.Join(strings.Fields(m.Content), " ")
		if runes := []rune(title); len(runes) > maxTitleRunes {
			title = string(runes[:maxTitleRunes-1]) + "…"
		}
		if title != "" {
			t.Title = title
		}
		break
	}
	return t
}

func (t *Transcript) validate() error {
	if t == nil || len(t.Messages) == 0 {
		return ErrEmpty
	}
	return nil
}

// =============================================================================
// EXPORTERS
// =============================================================================

// Exporter renders a transcript in one format.
type Exporter interface {
	Export(t *Transcript) ([]byte, error)
	// FileExtension includes the leading dot.
	FileExtension() string
}

// ForFormat returns the exporter for a format name: "md", "markdown" or "json".
func ForFormat(name string) (Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "md", "markdown":
		return &MarkdownExporter{}, nil
	case "json":
		return &JSONExporter{}, nil
	default:
		return nil, fmt.Errorf("unknown export format %q (want md or json)", name)
	}
}

// WriteFile exports t into dir and returns the path written.
func WriteFile(t *Transcript, e Exporter, dir string) (string, error) {
	data, err := e.Export(t)
	if err != nil {
		return "", err
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	name := fmt.Sprintf("coachline_%s_%s%s",
		sanitizeFilename(t.Title),
		time.Now().Format("20060102_150405"),
		e.FileExtension(),
	)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

// sanitizeFilename keeps a title usable as a file name on every platform.
func sanitizeFilename(s string) string {
	runes := []rune(s)
	if len(runes) > 40 {
		runes = runes[:40]
	}

	out := make([]rune, 0, len(runes))
	for _, r := range runes {
		switch {
		case strings.ContainsRune(`/\:*?"<>|`, r):
			out = append(out, '-')
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			out = append(out, '_')
		case r < 32 || r == 127 || r == '…':
			continue
		default:
			out = append(out, r)
		}
	}

	name := strings.Trim(string(out), "_-.")
	if name == "" {
		return "session"
	}
	return name
}
