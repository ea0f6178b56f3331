// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"time"

	"github.com/morganforge/coachline/internal/chat"
)

// JSONExporter writes the complete transcript as indented JSON.
type JSONExporter struct{}

type jsonTranscript struct {
	Title     string         `json:"title"`
	Locale    string         `json:"locale,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	Messages  []chat.Message `json:"messages"`
}

// Export implements Exporter.
func (e *JSONExporter) Export(t *Transcript) ([]byte, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}
	return json.MarshalIndent(jsonTranscript{
		Title:     t.Title,
		Locale:    t.Locale,
		CreatedAt: t.CreatedAt,
		Messages:  t.Messages,
	}, "", "  ")
}

// FileExtension implements Exporter.
func (e *JSONExporter) FileExtension() string { return ".json" }
