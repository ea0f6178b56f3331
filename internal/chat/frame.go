// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"

	"github.com/tidwall/gjson"
)

const (
	// dataPrefix marks a content-bearing SSE line.
	dataPrefix = "data: "

	// commentPrefix marks an SSE comment such as ":keep-alive".
	commentPrefix = ":"

	// doneSentinel is sent by most gateways as the last frame.
	doneSentinel = "[DONE]"

	// contentPath is where OpenAI-compatible deltas carry token text.
	contentPath = "choices.0.delta.content"
)

// FrameKind classifies one SSE line.
type FrameKind int

const (
	// FrameSkip is a blank line, a comment, or a non-data field.
	FrameSkip FrameKind = iota
	// FrameDone is the [DONE] sentinel.
	FrameDone
	// FrameEmpty is a valid JSON payload without token text.
	FrameEmpty
	// FrameContent carries a non-empty token.
	FrameContent
	// FrameMalformed is a data line whose payload is not valid JSON.
	FrameMalformed
)

// String returns the frame kind name.
func (k FrameKind) String() string {
	switch k {
	case FrameSkip:
		return "skip"
	case FrameDone:
		return "done"
	case FrameEmpty:
		return "empty"
	case FrameContent:
		return "content"
	case FrameMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Frame is a decoded SSE line. Frames are transient and never stored.
type Frame struct {
	Kind    FrameKind
	Content string
}

// ParseLine decodes a single complete line (without its newline).
func ParseLine(line string) Frame {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, commentPrefix) {
		return Frame{Kind: FrameSkip}
	}
	if !strings.HasPrefix(line, dataPrefix) {
		return Frame{Kind: FrameSkip}
	}

	payload := strings.TrimSpace(line[len(dataPrefix):])
	if payload == doneSentinel {
		return Frame{Kind: FrameDone}
	}
	if !gjson.Valid(payload) {
		return Frame{Kind: FrameMalformed}
	}

	content := gjson.Get(payload, contentPath)
	if content.Type != gjson.String || content.Str == "" {
		return Frame{Kind: FrameEmpty}
	}
	return Frame{Kind: FrameContent, Content: content.Str}
}
