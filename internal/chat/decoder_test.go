// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// FRAME PARSING
// =============================================================================

func TestParseLine(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		kind    FrameKind
		content string
	}{
		{"empty", "", FrameSkip, ""},
		{"whitespace", "   \t", FrameSkip, ""},
		{"comment", ":keep-alive", FrameSkip, ""},
		{"event field", "event: message", FrameSkip, ""},
		{"data without space", `data:{"choices":[]}`, FrameSkip, ""},
		{"done", "data: [DONE]", FrameDone, ""},
		{"done padded", "  data:   [DONE]  ", FrameDone, ""},
		{"content", `data: {"choices":[{"delta":{"content":"Hi"}}]}`, FrameContent, "Hi"},
		{"content keeps spaces", `data: {"choices":[{"delta":{"content":" there"}}]}`, FrameContent, " there"},
		{"role only", `data: {"choices":[{"delta":{"role":"assistant"}}]}`, FrameEmpty, ""},
		{"empty content", `data: {"choices":[{"delta":{"content":""}}]}`, FrameEmpty, ""},
		{"null content", `data: {"choices":[{"delta":{"content":null}}]}`, FrameEmpty, ""},
		{"no choices", `data: {"id":"x"}`, FrameEmpty, ""},
		{"malformed", `data: {not valid json`, FrameMalformed, ""},
		{"truncated", `data: {"choices":[{"delta":{"cont`, FrameMalformed, ""},
		{"crlf", "data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\r", FrameContent, "x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := ParseLine(tt.line)
			assert.Equal(t, tt.kind, f.Kind)
			assert.Equal(t, tt.content, f.Content)
		})
	}
}

// =============================================================================
// DECODER
// =============================================================================

func sseLine(content string) string {
	return `data: {"choices":[{"delta":{"content":"` + content + `"}}]}` + "\n"
}

func decodeAll(chunks ...[]byte) (string, *Decoder) {
	d := NewDecoder()
	var sb strings.Builder
	for _, c := range chunks {
		for _, tok := range d.Feed(c) {
			sb.WriteString(tok)
		}
	}
	for _, tok := range d.Flush() {
		sb.WriteString(tok)
	}
	return sb.String(), d
}

func TestDecoder_SplitAtEveryOffset(t *testing.T) {
	payload := []byte(":keep-alive\n\n" +
		sseLine("Bonjour, ") +
		sseLine("café ") +
		"data: {not valid json\n" +
		sseLine("naïve 💪") +
		"data: [DONE]\n")

	want, _ := decodeAll(payload)
	require.Equal(t, "Bonjour, café naïve 💪", want)

	for i := 0; i <= len(payload); i++ {
		got, d := decodeAll(payload[:i], payload[i:])
		require.Equalf(t, want, got, "split at byte %d", i)
		assert.Equal(t, 1, d.Malformed(), "split at byte %d", i)
	}
}

func TestDecoder_ThreeWaySplits(t *testing.T) {
	payload := []byte(sseLine("ab") + sseLine("é€") + sseLine("cd"))
	want, _ := decodeAll(payload)

	for i := 0; i < len(payload); i++ {
		for j := i; j < len(payload); j++ {
			got, _ := decodeAll(payload[:i], payload[i:j], payload[j:])
			require.Equalf(t, want, got, "split at %d and %d", i, j)
		}
	}
}

func TestDecoder_MultiByteSplitInsideCodePoint(t *testing.T) {
	line := []byte(sseLine("café"))
	idx := strings.Index(string(line), "é")
	require.Greater(t, idx, 0)

	d := NewDecoder()
	assert.Empty(t, d.Feed(line[:idx+1])) // first byte of é only
	tokens := d.Feed(line[idx+1:])
	assert.Equal(t, []string{"café"}, tokens)
}

func TestDecoder_SkipsSentinelAndComments(t *testing.T) {
	d := NewDecoder()
	for _, line := range []string{"\n", ":keep-alive\n", "data: [DONE]\n"} {
		assert.Empty(t, d.Feed([]byte(line)))
	}
	assert.True(t, d.SawDone())
	assert.Equal(t, 0, d.Malformed())
	assert.Equal(t, 0, d.Buffered())
}

func TestDecoder_MalformedDoesNotHaltLaterLines(t *testing.T) {
	var seen []string
	d := NewDecoder()
	d.OnMalformed = func(line string) { seen = append(seen, line) }

	first := d.Feed([]byte("data: {not valid json\n" + sseLine("one")))
	second := d.Feed([]byte(sseLine("two")))

	assert.Equal(t, []string{"one"}, first)
	assert.Equal(t, []string{"two"}, second)
	assert.Equal(t, 1, d.Malformed())
	assert.Equal(t, []string{"data: {not valid json"}, seen)
}

func TestDecoder_RetainsPartialLine(t *testing.T) {
	d := NewDecoder()
	full := sseLine("held")

	assert.Empty(t, d.Feed([]byte(full[:10])))
	assert.Equal(t, 10, d.Buffered())
	assert.Equal(t, []string{"held"}, d.Feed([]byte(full[10:])))
	assert.Equal(t, 0, d.Buffered())
}

func TestDecoder_FlushFinalLineWithoutNewline(t *testing.T) {
	d := NewDecoder()
	line := strings.TrimSuffix(sseLine("tail"), "\n")

	assert.Empty(t, d.Feed([]byte(line)))
	assert.Equal(t, []string{"tail"}, d.Flush())
}

func TestDecoder_InvalidBytesBecomeReplacement(t *testing.T) {
	d := NewDecoder()
	tokens := d.Feed([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"a\xffb\"}}]}\n"))
	assert.Equal(t, []string{"a�b"}, tokens)
}
