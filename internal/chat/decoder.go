// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"bytes"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// =============================================================================
// INCREMENTAL DECODER
// =============================================================================

// Decoder turns response body chunks into content tokens.
//
// Chunks must be fed in arrival order. A code point split across two chunks
// is held back until its remaining bytes arrive, and a line without its
// terminating newline is held back until the next chunk completes it.
type Decoder struct {
	utf8    transform.Transformer
	pending []byte // bytes of an incomplete trailing code point
	line    []byte // decoded text after the last newline
	buf     []byte

	frames    int
	malformed int
	sawDone   bool

	// OnMalformed, if set, is called with each line whose payload fails to parse.
	OnMalformed func(line string)
}

// NewDecoder returns a decoder ready for the first chunk.
func NewDecoder() *Decoder {
	return &Decoder{utf8: unicode.UTF8.NewDecoder()}
}

// Feed decodes one chunk and returns the tokens completed by it, in order.
func (d *Decoder) Feed(chunk []byte) []string {
	d.decode(chunk, false)
	return d.drainLines(nil)
}

// Flush decodes whatever is still buffered at end of stream. A final data
// line that lacks a newline is processed; a dangling partial code point is
// replaced with U+FFFD. The decoder is reset afterwards.
func (d *Decoder) Flush() []string {
	d.decode(nil, true)
	tokens := d.drainLines(nil)
	if len(d.line) > 0 {
		tokens = d.handleLine(string(d.line), tokens)
		d.line = d.line[:0]
	}
	d.utf8.Reset()
	return tokens
}

// Frames returns the number of data lines seen.
func (d *Decoder) Frames() int { return d.frames }

// Malformed returns the number of data lines whose payload was not valid JSON.
func (d *Decoder) Malformed() int { return d.malformed }

// SawDone reports whether the [DONE] sentinel was received.
func (d *Decoder) SawDone() bool { return d.sawDone }

// Buffered returns the number of decoded bytes waiting for a newline.
func (d *Decoder) Buffered() int { return len(d.line) }

func (d *Decoder) decode(chunk []byte, atEOF bool) {
	src := append(d.pending, chunk...)
	d.pending = nil

	for len(src) > 0 {
		// Each source byte expands to at most three bytes (U+FFFD).
		need := 3*len(src) + utf8.UTFMax
		if cap(d.buf) < need {
			d.buf = make([]byte, need)
		}
		dst := d.buf[:cap(d.buf)]

		nDst, nSrc, err := d.utf8.Transform(dst, src, atEOF)
		d.line = append(d.line, dst[:nDst]...)
		src = src[nSrc:]

		switch err {
		case nil:
			return
		case transform.ErrShortSrc:
			d.pending = append([]byte(nil), src...)
			return
		case transform.ErrShortDst:
			d.buf = make([]byte, 2*cap(d.buf))
		default:
			return
		}
	}
}

func (d *Decoder) drainLines(tokens []string) []string {
	start := 0
	for {
		i := bytes.IndexByte(d.line[start:], '\n')
		if i < 0 {
			break
		}
		tokens = d.handleLine(string(d.line[start:start+i]), tokens)
		start += i + 1
	}
	if start > 0 {
		n := copy(d.line, d.line[start:])
		d.line = d.line[:n]
	}
	return tokens
}

func (d *Decoder) handleLine(line string, tokens []string) []string {
	frame := ParseLine(line)
	switch frame.Kind {
	case FrameSkip:
		return tokens
	case FrameDone:
		d.frames++
		d.sawDone = true
	case FrameMalformed:
		d.frames++
		d.malformed++
		if d.OnMalformed != nil {
			d.OnMalformed(line)
		}
	case FrameEmpty:
		d.frames++
	case FrameContent:
		d.frames++
		tokens = append(tokens, frame.Content)
	}
	return tokens
}
