// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"io"
)

// DefaultChunkSize is the read buffer size used by BodySource.
const DefaultChunkSize = 4096

// ChunkSource is a pull iterator over the bytes of one streamed response.
// Next returns io.EOF once the stream has ended normally.
type ChunkSource interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// =============================================================================
// BODY SOURCE
// =============================================================================

// BodySource reads chunks from an HTTP response body. Cancelling the
// request context is what unblocks a pending read.
type BodySource struct {
	body io.ReadCloser
	buf  []byte
}

// NewBodySource wraps body.
func NewBodySource(body io.ReadCloser) *BodySource {
	return &BodySource{body: body, buf: make([]byte, DefaultChunkSize)}
}

// Next returns the next non-empty chunk.
func (s *BodySource) Next(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := s.body.Read(s.buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, s.buf[:n])
			return chunk, nil
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, err
		}
	}
}

// Close releases the body.
func (s *BodySource) Close() error {
	return s.body.Close()
}

// =============================================================================
// SLICE SOURCE
// =============================================================================

// SliceSource replays canned chunks. After the last chunk it returns the
// configured terminal error, or io.EOF.
type SliceSource struct {
	chunks [][]byte
	next   int
	err    error
	closed bool
}

// NewSliceSource returns a source that yields chunks in order.
func NewSliceSource(chunks ...[]byte) *SliceSource {
	return &SliceSource{chunks: chunks}
}

// StringSource is NewSliceSource for string chunks.
func StringSource(chunks ...string) *SliceSource {
	bs := make([][]byte, len(chunks))
	for i, c := range chunks {
		bs[i] = []byte(c)
	}
	return NewSliceSource(bs...)
}

// FailWith makes the source return err instead of io.EOF after the last chunk.
func (s *SliceSource) FailWith(err error) *SliceSource {
	s.err = err
	return s
}

// Next returns the next canned chunk.
func (s *SliceSource) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.next >= len(s.chunks) {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	chunk := s.chunks[s.next]
	s.next++
	return chunk, nil
}

// Close marks the source closed.
func (s *SliceSource) Close() error {
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *SliceSource) Closed() bool {
	return s.closed
}
