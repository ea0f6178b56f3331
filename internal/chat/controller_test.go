// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST DOUBLES
// =============================================================================

// fakeTransport hands out queued sources and records every call.
type fakeTransport struct {
	mu        sync.Mutex
	sources   []ChunkSource
	errs      []error
	histories [][]WireMessage
}

func (f *fakeTransport) Open(ctx context.Context, history []WireMessage) (ChunkSource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.histories = append(f.histories, history)
	i := len(f.histories) - 1
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.sources) {
		return f.sources[i], nil
	}
	return StringSource(), nil
}

func (f *fakeTransport) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.histories)
}

// gatedSource yields its chunks, then blocks until released or cancelled.
type gatedSource struct {
	mu      sync.Mutex
	chunks  [][]byte
	release chan struct{}
	blocked chan struct{}
	once    sync.Once
}

func newGatedSource(chunks ...string) *gatedSource {
	s := &gatedSource{release: make(chan struct{}), blocked: make(chan struct{})}
	for _, c := range chunks {
		s.chunks = append(s.chunks, []byte(c))
	}
	return s
}

func (s *gatedSource) Next(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	if len(s.chunks) > 0 {
		c := s.chunks[0]
		s.chunks = s.chunks[1:]
		s.mu.Unlock()
		return c, nil
	}
	s.mu.Unlock()

	s.once.Do(func() { close(s.blocked) })
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.release:
		return nil, io.EOF
	}
}

func (s *gatedSource) Close() error { return nil }

// recorder collects events.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) listen(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Notice
	for _, ev := range r.events {
		if ev.Kind == EventNotice {
			out = append(out, ev.Notice)
		}
	}
	return out
}

func (r *recorder) tokens() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		if ev.Kind == EventToken {
			out = append(out, ev.Token)
		}
	}
	return out
}

func waitClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for source to block")
	}
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestController_StreamsReply(t *testing.T) {
	tr := &fakeTransport{sources: []ChunkSource{StringSource(
		`data: {"choices":[{"delta":{"content":"Hi"}}]}`+"\n",
		`data: {"choices":[{"delta":{"content":" there"}}]}`+"\n",
	)}}
	rec := &recorder{}
	c := New(tr)
	c.Subscribe(rec.listen)

	require.True(t, c.Submit("Hello"))
	c.Wait()

	msgs := c.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, "Hello", msgs[0].Content)
	assert.Equal(t, RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Hi there", msgs[1].Content)
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, []string{"Hi", " there"}, rec.tokens())
	assert.Empty(t, rec.notices())
	assert.Equal(t, []WireMessage{{Role: RoleUser, Content: "Hello"}}, tr.histories[0])
}

func TestController_SubmitWhileBusyIsNoop(t *testing.T) {
	src := newGatedSource(`data: {"choices":[{"delta":{"content":"Hi"}}]}` + "\n")
	tr := &fakeTransport{sources: []ChunkSource{src}}
	c := New(tr)

	require.True(t, c.Submit("Hello"))
	waitClosed(t, src.blocked)
	require.True(t, c.State().Busy())

	before := c.Messages()
	assert.False(t, c.Submit("Second question"))
	assert.Equal(t, before, c.Messages())
	assert.Equal(t, 1, tr.calls())

	close(src.release)
	c.Wait()
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, 1, tr.calls())
}

func TestController_RateLimitedShowsOneNotice(t *testing.T) {
	tr := &fakeTransport{errs: []error{&StatusError{Status: 429, Message: "Rate limit exceeded"}}}
	rec := &recorder{}
	var notified []Notice
	c := New(tr, WithNotifier(func(n Notice) { notified = append(notified, n) }))
	c.Subscribe(rec.listen)

	require.True(t, c.Submit("Hello"))
	c.Wait()

	msgs := c.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, RoleUser, msgs[0].Role)

	notices := rec.notices()
	require.Len(t, notices, 1)
	assert.Equal(t, NoticeRateLimited, notices[0].Kind)
	assert.Equal(t, "Unable to get a response. Please try again.", notices[0].Text)
	assert.Equal(t, notices, notified)

	// Typed text comes back so the user can retry.
	assert.Equal(t, "Hello", c.Input())
	assert.Equal(t, 1, c.Stats().Failed)
}

func TestController_BlankSubmitRejected(t *testing.T) {
	tr := &fakeTransport{}
	c := New(tr)

	for _, in := range []string{"", "   ", "\n\t"} {
		assert.False(t, c.Submit(in))
	}
	assert.Equal(t, 0, tr.calls())
	assert.Empty(t, c.Messages())
}

func TestController_SubmitClearsInput(t *testing.T) {
	c := New(&fakeTransport{})
	c.SetInput("  squat form?  ")

	require.True(t, c.SubmitInput())
	assert.Equal(t, "", c.Input())
	c.Wait()

	msgs := c.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "squat form?", msgs[0].Content)
}

// =============================================================================
// ERROR CLEANUP
// =============================================================================

func TestController_ErrorBeforeContentDropsPlaceholder(t *testing.T) {
	src := StringSource(":keep-alive\n").FailWith(errors.New("connection reset"))
	tr := &fakeTransport{sources: []ChunkSource{src}}
	rec := &recorder{}
	c := New(tr)
	c.Subscribe(rec.listen)

	require.True(t, c.Submit("Hello"))
	c.Wait()

	msgs := c.Messages()
	require.Len(t, msgs, 1, "only the user message survives")
	assert.Equal(t, RoleUser, msgs[0].Role)
	require.Len(t, rec.notices(), 1)
	assert.Equal(t, NoticeFailed, rec.notices()[0].Kind)

	var removed int
	for _, ev := range rec.events {
		if ev.Kind == EventMessageRemoved {
			removed++
			assert.Equal(t, RoleAssistant, ev.Message.Role)
		}
	}
	assert.Equal(t, 1, removed)
}

func TestController_ErrorAfterContentKeepsPartial(t *testing.T) {
	src := StringSource(sseLine("Warm up first")).FailWith(errors.New("connection reset"))
	c := New(&fakeTransport{sources: []ChunkSource{src}})
	rec := &recorder{}
	c.Subscribe(rec.listen)

	require.True(t, c.Submit("Hello"))
	c.Wait()

	msgs := c.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Warm up first", msgs[1].Content)
	assert.Len(t, rec.notices(), 1)
	assert.Equal(t, "", c.Input(), "input is not restored once content arrived")
}

func TestController_EmptyReplyLeavesNoBlankBubble(t *testing.T) {
	src := StringSource("data: [DONE]\n")
	c := New(&fakeTransport{sources: []ChunkSource{src}})

	require.True(t, c.Submit("Hello"))
	c.Wait()

	assert.Len(t, c.Messages(), 1)
	assert.Equal(t, 1, c.Stats().Completed)
}

func TestController_MalformedFramesCounted(t *testing.T) {
	src := StringSource("data: {not valid json\n", sseLine("ok"))
	c := New(&fakeTransport{sources: []ChunkSource{src}})

	require.True(t, c.Submit("Hello"))
	c.Wait()

	assert.Equal(t, "ok", c.Messages()[1].Content)
	assert.Equal(t, 1, c.Stats().MalformedFrames)
}

func TestController_IdleTimeout(t *testing.T) {
	src := newGatedSource()
	rec := &recorder{}
	c := New(&fakeTransport{sources: []ChunkSource{src}}, WithIdleTimeout(20*time.Millisecond))
	c.Subscribe(rec.listen)

	require.True(t, c.Submit("Hello"))
	c.Wait()

	require.Len(t, rec.notices(), 1)
	assert.Equal(t, NoticeTimeout, rec.notices()[0].Kind)
	assert.Len(t, c.Messages(), 1)
	assert.Equal(t, StateIdle, c.State())
}

// =============================================================================
// CANCELLATION
// =============================================================================

func TestController_CancelDropsEmptyPlaceholder(t *testing.T) {
	src := newGatedSource(":keep-alive\n")
	rec := &recorder{}
	c := New(&fakeTransport{sources: []ChunkSource{src}})
	c.Subscribe(rec.listen)

	require.True(t, c.Submit("Hello"))
	waitClosed(t, src.blocked)
	require.Equal(t, StateStreaming, c.State())

	assert.True(t, c.Cancel())
	c.Wait()

	assert.Len(t, c.Messages(), 1)
	assert.Empty(t, rec.notices(), "cancelling is not a failure")
	assert.Equal(t, 1, c.Stats().Cancelled)
	assert.False(t, c.Cancel(), "nothing left to cancel")
}

func TestController_CancelKeepsPartialContent(t *testing.T) {
	src := newGatedSource(sseLine("Three sets"))
	c := New(&fakeTransport{sources: []ChunkSource{src}})

	require.True(t, c.Submit("Hello"))
	waitClosed(t, src.blocked)
	c.Close()

	msgs := c.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Three sets", msgs[1].Content)
	assert.Equal(t, StateIdle, c.State())
}

func TestController_CancelDuringOpen(t *testing.T) {
	opened := make(chan struct{})
	tr := TransportFunc(func(ctx context.Context, _ []WireMessage) (ChunkSource, error) {
		close(opened)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	rec := &recorder{}
	c := New(tr)
	c.Subscribe(rec.listen)

	require.True(t, c.Submit("Hello"))
	waitClosed(t, opened)
	require.Equal(t, StateSending, c.State())
	c.Cancel()
	c.Wait()

	assert.Len(t, c.Messages(), 1)
	assert.Empty(t, rec.notices())
}

// =============================================================================
// TRANSCRIPT
// =============================================================================

func TestController_HistoryIncludesPriorTurns(t *testing.T) {
	tr := &fakeTransport{sources: []ChunkSource{
		StringSource(sseLine("Rest two days.")),
		StringSource(sseLine("Yes.")),
	}}
	c := New(tr)

	require.True(t, c.Submit("How many rest days?"))
	c.Wait()
	require.True(t, c.Submit("Even in week one?"))
	c.Wait()

	require.Equal(t, 2, tr.calls())
	assert.Equal(t, []WireMessage{
		{Role: RoleUser, Content: "How many rest days?"},
		{Role: RoleAssistant, Content: "Rest two days."},
		{Role: RoleUser, Content: "Even in week one?"},
	}, tr.histories[1])
}

func TestController_Reset(t *testing.T) {
	c := New(&fakeTransport{sources: []ChunkSource{StringSource(sseLine("ok"))}})
	rec := &recorder{}
	c.Subscribe(rec.listen)

	require.True(t, c.Submit("Hello"))
	c.Wait()
	require.True(t, c.Reset())

	assert.Empty(t, c.Messages())
	assert.Equal(t, EventCleared, rec.events[len(rec.events)-1].Kind)
}

func TestController_Unsubscribe(t *testing.T) {
	c := New(&fakeTransport{sources: []ChunkSource{StringSource(sseLine("ok"))}})
	rec := &recorder{}
	unsubscribe := c.Subscribe(rec.listen)
	unsubscribe()

	require.True(t, c.Submit("Hello"))
	c.Wait()
	assert.Empty(t, rec.events)
}

func TestController_LocalizedNotice(t *testing.T) {
	tr := &fakeTransport{errs: []error{errors.New("dial tcp: refused")}}
	rec := &recorder{}
	c := New(tr, WithLocale("fr-CA"))
	c.Subscribe(rec.listen)

	require.True(t, c.Submit("Bonjour"))
	c.Wait()

	require.Len(t, rec.notices(), 1)
	assert.Equal(t, "Impossible d'obtenir une réponse. Veuillez réessayer.", rec.notices()[0].Text)
}

func TestRetryMessage_Fallback(t *testing.T) {
	assert.Equal(t, RetryMessage("en"), RetryMessage("de"))
	assert.Equal(t, RetryMessage("en"), RetryMessage("not a locale!"))
	assert.Equal(t, "No se pudo obtener una respuesta. Inténtalo de nuevo.", RetryMessage("es-MX"))
}
