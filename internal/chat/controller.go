// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/morganforge/coachline/internal/logger"
)

// DefaultIdleTimeout is how long a stream may stay silent before the turn fails.
const DefaultIdleTimeout = 30 * time.Second

// =============================================================================
// STATE MACHINE
// =============================================================================

// State is the per-session turn state: Idle -> Sending -> Streaming -> Idle.
type State int

const (
	StateIdle State = iota
	StateSending
	StateStreaming
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// Busy reports whether a turn is in progress.
func (s State) Busy() bool {
	return s == StateSending || s == StateStreaming
}

// =============================================================================
// EVENTS
// =============================================================================

// EventKind identifies what changed.
type EventKind int

const (
	EventMessageAdded EventKind = iota
	EventMessageRemoved
	EventToken
	EventState
	EventInput
	EventNotice
	EventCleared
)

// Event is delivered to subscribers after each change. For EventToken,
// Message holds the assistant message including the new token.
type Event struct {
	Kind    EventKind
	State   State
	Message Message
	Token   string
	Input   string
	Notice  Notice
}

// Listener observes controller changes. Listeners run on the goroutine that
// made the change and must not block.
type Listener func(Event)

// Stats counts turn outcomes for diagnostics.
type Stats struct {
	Turns           int
	Completed       int
	Failed          int
	Cancelled       int
	Tokens          int
	MalformedFrames int
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Option configures a Controller.
type Option func(*Controller)

// WithIdleTimeout sets the idle-read timeout. Zero disables it.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Controller) { c.idleTimeout = d }
}

// WithLocale sets the language used for notices.
func WithLocale(locale string) Option {
	return func(c *Controller) { c.locale = locale }
}

// WithLogger sets the diagnostic logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// WithNotifier sets a callback for user-facing notices.
func WithNotifier(n Notifier) Option {
	return func(c *Controller) { c.notifier = n }
}

// Controller owns one conversation and drives at most one turn at a time.
type Controller struct {
	transport   Transport
	idleTimeout time.Duration
	locale      string
	log         *slog.Logger
	notifier    Notifier

	mu         sync.Mutex
	state      State
	transcript Transcript
	input      string
	cancel     context.CancelCauseFunc
	done       chan struct{}
	stats      Stats

	listenersMu  sync.Mutex
	listeners    map[int]Listener
	nextListener int
}

// New creates a controller that opens streams through transport.
func New(transport Transport, opts ...Option) *Controller {
	c := &Controller{
		transport:   transport,
		idleTimeout: DefaultIdleTimeout,
		locale:      "en",
		log:         slog.Default(),
		listeners:   make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscribe registers fn and returns a function that removes it.
func (c *Controller) Subscribe(fn Listener) func() {
	c.listenersMu.Lock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn
	c.listenersMu.Unlock()

	return func() {
		c.listenersMu.Lock()
		delete(c.listeners, id)
		c.listenersMu.Unlock()
	}
}

func (c *Controller) emit(ev Event) {
	c.listenersMu.Lock()
	fns := make([]Listener, 0, len(c.listeners))
	for i := 0; i < c.nextListener; i++ {
		if fn, ok := c.listeners[i]; ok {
			fns = append(fns, fn)
		}
	}
	c.listenersMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// State returns the current turn state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Messages returns a copy of the transcript.
func (c *Controller) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transcript.Messages()
}

// Stats returns a snapshot of the counters.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Input returns the pending input buffer.
func (c *Controller) Input() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.input
}

// SetInput replaces the input buffer.
func (c *Controller) SetInput(text string) {
	c.mu.Lock()
	c.input = text
	c.mu.Unlock()
}

// SubmitInput submits the current input buffer.
func (c *Controller) SubmitInput() bool {
	return c.Submit(c.Input())
}

// Submit starts a turn with text. It returns false without any effect when
// text is blank or a turn is already in progress.
func (c *Controller) Submit(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}

	c.mu.Lock()
	if c.state.Busy() {
		c.mu.Unlock()
		return false
	}
	user := NewMessage(RoleUser, text)
	c.transcript.Append(user)
	c.input = ""
	c.state = StateSending
	c.stats.Turns++
	history := c.transcript.Wire()

	ctx, cancel := context.WithCancelCause(context.Background())
	c.cancel = cancel
	done := make(chan struct{})
	c.done = done
	c.mu.Unlock()

	c.emit(Event{Kind: EventMessageAdded, Message: user})
	c.emit(Event{Kind: EventInput})
	c.emit(Event{Kind: EventState, State: StateSending})

	c.log.Debug("chat turn started", "message_count", len(history))

	go c.run(ctx, cancel, &turn{text: text, history: history, done: done})
	return true
}

// Cancel aborts the turn in progress. It reports whether there was one.
func (c *Controller) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel == nil {
		return false
	}
	c.cancel(ErrCancelled)
	return true
}

// Wait blocks until the current turn, if any, has finished.
func (c *Controller) Wait() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Close cancels any turn in progress and waits for it to wind down.
func (c *Controller) Close() {
	c.Cancel()
	c.Wait()
}

// Reset clears the transcript. It does nothing while a turn is in progress.
func (c *Controller) Reset() bool {
	c.mu.Lock()
	if c.state.Busy() {
		c.mu.Unlock()
		return false
	}
	c.transcript.Clear()
	c.mu.Unlock()

	c.emit(Event{Kind: EventCleared})
	return true
}

// =============================================================================
// TURN LIFECYCLE
// =============================================================================

type turn struct {
	text        string
	history     []WireMessage
	done        chan struct{}
	assistantID string
	decoder     *Decoder
}

func (c *Controller) run(ctx context.Context, cancel context.CancelCauseFunc, t *turn) {
	defer close(t.done)
	defer cancel(nil)

	t.decoder = NewDecoder()
	t.decoder.OnMalformed = func(line string) {
		c.log.Debug("chat frame skipped", "reason", "malformed", "bytes", len(line))
	}

	src, err := c.transport.Open(ctx, t.history)
	if err != nil {
		c.fail(ctx, t, err)
		return
	}
	defer src.Close()

	idle := c.watch(cancel)
	defer idle.stop()

	for {
		chunk, err := src.Next(ctx)
		if err == io.EOF {
			break
		}
		if err == nil && ctx.Err() != nil {
			err = ctx.Err()
		}
		if err != nil {
			c.fail(ctx, t, err)
			return
		}
		idle.reset()

		if t.assistantID == "" {
			c.startAssistant(t)
		}
		c.appendTokens(t, t.decoder.Feed(chunk))
	}

	if tokens := t.decoder.Flush(); len(tokens) > 0 && t.assistantID != "" {
		c.appendTokens(t, tokens)
	}
	c.finish(t)
}

// startAssistant appends the empty in-flight assistant message.
func (c *Controller) startAssistant(t *turn) {
	msg := NewMessage(RoleAssistant, "")

	c.mu.Lock()
	c.transcript.Append(msg)
	c.state = StateStreaming
	c.mu.Unlock()

	t.assistantID = msg.ID
	c.emit(Event{Kind: EventMessageAdded, Message: msg})
	c.emit(Event{Kind: EventState, State: StateStreaming})
}

func (c *Controller) appendTokens(t *turn, tokens []string) {
	for _, tok := range tokens {
		c.mu.Lock()
		c.transcript.AppendContent(t.assistantID, tok)
		c.stats.Tokens++
		msg := c.transcript.messages[c.transcript.Find(t.assistantID)]
		c.mu.Unlock()

		c.emit(Event{Kind: EventToken, Token: tok, Message: msg})
	}
}

// finish handles normal end of stream.
func (c *Controller) finish(t *turn) {
	c.mu.Lock()
	removed, _ := c.dropEmptyAssistant(t)
	c.state = StateIdle
	c.cancel = nil
	c.stats.Completed++
	c.stats.MalformedFrames += t.decoder.Malformed()
	c.mu.Unlock()

	c.log.Debug("chat turn completed",
		"frames", t.decoder.Frames(),
		"malformed", t.decoder.Malformed(),
		"done_sentinel", t.decoder.SawDone())

	if removed != nil {
		c.emit(Event{Kind: EventMessageRemoved, Message: *removed})
	}
	c.emit(Event{Kind: EventState, State: StateIdle})
}

// fail handles transport errors, read errors, cancellation and timeouts.
func (c *Controller) fail(ctx context.Context, t *turn, err error) {
	cause := context.Cause(ctx)
	if errors.Is(cause, ErrCancelled) {
		c.abort(t)
		return
	}
	if errors.Is(cause, ErrIdleTimeout) {
		err = ErrIdleTimeout
	}

	c.mu.Lock()
	removed, partial := c.dropEmptyAssistant(t)
	restored := false
	if partial == "" && c.input == "" {
		c.input = t.text
		restored = true
	}
	c.state = StateIdle
	c.cancel = nil
	c.stats.Failed++
	c.stats.MalformedFrames += t.decoder.Malformed()
	c.mu.Unlock()

	if partial != "" {
		err = &StreamError{Partial: partial, Err: err}
	}
	c.log.Error("chat turn failed", logger.Err(err), "partial_bytes", len(partial))

	if removed != nil {
		c.emit(Event{Kind: EventMessageRemoved, Message: *removed})
	}
	if restored {
		c.emit(Event{Kind: EventInput, Input: t.text})
	}
	c.emit(Event{Kind: EventState, State: StateIdle})

	notice := noticeFor(err, c.locale)
	if c.notifier != nil {
		c.notifier(notice)
	}
	c.emit(Event{Kind: EventNotice, Notice: notice})
}

// abort handles an explicit Cancel. Partial content is kept.
func (c *Controller) abort(t *turn) {
	c.mu.Lock()
	removed, partial := c.dropEmptyAssistant(t)
	c.state = StateIdle
	c.cancel = nil
	c.stats.Cancelled++
	c.stats.MalformedFrames += t.decoder.Malformed()
	c.mu.Unlock()

	c.log.Info("chat turn cancelled", "partial_bytes", len(partial))

	if removed != nil {
		c.emit(Event{Kind: EventMessageRemoved, Message: *removed})
	}
	c.emit(Event{Kind: EventState, State: StateIdle})
}

// dropEmptyAssistant removes the in-flight message if it has no content and
// returns it, along with the content of a message that was kept.
// Must be called with c.mu held.
func (c *Controller) dropEmptyAssistant(t *turn) (*Message, string) {
	if t.assistantID == "" {
		return nil, ""
	}
	i := c.transcript.Find(t.assistantID)
	if i < 0 {
		return nil, ""
	}
	msg := c.transcript.messages[i]
	if msg.Content != "" {
		return nil, msg.Content
	}
	c.transcript.Remove(t.assistantID)
	return &msg, ""
}

// =============================================================================
// IDLE WATCHDOG
// =============================================================================

type watchdog struct {
	timer   *time.Timer
	timeout time.Duration
}

// watch cancels the turn with ErrIdleTimeout when reset is not called in time.
func (c *Controller) watch(cancel context.CancelCauseFunc) *watchdog {
	if c.idleTimeout <= 0 {
		return &watchdog{}
	}
	return &watchdog{
		timer:   time.AfterFunc(c.idleTimeout, func() { cancel(ErrIdleTimeout) }),
		timeout: c.idleTimeout,
	}
}

func (w *watchdog) reset() {
	if w.timer != nil {
		w.timer.Reset(w.timeout)
	}
}

func (w *watchdog) stop() {
	if w.timer != nil {
		w.timer.Stop()
	}
}
