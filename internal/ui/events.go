// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/morganforge/coachline/internal/chat"
)

// refreshMsg tells the model to re-read controller state.
type refreshMsg struct{}

// bridge turns controller events into refreshMsgs. Listeners must not
// block, so events only set flags and poke a one-slot channel.
type bridge struct {
	wake chan struct{}
	done chan struct{}

	mu      sync.Mutex
	notice  *chat.Notice
	input   *string
	cleared bool
}

func newBridge() *bridge {
	return &bridge{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// listen is a chat.Listener.
func (b *bridge) listen(ev chat.Event) {
	b.mu.Lock()
	switch ev.Kind {
	case chat.EventNotice:
		n := ev.Notice
		b.notice = &n
	case chat.EventInput:
		in := ev.Input
		b.input = &in
	case chat.EventCleared:
		b.cleared = true
	}
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// pending is what happened since the last drain, beyond transcript changes.
type pending struct {
	notice  *chat.Notice
	input   *string
	cleared bool
}

func (b *bridge) drain() pending {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := pending{notice: b.notice, input: b.input, cleared: b.cleared}
	b.notice, b.input, b.cleared = nil, nil, false
	return p
}

// wait returns a command that blocks until the next event.
func (b *bridge) wait() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-b.wake:
			return refreshMsg{}
		case <-b.done:
			return nil
		}
	}
}

func (b *bridge) close() {
	close(b.done)
}
