// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"

	"github.com/morganforge/coachline/internal/chat"
)

// =============================================================================
// STREAM PRINTER
// =============================================================================

// streamPrinter writes controller events to a terminal as they arrive.
type streamPrinter struct {
	mu      sync.Mutex
	out     io.Writer
	midLine bool
	notice  *chat.Notice
}

func newStreamPrinter(out io.Writer) *streamPrinter {
	return &streamPrinter{out: out}
}

// handle is a chat.Listener.
func (p *streamPrinter) handle(ev chat.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev.Kind {
	case chat.EventMessageAdded:
		if ev.Message.Role == chat.RoleAssistant {
			fmt.Fprint(p.out, CoachStyle.Render(chat.RoleAssistant.DisplayName()+":")+" ")
			p.midLine = true
		}

	case chat.EventToken:
		fmt.Fprint(p.out, ev.Token)

	case chat.EventMessageRemoved:
		if ev.Message.Role == chat.RoleAssistant {
			fmt.Fprint(p.out, DimStyle.Render("(no reply)"))
		}

	case chat.EventState:
		if ev.State == chat.StateIdle && p.midLine {
			fmt.Fprintln(p.out)
			p.midLine = false
		}

	case chat.EventNotice:
		n := ev.Notice
		p.notice = &n
		fmt.Fprintln(p.out, WarningStyle.Render(n.Text))
	}
}

// takeNotice returns and clears the last failure notice.
func (p *streamPrinter) takeNotice() *chat.Notice {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.notice
	p.notice = nil
	return n
}

// =============================================================================
// MARKDOWN
// =============================================================================

// renderMarkdown renders content for a terminal of the given width, falling
// back to the raw text if rendering fails.
func renderMarkdown(content string, width int) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return content
	}
	out, err := r.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(out, "\n") + "\n"
}

// lastReply returns the content of the final assistant message, if any.
func lastReply(msgs []chat.Message) (string, bool) {
	if len(msgs) == 0 {
		return "", false
	}
	last := msgs[len(msgs)-1]
	if last.Role != chat.RoleAssistant {
		return "", false
	}
	return last.Content, true
}
