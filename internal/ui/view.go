// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/morganforge/coachline/internal/chat"
)

// View implements tea.Model.
func (m Model) View() string {
	return lipgloss.JoinVertical(lipgloss.Left,
		m.headerView(),
		m.viewport.View(),
		m.statusView(),
		m.input.View(),
		m.help.View(m.keys),
	)
}

func (m Model) headerView() string {
	var state string
	switch m.state {
	case chat.StateSending:
		state = m.spinner.View() + statusStyle.Render(" sending")
	case chat.StateStreaming:
		state = m.spinner.View() + statusStyle.Render(" Coach is typing...")
	default:
		state = statusStyle.Render("ready")
	}
	return titleStyle.Render("Coachline") + "  " + state
}

func (m Model) statusView() string {
	if m.notice == "" {
		return ""
	}
	return noticeStyle.Width(m.width).Render(m.notice)
}

func (m *Model) renderTranscript() string {
	if len(m.messages) == 0 {
		return emptyStyle.Render("Ask your coach a question to get started.")
	}

	width := max(m.viewport.Width-2, 20)
	var b strings.Builder
	for i, msg := range m.messages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		streaming := m.state.Busy() && i == len(m.messages)-1 && msg.Role == chat.RoleAssistant
		b.WriteString(roleStyle(msg.Role).Render(msg.Role.DisplayName()))
		b.WriteString("\n")
		b.WriteString(m.renderBody(msg, width, streaming))
	}
	return b.String()
}

// renderBody wraps user text and in-progress replies; finished replies are
// rendered as markdown once per width.
func (m *Model) renderBody(msg chat.Message, width int, streaming bool) string {
	if msg.Role != chat.RoleAssistant || streaming {
		body := lipgloss.NewStyle().Width(width).Render(msg.Content)
		if streaming {
			body += cursorStyle.Render("▌")
		}
		return body
	}

	if r, ok := m.rendered[msg.ID]; ok && r.content == msg.Content && r.width == width {
		return r.out
	}
	out := m.markdown(msg.Content, width)
	m.rendered[msg.ID] = renderedMessage{content: msg.Content, width: width, out: out}
	return out
}

func (m *Model) markdown(content string, width int) string {
	plain := lipgloss.NewStyle().Width(width).Render(content)
	if m.renderer == nil || m.rendererWidth != width {
		r, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle(markdownStyle),
			glamour.WithWordWrap(width),
		)
		if err != nil {
			return plain
		}
		m.renderer, m.rendererWidth = r, width
	}
	out, err := m.renderer.Render(content)
	if err != nil {
		return plain
	}
	return strings.Trim(out, "\n")
}
