// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/morganforge/coachline/internal/chat"
)

// Controller is the chat state the screen drives. *chat.Controller
// satisfies it.
type Controller interface {
	Subscribe(fn chat.Listener) func()
	State() chat.State
	Messages() []chat.Message
	Input() string
	SetInput(text string)
	SubmitInput() bool
	Cancel() bool
	Reset() bool
}

const (
	inputHeight = 3
	// header, status and help lines
	chromeHeight = 3

	markdownStyle = "dark"
)

type renderedMessage struct {
	content string
	width   int
	out     string
}

// Model is the Bubble Tea model for the chat screen.
type Model struct {
	ctrl   Controller
	events *bridge
	keys   KeyMap

	viewport viewport.Model
	input    textarea.Model
	spinner  spinner.Model
	help     help.Model

	// Snapshot taken on the last refresh.
	state    chat.State
	messages []chat.Message
	notice   string

	width, height int

	rendered      map[string]renderedMessage
	renderer      *glamour.TermRenderer
	rendererWidth int
}

func newModel(ctrl Controller, events *bridge) Model {
	keys := DefaultKeyMap()

	ta := textarea.New()
	ta.Placeholder = "Ask your coach..."
	ta.Prompt = "┃ "
	ta.ShowLineNumbers = false
	ta.CharLimit = 4000
	ta.SetHeight(inputHeight)
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.KeyMap.InsertNewline = keys.Newline
	ta.SetValue(ctrl.Input())
	ta.Focus()

	m := Model{
		ctrl:     ctrl,
		events:   events,
		keys:     keys,
		viewport: viewport.New(80, 20),
		input:    ta,
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(spinnerStyle)),
		help:     help.New(),
		state:    ctrl.State(),
		messages: ctrl.Messages(),
		rendered: make(map[string]renderedMessage),
	}
	m.resize(80, 24)
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spinner.Tick, m.events.wait())
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case refreshMsg:
		m.refresh()
		return m, m.events.wait()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Cancel) && m.ctrl.State().Busy():
			m.ctrl.Cancel()
			return m, nil
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Clear):
			m.ctrl.Reset()
			return m, nil
		case key.Matches(msg, m.keys.Submit):
			m.submit()
			return m, nil
		case key.Matches(msg, m.keys.PageUp):
			m.viewport.ViewUp()
			return m, nil
		case key.Matches(msg, m.keys.PageDown):
			m.viewport.ViewDown()
			return m, nil
		}
	}

	before := m.input.Value()
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	if after := m.input.Value(); after != before {
		m.ctrl.SetInput(after)
	}
	return m, tea.Batch(cmds...)
}

func (m *Model) submit() {
	if m.state.Busy() || strings.TrimSpace(m.input.Value()) == "" {
		return
	}
	m.ctrl.SetInput(m.input.Value())
	if m.ctrl.SubmitInput() {
		m.input.Reset()
		m.notice = ""
	}
}

// refresh re-reads controller state after one or more events.
func (m *Model) refresh() {
	p := m.events.drain()
	m.state = m.ctrl.State()
	m.messages = m.ctrl.Messages()

	if p.cleared {
		m.notice = ""
		clear(m.rendered)
	}
	if p.input != nil && *p.input != m.input.Value() {
		m.input.SetValue(*p.input)
		m.input.CursorEnd()
	}
	if p.notice != nil {
		m.notice = p.notice.Text
	}
	m.syncViewport()
}

func (m *Model) resize(width, height int) {
	m.width, m.height = width, height
	m.input.SetWidth(width)
	m.help.Width = width
	m.viewport.Width = width
	m.viewport.Height = max(height-chromeHeight-inputHeight, 1)
	m.syncViewport()
}

// syncViewport re-renders the transcript, following the tail unless the
// user has scrolled up.
func (m *Model) syncViewport() {
	follow := m.viewport.AtBottom()
	m.viewport.SetContent(m.renderTranscript())
	if follow {
		m.viewport.GotoBottom()
	}
}
