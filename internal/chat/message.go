// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Coach"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// Valid reports whether a client may send a message with this role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message is one turn of the conversation.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// NewMessage creates a message with a generated ID.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// WireMessage is the role/content pair sent to the proxy.
type WireMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// =============================================================================
// TRANSCRIPT
// =============================================================================

// Transcript is the ordered conversation history.
// It is not safe for concurrent use; the Controller serializes access.
type Transcript struct {
	messages []Message
}

// Append adds a message to the end and returns its index.
func (t *Transcript) Append(m Message) int {
	t.messages = append(t.messages, m)
	return len(t.messages) - 1
}

// Len returns the number of messages.
func (t *Transcript) Len() int {
	return len(t.messages)
}

// Last returns the final message, if any.
func (t *Transcript) Last() (Message, bool) {
	if len(t.messages) == 0 {
		return Message{}, false
	}
	return t.messages[len(t.messages)-1], true
}

// Find returns the index of the message with the given ID, or -1.
func (t *Transcript) Find(id string) int {
	for i := len(t.messages) - 1; i >= 0; i-- {
		if t.messages[i].ID == id {
			return i
		}
	}
	return -1
}

// AppendContent appends text to the content of message id.
func (t *Transcript) AppendContent(id, text string) bool {
	i := t.Find(id)
	if i < 0 {
		return false
	}
	t.messages[i].Content += text
	return true
}

// Remove deletes the message with the given ID, preserving order.
func (t *Transcript) Remove(id string) bool {
	i := t.Find(id)
	if i < 0 {
		return false
	}
	t.messages = append(t.messages[:i], t.messages[i+1:]...)
	return true
}

// Clear drops every message.
func (t *Transcript) Clear() {
	t.messages = nil
}

// Messages returns a copy of the history.
func (t *Transcript) Messages() []Message {
	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Wire returns the history as role/content pairs in order.
func (t *Transcript) Wire() []WireMessage {
	out := make([]WireMessage, len(t.messages))
	for i, m := range t.messages {
		out[i] = WireMessage{Role: m.Role, Content: m.Content}
	}
	return out
}
