package models

import (
	"time"

	"github.com/google/uuid"
)

// Message roles. The engine only ever writes these two values.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// MessageMeta carries everything attached to a turn beyond its text:
// server correlation id, vote flags, citations, the narration trace and
// moderation flags. Vote flags are plain booleans; Normalize guarantees
// they are never "absent" after a record is loaded.
type MessageMeta struct {
	// ResponseID is the server-assigned id for the assistant turn, used to
	// correlate vote/comment calls. Zero means the server never confirmed it.
	ResponseID int64 `json:"response_id,omitempty"`

	IsUpvote   bool `json:"is_upvote"`
	IsDownvote bool `json:"is_downvote"`

	// References are citation payloads passed through verbatim for renderers.
	References []string `json:"references,omitempty"`
	// Reflections is the ordered narration log captured while streaming.
	Reflections []string `json:"reflections,omitempty"`
	// Followups are suggested next questions from the terminal frame.
	Followups []string `json:"followups,omitempty"`

	// Error marks a synthesized error bubble rather than agent output.
	Error bool `json:"error,omitempty"`
	// Moderation flags from the terminal frame.
	Guardrail bool `json:"guardrail,omitempty"`
	Blocked   bool `json:"blocked,omitempty"`
}

// Message is one turn in a conversation. ID is locally generated and
// stable for the life of the record; the server response id lives in Meta.
type Message struct {
	ID        string      `json:"id"`
	Thread    string      `json:"thread"`
	Role      string      `json:"role"`
	Content   string      `json:"content"`
	CreatedTS int64       `json:"created_ts"`
	Meta      MessageMeta `json:"meta"`
}

// NewMessage mints a message with a fresh local id and current timestamp.
func NewMessage(threadID, role, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Thread:    threadID,
		Role:      role,
		Content:   content,
		CreatedTS: time.Now().UTC().UnixNano(),
	}
}

// Normalize repairs records persisted by older builds: vote flags are
// mutually exclusive, and a record carrying both says nothing about which
// one the user meant, so both are dropped.
func (m *Message) Normalize() {
	if m.Meta.IsUpvote && m.Meta.IsDownvote {
		m.Meta.IsUpvote = false
		m.Meta.IsDownvote = false
	}
}
