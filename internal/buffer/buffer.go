// Package buffer holds the provisional messages of the active conversation:
// the user message shown before the backend acknowledged it and the
// assistant message being accumulated from the token stream.
package buffer

import (
	"sync/atomic"
	"time"

	"github.com/comigor/jarvis-chat/internal/message"
)

// seq is shared by every buffer so provisional ids are never reused, even
// across conversations.
var seq atomic.Uint64

// Buffer is not safe for concurrent use; its owner serializes access.
type Buffer struct {
	conversationID string
	entries        []*entry
	now            func() time.Time
}

type entry struct {
	local message.ProvisionalID
	msg   message.Message
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithClock overrides the clock used for provisional timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *Buffer) { b.now = now }
}

// New returns an empty buffer bound to conversationID.
func New(conversationID string, opts ...Option) *Buffer {
	b := &Buffer{conversationID: conversationID, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ConversationID returns the conversation the buffer is bound to.
func (b *Buffer) ConversationID() string { return b.conversationID }

// AddPendingUser appends a pendingUser message and returns its id.
func (b *Buffer) AddPendingUser(text string) message.ProvisionalID {
	return b.add(message.KindPendingUser, message.RoleUser, text)
}

// BeginStreamingAssistant creates an empty streamingAssistant message. If one
// already streams, its id is returned and nothing is created.
func (b *Buffer) BeginStreamingAssistant() message.ProvisionalID {
	for _, e := range b.entries {
		if e.msg.Provisional == message.KindStreamingAssistant && !e.msg.Frozen {
			return e.local
		}
	}
	return b.add(message.KindStreamingAssistant, message.RoleAssistant, "")
}

func (b *Buffer) add(kind message.Kind, role message.Role, text string) message.ProvisionalID {
	id := message.ProvisionalID{Kind: kind, Seq: seq.Add(1)}
	b.entries = append(b.entries, &entry{
		local: id,
		msg: message.Message{
			ID:             id,
			ConversationID: b.conversationID,
			Role:           role,
			Content:        text,
			CreatedAt:      b.now(),
			Provisional:    kind,
		},
	})
	return id
}

// AppendToken concatenates text onto the identified message. It is a no-op
// when the message is gone or already frozen.
func (b *Buffer) AppendToken(id message.ProvisionalID, text string) {
	if e := b.find(id); e != nil && !e.msg.Frozen {
		e.msg.Content += text
	}
}

// Finalize replaces the content with finalText and freezes the message.
func (b *Buffer) Finalize(id message.ProvisionalID, finalText string) {
	if e := b.find(id); e != nil && !e.msg.Frozen {
		e.msg.Content = finalText
		e.msg.Frozen = true
	}
}

// Acknowledge records a successful storage write: the message takes the
// persisted id but keeps its local timestamp, and with it its place in the
// display, until retired.
func (b *Buffer) Acknowledge(id message.ProvisionalID, persisted message.Message) {
	e := b.find(id)
	if e == nil {
		return
	}
	e.msg.ID = persisted.ID
	e.msg.Acked = true
	e.msg.Failed = false
	e.msg.Frozen = true
}

// MarkFailed flags a message whose storage write failed. It stays visible.
func (b *Buffer) MarkFailed(id message.ProvisionalID) {
	if e := b.find(id); e != nil {
		e.msg.Failed = true
	}
}

// Discard removes the identified message.
func (b *Buffer) Discard(id message.ProvisionalID) {
	for i, e := range b.entries {
		if e.local == id {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			return
		}
	}
}

// ClearAll removes every provisional message.
func (b *Buffer) ClearAll() {
	b.entries = nil
}

// Get returns a copy of the identified message.
func (b *Buffer) Get(id message.ProvisionalID) (message.Message, bool) {
	if e := b.find(id); e != nil {
		return e.msg, true
	}
	return message.Message{}, false
}

// Streaming returns the message currently accumulating tokens, if any.
func (b *Buffer) Streaming() (message.Message, bool) {
	for _, e := range b.entries {
		if e.msg.Provisional == message.KindStreamingAssistant && !e.msg.Frozen {
			return e.msg, true
		}
	}
	return message.Message{}, false
}

// Len returns the number of provisional messages.
func (b *Buffer) Len() int { return len(b.entries) }

// Settled reports whether no message is still accumulating tokens.
func (b *Buffer) Settled() bool {
	for _, e := range b.entries {
		if !e.msg.Settled() {
			return false
		}
	}
	return true
}

// Snapshot returns copies of the messages in insertion order.
func (b *Buffer) Snapshot() []message.Message {
	out := make([]message.Message, 0, len(b.entries))
	for _, e := range b.entries {
		out = append(out, e.msg)
	}
	return out
}

func (b *Buffer) find(id message.ProvisionalID) *entry {
	for _, e := range b.entries {
		if e.local == id {
			return e
		}
	}
	return nil
}
