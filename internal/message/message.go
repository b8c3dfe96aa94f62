// Package message defines the conversation message model shared by the
// optimistic buffer, the reconciler and the persistence collaborators.
package message

import (
	"fmt"
	"time"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Kind tags why a message is not yet authoritative.
type Kind int

const (
	KindNone Kind = iota
	KindPendingUser
	KindStreamingAssistant
)

func (k Kind) String() string {
	switch k {
	case KindPendingUser:
		return "pendingUser"
	case KindStreamingAssistant:
		return "streamingAssistant"
	default:
		return "none"
	}
}

// ID is either a ProvisionalID or a PersistedID. The set is closed: code that
// inspects an ID should type-switch over both variants.
type ID interface {
	isID()
	fmt.Stringer
}

// ProvisionalID identifies a message that only exists locally.
type ProvisionalID struct {
	Kind Kind
	Seq  uint64
}

func (ProvisionalID) isID() {}

func (p ProvisionalID) String() string {
	return fmt.Sprintf("provisional:%s:%d", p.Kind, p.Seq)
}

// PersistedID is the identifier assigned by storage.
type PersistedID int64

func (PersistedID) isID() {}

func (p PersistedID) String() string {
	return fmt.Sprintf("persisted:%d", int64(p))
}

// Message is a single entry of a conversation, provisional or persisted.
type Message struct {
	ID             ID
	ConversationID string
	Role           Role
	Content        string
	CreatedAt      time.Time

	// Provisional is KindNone for persisted messages.
	Provisional Kind
	// Frozen is set once a provisional message is finalized; its content no
	// longer changes.
	Frozen bool
	// Acked is set once the storage write for a provisional message succeeded.
	Acked bool
	// Failed is set when the storage write for a provisional message failed.
	Failed bool
}

// IsProvisional reports whether m has not been replaced by its persisted form.
func (m Message) IsProvisional() bool {
	return m.Provisional != KindNone
}

// Settled reports whether a provisional message is done changing locally.
func (m Message) Settled() bool {
	return m.Provisional != KindStreamingAssistant || m.Frozen
}
