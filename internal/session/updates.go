package session

import (
	"sync"

	"github.com/comigor/jarvis-chat/internal/message"
)

// NoticeKind classifies user-facing notices.
type NoticeKind int

const (
	// NoticeWarning reports a background write that did not go through. The
	// affected message stays on screen.
	NoticeWarning NoticeKind = iota
	// NoticeFailure means the cycle could not produce a reply.
	NoticeFailure
	// NoticeUnauthorized means the backend rejected the credentials.
	NoticeUnauthorized
)

func (k NoticeKind) String() string {
	switch k {
	case NoticeWarning:
		return "warning"
	case NoticeFailure:
		return "failure"
	case NoticeUnauthorized:
		return "unauthorized"
	}
	return "unknown"
}

// Notice is something the presentation layer should tell the user.
type Notice struct {
	Kind    NoticeKind
	Message string
	Err     error
}

// Update is a snapshot of the displayed conversation. CycleID is empty for
// updates not caused by a send cycle, such as opening a conversation.
type Update struct {
	ConversationID string
	CycleID        string
	State          State
	Messages       []message.Message
	Streaming      bool
	Partial        string
	Notice         *Notice
}

// bus holds at most one undelivered Update. A newer snapshot replaces an
// older one; an undelivered notice is carried forward.
type bus struct {
	mu sync.Mutex
	ch chan Update
}

func newBus() *bus {
	return &bus{ch: make(chan Update, 1)}
}

func (b *bus) publish(u Update) {
	b.mu.Lock()
	defer b.mu.Unlock()
	select {
	case old := <-b.ch:
		if u.Notice == nil {
			u.Notice = old.Notice
		}
	default:
	}
	b.ch <- u
}
