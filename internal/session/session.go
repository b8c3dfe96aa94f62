// Package session drives send cycles for the open conversation: it shows the
// user's message at once, streams the assistant reply into the optimistic
// buffer, and reconciles both against the persisted list once the cycle
// settles.
//
// Only one conversation is open at a time. Opening another tears down the
// previous one first, cancelling any cycle still in flight; a torn-down
// conversation never publishes again.
package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/comigor/jarvis-chat/internal/config"
	"github.com/comigor/jarvis-chat/internal/message"
)

var (
	// ErrBusy is returned by Send while a cycle is already running.
	ErrBusy = errors.New("session: a reply is already in progress")
	// ErrNoConversation is returned when no conversation has been opened.
	ErrNoConversation = errors.New("session: no conversation open")
	// ErrEmptyMessage is returned by Send for blank input.
	ErrEmptyMessage = errors.New("session: empty message")
)

// Generator produces assistant replies.
type Generator interface {
	Stream(ctx context.Context, req message.ChatRequest) (io.ReadCloser, error)
	Complete(ctx context.Context, req message.ChatRequest) (string, error)
}

// Store persists messages.
type Store interface {
	Append(ctx context.Context, conversationID string, role message.Role, content string) (message.Message, error)
	List(ctx context.Context, conversationID string) ([]message.Message, error)
}

// Options tune a Session. Zero values fall back to defaults.
type Options struct {
	Model          string
	VoiceProfileID string
	// RequestTimeout bounds each Append and List call. Streams are bounded
	// only by Stop.
	RequestTimeout  time.Duration
	RefreshAttempts int
	RefreshInterval time.Duration
	RetireAfter     time.Duration
	Now             func() time.Time
}

// OptionsFromConfig maps the client section of the config.
func OptionsFromConfig(cfg config.ClientConfig) Options {
	return Options{
		Model:           cfg.Model,
		VoiceProfileID:  cfg.VoiceProfileID,
		RequestTimeout:  cfg.RequestTimeout,
		RefreshAttempts: cfg.RefreshAttempts,
		RefreshInterval: cfg.RefreshInterval,
		RetireAfter:     cfg.RetireAfter,
	}
}

func (o Options) withDefaults() Options {
	if o.RefreshAttempts <= 0 {
		o.RefreshAttempts = 5
	}
	if o.RefreshInterval <= 0 {
		o.RefreshInterval = 500 * time.Millisecond
	}
	if o.RetireAfter <= 0 {
		o.RetireAfter = 30 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Session is the controller the presentation layer talks to.
type Session struct {
	gen   Generator
	store Store
	opts  Options
	bus   *bus

	mu   sync.Mutex
	conv *conversation
}

// New creates a session with no conversation open.
func New(gen Generator, store Store, opts Options) *Session {
	return &Session{
		gen:   gen,
		store: store,
		opts:  opts.withDefaults(),
		bus:   newBus(),
	}
}

// Updates delivers display snapshots. Only the latest undelivered snapshot
// is kept, so a slow reader skips intermediate states but never misses the
// final one.
func (s *Session) Updates() <-chan Update {
	return s.bus.ch
}

// Open switches to conversationID and loads its persisted messages. The
// previous conversation is torn down first. A failed load leaves the
// conversation open and empty.
func (s *Session) Open(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	if s.conv != nil {
		s.conv.detach()
	}
	conv := newConversation(conversationID, s.gen, s.store, s.opts, s.bus)
	s.conv = conv
	s.mu.Unlock()

	conv.mu.Lock()
	conv.publish("", nil)
	conv.mu.Unlock()

	_, err := conv.refresh(ctx, "")
	return err
}

// Close tears down the open conversation.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conv != nil {
		s.conv.detach()
		s.conv = nil
	}
}

func (s *Session) current() *conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv
}

// ConversationID returns the open conversation, or "".
func (s *Session) ConversationID() string {
	if c := s.current(); c != nil {
		return c.id
	}
	return ""
}

// Send starts a cycle for text. The cycle outlives the call; cancelling ctx
// has the same effect as Stop.
func (s *Session) Send(ctx context.Context, text string) (*Cycle, error) {
	if text == "" {
		return nil, ErrEmptyMessage
	}
	conv := s.current()
	if conv == nil {
		return nil, ErrNoConversation
	}
	return conv.send(ctx, text)
}

// Stop cancels the running cycle, if any. Partial content is kept.
func (s *Session) Stop() {
	if conv := s.current(); conv != nil {
		conv.stop()
	}
}

// Refresh fetches the persisted list and reconciles it with the buffer.
func (s *Session) Refresh(ctx context.Context) error {
	conv := s.current()
	if conv == nil {
		return ErrNoConversation
	}
	_, err := conv.refresh(ctx, "")
	return err
}

// Messages returns the displayed list.
func (s *Session) Messages() []message.Message {
	conv := s.current()
	if conv == nil {
		return nil
	}
	conv.mu.Lock()
	defer conv.mu.Unlock()
	return conv.rec.View(conv.buf)
}

// Streaming reports whether an assistant reply is being received.
func (s *Session) Streaming() bool {
	conv := s.current()
	if conv == nil {
		return false
	}
	conv.mu.Lock()
	defer conv.mu.Unlock()
	_, ok := conv.buf.Streaming()
	return ok
}

// Partial returns the content received so far for the streaming reply.
func (s *Session) Partial() string {
	conv := s.current()
	if conv == nil {
		return ""
	}
	conv.mu.Lock()
	defer conv.mu.Unlock()
	m, _ := conv.buf.Streaming()
	return m.Content
}

// State returns the cycle state of the open conversation.
func (s *Session) State() State {
	conv := s.current()
	if conv == nil {
		return StateIdle
	}
	conv.mu.Lock()
	defer conv.mu.Unlock()
	return conv.state()
}
