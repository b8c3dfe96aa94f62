package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/qmuntal/stateless"

	"github.com/comigor/jarvis-chat/internal/buffer"
	"github.com/comigor/jarvis-chat/internal/client"
	"github.com/comigor/jarvis-chat/internal/logger"
	"github.com/comigor/jarvis-chat/internal/reconcile"
)

// conversation owns the state of one open conversation. Every field below mu
// is guarded by it. After detach the value may still be written by its old
// cycle goroutine but never publishes.
type conversation struct {
	id    string
	gen   Generator
	store Store
	opts  Options
	bus   *bus
	log   *slog.Logger

	// ctx scopes background refreshes; cancelled on detach.
	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	buf           *buffer.Buffer
	rec           *reconcile.Reconciler
	fsm           *stateless.StateMachine
	cycle         *Cycle
	stopRefreshes context.CancelFunc
	detached      bool
}

func newConversation(id string, gen Generator, store Store, opts Options, b *bus) *conversation {
	log := logger.L.With("conversation", id)
	ctx, cancel := context.WithCancel(context.Background())
	return &conversation{
		id:     id,
		gen:    gen,
		store:  store,
		opts:   opts,
		bus:    b,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		buf:    buffer.New(id, buffer.WithClock(opts.Now)),
		rec:    reconcile.New(reconcile.Options{RetireAfter: opts.RetireAfter, Now: opts.Now}),
		fsm:    newCycleFSM(log),
	}
}

// detach cancels the running cycle and pending refreshes, then drops all
// provisional state.
func (c *conversation) detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.detached = true
	if c.cycle != nil {
		c.cycle.cancel()
	}
	c.cancel()
	c.buf.ClearAll()
	c.rec.Reset()
	c.log.Debug("conversation closed")
}

func (c *conversation) state() State {
	return c.fsm.MustState().(State)
}

// fire must be called with mu held.
func (c *conversation) fire(t trigger) {
	if err := c.fsm.Fire(t); err != nil {
		c.log.Warn("cycle transition rejected", "trigger", t, "state", c.state(), "error", err)
	}
}

// publish must be called with mu held.
func (c *conversation) publish(cycleID string, n *Notice) {
	if c.detached {
		return
	}
	streaming, ok := c.buf.Streaming()
	c.bus.publish(Update{
		ConversationID: c.id,
		CycleID:        cycleID,
		State:          c.state(),
		Messages:       c.rec.View(c.buf),
		Streaming:      ok,
		Partial:        streaming.Content,
		Notice:         n,
	})
}

func (c *conversation) stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cycle != nil {
		c.cycle.cancel()
	}
}

func (c *conversation) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opts.RequestTimeout > 0 {
		return context.WithTimeout(ctx, c.opts.RequestTimeout)
	}
	return context.WithCancel(ctx)
}

// refresh fetches the persisted list and reconciles it. cycleID names the
// cycle that asked for it, if any. replaced reports whether the persisted
// list was applied wholesale, which happens only when no provisional entries
// were pending.
func (c *conversation) refresh(ctx context.Context, cycleID string) (replaced bool, err error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	persisted, err := c.store.List(ctx, c.id)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	replaced = c.buf.Len() == 0
	if retired := c.rec.Refresh(persisted, c.buf); retired {
		c.log.Debug("provisional messages retired", "persisted", len(persisted))
	}
	c.publish(cycleID, nil)
	return replaced, nil
}

// scheduleRefreshes polls the persisted list after a cycle until the buffer
// has been retired and the persisted list applied, or attempts run out. A
// newer schedule replaces an older one.
func (c *conversation) scheduleRefreshes(cycleID string) {
	c.mu.Lock()
	if c.detached {
		c.mu.Unlock()
		return
	}
	if c.stopRefreshes != nil {
		c.stopRefreshes()
	}
	ctx, cancel := context.WithCancel(c.ctx)
	c.stopRefreshes = cancel
	c.mu.Unlock()

	go func() {
		defer cancel()
		log := logger.Cycle(c.id, cycleID)
		for attempt := 0; attempt < c.opts.RefreshAttempts; attempt++ {
			if attempt > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(c.opts.RefreshInterval):
				}
			}
			replaced, err := c.refresh(ctx, cycleID)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Warn("refresh failed", "attempt", attempt+1, "error", err)
				continue
			}
			if replaced {
				return
			}
		}
		log.Debug("refresh attempts exhausted")
	}()
}

// classify turns a collaborator error into a notice.
func classify(err error, kind NoticeKind, msg string) *Notice {
	if errors.Is(err, client.ErrUnauthorized) {
		return &Notice{Kind: NoticeUnauthorized, Message: "session expired, sign in again", Err: err}
	}
	return &Notice{Kind: kind, Message: msg, Err: err}
}
