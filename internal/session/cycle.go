package session

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/comigor/jarvis-chat/internal/client"
	"github.com/comigor/jarvis-chat/internal/logger"
	"github.com/comigor/jarvis-chat/internal/message"
	"github.com/comigor/jarvis-chat/internal/stream"
)

// Cycle is one send: from the user's message to a settled reply or a
// reported failure.
type Cycle struct {
	ID             string
	ConversationID string

	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Done is closed once the cycle is back to idle.
func (c *Cycle) Done() <-chan struct{} {
	return c.done
}

// Err returns why no reply was produced, or nil. It is only meaningful after
// Done is closed. Stopping is not a failure.
func (c *Cycle) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Stop cancels this cycle.
func (c *Cycle) Stop() {
	c.cancel()
}

func (c *conversation) send(ctx context.Context, text string) (*Cycle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.detached {
		return nil, ErrNoConversation
	}
	if c.state() != StateIdle {
		return nil, ErrBusy
	}

	cctx, cancel := context.WithCancel(ctx)
	cyc := &Cycle{
		ID:             uuid.NewString(),
		ConversationID: c.id,
		cancel:         cancel,
		done:           make(chan struct{}),
	}
	c.cycle = cyc
	c.fire(triggerSubmit)
	userID := c.buf.AddPendingUser(text)
	c.publish(cyc.ID, nil)

	r := &run{
		conv:  c,
		cycle: cyc,
		ctx:   cctx,
		log:   logger.Cycle(c.id, cyc.ID),
		req: message.ChatRequest{
			ConversationID: c.id,
			Message:        text,
			Model:          c.opts.Model,
			VoiceProfileID: c.opts.VoiceProfileID,
		},
	}
	r.log.Info("cycle started", "chars", len(text))
	go r.persist(userID, message.RoleUser, text, "your message was not saved")
	go r.start()
	return cyc, nil
}

// run carries one cycle through the state machine. Its fields outside conv
// are owned by the cycle goroutine.
type run struct {
	conv  *conversation
	cycle *Cycle
	ctx   context.Context
	req   message.ChatRequest
	log   *slog.Logger

	streamID  message.ProvisionalID
	streaming bool
}

func (r *run) start() {
	defer r.cycle.cancel()

	body, err := r.conv.gen.Stream(r.ctx, r.req)
	if err != nil {
		if r.ctx.Err() != nil {
			r.cancelled("")
			return
		}
		r.failed(err)
		return
	}
	defer body.Close()
	// Unblock a pending read as soon as the cycle is stopped.
	stopWatch := context.AfterFunc(r.ctx, func() { body.Close() })
	defer stopWatch()

	r.conv.mu.Lock()
	r.conv.fire(triggerOpenStream)
	r.streamID = r.conv.buf.BeginStreamingAssistant()
	r.streaming = true
	r.conv.publish(r.cycle.ID, nil)
	r.conv.mu.Unlock()

	res, err := stream.Consume(r.ctx, body, r.token)
	switch {
	case err != nil:
		r.failed(err)
	case res.Outcome == stream.OutcomeCancelled:
		r.cancelled(res.Text)
	default:
		r.finished(res.Text)
	}
}

func (r *run) token(text string) {
	r.conv.mu.Lock()
	defer r.conv.mu.Unlock()
	r.conv.buf.AppendToken(r.streamID, text)
	r.conv.publish(r.cycle.ID, nil)
}

func (r *run) finished(text string) {
	r.conv.mu.Lock()
	r.conv.buf.Finalize(r.streamID, text)
	r.conv.fire(triggerFinish)
	r.conv.publish(r.cycle.ID, nil)
	r.conv.mu.Unlock()

	r.log.Info("reply received", "chars", len(text))
	r.end(nil, nil)
}

// cancelled keeps whatever arrived. The backend stores nothing for an
// aborted stream, so a partial reply is saved here before going idle.
func (r *run) cancelled(partial string) {
	r.conv.mu.Lock()
	r.conv.fire(triggerAbandon)
	if r.streaming {
		if partial == "" {
			r.conv.buf.Discard(r.streamID)
		} else {
			r.conv.buf.Finalize(r.streamID, partial)
		}
	}
	r.conv.publish(r.cycle.ID, nil)
	r.conv.mu.Unlock()

	r.log.Info("reply stopped", "chars", len(partial))
	if r.streaming && partial != "" {
		r.persist(r.streamID, message.RoleAssistant, partial, "the partial reply was not saved")
	}
	r.end(nil, nil)
}

// failed drops the streamed reply and retries once without streaming.
func (r *run) failed(err error) {
	r.conv.mu.Lock()
	r.conv.fire(triggerFail)
	if r.streaming {
		r.conv.buf.Discard(r.streamID)
		r.streaming = false
	}
	r.conv.publish(r.cycle.ID, nil)
	r.conv.mu.Unlock()

	if errors.Is(err, client.ErrUnauthorized) {
		r.log.Warn("stream rejected", "error", err)
		r.end(err, classify(err, NoticeFailure, ""))
		return
	}

	r.log.Warn("stream failed, retrying without streaming", "error", err)
	reply, err := r.conv.gen.Complete(r.ctx, r.req)
	if err != nil {
		if r.ctx.Err() != nil {
			r.cancelled("")
			return
		}
		r.log.Error("fallback failed", "error", err)
		r.end(err, classify(err, NoticeFailure, "no reply could be generated"))
		return
	}

	r.conv.mu.Lock()
	r.conv.fire(triggerFallback)
	r.streamID = r.conv.buf.BeginStreamingAssistant()
	r.streaming = true
	r.conv.buf.Finalize(r.streamID, reply)
	r.conv.fire(triggerFinish)
	r.conv.publish(r.cycle.ID, nil)
	r.conv.mu.Unlock()

	r.log.Info("reply received without streaming", "chars", len(reply))
	r.end(nil, nil)
}

// end returns the machine to idle, reports err if any and schedules the
// refreshes that retire the provisional entries.
func (r *run) end(err error, n *Notice) {
	r.conv.mu.Lock()
	r.conv.fire(triggerSettle)
	r.cycle.err = err
	r.conv.publish(r.cycle.ID, n)
	r.conv.mu.Unlock()

	close(r.cycle.done)
	r.conv.scheduleRefreshes(r.cycle.ID)
}

// persist writes a provisional entry and records the outcome in the buffer.
// It survives Stop so a stopped cycle can still save what it has.
func (r *run) persist(id message.ProvisionalID, role message.Role, content, warning string) {
	ctx, cancel := r.conv.withTimeout(context.WithoutCancel(r.ctx))
	defer cancel()
	saved, err := r.conv.store.Append(ctx, r.conv.id, role, content)

	r.conv.mu.Lock()
	defer r.conv.mu.Unlock()
	if err != nil {
		r.log.Warn("failed to save message", "role", role, "error", err)
		r.conv.buf.MarkFailed(id)
		r.conv.publish(r.cycle.ID, classify(err, NoticeWarning, warning))
		return
	}
	r.conv.buf.Acknowledge(id, saved)
	r.conv.publish(r.cycle.ID, nil)
}
