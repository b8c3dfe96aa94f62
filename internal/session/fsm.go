package session

import (
	"context"
	"log/slog"

	"github.com/qmuntal/stateless"
)

// State is where a conversation's send cycle currently is.
type State string

const (
	StateIdle      State = "idle"
	StateSending   State = "sending"
	StateStreaming State = "streaming"
	StateSettling  State = "settling"
	StateError     State = "error"
)

type trigger string

const (
	triggerSubmit     trigger = "submit"
	triggerOpenStream trigger = "open-stream"
	triggerFinish     trigger = "finish"
	triggerFail       trigger = "fail"
	triggerFallback   trigger = "fallback"
	triggerAbandon    trigger = "abandon"
	triggerSettle     trigger = "settle"
)

// newCycleFSM builds the per-conversation cycle machine. It only tracks
// state; the work of each phase is done by the cycle goroutine.
func newCycleFSM(log *slog.Logger) *stateless.StateMachine {
	fsm := stateless.NewStateMachine(StateIdle)

	fsm.Configure(StateIdle).
		Permit(triggerSubmit, StateSending)

	fsm.Configure(StateSending).
		Permit(triggerOpenStream, StateStreaming).
		Permit(triggerFail, StateError).
		Permit(triggerAbandon, StateSettling)

	fsm.Configure(StateStreaming).
		Permit(triggerFinish, StateSettling).
		Permit(triggerFail, StateError).
		Permit(triggerAbandon, StateSettling)

	// A failed stream gets one non-streaming retry, handled as a stream.
	fsm.Configure(StateError).
		Permit(triggerFallback, StateStreaming).
		Permit(triggerAbandon, StateSettling).
		Permit(triggerSettle, StateIdle)

	fsm.Configure(StateSettling).
		Permit(triggerSettle, StateIdle)

	fsm.OnTransitioned(func(_ context.Context, t stateless.Transition) {
		log.Debug("cycle transition", "from", t.Source, "to", t.Destination, "trigger", t.Trigger)
	})
	return fsm
}
