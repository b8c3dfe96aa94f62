package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/comigor/jarvis-chat/internal/message"
	"github.com/comigor/jarvis-chat/internal/session"
)

func msgs(pairs ...string) []message.Message {
	var out []message.Message
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, message.Message{Role: message.Role(pairs[i]), Content: pairs[i+1]})
	}
	return out
}

func TestRenderer_StreamThenSettle(t *testing.T) {
	var out, errOut bytes.Buffer
	r := newRenderer(&out, &errOut)

	r.apply(session.Update{CycleID: "c1", State: session.StateSending, Messages: msgs("user", "hi")})
	r.apply(session.Update{CycleID: "c1", State: session.StateStreaming, Streaming: true, Partial: "He"})
	r.apply(session.Update{CycleID: "c1", State: session.StateStreaming, Streaming: true, Partial: "Hello"})
	r.apply(session.Update{CycleID: "c1", State: session.StateIdle, Messages: msgs("user", "hi", "assistant", "Hello!")})
	r.apply(session.Update{CycleID: "c1", State: session.StateIdle, Messages: msgs("user", "hi", "assistant", "Hello!")})

	require.Equal(t, "jarvis> Hello!\n", out.String())
	require.Empty(t, errOut.String())
}

func TestRenderer_NonStreamingReply(t *testing.T) {
	var out, errOut bytes.Buffer
	r := newRenderer(&out, &errOut)

	r.apply(session.Update{CycleID: "c1", State: session.StateIdle, Messages: msgs("assistant", "old", "user", "hi", "assistant", "fallback")})
	require.Equal(t, "jarvis> fallback\n", out.String())
}

func TestRenderer_FailureNotice(t *testing.T) {
	var out, errOut bytes.Buffer
	r := newRenderer(&out, &errOut)

	r.apply(session.Update{
		CycleID:  "c1",
		State:    session.StateIdle,
		Messages: msgs("assistant", "old", "user", "hi"),
		Notice:   &session.Notice{Kind: session.NoticeFailure, Message: "no reply could be generated"},
	})
	require.Empty(t, out.String())
	require.Equal(t, "[failure] no reply could be generated\n", errOut.String())
}

func TestRenderer_IgnoresUpdatesWithoutCycle(t *testing.T) {
	var out, errOut bytes.Buffer
	r := newRenderer(&out, &errOut)

	r.apply(session.Update{State: session.StateIdle, Messages: msgs("user", "hi", "assistant", "x")})
	require.Empty(t, out.String())
}
