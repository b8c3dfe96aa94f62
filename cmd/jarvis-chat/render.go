package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/comigor/jarvis-chat/internal/message"
	"github.com/comigor/jarvis-chat/internal/session"
)

func printMessage(w io.Writer, m message.Message) {
	who := "you"
	if m.Role == message.RoleAssistant {
		who = "jarvis"
	}
	fmt.Fprintf(w, "%s> %s\n", who, m.Content)
}

// renderer prints a cycle's reply as it streams. Updates may be coalesced,
// so it only relies on the latest partial text and the settled list.
type renderer struct {
	out, errOut io.Writer

	active  string
	settled string
	printed string
}

func newRenderer(out, errOut io.Writer) *renderer {
	return &renderer{out: out, errOut: errOut}
}

func (r *renderer) apply(u session.Update) {
	if u.Notice != nil {
		fmt.Fprintf(r.errOut, "[%s] %s\n", u.Notice.Kind, u.Notice.Message)
	}
	if u.CycleID == "" || u.CycleID == r.settled {
		return
	}
	if u.CycleID != r.active {
		r.closeLine()
		r.active = u.CycleID
	}

	if u.Streaming {
		if r.printed == "" && u.Partial != "" {
			fmt.Fprint(r.out, "jarvis> ")
		}
		if strings.HasPrefix(u.Partial, r.printed) {
			fmt.Fprint(r.out, u.Partial[len(r.printed):])
			r.printed = u.Partial
		}
		return
	}
	if u.State != session.StateIdle {
		return
	}

	r.settled = u.CycleID
	final := lastReply(u.Messages)
	switch {
	case r.printed == "":
		if final != "" {
			fmt.Fprintf(r.out, "jarvis> %s\n", final)
		}
	case strings.HasPrefix(final, r.printed):
		fmt.Fprintf(r.out, "%s\n", final[len(r.printed):])
	default:
		// The server's final text differs from what streamed.
		fmt.Fprintf(r.out, "\njarvis> %s\n", final)
	}
	r.printed = ""
}

func (r *renderer) closeLine() {
	if r.printed != "" {
		fmt.Fprintln(r.out)
		r.printed = ""
	}
}

// lastReply returns the assistant text after the last user message.
func lastReply(msgs []message.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		switch msgs[i].Role {
		case message.RoleAssistant:
			return msgs[i].Content
		case message.RoleUser:
			return ""
		}
	}
	return ""
}
