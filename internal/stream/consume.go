package stream

import (
	"context"
	"io"
)

// Outcome is how a consumed stream ended.
type Outcome int

const (
	OutcomeDone Outcome = iota
	OutcomeCancelled
)

// Result is the terminal state of a consumed stream.
type Result struct {
	Outcome Outcome
	Text    string
}

// Consume drains r, calling onToken for every token in arrival order.
// Transport failures are returned as *Error.
func Consume(ctx context.Context, r io.Reader, onToken func(string)) (Result, error) {
	reader := NewReader(r)
	for {
		ev, err := reader.Next(ctx)
		if err != nil {
			return Result{}, err
		}
		switch ev.Kind {
		case EventToken:
			if onToken != nil {
				onToken(ev.Text)
			}
		case EventDone:
			return Result{Outcome: OutcomeDone, Text: ev.Text}, nil
		case EventCancelled:
			return Result{Outcome: OutcomeCancelled, Text: ev.Text}, nil
		}
	}
}
