// Package stream reads the chunked, newline-delimited event stream produced by
// the chat backend and turns it into token, done and cancelled events.
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// MaxRecordSize bounds a single record held in the carry-over buffer.
const MaxRecordSize = 1 << 20

const (
	recordPrefix = "data:"
	sentinel     = "[DONE]"
	readSize     = 4096
)

var (
	// ErrFinished is returned by Next once a terminal event was delivered.
	ErrFinished = errors.New("stream: already finished")
	// ErrRecordTooLarge is wrapped in an Error when a record exceeds MaxRecordSize.
	ErrRecordTooLarge = errors.New("stream: record too large")
)

// EventKind classifies an Event.
type EventKind int

const (
	EventToken EventKind = iota
	EventDone
	EventCancelled
)

func (k EventKind) String() string {
	switch k {
	case EventToken:
		return "token"
	case EventDone:
		return "done"
	case EventCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Event is one parsed signal. For EventToken Text is the increment, for
// EventDone the final full text and for EventCancelled the partial text
// received before the abort.
type Event struct {
	Kind EventKind
	Text string
}

// Error is a transport failure. Partial holds the content received before it.
type Error struct {
	Partial string
	Err     error
}

func (e *Error) Error() string {
	if e.Partial != "" {
		return fmt.Sprintf("stream error (partial content received: %d chars): %v", len(e.Partial), e.Err)
	}
	return fmt.Sprintf("stream error: %v", e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type payload struct {
	Content  *string `json:"content"`
	Status   string  `json:"status"`
	Done     bool    `json:"done"`
	Response *string `json:"response"`
}

// Reader yields events from a response body. It is not restartable and not
// safe for concurrent use.
type Reader struct {
	body     io.Reader
	carry    []byte
	chunk    []byte
	acc      strings.Builder
	eof      bool
	finished bool
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	return &Reader{body: r, chunk: make([]byte, readSize)}
}

// Accumulated returns the concatenation of every token seen so far.
func (r *Reader) Accumulated() string {
	return r.acc.String()
}

// Next returns the next event. A record is never parsed before its newline
// arrives, except for a trailing record at end of stream. Reaching end of
// stream without a completion record yields EventDone with the accumulated
// text. Cancellation of ctx yields EventCancelled, not an error.
func (r *Reader) Next(ctx context.Context) (Event, error) {
	if r.finished {
		return Event{}, ErrFinished
	}
	for {
		if ctx.Err() != nil {
			return r.finish(EventCancelled, r.acc.String()), nil
		}

		if i := bytes.IndexByte(r.carry, '\n'); i >= 0 {
			line := r.carry[:i]
			r.carry = r.carry[i+1:]
			if ev, ok := r.parse(line); ok {
				return ev, nil
			}
			continue
		}

		if r.eof {
			if len(r.carry) > 0 {
				line := r.carry
				r.carry = nil
				if ev, ok := r.parse(line); ok {
					return ev, nil
				}
			}
			return r.finish(EventDone, r.acc.String()), nil
		}

		if len(r.carry) > MaxRecordSize {
			r.finished = true
			return Event{}, &Error{Partial: r.acc.String(), Err: ErrRecordTooLarge}
		}

		n, err := r.body.Read(r.chunk)
		r.carry = append(r.carry, r.chunk[:n]...)
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			r.eof = true
			continue
		}
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return r.finish(EventCancelled, r.acc.String()), nil
		}
		r.finished = true
		return Event{}, &Error{Partial: r.acc.String(), Err: err}
	}
}

func (r *Reader) finish(kind EventKind, text string) Event {
	r.finished = true
	return Event{Kind: kind, Text: text}
}

// parse decodes one record. ok is false for records that carry no event:
// blanks, connection status and anything malformed.
func (r *Reader) parse(line []byte) (Event, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || !bytes.HasPrefix(line, []byte(recordPrefix)) {
		return Event{}, false
	}
	data := bytes.TrimSpace(line[len(recordPrefix):])
	if string(data) == sentinel {
		return r.finish(EventDone, r.acc.String()), true
	}

	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Event{}, false
	}
	switch {
	case p.Done:
		final := r.acc.String()
		if p.Response != nil && *p.Response != "" {
			final = *p.Response
		}
		return r.finish(EventDone, final), true
	case p.Content != nil:
		if *p.Content == "" {
			return Event{}, false
		}
		r.acc.WriteString(*p.Content)
		return Event{Kind: EventToken, Text: *p.Content}, true
	}
	return Event{}, false
}
