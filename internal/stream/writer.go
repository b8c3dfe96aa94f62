package stream

import (
	"encoding/json"
	"fmt"
	"io"
)

// Writer emits records in the format Reader understands.
type Writer struct {
	w io.Writer
}

// NewWriter returns a Writer emitting to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Connected announces an open stream.
func (w *Writer) Connected() error {
	return w.record(map[string]string{"status": "connected"})
}

// Token emits one content increment.
func (w *Writer) Token(text string) error {
	return w.record(map[string]string{"content": text})
}

// Done emits the completion record carrying the full response, followed by
// the sentinel.
func (w *Writer) Done(response string) error {
	if err := w.record(map[string]any{"done": true, "response": response}); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w.w, "%s %s\n\n", recordPrefix, sentinel)
	return err
}

func (w *Writer) record(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w.w, "%s %s\n\n", recordPrefix, b)
	return err
}
