package eventstream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/mrzor/proctree/internal/procevent"
)

// maxLineSize bounds a single behavior log line. Command lines can be long.
const maxLineSize = 4 << 20

// LineError reports a behavior log line that did not yield an event.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// LogReader decodes a JSON-lines behavior log, one process event per line.
// Blank lines are skipped.
type LogReader struct {
	scanner *bufio.Scanner
	line    int
}

// NewLogReader returns a reader over r.
func NewLogReader(r io.Reader) *LogReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &LogReader{scanner: scanner}
}

// Next returns the next event. A *LineError means the line was skipped and
// reading may continue; io.EOF marks the end of input; any other error is a
// read failure.
func (l *LogReader) Next() (procevent.Event, error) {
	for l.scanner.Scan() {
		l.line++
		data := bytes.TrimSpace(l.scanner.Bytes())
		if len(data) == 0 {
			continue
		}

		ev, err := decodeLine(data)
		if err != nil {
			return procevent.Event{}, &LineError{Line: l.line, Err: err}
		}
		return ev, nil
	}

	if err := l.scanner.Err(); err != nil {
		return procevent.Event{}, fmt.Errorf("reading behavior log after line %d: %w", l.line, err)
	}
	return procevent.Event{}, io.EOF
}

func decodeLine(data []byte) (procevent.Event, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var rec procevent.Record
	if err := dec.Decode(&rec); err != nil {
		return procevent.Event{}, &procevent.MalformedError{Field: "record", Reason: err.Error()}
	}
	return procevent.FromRecord(rec)
}

// ReadAll decodes every line of r. Lines that fail to decode are returned
// as *LineError values alongside the events that did decode.
func ReadAll(r io.Reader) ([]procevent.Event, []error, error) {
	var (
		events  []procevent.Event
		skipped []error
	)

	lr := NewLogReader(r)
	for {
		ev, err := lr.Next()
		if err == nil {
			events = append(events, ev)
			continue
		}

		var lineErr *LineError
		switch {
		case errors.Is(err, io.EOF):
			return events, skipped, nil
		case errors.As(err, &lineErr):
			skipped = append(skipped, err)
		default:
			return events, skipped, err
		}
	}
}
