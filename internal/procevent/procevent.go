// Package procevent defines the validated process-creation event consumed by the
// tree reconstruction engine, and the raw record shape it is decoded from.
package procevent

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

// ErrMalformed is matched by every record validation failure.
var ErrMalformed = errors.New("malformed process event")

// Event is a single process-creation observation.
// PID is not unique over the lifetime of a guest; Sequence is.
type Event struct {
	PID         uint32
	PPID        uint32
	ProcessName string
	CommandLine string
	Sequence    uint64
	Monitored   bool
	FirstSeen   time.Time // zero when the source has no wall-clock time
}

func (e Event) String() string {
	return fmt.Sprintf("seq=%d pid=%d ppid=%d name=%q", e.Sequence, e.PID, e.PPID, e.ProcessName)
}

// Record is the raw shape emitted by the in-guest monitor, one per process.
type Record struct {
	PID         json.Number `json:"pid"`
	PPID        json.Number `json:"ppid"`
	ProcessName string      `json:"process_name"`
	CommandLine string      `json:"command_line"`
	Sequence    *uint64     `json:"sequence"`
	FirstSeen   float64     `json:"first_seen,omitempty"` // seconds since the epoch
	Track       *bool       `json:"track,omitempty"`
	Monitored   *bool       `json:"monitored,omitempty"` // alias for track
}

// MalformedError identifies the field that made a record unusable.
type MalformedError struct {
	Field  string
	Value  string
	Reason string
}

func (e *MalformedError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s: %s %s", ErrMalformed, e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: %s %q %s", ErrMalformed, e.Field, e.Value, e.Reason)
}

func (e *MalformedError) Unwrap() error {
	return ErrMalformed
}

// FromRecord validates a raw record and converts it into an Event.
func FromRecord(r Record) (Event, error) {
	pid, err := parseID("pid", r.PID)
	if err != nil {
		return Event{}, err
	}
	ppid, err := parseID("ppid", r.PPID)
	if err != nil {
		return Event{}, err
	}
	if r.Sequence == nil {
		return Event{}, &MalformedError{Field: "sequence", Reason: "is missing"}
	}

	ev := Event{
		PID:         pid,
		PPID:        ppid,
		ProcessName: r.ProcessName,
		CommandLine: r.CommandLine,
		Sequence:    *r.Sequence,
	}

	switch {
	case r.Track != nil:
		ev.Monitored = *r.Track
	case r.Monitored != nil:
		ev.Monitored = *r.Monitored
	}

	if r.FirstSeen > 0 {
		sec, frac := math.Modf(r.FirstSeen)
		ev.FirstSeen = time.Unix(int64(sec), int64(frac*1e9)).UTC()
	}

	return ev, nil
}

// parseID accepts an unsigned integer that fits in 32 bits.
func parseID(field string, n json.Number) (uint32, error) {
	if n == "" {
		return 0, &MalformedError{Field: field, Reason: "is missing"}
	}
	v, err := strconv.ParseUint(n.String(), 10, 32)
	if err != nil {
		return 0, &MalformedError{Field: field, Value: n.String(), Reason: "is not a 32-bit unsigned integer"}
	}
	return uint32(v), nil
}
