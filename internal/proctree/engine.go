package proctree

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mrzor/proctree/internal/pidtable"
	"github.com/mrzor/proctree/internal/procevent"
)

var (
	// ErrFinalized is returned by Ingest once Finalize has been called.
	ErrFinalized = errors.New("engine already finalized")

	// ErrOutOfOrder marks an event whose sequence does not follow the last
	// accepted one. Equal sequences are out of order too.
	ErrOutOfOrder = errors.New("event sequence not increasing")
)

// MalformedEventError reports an event the engine refused. The engine stays
// usable afterwards.
type MalformedEventError struct {
	Event        procevent.Event
	LastSequence uint64
	Err          error
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("rejecting event %s (last accepted seq=%d): %v", e.Event, e.LastSequence, e.Err)
}

func (e *MalformedEventError) Unwrap() error {
	return e.Err
}

// Stats summarizes what an engine has seen so far.
type Stats struct {
	Accepted int
	Rejected int
	Roots    int
	Recycled int // events whose PID superseded an earlier holder
}

// Engine builds a Forest from process events. It is not safe for concurrent
// use; a run owns exactly one Engine.
type Engine struct {
	runID  string
	logger zerolog.Logger

	table  *pidtable.Table[*Node]
	roots  []*Node
	forest *Forest

	lastSeq  uint64
	accepted int
	rejected int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithRunID overrides the generated run identifier.
func WithRunID(id string) Option {
	return func(e *Engine) {
		e.runID = id
	}
}

// NewEngine creates an engine for a single analysis run.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		runID:  uuid.NewString(),
		logger: zerolog.Nop(),
		table:  pidtable.New[*Node](),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With().Str("component", "proctree").Str("run_id", e.runID).Logger()
	return e
}

// RunID returns the identifier stamped on the finalized forest.
func (e *Engine) RunID() string {
	return e.runID
}

// Ingest adds one event to the tree.
// Events must arrive in strictly increasing Sequence order.
func (e *Engine) Ingest(ev procevent.Event) error {
	if e.forest != nil {
		e.logger.Error().Stringer("event", ev).Msg("ingest called after finalize")
		return fmt.Errorf("ingesting %s: %w", ev, ErrFinalized)
	}

	if e.accepted > 0 && ev.Sequence <= e.lastSeq {
		e.rejected++
		err := &MalformedEventError{Event: ev, LastSequence: e.lastSeq, Err: ErrOutOfOrder}
		e.logger.Warn().Err(err).Msg("event rejected")
		return err
	}

	node := newNode(ev)

	if parent, ok := e.table.Resolve(ev.PPID); ok {
		parent.attach(node)
	} else {
		e.roots = append(e.roots, node)
	}

	if prev, superseded := e.table.Register(ev.PID, node); superseded {
		e.logger.Debug().
			Uint32("pid", ev.PID).
			Uint64("previous_seq", prev.Sequence).
			Uint64("seq", ev.Sequence).
			Msg("process identifier recycled")
	}

	e.lastSeq = ev.Sequence
	e.accepted++
	return nil
}

// Finalize stops ingestion and returns the forest. Calling it again returns
// the same forest.
func (e *Engine) Finalize() *Forest {
	if e.forest != nil {
		return e.forest
	}

	e.forest = &Forest{
		RunID: e.runID,
		Roots: e.roots,
	}

	// Back-references are only needed while attaching.
	e.forest.Walk(func(n *Node, _ int) bool {
		n.parent = nil
		return true
	})

	e.logger.Info().
		Int("processes", e.accepted).
		Int("rejected", e.rejected).
		Int("roots", len(e.roots)).
		Int("recycled", e.table.Recycled()).
		Msg("process tree finalized")

	return e.forest
}

// Stats returns counters for the run so far.
func (e *Engine) Stats() Stats {
	return Stats{
		Accepted: e.accepted,
		Rejected: e.rejected,
		Roots:    len(e.roots),
		Recycled: e.table.Recycled(),
	}
}

// Build ingests events in order and finalizes. Rejected events are returned
// alongside the forest built from the rest.
func Build(events []procevent.Event, opts ...Option) (*Forest, []error) {
	e := NewEngine(opts...)

	var errs []error
	for _, ev := range events {
		if err := e.Ingest(ev); err != nil {
			errs = append(errs, err)
		}
	}

	return e.Finalize(), errs
}
