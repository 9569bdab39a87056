package eventprocessor

import (
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mrzor/proctree/internal/bpf"
	"github.com/mrzor/proctree/internal/envreassembler"
	"github.com/mrzor/proctree/internal/procevent"
)

// EventHandler is the interface for handling BPF records from the ring buffer.
type EventHandler interface {
	HandleEvent(event *bpf.Event) error
	HandleArgvChunk(chunk *bpf.ArgvChunkEvent) error
}

// ProcessEventHandler receives process creations in arrival order.
// *proctree.Engine satisfies it.
type ProcessEventHandler interface {
	Ingest(event procevent.Event) error
}

// Clock converts kernel timestamps to wall-clock time.
type Clock interface {
	MonotonicToWallClock(monotonicNanos uint64) time.Time
}

// Processor turns kernel records into process events.
// It is not safe for concurrent use; the stream calls it from one goroutine.
type Processor struct {
	chunkReassembler *envreassembler.ChunkReassembler
	pendingArgs      map[uint32]*envreassembler.ReassembledArgs
	clock            Clock
	processHandler   ProcessEventHandler
	logger           zerolog.Logger
	sequence         uint64
}

// NewProcessor creates a new event processor.
func NewProcessor(clock Clock, processHandler ProcessEventHandler, logger zerolog.Logger) *Processor {
	return &Processor{
		chunkReassembler: envreassembler.NewChunkReassembler(),
		pendingArgs:      make(map[uint32]*envreassembler.ReassembledArgs),
		clock:            clock,
		processHandler:   processHandler,
		logger:           logger,
	}
}

// HandleEvent routes events by type.
func (p *Processor) HandleEvent(event *bpf.Event) error {
	switch event.Type {
	case bpf.EVENT_EXEC:
		return p.handleExec(event)
	case bpf.EVENT_EXIT:
		p.handleExit(event)
		return nil
	default:
		// Unknown event type - ignore
		return nil
	}
}

// HandleArgvChunk buffers argv captured at execve entry until the matching
// EXEC record arrives.
func (p *Processor) HandleArgvChunk(chunk *bpf.ArgvChunkEvent) error {
	result, err := p.chunkReassembler.HandleChunk(chunk)
	if err != nil {
		return err
	}

	if result != nil {
		if len(result.Issues) > 0 {
			p.logger.Debug().
				Uint32("pid", chunk.Pid).
				Strs("issues", result.Issues).
				Msg("incomplete argument capture")
		}
		p.pendingArgs[chunk.Pid] = result
	}

	return nil
}

// Sequence returns the number of EXEC records turned into events so far.
func (p *Processor) Sequence() uint64 {
	return p.sequence
}

// handleExec emits one process event. Every process the kernel reports is
// a descendant of a tracked PID, so it is monitored.
func (p *Processor) handleExec(event *bpf.Event) error {
	name := ""
	if data := event.ProcessData(); data != nil {
		name = data.Comm()
	}

	cmdline := name
	if args, ok := p.pendingArgs[event.Pid]; ok {
		if len(args.Args) > 0 {
			cmdline = strings.Join(args.Args, " ")
		}
		delete(p.pendingArgs, event.Pid)
	}

	ev := procevent.Event{
		PID:         event.Pid,
		PPID:        event.Ppid,
		ProcessName: name,
		CommandLine: cmdline,
		Sequence:    p.sequence,
		Monitored:   true,
		FirstSeen:   p.clock.MonotonicToWallClock(event.Timestamp),
	}
	p.sequence++

	return p.processHandler.Ingest(ev)
}

// handleExit drops argv captured for an execve that failed before exec.
func (p *Processor) handleExit(event *bpf.Event) {
	delete(p.pendingArgs, event.Pid)

	if data := event.ProcessData(); data != nil {
		p.logger.Debug().
			Uint32("pid", event.Pid).
			Uint32("exit_code", data.ExitCode).
			Str("comm", data.Comm()).
			Msg("process exited")
	}

	if cleaned := p.chunkReassembler.Cleanup(staleChunkAge); cleaned > 0 {
		p.logger.Debug().Int("buffers", cleaned).Msg("discarded stale argument chunks")
	}
}

const staleChunkAge = 30 * time.Second
