// Package bpf mirrors the records emitted by the process tracer eBPF program
// and loads its compiled object.
package bpf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"unsafe"

	"github.com/cilium/ebpf"
)

// Event type constants matching kernel/C conventions.
//
//nolint:revive,staticcheck // ALL_CAPS naming matches C/kernel conventions
const (
	EVENT_EXEC            = 1
	EVENT_EXIT            = 2
	EVENT_EXEC_ARGV_CHUNK = 5
)

// TypeOffset is where every record keeps its type byte, after
// pid, ppid, uid, padding and the 8-byte timestamp.
const TypeOffset = 24

// Event matches struct event from process_tracer.h.
type Event struct {
	Pid       uint32
	Ppid      uint32
	Uid       uint32 //nolint:revive // Matches kernel struct field naming
	Pad1      uint32 // Padding before timestamp to maintain 8-byte alignment
	Timestamp uint64 // CLOCK_MONOTONIC nanoseconds
	Type      uint8
	Pad2      [7]byte
	Data      EventData
}

// EventData is the C union; its interpretation depends on Event.Type.
type EventData struct {
	Raw [48]byte
}

// ProcessEventData matches the proc struct in the C union.
type ProcessEventData struct {
	ExitCode uint32
	CommRaw  [16]byte
}

// ProcessData extracts process fields from EXEC and EXIT events.
func (e *Event) ProcessData() *ProcessEventData {
	if e.Type != EVENT_EXEC && e.Type != EVENT_EXIT {
		return nil
	}
	//nolint:gosec // Unsafe required for eBPF C struct interop
	return (*ProcessEventData)(unsafe.Pointer(&e.Data))
}

// Comm returns the kernel task name without its NUL padding.
func (d *ProcessEventData) Comm() string {
	comm := d.CommRaw[:]
	if i := bytes.IndexByte(comm, 0); i >= 0 {
		comm = comm[:i]
	}
	return string(comm)
}

// ArgvChunkEvent carries part of the argv/envp block captured at
// sys_enter_execve. Data holds Argc NUL-terminated argv strings followed by
// the environment.
type ArgvChunkEvent struct {
	Pid       uint32
	Ppid      uint32
	Uid       uint32 //nolint:revive // Matches C struct field naming
	Pad1      uint32
	Timestamp uint64
	Type      uint8   // EVENT_EXEC_ARGV_CHUNK
	_         [7]byte // Padding (matches Event struct)
	ChunkID   uint32
	DataSize  uint32
	Argc      uint32
	IsFinal   uint8
	Truncated uint8
	_         [2]byte
	Data      [15000]byte
}

var errShortRecord = errors.New("record shorter than header")

// RecordType returns the type byte of a raw ring buffer sample.
func RecordType(raw []byte) (uint8, error) {
	if len(raw) <= TypeOffset {
		return 0, fmt.Errorf("%w: %d bytes", errShortRecord, len(raw))
	}
	return raw[TypeOffset], nil
}

// DecodeEvent decodes an EXEC or EXIT sample.
func DecodeEvent(raw []byte) (*Event, error) {
	var event Event
	if err := decode(raw, &event); err != nil {
		return nil, fmt.Errorf("parsing event: %w", err)
	}
	return &event, nil
}

// DecodeArgvChunk decodes an argv chunk sample. The kernel may submit only
// the used part of Data; the rest is zero.
func DecodeArgvChunk(raw []byte) (*ArgvChunkEvent, error) {
	var chunk ArgvChunkEvent
	if err := decode(raw, &chunk); err != nil {
		return nil, fmt.Errorf("parsing argv chunk: %w", err)
	}
	return &chunk, nil
}

func decode(raw []byte, out any) error {
	size := binary.Size(out)
	if len(raw) <= TypeOffset {
		return fmt.Errorf("%w: %d bytes", errShortRecord, len(raw))
	}
	if len(raw) < size {
		padded := make([]byte, size)
		copy(padded, raw)
		raw = padded
	}
	return binary.Read(bytes.NewReader(raw), binary.LittleEndian, out)
}

// Objects holds the programs and maps of the compiled tracer object.
type Objects struct {
	HandleExec       *ebpf.Program `ebpf:"handle_exec"`
	HandleExit       *ebpf.Program `ebpf:"handle_exit"`
	TraceExecveEnter *ebpf.Program `ebpf:"trace_execve_enter"`
	Rb               *ebpf.Map     `ebpf:"rb"`
	TrackedPids      *ebpf.Map     `ebpf:"tracked_pids"`
}

// LoadObjects loads the ELF object at path into the kernel and assigns its
// programs and maps to objs.
func LoadObjects(path string, objs *Objects, opts *ebpf.CollectionOptions) error {
	spec, err := ebpf.LoadCollectionSpec(path)
	if err != nil {
		return fmt.Errorf("loading collection spec %s: %w", path, err)
	}
	if err := spec.LoadAndAssign(objs, opts); err != nil {
		return fmt.Errorf("assigning BPF objects: %w", err)
	}
	return nil
}

// Close releases every loaded program and map.
func (o *Objects) Close() error {
	var errs []error
	for _, c := range []interface{ Close() error }{o.HandleExec, o.HandleExit, o.TraceExecveEnter, o.Rb, o.TrackedPids} {
		if isNil(c) {
			continue
		}
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func isNil(c interface{ Close() error }) bool {
	switch v := c.(type) {
	case *ebpf.Program:
		return v == nil
	case *ebpf.Map:
		return v == nil
	}
	return c == nil
}
