// Package bpfloader manages the lifecycle of the tracer eBPF programs and
// their kernel attachments.
package bpfloader

import (
	"errors"
	"fmt"

	"github.com/mrzor/proctree/internal/bpf"

	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/ringbuf"
)

// Loader manages the lifecycle of BPF programs and their attachments.
type Loader struct {
	objs            bpf.Objects
	execLink        link.Link
	execveEnterLink link.Link
	exitLink        link.Link
}

// New loads the compiled object at path into the kernel.
func New(path string) (*Loader, error) {
	l := &Loader{}

	if err := bpf.LoadObjects(path, &l.objs, nil); err != nil {
		return nil, fmt.Errorf("loading BPF objects: %w", err)
	}

	return l, nil
}

// closeErrorf closes all attached links and returns a formatted error.
func (l *Loader) closeErrorf(errstr string, e error) error {
	for _, lk := range []link.Link{l.exitLink, l.execveEnterLink, l.execLink} {
		if lk != nil {
			_ = lk.Close() //nolint:errcheck // Best-effort cleanup in error path
		}
	}
	l.execLink, l.execveEnterLink, l.exitLink = nil, nil, nil
	return fmt.Errorf("%s: %w", errstr, e)
}

// Attach attaches the BPF programs to their tracepoints.
func (l *Loader) Attach() error {
	var err error

	l.execLink, err = link.Tracepoint("sched", "sched_process_exec", l.objs.HandleExec, nil)
	if err != nil {
		return l.closeErrorf("attaching exec tracepoint", err)
	}

	// argv capture
	l.execveEnterLink, err = link.Tracepoint("syscalls", "sys_enter_execve", l.objs.TraceExecveEnter, nil)
	if err != nil {
		return l.closeErrorf("attaching sys_enter_execve tracepoint", err)
	}

	l.exitLink, err = link.Tracepoint("sched", "sched_process_exit", l.objs.HandleExit, nil)
	if err != nil {
		return l.closeErrorf("attaching exit tracepoint", err)
	}

	return nil
}

// OpenRingBuffer opens and returns a ring buffer reader for receiving events.
func (l *Loader) OpenRingBuffer() (*ringbuf.Reader, error) {
	rd, err := ringbuf.NewReader(l.objs.Rb)
	if err != nil {
		return nil, fmt.Errorf("opening ring buffer: %w", err)
	}
	return rd, nil
}

// TrackPID marks pid as monitored. The kernel side extends tracking to its
// descendants as they fork.
func (l *Loader) TrackPID(pid int) error {
	//nolint:gosec // int to uint32 conversion required for BPF map key type
	pidKey := uint32(pid)
	val := uint8(1)
	if err := l.objs.TrackedPids.Put(&pidKey, &val); err != nil {
		return fmt.Errorf("adding PID %d to tracked map: %w", pid, err)
	}
	return nil
}

// Close releases all BPF resources including links and loaded objects.
func (l *Loader) Close() error {
	var errs []error

	closers := []struct {
		name string
		link link.Link
	}{
		{"exit", l.exitLink},
		{"exec", l.execLink},
		{"execve enter", l.execveEnterLink},
	}
	for _, c := range closers {
		if c.link == nil {
			continue
		}
		if err := c.link.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s link: %w", c.name, err))
		}
	}

	if err := l.objs.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing BPF objects: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during cleanup: %w", errors.Join(errs...))
	}

	return nil
}
