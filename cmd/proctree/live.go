package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/cilium/ebpf/ringbuf"
	"github.com/rs/zerolog"

	"github.com/mrzor/proctree/internal/bpfloader"
	"github.com/mrzor/proctree/internal/config"
	"github.com/mrzor/proctree/internal/eventprocessor"
	"github.com/mrzor/proctree/internal/eventstream"
	"github.com/mrzor/proctree/internal/logging"
	"github.com/mrzor/proctree/internal/proctree"
	"github.com/mrzor/proctree/internal/timesync"
)

// drainTimeout lets records submitted just before the command exited reach
// the ring buffer reader.
const drainTimeout = 500 * time.Millisecond

// setupBPF loads the BPF program, attaches tracepoints, and opens the ring
// buffer. The caller owns the reader; cleanup releases the loader.
func setupBPF(objectPath string, logger zerolog.Logger) (*bpfloader.Loader, *ringbuf.Reader, func(), error) {
	loader, err := bpfloader.New(objectPath)
	if err != nil {
		return nil, nil, nil, err
	}

	if err := loader.Attach(); err != nil {
		if closeErr := loader.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("closing loader after attach failure")
		}
		return nil, nil, nil, err
	}

	rd, err := loader.OpenRingBuffer()
	if err != nil {
		if closeErr := loader.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("closing loader after ring buffer open failure")
		}
		return nil, nil, nil, err
	}

	cleanup := func() {
		if err := loader.Close(); err != nil {
			logger.Error().Err(err).Msg("closing loader")
		}
	}

	return loader, rd, cleanup, nil
}

// traceLive runs the configured command under eBPF tracing and feeds every
// process it creates to engine.
func traceLive(ctx context.Context, cfg *config.Config, engine *proctree.Engine, logger zerolog.Logger) error {
	loader, rd, cleanupBPF, err := setupBPF(cfg.BPFObject, logger)
	if err != nil {
		return err
	}
	defer cleanupBPF()

	converter, err := timesync.NewConverter()
	if err != nil {
		return fmt.Errorf("failed to create time converter: %w", err)
	}

	processor := eventprocessor.NewProcessor(converter, engine, logging.Component(logger, "processor"))
	stream := eventstream.New(rd, processor, logging.Component(logger, "stream"))
	stream.Start(ctx)

	cmdErr := executeCommand(ctx, cfg, loader, logger)

	// Give the ring buffer time to drain
	select {
	case <-time.After(drainTimeout):
	case <-ctx.Done():
	}
	stream.Stop()

	logger.Debug().Uint64("exec_records", processor.Sequence()).Msg("live tracing stopped")
	return cmdErr
}

// executeCommand starts the target command and waits for it, or for ctx to
// be cancelled by a signal.
func executeCommand(ctx context.Context, cfg *config.Config, loader *bpfloader.Loader, logger zerolog.Logger) error {
	//nolint:gosec // This is a tracer tool - launching subprocesses is its purpose
	cmd := exec.Command(cfg.Command, cfg.Args...)
	// stdout carries the tree
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin

	// Add our PID to tracked map before starting child
	if err := loader.TrackPID(os.Getpid()); err != nil {
		return err
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting command: %w", err)
	}

	childPid := cmd.Process.Pid
	if err := loader.TrackPID(childPid); err != nil {
		_ = cmd.Process.Kill() //nolint:errcheck // Best-effort cleanup in error path
		return err
	}

	logger.Info().Int("pid", childPid).Str("command", cfg.Command).Msg("tracing process tree")

	childDone := make(chan error, 1)
	go func() {
		childDone <- cmd.Wait()
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("received signal, terminating traced command")
		_ = cmd.Process.Signal(syscall.SIGTERM) //nolint:errcheck // Best-effort graceful shutdown; Kill() follows
		select {
		case <-childDone:
		case <-time.After(100 * time.Millisecond):
			_ = cmd.Process.Kill() //nolint:errcheck // Best-effort cleanup during shutdown
			<-childDone
		}
	case err := <-childDone:
		if err != nil {
			logger.Warn().Err(err).Msg("traced command exited with error")
		}
	}

	return nil
}
