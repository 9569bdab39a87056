// proctree reconstructs the process genealogy of an analysis run, either from
// a recorded behavior log or by tracing a command live with eBPF.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel/trace"

	"github.com/mrzor/proctree/internal/config"
	"github.com/mrzor/proctree/internal/eventstream"
	"github.com/mrzor/proctree/internal/logging"
	"github.com/mrzor/proctree/internal/otel"
	"github.com/mrzor/proctree/internal/output"
	"github.com/mrzor/proctree/internal/proctree"
	"github.com/mrzor/proctree/internal/sink"
)

// Version information injected at build time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args, os.Stdin, os.Stdout, os.Stderr)
	stop()

	if errors.Is(err, pflag.ErrHelp) {
		_, usage, _ := strings.Cut(err.Error(), "\n")
		fmt.Fprint(os.Stdout, usage)
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	cfg, err := config.ParseArgs(args)
	if err != nil {
		return err
	}

	if cfg.ShowVersion {
		fmt.Fprintf(stdout, "proctree %s (commit: %s, built: %s)\n", version, commit, date)
		return nil
	}

	logger := logging.New(stderr, cfg.Logging.Level, cfg.Logging.Format)
	logger.Debug().Str("version", version).Str("commit", commit).Msg("starting proctree")

	opts := []proctree.Option{proctree.WithLogger(logger)}
	if cfg.RunID != "" {
		opts = append(opts, proctree.WithRunID(cfg.RunID))
	}
	engine := proctree.NewEngine(opts...)

	if cfg.Live {
		err = traceLive(ctx, cfg, engine, logger)
	} else {
		err = replay(cfg, engine, stdin, logger)
	}
	if err != nil {
		return err
	}

	forest := engine.Finalize()

	if err := writeForest(cfg, forest, stdout); err != nil {
		return err
	}

	if cfg.NATS.URL != "" {
		if err := publish(ctx, cfg.NATS, forest, logger); err != nil {
			return err
		}
	}

	if cfg.Telemetry.Enabled {
		if err := exportSpans(ctx, cfg.Telemetry, forest, logger); err != nil {
			return err
		}
	}

	return nil
}

// replay feeds a recorded behavior log to the engine. Undecodable lines and
// rejected events are logged and skipped.
func replay(cfg *config.Config, engine *proctree.Engine, stdin io.Reader, logger zerolog.Logger) error {
	in := stdin
	if cfg.Input != "-" {
		f, err := os.Open(cfg.Input)
		if err != nil {
			return fmt.Errorf("opening behavior log: %w", err)
		}
		defer func() {
			_ = f.Close() //nolint:errcheck // Read-only file
		}()
		in = f
	}

	events, skipped, err := eventstream.ReadAll(in)
	if err != nil {
		return err
	}
	for _, lineErr := range skipped {
		logger.Warn().Err(lineErr).Msg("skipping behavior log line")
	}

	if cfg.Sort {
		var buf eventstream.Buffer
		for _, ev := range events {
			buf.Add(ev)
		}
		events = buf.Drain()
	}

	for _, ev := range events {
		// the engine logs rejections itself
		_ = engine.Ingest(ev) //nolint:errcheck // rejected events are counted in Stats
	}

	stats := engine.Stats()
	logger.Debug().
		Int("lines_skipped", len(skipped)).
		Int("accepted", stats.Accepted).
		Int("rejected", stats.Rejected).
		Msg("behavior log replayed")
	return nil
}

func writeForest(cfg *config.Config, forest *proctree.Forest, stdout io.Writer) (err error) {
	w := stdout
	if cfg.Output != "" {
		f, err := os.Create(cfg.Output)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer func() {
			if closeErr := f.Close(); closeErr != nil && err == nil {
				err = fmt.Errorf("closing output file: %w", closeErr)
			}
		}()
		w = f
	}

	switch cfg.Format {
	case config.FormatTree:
		return output.WriteTree(w, forest)
	default:
		return output.WriteJSON(w, forest, cfg.Indent)
	}
}

func publish(ctx context.Context, cfg config.NATSConfig, forest *proctree.Forest, logger zerolog.Logger) error {
	p, err := sink.Connect(cfg, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return p.Publish(ctx, forest)
}

// setupOTEL initializes the OTEL provider and returns a tracer and cleanup function.
func setupOTEL(ctx context.Context, logger zerolog.Logger) (trace.Tracer, func(), error) {
	otelCfg, err := config.ParseOTELConfig()
	if err != nil {
		return nil, nil, err
	}

	tp, err := otel.InitProvider(ctx, otelCfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize OTEL provider: %w", err)
	}

	cleanup := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otel.ShutdownProvider(shutdownCtx, tp); err != nil {
			logger.Error().Err(err).Msg("shutting down OTEL provider")
		}
	}

	return tp.Tracer("proctree"), cleanup, nil
}

func exportSpans(ctx context.Context, cfg config.TelemetryConfig, forest *proctree.Forest, logger zerolog.Logger) error {
	tracer, cleanup, err := setupOTEL(ctx, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	formatter, err := output.NewOTELFormatter(tracer, cfg, logging.Component(logger, "otel"))
	if err != nil {
		return fmt.Errorf("failed to create OTEL formatter: %w", err)
	}

	traceID, err := formatter.Export(ctx, forest)
	if err != nil {
		return err
	}
	logger.Info().Stringer("trace_id", traceID).Msg("process tree exported as spans")
	return nil
}
