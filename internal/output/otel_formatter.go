package output

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mrzor/proctree/internal/attributes"
	"github.com/mrzor/proctree/internal/config"
	"github.com/mrzor/proctree/internal/proctree"
)

// Span names.
const (
	RunSpanName     = "process.tree"
	ProcessSpanName = "process.exec"
)

// OTELFormatter exports a finalized forest as one trace: a run span whose
// children mirror the process tree.
type OTELFormatter struct {
	tracer   trace.Tracer
	attrs    *attributes.Evaluator
	traceID  *attributes.TraceIDEvaluator
	parentID *attributes.ParentIDEvaluator
	logger   zerolog.Logger
	now      func() time.Time
}

// NewOTELFormatter compiles the trace ID, parent ID and custom attribute
// expressions of cfg.
func NewOTELFormatter(tracer trace.Tracer, cfg config.TelemetryConfig, logger zerolog.Logger) (*OTELFormatter, error) {
	traceID, err := attributes.NewTraceIDEvaluator(cfg.TraceID)
	if err != nil {
		return nil, err
	}
	parentID, err := attributes.NewParentIDEvaluator(cfg.ParentID)
	if err != nil {
		return nil, err
	}
	attrs, err := attributes.NewEvaluator(cfg.Attributes)
	if err != nil {
		return nil, err
	}

	return &OTELFormatter{
		tracer:   tracer,
		attrs:    attrs,
		traceID:  traceID,
		parentID: parentID,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Export emits the spans of forest and returns the trace ID they share.
// Trace and parent ID expressions see the first root. An empty forest emits
// nothing.
func (f *OTELFormatter) Export(ctx context.Context, forest *proctree.Forest) (trace.TraceID, error) {
	if len(forest.Roots) == 0 {
		f.logger.Debug().Str("run_id", forest.RunID).Msg("empty process tree, no spans exported")
		return trace.TraceID{}, nil
	}

	env := attributes.NodeEnv(forest.RunID, forest.Roots[0], 1)

	traceID, traceWarnings, err := f.traceID.EvaluateAndValidate(env)
	if err != nil {
		return trace.TraceID{}, err
	}
	parentID, parentWarnings, err := f.parentID.EvaluateAndValidate(env)
	if err != nil {
		return trace.TraceID{}, err
	}

	if traceID.IsValid() {
		parentSpanCtx := trace.NewSpanContext(trace.SpanContextConfig{
			TraceID:    traceID,
			SpanID:     parentID,
			TraceFlags: trace.FlagsSampled,
			Remote:     true,
		})
		ctx = trace.ContextWithRemoteSpanContext(ctx, parentSpanCtx)
	}

	start := f.earliest(forest)
	runAttrs := []attribute.KeyValue{
		attribute.String("sandbox.run_id", forest.RunID),
		attribute.Int("sandbox.process_count", forest.Len()),
		attribute.Int("sandbox.root_count", len(forest.Roots)),
		attribute.Int("sandbox.tree_depth", forest.MaxDepth()),
	}
	runAttrs = append(runAttrs, traceWarnings...)
	runAttrs = append(runAttrs, parentWarnings...)

	runCtx, runSpan := f.tracer.Start(ctx, RunSpanName,
		trace.WithTimestamp(start),
		trace.WithAttributes(runAttrs...),
	)

	end := start
	for _, root := range forest.Roots {
		if t := f.exportNode(runCtx, forest.RunID, root, 1); t.After(end) {
			end = t
		}
	}

	runSpan.SetStatus(codes.Ok, "")
	runSpan.End(trace.WithTimestamp(end))

	return runSpan.SpanContext().TraceID(), nil
}

// exportNode starts the span of n, exports its subtree beneath it and ends
// it at the latest start time in the subtree.
func (f *OTELFormatter) exportNode(ctx context.Context, runID string, n *proctree.Node, depth int) time.Time {
	start := n.FirstSeen
	if start.IsZero() {
		start = f.now()
	}

	attrs := []attribute.KeyValue{
		attribute.Int("process.pid", int(n.PID)),
		attribute.Int("process.parent_pid", int(n.PPID)),
		attribute.String("process.executable.name", n.ProcessName),
		attribute.String("process.command_line", n.CommandLine),
		attribute.Bool("sandbox.monitored", n.Monitored),
		//nolint:gosec // sequences stay far below MaxInt64
		attribute.Int64("sandbox.sequence", int64(n.Sequence)),
		attribute.Int("sandbox.depth", depth),
	}

	custom, err := f.attrs.Evaluate(attributes.NodeEnv(runID, n, depth))
	attrs = append(attrs, custom...)
	if err != nil {
		f.logger.Warn().Err(err).Uint32("pid", n.PID).Msg("custom attribute evaluation failed")
		attrs = append(attrs, attribute.String("_tracing_error_0", err.Error()))
	}

	ctx, span := f.tracer.Start(ctx, ProcessSpanName,
		trace.WithTimestamp(start),
		trace.WithAttributes(attrs...),
	)

	end := start
	for _, child := range n.Children {
		if t := f.exportNode(ctx, runID, child, depth+1); t.After(end) {
			end = t
		}
	}

	span.End(trace.WithTimestamp(end))
	return end
}

// earliest returns the first known start time in forest, or now.
func (f *OTELFormatter) earliest(forest *proctree.Forest) time.Time {
	var first time.Time
	forest.Walk(func(n *proctree.Node, _ int) bool {
		if !n.FirstSeen.IsZero() && (first.IsZero() || n.FirstSeen.Before(first)) {
			first = n.FirstSeen
		}
		return true
	})
	if first.IsZero() {
		return f.now()
	}
	return first
}

