package output

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/mrzor/proctree/internal/config"
	"github.com/mrzor/proctree/internal/procevent"
	"github.com/mrzor/proctree/internal/proctree"
)

func newRecorder(t *testing.T) (*tracetest.SpanRecorder, trace.Tracer) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) }) //nolint:errcheck // test cleanup
	return sr, tp.Tracer("proctree-test")
}

func attr(span sdktrace.ReadOnlySpan, key string) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func timedScenario() []procevent.Event {
	evs := scenario()
	base := time.Unix(1700000000, 0)
	for i := range evs {
		evs[i].FirstSeen = base.Add(time.Duration(i) * time.Second)
	}
	return evs
}

func TestOTELFormatter_SpansMirrorTree(t *testing.T) {
	sr, tracer := newRecorder(t)
	f, err := NewOTELFormatter(tracer, config.TelemetryConfig{}, zerolog.Nop())
	require.NoError(t, err)

	forest := buildForest(t, timedScenario())
	traceID, err := f.Export(context.Background(), forest)
	require.NoError(t, err)
	assert.True(t, traceID.IsValid())

	spans := sr.Ended()
	require.Len(t, spans, forest.Len()+1)

	var run sdktrace.ReadOnlySpan
	pidBySpan := map[trace.SpanID]int64{}
	for _, s := range spans {
		assert.Equal(t, traceID, s.SpanContext().TraceID(), "all spans share one trace")
		if s.Name() == RunSpanName {
			run = s
			continue
		}
		pid, ok := attr(s, "process.pid")
		require.True(t, ok)
		pidBySpan[s.SpanContext().SpanID()] = pid.AsInt64()
	}
	require.NotNil(t, run)

	v, _ := attr(run, "sandbox.run_id")
	assert.Equal(t, "serializer", v.AsString())
	v, _ = attr(run, "sandbox.root_count")
	assert.Equal(t, int64(3), v.AsInt64())
	v, _ = attr(run, "sandbox.tree_depth")
	assert.Equal(t, int64(4), v.AsInt64())

	roots := 0
	for _, s := range spans {
		if s.Name() != ProcessSpanName {
			continue
		}
		if s.Parent().SpanID() == run.SpanContext().SpanID() {
			roots++
			continue
		}
		ppid, _ := attr(s, "process.parent_pid")
		assert.Equal(t, ppid.AsInt64(), pidBySpan[s.Parent().SpanID()],
			"non-root span is parented to the span of its parent process")
	}
	assert.Equal(t, 3, roots)

	assert.True(t, run.StartTime().Equal(time.Unix(1700000000, 0)))
	assert.True(t, run.EndTime().Equal(time.Unix(1700000008, 0)))
}

func TestOTELFormatter_SpanEndsAtLatestDescendant(t *testing.T) {
	sr, tracer := newRecorder(t)
	f, err := NewOTELFormatter(tracer, config.TelemetryConfig{}, zerolog.Nop())
	require.NoError(t, err)

	_, err = f.Export(context.Background(), buildForest(t, timedScenario()))
	require.NoError(t, err)

	for _, s := range sr.Ended() {
		pid, _ := attr(s, "process.pid")
		if pid.AsInt64() == 2624 {
			// 2308 is the last descendant to appear, at sequence 8
			assert.True(t, s.EndTime().Equal(time.Unix(1700000008, 0)))
			assert.True(t, s.StartTime().Equal(time.Unix(1700000001, 0)))
		}
	}
}

func TestOTELFormatter_TraceAndParentOverride(t *testing.T) {
	sr, tracer := newRecorder(t)
	f, err := NewOTELFormatter(tracer, config.TelemetryConfig{
		TraceID:  `"0123456789abcdef0123456789abcdef"`,
		ParentID: `"00f067aa0ba902b7"`,
	}, zerolog.Nop())
	require.NoError(t, err)

	traceID, err := f.Export(context.Background(), buildForest(t, scenario()))
	require.NoError(t, err)
	assert.Equal(t, "0123456789abcdef0123456789abcdef", traceID.String())

	for _, s := range sr.Ended() {
		assert.Equal(t, traceID, s.SpanContext().TraceID())
		if s.Name() == RunSpanName {
			assert.Equal(t, "00f067aa0ba902b7", s.Parent().SpanID().String())
			assert.True(t, s.Parent().IsRemote())
		}
	}
}

func TestOTELFormatter_InvalidTraceIDIsHashed(t *testing.T) {
	sr, tracer := newRecorder(t)
	f, err := NewOTELFormatter(tracer, config.TelemetryConfig{TraceID: `"run-" + run_id`}, zerolog.Nop())
	require.NoError(t, err)

	traceID, err := f.Export(context.Background(), buildForest(t, scenario()))
	require.NoError(t, err)
	assert.True(t, traceID.IsValid())

	for _, s := range sr.Ended() {
		if s.Name() == RunSpanName {
			v, ok := attr(s, "_trace_id_expr_result")
			require.True(t, ok)
			assert.Equal(t, "run-serializer", v.AsString())
		}
	}
}

func TestOTELFormatter_CustomAttributes(t *testing.T) {
	sr, tracer := newRecorder(t)
	f, err := NewOTELFormatter(tracer, config.TelemetryConfig{
		Attributes: []config.CustomAttribute{
			{Name: "proc.label", Expression: `name + "@" + string(depth)`},
			{Name: "proc.third_arg", Expression: `args[2]`},
		},
	}, zerolog.Nop())
	require.NoError(t, err)

	evs := []procevent.Event{
		{PID: 1, PPID: 0, ProcessName: "init", CommandLine: "init", Sequence: 0, Monitored: true},
		{PID: 2, PPID: 1, ProcessName: "sh", CommandLine: "sh -c id", Sequence: 1, Monitored: true},
	}
	_, err = f.Export(context.Background(), buildForest(t, evs))
	require.NoError(t, err)

	for _, s := range sr.Ended() {
		pid, _ := attr(s, "process.pid")
		switch pid.AsInt64() {
		case 1:
			label, _ := attr(s, "proc.label")
			assert.Equal(t, "init@1", label.AsString())
			_, failed := attr(s, "_tracing_error_0")
			assert.True(t, failed, "args[2] is out of range for a single-word command line")
		case 2:
			label, _ := attr(s, "proc.label")
			assert.Equal(t, "sh@2", label.AsString())
			third, _ := attr(s, "proc.third_arg")
			assert.Equal(t, "id", third.AsString())
		}
	}
}

func TestOTELFormatter_EmptyForest(t *testing.T) {
	sr, tracer := newRecorder(t)
	f, err := NewOTELFormatter(tracer, config.TelemetryConfig{}, zerolog.Nop())
	require.NoError(t, err)

	traceID, err := f.Export(context.Background(), proctree.NewEngine().Finalize())
	require.NoError(t, err)
	assert.False(t, traceID.IsValid())
	assert.Empty(t, sr.Ended())
}

func TestNewOTELFormatter_CompileErrors(t *testing.T) {
	_, tracer := newRecorder(t)

	_, err := NewOTELFormatter(tracer, config.TelemetryConfig{TraceID: "pid +"}, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewOTELFormatter(tracer, config.TelemetryConfig{
		Attributes: []config.CustomAttribute{{Name: "x", Expression: "unknown_var"}},
	}, zerolog.Nop())
	assert.Error(t, err)
}
