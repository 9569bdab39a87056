package attributes

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

func TestTraceIDEvaluator_ValidHex(t *testing.T) {
	evaluator, err := NewTraceIDEvaluator(`"0123456789abcdef0123456789abcdef"`)
	if err != nil {
		t.Fatalf("NewTraceIDEvaluator() error = %v", err)
	}

	traceID, warnings, err := evaluator.EvaluateAndValidate(NodeEnv("run", sampleNode(), 0))
	if err != nil {
		t.Fatalf("EvaluateAndValidate() error = %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("Expected no warnings for valid trace ID, got %d", len(warnings))
	}

	expected, _ := trace.TraceIDFromHex("0123456789abcdef0123456789abcdef")
	if traceID != expected {
		t.Errorf("traceID = %v, want %v", traceID, expected)
	}
}

func TestTraceIDEvaluator_HashesRunID(t *testing.T) {
	evaluator, err := NewTraceIDEvaluator(`run_id`)
	if err != nil {
		t.Fatalf("NewTraceIDEvaluator() error = %v", err)
	}

	traceID, warnings, err := evaluator.EvaluateAndValidate(NodeEnv("task-1234", sampleNode(), 0))
	if err != nil {
		t.Fatalf("EvaluateAndValidate() error = %v", err)
	}

	hash := sha256.Sum256([]byte("task-1234"))
	expected, _ := trace.TraceIDFromHex(hex.EncodeToString(hash[:16]))
	if traceID != expected {
		t.Errorf("traceID = %v, want %v", traceID, expected)
	}

	if len(warnings) != 2 {
		t.Fatalf("Expected 2 warnings, got %d", len(warnings))
	}
	if warnings[0].Value.AsString() != "task-1234" {
		t.Errorf("warning[0] = %q, want task-1234", warnings[0].Value.AsString())
	}
}

func TestTraceIDEvaluator_Empty(t *testing.T) {
	evaluator, err := NewTraceIDEvaluator("")
	if err != nil {
		t.Fatalf("NewTraceIDEvaluator() error = %v", err)
	}

	traceID, warnings, err := evaluator.EvaluateAndValidate(nil)
	if err != nil || warnings != nil || traceID.IsValid() {
		t.Errorf("EvaluateAndValidate() = %v, %v, %v; want zero ID", traceID, warnings, err)
	}
}

func TestTraceIDEvaluator_CompileError(t *testing.T) {
	if _, err := NewTraceIDEvaluator(`nope(`); err == nil {
		t.Error("Expected compile error")
	}
}

func TestParentIDEvaluator_Valid(t *testing.T) {
	evaluator, err := NewParentIDEvaluator(`"0123456789abcdef"`)
	if err != nil {
		t.Fatalf("NewParentIDEvaluator() error = %v", err)
	}

	spanID, warnings, err := evaluator.EvaluateAndValidate(NodeEnv("run", sampleNode(), 0))
	if err != nil {
		t.Fatalf("EvaluateAndValidate() error = %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("Expected no warnings, got %v", warnings)
	}

	expected, _ := trace.SpanIDFromHex("0123456789abcdef")
	if spanID != expected {
		t.Errorf("spanID = %v, want %v", spanID, expected)
	}
}

func TestParentIDEvaluator_Invalid(t *testing.T) {
	evaluator, err := NewParentIDEvaluator(`name`)
	if err != nil {
		t.Fatalf("NewParentIDEvaluator() error = %v", err)
	}

	spanID, warnings, err := evaluator.EvaluateAndValidate(NodeEnv("run", sampleNode(), 0))
	if err != nil {
		t.Fatalf("EvaluateAndValidate() error = %v", err)
	}
	if spanID.IsValid() {
		t.Errorf("spanID = %v, want zero", spanID)
	}
	if len(warnings) != 2 {
		t.Errorf("Expected 2 warnings, got %d", len(warnings))
	}
}

func TestParentIDEvaluator_Empty(t *testing.T) {
	evaluator, err := NewParentIDEvaluator("")
	if err != nil {
		t.Fatalf("NewParentIDEvaluator() error = %v", err)
	}

	spanID, _, err := evaluator.EvaluateAndValidate(nil)
	if err != nil || spanID.IsValid() {
		t.Errorf("EvaluateAndValidate() = %v, %v; want zero ID", spanID, err)
	}
}
