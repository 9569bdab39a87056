// Package attributes evaluates user expressions against process tree nodes
// to produce span attributes, trace IDs and parent span IDs.
//
// Expressions use the expr language and see one process at a time:
//
//	pid, ppid, seq, depth  int
//	name, cmdline, run_id  string
//	args                   []string (cmdline split on whitespace)
//	monitored              bool
//
// Three evaluators:
//   - Evaluator: custom span attributes, map results expand to name.key
//   - TraceIDEvaluator: 32 hex chars, anything else is SHA-256 hashed
//   - ParentIDEvaluator: 16 hex chars, anything else means no parent
package attributes
