package attributes

import (
	"strings"

	"github.com/mrzor/proctree/internal/proctree"
)

// typeEnv declares the variable types for compilation.
var typeEnv = map[string]interface{}{
	"pid":       0,
	"ppid":      0,
	"seq":       0,
	"depth":     0,
	"name":      "",
	"cmdline":   "",
	"run_id":    "",
	"args":      []string{},
	"monitored": false,
}

// NodeEnv builds the evaluation environment for one node.
func NodeEnv(runID string, n *proctree.Node, depth int) map[string]interface{} {
	return map[string]interface{}{
		"pid":       int(n.PID),
		"ppid":      int(n.PPID),
		"seq":       int(n.Sequence), //nolint:gosec // sequences stay far below MaxInt
		"depth":     depth,
		"name":      n.ProcessName,
		"cmdline":   n.CommandLine,
		"run_id":    runID,
		"args":      strings.Fields(n.CommandLine),
		"monitored": n.Monitored,
	}
}
