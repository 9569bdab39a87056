package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mrzor/proctree/internal/proctree"
)

// Record is the externally consumed shape of one process and its subtree.
type Record struct {
	PID         uint32    `json:"pid"`
	PPID        uint32    `json:"ppid"`
	ProcessName string    `json:"process_name"`
	CommandLine string    `json:"command_line"`
	FirstSeen   FirstSeen `json:"first_seen,omitempty"`
	Monitored   bool      `json:"monitored"`
	Children    []Record  `json:"children"`
}

// FirstSeen encodes a creation time as fractional epoch seconds, or omits it
// when unknown.
type FirstSeen float64

func firstSeen(t time.Time) FirstSeen {
	if t.IsZero() {
		return 0
	}
	return FirstSeen(float64(t.UnixNano()) / 1e9)
}

// Serialize renders the forest. It never modifies it, and repeated calls
// produce equal output.
func Serialize(forest *proctree.Forest) []Record {
	records := make([]Record, 0, len(forest.Roots))
	for _, root := range forest.Roots {
		records = append(records, serializeNode(root))
	}
	return records
}

func serializeNode(n *proctree.Node) Record {
	r := Record{
		PID:         n.PID,
		PPID:        n.PPID,
		ProcessName: n.ProcessName,
		CommandLine: n.CommandLine,
		FirstSeen:   firstSeen(n.FirstSeen),
		Monitored:   n.Monitored,
		Children:    make([]Record, 0, len(n.Children)),
	}
	for _, child := range n.Children {
		r.Children = append(r.Children, serializeNode(child))
	}
	return r
}

// WriteJSON writes the serialized forest as a JSON array.
func WriteJSON(w io.Writer, forest *proctree.Forest, indent bool) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if indent {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(Serialize(forest)); err != nil {
		return fmt.Errorf("encoding process tree: %w", err)
	}
	return nil
}

// WriteTree writes one line per process, indented by depth. Processes the
// monitor did not instrument are marked.
func WriteTree(w io.Writer, forest *proctree.Forest) error {
	var b strings.Builder
	forest.Walk(func(n *proctree.Node, depth int) bool {
		b.WriteString(strings.Repeat("  ", depth))
		if depth > 0 {
			b.WriteString("└─ ")
		}
		fmt.Fprintf(&b, "%s (%d)", n.ProcessName, n.PID)
		if !n.Monitored {
			b.WriteString(" [unmonitored]")
		}
		if n.CommandLine != "" {
			fmt.Fprintf(&b, "  %s", n.CommandLine)
		}
		b.WriteByte('\n')
		return true
	})

	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("writing process tree: %w", err)
	}
	return nil
}
