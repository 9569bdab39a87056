package proctree

import (
	"time"

	"github.com/mrzor/proctree/internal/procevent"
)

// Node is one process instance. PID plus Sequence identifies it; PID alone
// does not.
type Node struct {
	PID         uint32
	PPID        uint32
	Sequence    uint64
	ProcessName string
	CommandLine string
	Monitored   bool
	FirstSeen   time.Time

	// Children in attachment order. Owned by this node.
	Children []*Node

	// non-owning, construction only
	parent *Node
}

func newNode(ev procevent.Event) *Node {
	return &Node{
		PID:         ev.PID,
		PPID:        ev.PPID,
		Sequence:    ev.Sequence,
		ProcessName: ev.ProcessName,
		CommandLine: ev.CommandLine,
		Monitored:   ev.Monitored,
		FirstSeen:   ev.FirstSeen,
	}
}

func (n *Node) attach(child *Node) {
	child.parent = n
	n.Children = append(n.Children, child)
}

// Forest is the finalized result of a run: independent process trees whose
// roots appear in event arrival order.
type Forest struct {
	RunID string
	Roots []*Node
}

// Walk visits every node depth-first, parents before children, in stored
// order. Returning false from fn skips the node's subtree.
func (f *Forest) Walk(fn func(n *Node, depth int) bool) {
	for _, root := range f.Roots {
		walk(root, 0, fn)
	}
}

func walk(n *Node, depth int, fn func(*Node, int) bool) {
	if !fn(n, depth) {
		return
	}
	for _, child := range n.Children {
		walk(child, depth+1, fn)
	}
}

// Len returns the total number of nodes.
func (f *Forest) Len() int {
	count := 0
	f.Walk(func(*Node, int) bool {
		count++
		return true
	})
	return count
}

// MaxDepth returns the depth of the deepest node, roots being depth 1.
// An empty forest has depth 0.
func (f *Forest) MaxDepth() int {
	deepest := 0
	f.Walk(func(_ *Node, depth int) bool {
		if depth+1 > deepest {
			deepest = depth + 1
		}
		return true
	})
	return deepest
}
