// Package proctree reconstructs the process genealogy of an analysis run from
// a sequence-ordered stream of process-creation events.
//
// Each event is handled in three steps:
//
//  1. resolve the event's PPID against the identity table
//  2. attach the new node to the resolved parent, or make it a root
//  3. register the node as the current holder of its own PID
//
// Resolution always happens before registration, so a node never becomes its
// own parent, and a recycled PID resolves to its newest holder for every
// later event. Correctness depends on events arriving in strictly increasing
// Sequence order; the Engine checks this and rejects offending events.
package proctree
