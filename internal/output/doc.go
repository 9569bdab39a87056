// Package output renders a finalized process forest for its consumers.
//
// Serializer (pure, read-only over the forest):
//   - Serialize: nested Records, roots in arrival order, children in
//     attachment order
//   - WriteJSON: the Records as a JSON array
//   - WriteTree: an indented, human-readable tree
//
// OTELFormatter exports the same forest as OpenTelemetry spans, one span per
// process, with the tree parent as the span parent. Custom attributes come
// from the attributes package.
//
// Nothing in this package looks processes up by PID; parentage is taken from
// the forest as built by proctree.
package output
