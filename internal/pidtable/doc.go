// Package pidtable maps raw operating-system process identifiers to the most
// recently registered process bearing that identifier.
//
// Identifiers are recycled by the guest OS once their holder exits, so the
// table is latest-wins:
//
//   - Register(pid, n) - overwrite any previous holder of pid
//   - Resolve(pid)     - current holder of pid, if any
//
// There is no removal. A superseded holder stays valid for everything that
// resolved to it before it was superseded.
//
// A Table is owned by a single reconstruction run and is not safe for
// concurrent use.
package pidtable
