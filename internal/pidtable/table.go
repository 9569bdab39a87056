package pidtable

// Table resolves PIDs to their current holder.
type Table[N any] struct {
	holders  map[uint32]N // PID -> most recent holder
	recycled int          // registrations that superseded a live entry
}

// New creates an empty table.
func New[N any]() *Table[N] {
	return &Table[N]{
		holders: make(map[uint32]N),
	}
}

// Register makes n the holder of pid (command).
// The previous holder, if any, is returned with superseded set.
func (t *Table[N]) Register(pid uint32, n N) (prev N, superseded bool) {
	prev, superseded = t.holders[pid]
	if superseded {
		t.recycled++
	}
	t.holders[pid] = n
	return prev, superseded
}

// Resolve returns the current holder of pid (query).
func (t *Table[N]) Resolve(pid uint32) (N, bool) {
	n, ok := t.holders[pid]
	return n, ok
}

// Len returns the number of distinct PIDs ever registered.
func (t *Table[N]) Len() int {
	return len(t.holders)
}

// Recycled returns how many registrations replaced an earlier holder.
func (t *Table[N]) Recycled() int {
	return t.recycled
}
