// Package timesync converts the monotonic timestamps carried by eBPF events
// into wall-clock time.
//
// eBPF events use CLOCK_MONOTONIC (nanoseconds since boot). The converter
// samples that clock and the wall clock together once, and adds each event's
// offset to the derived boot time.
package timesync
