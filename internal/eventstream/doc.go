// Package eventstream feeds process events to the reconstruction engine.
//
// Two sources exist: Stream drains the eBPF ring buffer during live tracing,
// and LogReader replays a JSON-lines behavior log recorded by an analysis
// sandbox. Buffer restores sequence order for sources that interleave.
package eventstream
