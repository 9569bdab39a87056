// Package envreassembler rebuilds the argument vector of an execve from the
// chunks the eBPF program emits at syscall entry.
//
// The kernel copies argv followed by envp into fixed-size chunks and sends
// them as ArgvChunkEvent records keyed by PID. Only the first Argc strings are
// kept; the environment is dropped.
//
// State Machine (ChunkReassembler):
//
//	┌─────────┐
//	│  Start  │
//	└────┬────┘
//	     │
//	     │ ArgvChunkEvent (IsFinal=0)
//	     ▼
//	┌──────────┐
//	│Buffering │ ◄──┐
//	└────┬─────┘    │ More chunks
//	     │          │
//	     │ ArgvChunkEvent (IsFinal=1)
//	     ▼          │
//	┌───────────┐   │
//	│Reassemble │   │
//	└────┬──────┘   │
//	     │          │
//	     ▼          │
//	┌──────────┐    │
//	│ Complete │    │
//	└──────────┘    │
//
// A sequence that never completes is reclaimed by Cleanup.
package envreassembler
