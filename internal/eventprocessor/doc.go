// Package eventprocessor turns eBPF records into process events for the
// reconstruction engine.
//
// Architecture:
//
//	┌─────────────────────────────────────────┐
//	│      eBPF Ring Buffer Records           │
//	└─────────────────┬───────────────────────┘
//	                  │
//	                  ▼
//	┌─────────────────────────────────────────┐
//	│   eventprocessor                        │  ← Record routing
//	│   - Routes by record type               │
//	│   - Assigns arrival sequence numbers    │
//	└─────────┬───────────────────────────────┘
//	          │
//	          ├──→ ArgvChunkEvent ──→ envreassembler
//	          │                       - Buffers chunks per PID
//	          │                       - Produces argv
//	          │
//	          ├──→ EXEC ────────────→ ProcessEventHandler
//	          │                       - procevent.Event with argv as
//	          │                         command line
//	          │                       - timesync converts timestamps
//	          │
//	          └──→ EXIT ────────────→ drops pending argv
//
// The ring buffer delivers records in kernel submission order, so the
// arrival counter is a valid sequence for the engine.
package eventprocessor
