package envreassembler

import (
	"bytes"
	"fmt"
	"time"

	"github.com/mrzor/proctree/internal/bpf"
)

// ChunkBuffer holds an incomplete chunk sequence for one PID.
type ChunkBuffer struct {
	chunks        map[uint32][]byte
	argc          uint32
	receivedFinal bool
	truncated     bool
	lastUpdate    time.Time
}

// ChunkReassembler rebuilds argv from the chunks captured at execve entry.
type ChunkReassembler struct {
	buffers map[uint32]*ChunkBuffer // PID -> chunk buffer
	now     func() time.Time
}

// NewChunkReassembler creates a new chunk reassembler.
func NewChunkReassembler() *ChunkReassembler {
	return &ChunkReassembler{
		buffers: make(map[uint32]*ChunkBuffer),
		now:     time.Now,
	}
}

// ReassembledArgs is the argv of one execve.
type ReassembledArgs struct {
	Args      []string
	Truncated bool
	Issues    []string
}

// HandleChunk stores one chunk. It returns the reassembled argv once the
// final chunk for the PID arrives, nil while more are expected.
func (r *ChunkReassembler) HandleChunk(chunk *bpf.ArgvChunkEvent) (*ReassembledArgs, error) {
	if int(chunk.DataSize) > len(chunk.Data) {
		return nil, fmt.Errorf("chunk %d for PID %d claims %d bytes, capacity is %d",
			chunk.ChunkID, chunk.Pid, chunk.DataSize, len(chunk.Data))
	}

	pid := chunk.Pid

	buffer := r.buffers[pid]
	if buffer == nil {
		buffer = &ChunkBuffer{chunks: make(map[uint32][]byte)}
		r.buffers[pid] = buffer
	}
	buffer.lastUpdate = r.now()

	if chunk.DataSize > 0 {
		buffer.chunks[chunk.ChunkID] = bytes.Clone(chunk.Data[:chunk.DataSize])
	}
	if chunk.Argc > buffer.argc {
		buffer.argc = chunk.Argc
	}

	if chunk.IsFinal != 0 {
		buffer.receivedFinal = true
		buffer.truncated = chunk.Truncated != 0
	}

	if !buffer.receivedFinal {
		return nil, nil
	}

	result := reassemble(buffer)
	delete(r.buffers, pid)
	return result, nil
}

// Pending reports how many PIDs have an unfinished chunk sequence.
func (r *ChunkReassembler) Pending() int {
	return len(r.buffers)
}

func reassemble(buffer *ChunkBuffer) *ReassembledArgs {
	result := &ReassembledArgs{
		Truncated: buffer.truncated,
	}

	var fullData []byte
	numChunks := len(buffer.chunks)
	//nolint:gosec // numChunks is bounded by map size, conversion is safe
	for i := uint32(0); i < uint32(numChunks); i++ {
		chunkData, exists := buffer.chunks[i]
		if !exists {
			result.Issues = append(result.Issues, fmt.Sprintf("data incomplete: missing chunk %d", i))
			break
		}
		fullData = append(fullData, chunkData...)
	}

	result.Args = parseArgv(fullData, buffer.argc)

	//nolint:gosec // argc is bounded by the kernel-side argument limit
	if got := len(result.Args); got < int(buffer.argc) {
		result.Issues = append(result.Issues, fmt.Sprintf("captured %d of %d arguments", got, buffer.argc))
	}
	if buffer.truncated {
		result.Issues = append(result.Issues, fmt.Sprintf("data truncated after %d arguments", len(result.Args)))
	}

	return result
}

// parseArgv returns the first argc NUL-terminated strings of data. The
// environment block that follows is discarded.
func parseArgv(data []byte, argc uint32) []string {
	args := []string{}
	//nolint:gosec // argc is bounded by the kernel-side argument limit
	for len(data) > 0 && len(args) < int(argc) {
		end := bytes.IndexByte(data, 0)
		if end < 0 {
			// unterminated tail of a truncated capture
			args = append(args, string(data))
			break
		}
		args = append(args, string(data[:end]))
		data = data[end+1:]
	}
	return args
}

// Cleanup removes buffers that have not seen a chunk within maxAge.
func (r *ChunkReassembler) Cleanup(maxAge time.Duration) int {
	now := r.now()
	cleaned := 0

	for pid, buffer := range r.buffers {
		if now.Sub(buffer.lastUpdate) > maxAge {
			delete(r.buffers, pid)
			cleaned++
		}
	}

	return cleaned
}
