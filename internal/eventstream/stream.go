package eventstream

import (
	"context"
	"errors"
	"sync"

	"github.com/cilium/ebpf/ringbuf"
	"github.com/rs/zerolog"

	"github.com/mrzor/proctree/internal/bpf"
	"github.com/mrzor/proctree/internal/eventprocessor"
)

// RecordReader is the part of *ringbuf.Reader the stream uses.
type RecordReader interface {
	Read() (ringbuf.Record, error)
	Close() error
}

// Stream reads records from a ring buffer and dispatches them to a handler.
type Stream struct {
	reader    RecordReader
	handler   eventprocessor.EventHandler
	logger    zerolog.Logger
	closeOnce sync.Once
	done      chan struct{}
}

// New creates a new Stream with the given ring buffer reader and handler.
func New(reader RecordReader, handler eventprocessor.EventHandler, logger zerolog.Logger) *Stream {
	return &Stream{
		reader:  reader,
		handler: handler,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Start begins reading records in a goroutine. It returns immediately;
// processing ends when ctx is cancelled, Stop is called or the reader closes.
func (s *Stream) Start(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
			s.closeReader()
		case <-s.done:
		}
	}()
	go s.processEvents()
}

// Stop closes the reader and waits for the processing goroutine to return.
// Records already read are handled before Stop returns.
func (s *Stream) Stop() {
	s.closeReader()
	<-s.done
}

// Done is closed once the processing goroutine has returned.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

func (s *Stream) closeReader() {
	s.closeOnce.Do(func() {
		if err := s.reader.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("closing ring buffer")
		}
	})
}

// processEvents is the main loop that reads and dispatches records.
func (s *Stream) processEvents() {
	defer close(s.done)

	for {
		record, err := s.reader.Read()
		if err != nil {
			if errors.Is(err, ringbuf.ErrClosed) {
				return
			}
			s.logger.Warn().Err(err).Msg("reading from ring buffer")
			continue
		}

		if err := s.dispatch(record.RawSample); err != nil {
			s.logger.Warn().Err(err).Msg("handling record")
		}
	}
}

func (s *Stream) dispatch(raw []byte) error {
	typ, err := bpf.RecordType(raw)
	if err != nil {
		return err
	}

	if typ == bpf.EVENT_EXEC_ARGV_CHUNK {
		chunk, err := bpf.DecodeArgvChunk(raw)
		if err != nil {
			return err
		}
		return s.handler.HandleArgvChunk(chunk)
	}

	event, err := bpf.DecodeEvent(raw)
	if err != nil {
		return err
	}
	return s.handler.HandleEvent(event)
}
