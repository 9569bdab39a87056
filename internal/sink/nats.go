// Package sink publishes finalized process trees to downstream consumers.
package sink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/mrzor/proctree/internal/config"
	"github.com/mrzor/proctree/internal/output"
	"github.com/mrzor/proctree/internal/proctree"
)

// Message headers set on every published tree.
const (
	HeaderRunID        = "Proctree-Run-Id"
	HeaderProcessCount = "Proctree-Process-Count"
)

// Publisher sends process trees over NATS, one message per run on
// <prefix>.<run id>.
type Publisher struct {
	nc     *nats.Conn
	prefix string
	logger zerolog.Logger
}

// Connect dials the server named by cfg.URL.
func Connect(cfg config.NATSConfig, logger zerolog.Logger) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("no NATS URL configured")
	}
	if cfg.SubjectPrefix == "" {
		return nil, errors.New("no NATS subject prefix configured")
	}

	p := &Publisher{
		prefix: cfg.SubjectPrefix,
		logger: logger.With().Str("component", "nats_sink").Logger(),
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name("proctree"),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				p.logger.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			p.logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}
	p.nc = nc

	return p, nil
}

// Subject returns the subject a run is published on.
func (p *Publisher) Subject(runID string) string {
	return p.prefix + "." + runID
}

// Publish serializes forest as JSON and waits until the server has
// acknowledged it or ctx ends.
func (p *Publisher) Publish(ctx context.Context, forest *proctree.Forest) error {
	var buf bytes.Buffer
	if err := output.WriteJSON(&buf, forest, false); err != nil {
		return fmt.Errorf("serializing process tree: %w", err)
	}

	msg := nats.NewMsg(p.Subject(forest.RunID))
	msg.Header.Set(HeaderRunID, forest.RunID)
	msg.Header.Set(HeaderProcessCount, strconv.Itoa(forest.Len()))
	msg.Data = buf.Bytes()

	if err := p.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publishing process tree: %w", err)
	}
	if err := p.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flushing process tree: %w", err)
	}

	p.logger.Info().
		Str("subject", msg.Subject).
		Int("processes", forest.Len()).
		Int("bytes", len(msg.Data)).
		Msg("process tree published")
	return nil
}

// Close closes the connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}
