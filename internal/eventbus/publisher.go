// Package eventbus mirrors run events onto NATS so other processes can
// follow runs without reading the event store.
package eventbus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/jasonewillis/specialists/pkg/models"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "specialists.events"

// Conn is the part of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
}

// Publisher publishes each event as JSON to <prefix>.<run id>.
// Publish failures are logged and counted; they never affect the run.
type Publisher struct {
	conn   Conn
	nc     *nats.Conn
	prefix string
	logger *slog.Logger

	published atomic.Int64
	failed    atomic.Int64
}

// NewPublisher wraps an existing connection.
func NewPublisher(conn Conn, prefix string, logger *slog.Logger) *Publisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		conn:   conn,
		prefix: strings.TrimSuffix(prefix, "."),
		logger: logger.With("component", "eventbus"),
	}
}

// Connect dials url and returns a publisher that owns the connection.
func Connect(url, prefix string, logger *slog.Logger) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("specialists"),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	p := NewPublisher(nc, prefix, logger)
	p.nc = nc
	return p, nil
}

// Subject returns the subject events for runID are published on.
func (p *Publisher) Subject(runID string) string {
	return p.prefix + "." + subjectToken(runID)
}

// OnEvent publishes ev.
func (p *Publisher) OnEvent(ev models.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		p.failed.Add(1)
		p.logger.Warn("failed to encode event", "run_id", ev.RunID, "type", ev.Type, "error", err)
		return
	}
	if err := p.conn.Publish(p.Subject(ev.RunID), data); err != nil {
		n := p.failed.Add(1)
		if n%10 == 1 {
			p.logger.Warn("failed to publish event", "run_id", ev.RunID, "type", ev.Type, "failures", n, "error", err)
		}
		return
	}
	p.published.Add(1)
}

// Published returns the number of events published.
func (p *Publisher) Published() int64 {
	return p.published.Load()
}

// Failed returns the number of events that could not be published.
func (p *Publisher) Failed() int64 {
	return p.failed.Load()
}

// Close flushes and closes the connection if the publisher owns one.
func (p *Publisher) Close() error {
	if p.nc == nil {
		return nil
	}
	err := p.nc.Drain()
	p.nc = nil
	return err
}

// subjectToken makes s safe to use as a single subject token.
func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}
