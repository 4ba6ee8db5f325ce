// Package bus publishes DHCP server lifecycle events (spec.md §6) over NATS
// JetStream, with domain-specific publish helpers plus a nil-safe no-op
// mode so a deployment without NATS configured degrades gracefully.
package bus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	SubjectLifecycleStart   = "dhcpd.lifecycle.start"
	SubjectLifecycleStop    = "dhcpd.lifecycle.stop"
	SubjectLeaseMutated     = "dhcpd.lease.mutated"
)

// Bus wraps a NATS JetStream connection for publishing lifecycle events. A
// nil *Bus is valid and every method becomes a no-op, so callers can wire it
// unconditionally regardless of whether NATS is configured.
type Bus struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// New creates a Bus connected to url. An empty url returns (nil, nil): the
// caller gets a no-op bus rather than an error.
func New(url string, opts ...nats.Option) (*Bus, error) {
	if url == "" {
		return nil, nil
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, err
	}

	return &Bus{conn: nc, js: js}, nil
}

// Close shuts down the underlying NATS connection.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
}

// Publish encodes v as JSON and publishes it to subj.
func (b *Bus) Publish(ctx context.Context, subj string, v any) error {
	if b == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = b.js.Publish(subj, data, nats.Context(ctx))
	return err
}

// StartEvent is published on server start.
type StartEvent struct {
	Endpoint string    `json:"endpoint"`
	At       time.Time `json:"at"`
}

// StopEvent is published on server stop, with an optional error cause.
type StopEvent struct {
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// LeaseMutatedEvent is published whenever a tick evicts records or the
// state machine mutates the lease table in a way that dirties persistence.
type LeaseMutatedEvent struct {
	EvictedCount int       `json:"evicted_count"`
	At           time.Time `json:"at"`
}

// PublishStart publishes a StartEvent to SubjectLifecycleStart.
func (b *Bus) PublishStart(ctx context.Context, endpoint string) error {
	return b.Publish(ctx, SubjectLifecycleStart, StartEvent{Endpoint: endpoint, At: nowUTC()})
}

// PublishStop publishes a StopEvent to SubjectLifecycleStop.
func (b *Bus) PublishStop(ctx context.Context, cause error) error {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	return b.Publish(ctx, SubjectLifecycleStop, StopEvent{Reason: reason, At: nowUTC()})
}

// PublishLeaseMutated publishes a LeaseMutatedEvent to SubjectLeaseMutated.
func (b *Bus) PublishLeaseMutated(ctx context.Context, evictedCount int) error {
	return b.Publish(ctx, SubjectLeaseMutated, LeaseMutatedEvent{EvictedCount: evictedCount, At: nowUTC()})
}

func nowUTC() time.Time { return time.Now().UTC() }
