// Package server implements the DHCPv4 server state machine of spec.md
// §4.5: dispatch on option 53, lease table mutation, reply construction and
// routing. Uses a Server/handler split and a Run(ctx, ready) goroutine shape.
package server

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"dhcpd/internal/config"
	"dhcpd/internal/dhcp4"
	"dhcpd/internal/lease"
	"dhcpd/internal/persistence"
	"dhcpd/internal/transport"
	"dhcpd/pkg/bus"
	"dhcpd/pkg/metrics"
	"dhcpd/pkg/telemetry"
)

// Server owns the UDP transport and drives the three cooperating loops
// spec.md §5 calls for: receive, 1 Hz tick, and persistence writer.
type Server struct {
	cfg       config.Configuration
	handler   *handler
	table     *lease.Table
	transport transport.UdpTransport
	persist   *persistence.Queue
	bus       *bus.Bus
	logger    telemetry.Logger
}

// New builds a Server. interceptors run, in order, after the configured
// options merge on every reply (spec.md §4.7).
func New(cfg config.Configuration, tr transport.UdpTransport, table *lease.Table, persist *persistence.Queue, b *bus.Bus, m *metrics.Metrics, logger telemetry.Logger, interceptors ...Interceptor) *Server {
	return &Server{
		cfg:       cfg,
		handler:   newHandler(cfg, table, m, logger, interceptors),
		table:     table,
		transport: tr,
		persist:   persist,
		bus:       b,
		logger:    logger,
	}
}

// Run drives the server until ctx is cancelled or the receive loop hits a
// fatal transport error, per spec.md §5's cancellation model. ready flips
// true once the loops are started.
func (s *Server) Run(ctx context.Context, ready *atomic.Bool) error {
	if s.bus != nil {
		_ = s.bus.PublishStart(ctx, s.transport.LocalEndpoint().String())
	}
	ready.Store(true)

	errCh := make(chan error, 1)
	go func() { errCh <- s.receiveLoop(ctx) }()
	go s.tickLoop(ctx)
	go s.persist.Run(ctx)

	select {
	case err := <-errCh:
		if s.bus != nil {
			_ = s.bus.PublishStop(context.Background(), err)
		}
		return err
	case <-ctx.Done():
		_ = s.transport.Close()
		<-errCh
		if s.bus != nil {
			_ = s.bus.PublishStop(context.Background(), nil)
		}
		return nil
	}
}

func (s *Server) receiveLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		dgram, err := s.transport.Receive()
		if err != nil {
			if transport.IsFatal(err) {
				return err
			}
			s.logf("WARN transient receive error: %v", err)
			continue
		}

		s.handleDatagram(dgram)
	}
}

// handleDatagram decodes and processes one datagram. It never panics out:
// any unexpected condition is caught, logged, and the datagram dropped, per
// spec.md §7's "no exception escapes the receive handler" invariant. Every
// datagram gets its own correlation ID so a single exchange's log lines
// (decode, dispatch, send) can be grepped together, the way a state
// machine run gets tagged with a fresh uuid for its whole lifetime.
func (s *Server) handleDatagram(dgram transport.Datagram) {
	corrID := uuid.NewString()

	defer func() {
		if r := recover(); r != nil {
			s.logf("ERROR [%s] panic handling datagram from %s: %v", corrID, dgram.Peer, r)
		}
	}()

	msg, err := dhcp4.Decode(dgram.Data)
	if err != nil {
		s.logf("DEBUG [%s] dropping malformed datagram from %s: %v", corrID, dgram.Peer, err)
		return
	}

	out := s.handler.handle(msg)
	if out.mutated {
		s.notifyMutation(context.Background())
	}

	if out.reply == nil {
		if out.err != nil {
			s.logf("%s [%s] %s from %s: %v", severity(out.kind), corrID, out.kind, dgram.Peer, out.err)
		}
		return
	}

	data := out.reply.Encode(int(s.cfg.MinimumPacketSize))
	if err := s.transport.Send(out.dest, data); err != nil {
		if transport.IsTransient(err) {
			s.logf("WARN [%s] transient send error to %s: %v", corrID, out.dest, err)
			return
		}
		s.logf("ERROR [%s] send error to %s: %v", corrID, out.dest, err)
	}
}

// notifyMutation enqueues a persistence write and publishes a lease.mutated
// event after a request-path table mutation (spec.md §6, SPEC_FULL.md
// §4.12), the same pair tickLoop fires on eviction.
func (s *Server) notifyMutation(ctx context.Context) {
	s.persist.Enqueue()
	if s.bus != nil {
		_ = s.bus.PublishLeaseMutated(ctx, 1)
	}
}

func severity(kind ErrorKind) string {
	if kind == KindAllocationExhausted {
		return "ERROR"
	}
	return "INFO"
}

func (s *Server) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			evicted := s.table.Tick(now)
			if m := s.handler.metrics; m != nil {
				active := 0
				for _, rec := range s.table.Snapshot() {
					if rec.State == lease.StateAssigned {
						active++
					}
				}
				m.ActiveLeases.Set(float64(active))
			}
			if len(evicted) > 0 {
				s.persist.Enqueue()
				if s.bus != nil {
					_ = s.bus.PublishLeaseMutated(ctx, len(evicted))
				}
			}
		}
	}
}

func (s *Server) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
