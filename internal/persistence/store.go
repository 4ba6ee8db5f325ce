// Package persistence implements the ClientStore boundary (spec.md §6): an
// opaque snapshot sink/source for the lease table, plus the coalescing
// single-slot writer queue spec.md §5 calls for.
package persistence

import (
	"context"
	"math/rand"
	"net"
	"time"

	"dhcpd/internal/lease"
	"dhcpd/pkg/telemetry"
)

// ClientStore reads and writes the full lease table snapshot, per spec.md
// §6. Encoding is opaque to callers; concrete backends live in this package.
type ClientStore interface {
	Read(ctx context.Context, path string) ([]*lease.Record, error)
	Write(ctx context.Context, path string, records []*lease.Record) error
}

// PoolRange bounds an address range used to filter records on read.
type PoolRange struct {
	Start net.IP
	End   net.IP
}

func (p PoolRange) contains(ip net.IP) bool {
	if ip == nil || ip.To4() == nil {
		return false
	}
	v := ipToUint32(ip)
	return v >= ipToUint32(p.Start) && v <= ipToUint32(p.End)
}

func ipToUint32(ip net.IP) uint32 {
	v4 := ip.To4()
	return uint32(v4[0])<<24 | uint32(v4[1])<<16 | uint32(v4[2])<<8 | uint32(v4[3])
}

// FilterForLoad drops records that shouldn't survive a reload: Offered
// entries (an outstanding offer is meaningless after a restart) and
// records whose address falls outside every known pool range, per spec.md
// §6 ("on read, records with state=Offered are discarded, and records
// whose ip_address is outside all known pool ranges are discarded").
func FilterForLoad(records []*lease.Record, pools []PoolRange) []*lease.Record {
	out := make([]*lease.Record, 0, len(records))
	for _, rec := range records {
		if rec.State == lease.StateOffered {
			continue
		}
		if rec.IPAddress != nil && !rec.IPAddress.Equal(net.IPv4zero) && !inAnyPool(rec.IPAddress, pools) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func inAnyPool(ip net.IP, pools []PoolRange) bool {
	if len(pools) == 0 {
		return true
	}
	for _, p := range pools {
		if p.contains(ip) {
			return true
		}
	}
	return false
}

// Queue is a single-slot coalescing writer: Enqueue is non-blocking and
// idempotent, multiple enqueues between writes collapse to one pending
// write (spec.md §5).
type Queue struct {
	store  ClientStore
	path   string
	table  *lease.Table
	logger telemetry.Logger
	dirty  chan struct{}
}

const (
	maxWriteRetries = 10
	retryJitterBase = 500 * time.Millisecond
	retryJitterSpan = 500 * time.Millisecond
)

// NewQueue creates a persistence writer queue over table, writing to path
// via store.
func NewQueue(store ClientStore, path string, table *lease.Table, logger telemetry.Logger) *Queue {
	return &Queue{
		store:  store,
		path:   path,
		table:  table,
		logger: logger,
		dirty:  make(chan struct{}, 1),
	}
}

// Enqueue marks the table dirty. Safe to call from any goroutine; never
// blocks. A nil Queue is a valid no-op sink.
func (q *Queue) Enqueue() {
	if q == nil {
		return
	}
	select {
	case q.dirty <- struct{}{}:
	default:
	}
}

// Run drains the dirty queue until ctx is cancelled, writing one snapshot
// per pending mark with up to maxWriteRetries retries and a random
// 500-1000ms sleep between failures.
func (q *Queue) Run(ctx context.Context) {
	if q == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.dirty:
			q.writeOnce(ctx)
		}
	}
}

func (q *Queue) writeOnce(ctx context.Context) {
	var lastErr error
	for attempt := 0; attempt < maxWriteRetries; attempt++ {
		records := q.table.Snapshot()
		if err := q.store.Write(ctx, q.path, records); err == nil {
			return
		} else {
			lastErr = err
		}

		jitter := retryJitterBase + time.Duration(rand.Int63n(int64(retryJitterSpan)))
		select {
		case <-time.After(jitter):
		case <-ctx.Done():
			return
		}
	}
	if q.logger != nil {
		q.logger.Printf("DEBUG persistence write to %s failed after %d retries: %v", q.path, maxWriteRetries, lastErr)
	}
}
