// Package lease implements the client-keyed lease table: timed eviction of
// offered and assigned entries, and the primitives the allocator needs to
// scan for a free address (spec.md §4.2).
package lease

import (
	"net"
	"sync"
	"time"

	"dhcpd/internal/dhcp4"
)

// State is a ClientRecord's place in the OFFER/ACK lifecycle (spec.md §3).
type State int

const (
	StateReleased State = iota
	StateOffered
	StateAssigned
)

func (s State) String() string {
	switch s {
	case StateOffered:
		return "Offered"
	case StateAssigned:
		return "Assigned"
	default:
		return "Released"
	}
}

// Infinite marks a lease with no expiration.
const Infinite time.Duration = -1

// Key is the client identity used to index the table: option 61's bytes if
// present, otherwise chaddr (spec.md §3 ClientKey). A Go string built from
// raw bytes is already a stable, length-independent map key, so no custom
// hash is needed (spec.md §9 design note).
type Key string

// KeyFromMessage derives a Key from an inbound message.
func KeyFromMessage(m *dhcp4.Message) Key {
	if id := m.Options.ClientID(); len(id) > 0 {
		return Key(id)
	}
	return Key(m.CHAddr)
}

// Record is a per-client lease entry (spec.md §3 ClientRecord).
type Record struct {
	Identifier       []byte
	HardwareAddress  net.HardwareAddr
	Hostname         string
	State            State
	IPAddress        net.IP
	OfferedTime      time.Time
	LeaseStart       time.Time
	LeaseDuration    time.Duration
	LastSeen         time.Time
	DeclineExcluded  bool
	ExclusionExpires time.Time
}

// LeaseEnd returns the lease's expiration time and whether it is finite.
func (r *Record) LeaseEnd() (end time.Time, finite bool) {
	if r.LeaseDuration == Infinite {
		return time.Time{}, false
	}
	return r.LeaseStart.Add(r.LeaseDuration), true
}

// Expired reports whether r's lease has ended as of now. A record with no
// finite lease never expires this way (offers expire separately, see Tick).
func (r *Record) Expired(now time.Time) bool {
	end, finite := r.LeaseEnd()
	return finite && now.After(end)
}

func (r *Record) clone() *Record {
	cp := *r
	cp.IPAddress = append(net.IP(nil), r.IPAddress...)
	cp.HardwareAddress = append(net.HardwareAddr(nil), r.HardwareAddress...)
	cp.Identifier = append([]byte(nil), r.Identifier...)
	return &cp
}

// Table is the client-keyed lease store. Get/Put/Delete/Records/AddressInUse
// do not lock internally: callers that need multi-step read-then-mutate
// sequences (the allocator, the state machine) take the lock once for the
// whole operation via Lock/Unlock, matching spec.md §5's "single mutex,
// short critical sections, no I/O under the lock". Snapshot and Tick are
// self-contained convenience wrappers used by callers that only need one
// atomic step (the persistence writer, the 1Hz ticker).
type Table struct {
	mu              sync.Mutex
	records         map[Key]*Record
	offerExpiration time.Duration
}

// New creates an empty table with the given offer expiration window.
func New(offerExpiration time.Duration) *Table {
	return &Table{
		records:         make(map[Key]*Record),
		offerExpiration: offerExpiration,
	}
}

// Lock acquires the table's mutex. Callers must pair with Unlock.
func (t *Table) Lock() { t.mu.Lock() }

// Unlock releases the table's mutex.
func (t *Table) Unlock() { t.mu.Unlock() }

// Get returns the record for key. Caller must hold the lock.
func (t *Table) Get(key Key) (*Record, bool) {
	rec, ok := t.records[key]
	return rec, ok
}

// Put inserts or replaces the record for key. Caller must hold the lock.
func (t *Table) Put(key Key, rec *Record) {
	t.records[key] = rec
}

// Delete removes the record for key, reporting whether it existed. Caller
// must hold the lock.
func (t *Table) Delete(key Key) bool {
	_, ok := t.records[key]
	delete(t.records, key)
	return ok
}

// Records returns the live record pointers for iteration by an allocator
// scan. Caller must hold the lock for as long as the returned slice is used.
func (t *Table) Records() []*Record {
	out := make([]*Record, 0, len(t.records))
	for _, rec := range t.records {
		out = append(out, rec)
	}
	return out
}

// AddressInUse reports whether ip is currently owned by a non-Released
// record (or, if reuseReleased is false, by any record at all). Caller must
// hold the lock.
func (t *Table) AddressInUse(ip net.IP, reuseReleased bool) bool {
	for _, rec := range t.records {
		if rec.IPAddress == nil || !rec.IPAddress.Equal(ip) {
			continue
		}
		if rec.State != StateReleased {
			return true
		}
		if !reuseReleased {
			return true
		}
	}
	return false
}

// AddressExcluded reports whether ip is currently held by a decline-exclusion
// record (spec.md §9 open question: declined addresses are blacklisted for a
// configurable duration). Expired exclusions are lazily cleared by Tick, so
// this only checks the flag as of the last tick. Caller must hold the lock.
func (t *Table) AddressExcluded(ip net.IP) bool {
	for _, rec := range t.records {
		if rec.DeclineExcluded && rec.IPAddress != nil && rec.IPAddress.Equal(ip) {
			return true
		}
	}
	return false
}

// Snapshot returns a defensive copy of every record, for the persistence
// writer and admin introspection. Self-locking.
func (t *Table) Snapshot() []*Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*Record, 0, len(t.records))
	for _, rec := range t.records {
		out = append(out, rec.clone())
	}
	return out
}

// Tick evicts expired Offered and Assigned entries (spec.md §4.2/§4.8) and
// returns the keys removed. Self-locking.
func (t *Table) Tick(now time.Time) []Key {
	t.mu.Lock()
	defer t.mu.Unlock()

	var evicted []Key
	for key, rec := range t.records {
		switch rec.State {
		case StateOffered:
			if now.Sub(rec.OfferedTime) > t.offerExpiration {
				delete(t.records, key)
				evicted = append(evicted, key)
			}
		case StateAssigned:
			if rec.Expired(now) {
				delete(t.records, key)
				evicted = append(evicted, key)
			}
		}
		if rec.DeclineExcluded && !rec.ExclusionExpires.IsZero() && now.After(rec.ExclusionExpires) {
			if rec.State == StateReleased {
				delete(t.records, key)
				evicted = append(evicted, key)
				continue
			}
			rec.DeclineExcluded = false
		}
	}
	return evicted
}

// Len reports the number of tracked records. Self-locking.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}
