package persistence

import (
	"context"
	"net"
	"testing"
	"time"

	"dhcpd/internal/lease"
)

func TestFilterForLoadDropsOfferedRecords(t *testing.T) {
	records := []*lease.Record{
		{State: lease.StateOffered, IPAddress: net.ParseIP("10.0.0.5")},
		{State: lease.StateAssigned, IPAddress: net.ParseIP("10.0.0.6")},
	}

	out := FilterForLoad(records, nil)

	if len(out) != 1 {
		t.Fatalf("expected 1 record after filtering, got %d", len(out))
	}
	if out[0].State != lease.StateAssigned {
		t.Fatalf("expected surviving record to be Assigned, got %v", out[0].State)
	}
}

func TestFilterForLoadDropsAddressesOutsideAllPools(t *testing.T) {
	pools := []PoolRange{{Start: net.ParseIP("10.0.0.100"), End: net.ParseIP("10.0.0.200")}}
	records := []*lease.Record{
		{State: lease.StateAssigned, IPAddress: net.ParseIP("10.0.0.150")},
		{State: lease.StateAssigned, IPAddress: net.ParseIP("192.168.1.1")},
	}

	out := FilterForLoad(records, pools)

	if len(out) != 1 {
		t.Fatalf("expected 1 record inside pool, got %d", len(out))
	}
	if !out[0].IPAddress.Equal(net.ParseIP("10.0.0.150")) {
		t.Fatalf("expected surviving record to be 10.0.0.150, got %v", out[0].IPAddress)
	}
}

func TestFilterForLoadWithNoPoolsKeepsAllAddresses(t *testing.T) {
	records := []*lease.Record{
		{State: lease.StateReleased, IPAddress: net.ParseIP("172.16.0.1")},
	}

	out := FilterForLoad(records, nil)

	if len(out) != 1 {
		t.Fatalf("expected record to survive when no pools configured, got %d", len(out))
	}
}

type fakeStore struct {
	failuresBeforeSuccess int
	writes                int
	lastRecords           []*lease.Record
}

func (f *fakeStore) Read(context.Context, string) ([]*lease.Record, error) {
	return nil, nil
}

func (f *fakeStore) Write(_ context.Context, _ string, records []*lease.Record) error {
	f.writes++
	if f.writes <= f.failuresBeforeSuccess {
		return errWriteFailed
	}
	f.lastRecords = records
	return nil
}

var errWriteFailed = &writeError{}

type writeError struct{}

func (*writeError) Error() string { return "simulated write failure" }

func TestQueueEnqueueCoalescesPendingWrites(t *testing.T) {
	q := NewQueue(&fakeStore{}, "unused", lease.New(30*time.Second), nil)

	q.Enqueue()
	q.Enqueue()
	q.Enqueue()

	if len(q.dirty) != 1 {
		t.Fatalf("expected exactly one pending mark, got %d", len(q.dirty))
	}
}

func TestQueueRunWritesSnapshotOnDirty(t *testing.T) {
	table := lease.New(30 * time.Second)
	table.Lock()
	table.Put("client-a", &lease.Record{State: lease.StateAssigned, IPAddress: net.ParseIP("10.0.0.5")})
	table.Unlock()

	store := &fakeStore{}
	q := NewQueue(store, "path", table, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(done)
	}()

	q.Enqueue()
	waitForCondition(t, func() bool { return store.writes >= 1 })
	cancel()
	<-done

	if len(store.lastRecords) != 1 {
		t.Fatalf("expected snapshot with 1 record written, got %d", len(store.lastRecords))
	}
}

func TestQueueRetriesOnWriteFailure(t *testing.T) {
	table := lease.New(30 * time.Second)
	store := &fakeStore{failuresBeforeSuccess: 2}
	q := NewQueue(store, "path", table, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q.writeOnce(ctx)

	if store.writes != 3 {
		t.Fatalf("expected 3 attempts (2 failures + 1 success), got %d", store.writes)
	}
}

func TestNilQueueIsNoOp(t *testing.T) {
	var q *Queue
	q.Enqueue()
	q.Run(context.Background())
}

func waitForCondition(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
