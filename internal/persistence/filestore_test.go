package persistence

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"filippo.io/age"

	"dhcpd/internal/lease"
)

func TestFileStoreRoundTripPlain(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "leases.yaml.zst")

	store := &FileStore{}
	records := []*lease.Record{
		{
			Identifier:      []byte{0x01, 0x02, 0x03},
			HardwareAddress: net.HardwareAddr{0xAA, 0xBB, 0xCC, 0x00, 0x00, 0x01},
			Hostname:        "host-a",
			State:           lease.StateAssigned,
			IPAddress:       net.ParseIP("10.0.0.10").To4(),
			LeaseStart:      time.Now().UTC().Truncate(time.Second),
			LeaseDuration:   time.Hour,
			LastSeen:        time.Now().UTC().Truncate(time.Second),
		},
	}

	if err := store.Write(context.Background(), path, records); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := store.Read(context.Background(), path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 record, got %d", len(got))
	}
	if got[0].Hostname != "host-a" {
		t.Fatalf("expected hostname host-a, got %q", got[0].Hostname)
	}
	if !got[0].IPAddress.Equal(net.ParseIP("10.0.0.10")) {
		t.Fatalf("expected ip 10.0.0.10, got %v", got[0].IPAddress)
	}
	if got[0].LeaseDuration != time.Hour {
		t.Fatalf("expected lease duration 1h, got %v", got[0].LeaseDuration)
	}
	if got[0].HardwareAddress.String() != "aa:bb:cc:00:00:01" {
		t.Fatalf("unexpected hardware address %v", got[0].HardwareAddress)
	}
}

func TestFileStoreRoundTripEncrypted(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "leases.yaml.zst.age")

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("GenerateX25519Identity: %v", err)
	}

	store := &FileStore{
		Recipients: []age.Recipient{identity.Recipient()},
		Identities: []age.Identity{identity},
	}

	records := []*lease.Record{
		{State: lease.StateReleased, IPAddress: net.ParseIP("10.0.0.20").To4()},
	}

	if err := store.Write(context.Background(), path, records); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := store.Read(context.Background(), path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 record, got %d", len(got))
	}
}

func TestFileStoreReadMissingFileReturnsEmpty(t *testing.T) {
	store := &FileStore{}
	got, err := store.Read(context.Background(), filepath.Join(t.TempDir(), "missing.yaml.zst"))
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil records for missing file, got %v", got)
	}
}

func TestFileStoreReadAppliesPoolFilter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "leases.yaml.zst")

	store := &FileStore{}
	records := []*lease.Record{
		{State: lease.StateAssigned, IPAddress: net.ParseIP("10.0.0.10").To4()},
		{State: lease.StateAssigned, IPAddress: net.ParseIP("192.168.1.1").To4()},
	}
	if err := store.Write(context.Background(), path, records); err != nil {
		t.Fatalf("Write: %v", err)
	}

	filtered := &FileStore{Pools: []PoolRange{{Start: net.ParseIP("10.0.0.0"), End: net.ParseIP("10.0.0.255")}}}
	got, err := filtered.Read(context.Background(), path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != 1 || !got[0].IPAddress.Equal(net.ParseIP("10.0.0.10")) {
		t.Fatalf("expected only in-pool record to survive, got %v", got)
	}
}
