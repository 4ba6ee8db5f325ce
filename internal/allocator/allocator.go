// Package allocator picks an IPv4 address for a client from the configured
// pool and reservations (spec.md §4.4).
package allocator

import (
	"encoding/binary"
	"net"

	"dhcpd/internal/lease"
	"dhcpd/internal/reservation"
)

// Config carries the address-space inputs the allocator needs. It is a
// narrow view of internal/config.Configuration, kept independent so the
// allocator has no dependency on the config package.
type Config struct {
	ServerAddress net.IP
	SubnetMask    net.IPMask
	PoolStart     net.IP
	PoolEnd       net.IP
	Reservations  []reservation.Reservation
}

// Request describes the client-specific inputs to an allocation decision.
type Request struct {
	HardwareAddress net.HardwareAddr
	Hostname        string
	HostnamePresent bool
	RequestedIP     net.IP // nil or unspecified if the client sent no option 50
}

func ipToUint32(ip net.IP) uint32 {
	v4 := ip.To4()
	return binary.BigEndian.Uint32(v4)
}

func uint32ToIP(v uint32) net.IP {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return net.IP(b)
}

func nextIP(ip net.IP) net.IP {
	return uint32ToIP(ipToUint32(ip) + 1)
}

// sanitize forces addr into the server's subnet: (server & mask) | (addr &^ mask),
// per spec.md §4.4 step 1.
func sanitize(addr, server net.IP, mask net.IPMask) net.IP {
	a := ipToUint32(addr)
	s := ipToUint32(server)
	m := binary.BigEndian.Uint32(mask)
	return uint32ToIP((s & m) | (a &^ m))
}

// Allocate runs the full allocation procedure of spec.md §4.4. Caller must
// hold table's lock for the duration of the call: the decision reads the
// table and, on Released reuse, mutates the prior owner's record, and both
// must happen as one atomic step.
func Allocate(cfg Config, table *lease.Table, req Request) net.IP {
	free := func(ip net.IP, reuseReleased bool) bool {
		if ip.Equal(cfg.ServerAddress) {
			return false
		}
		if table.AddressExcluded(ip) {
			return false
		}
		return !table.AddressInUse(ip, reuseReleased)
	}

	poolStart := sanitize(cfg.PoolStart, cfg.ServerAddress, cfg.SubnetMask)
	poolEnd := sanitize(cfg.PoolEnd, cfg.ServerAddress, cfg.SubnetMask)

	if r, ok := reservation.Match(cfg.Reservations, req.HardwareAddress, req.Hostname, req.HostnamePresent); ok {
		return allocateFromReservation(cfg, table, r, free)
	}

	if req.RequestedIP != nil && !req.RequestedIP.IsUnspecified() {
		requested := sanitize(req.RequestedIP, cfg.ServerAddress, cfg.SubnetMask)
		if free(requested, true) {
			return requested
		}
	}

	// First pass: free and not currently Released.
	for ip := poolStart; ; ip = nextIP(ip) {
		if free(ip, false) {
			return ip
		}
		if ip.Equal(poolEnd) {
			break
		}
	}

	// Second pass: free, permitting Released reuse; clear the prior owner.
	for ip := poolStart; ; ip = nextIP(ip) {
		if free(ip, true) {
			clearPriorOwner(table, ip)
			return ip
		}
		if ip.Equal(poolEnd) {
			break
		}
	}

	return net.IPv4zero
}

// allocateFromReservation scans the reservation's range, reusing Released
// entries. A matching reservation's outcome is final: it does not fall
// through to the general pool scan, since its purpose is to bind this
// client to its own range.
func allocateFromReservation(cfg Config, table *lease.Table, r reservation.Reservation, free func(net.IP, bool) bool) net.IP {
	start := sanitize(r.PoolStart, cfg.ServerAddress, cfg.SubnetMask)
	end := sanitize(r.PoolEnd, cfg.ServerAddress, cfg.SubnetMask)

	for ip := start; ; ip = nextIP(ip) {
		if free(ip, true) {
			clearPriorOwner(table, ip)
			return ip
		}
		if ip.Equal(end) {
			break
		}
	}

	if r.Preempt {
		return start
	}
	return net.IPv4zero
}

// clearPriorOwner zeroes the address of any Released record that currently
// holds ip, per spec.md §4.4 step 5 ("the prior owner's ip_address is
// cleared to 0.0.0.0"). Caller must hold table's lock.
func clearPriorOwner(table *lease.Table, ip net.IP) {
	for _, rec := range table.Records() {
		if rec.State == lease.StateReleased && rec.IPAddress != nil && rec.IPAddress.Equal(ip) {
			rec.IPAddress = net.IPv4zero
		}
	}
}
