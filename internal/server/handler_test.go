package server

import (
	"net"
	"testing"
	"time"

	"dhcpd/internal/config"
	"dhcpd/internal/dhcp4"
	"dhcpd/internal/lease"
)

var testXID uint32 = 0xDEADBEEF
var testCHAddr = net.HardwareAddr{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0x01}

func testConfiguration() config.Configuration {
	return config.Configuration{
		Endpoint:          &net.UDPAddr{IP: net.ParseIP("10.0.0.1").To4(), Port: 67},
		SubnetMask:        net.IPMask(net.ParseIP("255.255.255.0").To4()),
		PoolStart:         net.ParseIP("10.0.0.100").To4(),
		PoolEnd:           net.ParseIP("10.0.0.110").To4(),
		OfferExpiration:   30 * time.Second,
		LeaseTime:         3600 * time.Second,
		MinimumPacketSize: 312,
	}
}

func newTestHandler(cfg config.Configuration) (*handler, *lease.Table) {
	table := lease.New(cfg.OfferExpiration)
	h := newHandler(cfg, table, nil, nil, nil)
	return h, table
}

func baseRequest(msgType dhcp4.MessageType) *dhcp4.Message {
	return &dhcp4.Message{
		Op:      dhcp4.OpCodeBootRequest,
		HType:   dhcp4.HardwareTypeEthernet,
		HLen:    6,
		XID:     testXID,
		CHAddr:  append(net.HardwareAddr(nil), testCHAddr...),
		CIAddr:  net.IPv4zero,
		YIAddr:  net.IPv4zero,
		SIAddr:  net.IPv4zero,
		GIAddr:  net.IPv4zero,
		Options: dhcp4.Options{dhcp4.DHCPMessageType{Type: msgType}},
	}
}

func TestDiscoverProducesOffer(t *testing.T) {
	h, _ := newTestHandler(testConfiguration())

	req := baseRequest(dhcp4.MessageTypeDiscover)
	req.Broadcast = true

	out := h.handle(req)

	if out.reply == nil {
		t.Fatal("expected a reply")
	}
	if out.reply.MessageType() != dhcp4.MessageTypeOffer {
		t.Fatalf("expected OFFER, got %v", out.reply.MessageType())
	}
	if !out.reply.YIAddr.Equal(net.ParseIP("10.0.0.100")) {
		t.Fatalf("expected yiaddr 10.0.0.100, got %v", out.reply.YIAddr)
	}
	if out.dest.String() != "255.255.255.255:68" {
		t.Fatalf("expected broadcast destination, got %v", out.dest)
	}
	lt, ok := out.reply.Options.LeaseTime()
	if !ok || lt != 3600*time.Second {
		t.Fatalf("expected opt51=3600s, got %v (present=%v)", lt, ok)
	}
	if !out.reply.Options.ServerID().Equal(net.ParseIP("10.0.0.1")) {
		t.Fatalf("expected opt54=10.0.0.1, got %v", out.reply.Options.ServerID())
	}
	if !out.mutated {
		t.Fatal("expected OFFER insert to report a table mutation")
	}
}

func TestSelectingAcceptedTransitionsToAssigned(t *testing.T) {
	h, table := newTestHandler(testConfiguration())

	discover := baseRequest(dhcp4.MessageTypeDiscover)
	discover.Broadcast = true
	h.handle(discover)

	req := baseRequest(dhcp4.MessageTypeRequest)
	req.Options = dhcp4.Options{
		dhcp4.DHCPMessageType{Type: dhcp4.MessageTypeRequest},
		dhcp4.ServerIdentifier{Address: net.ParseIP("10.0.0.1").To4()},
		dhcp4.RequestedIPAddress{Address: net.ParseIP("10.0.0.100").To4()},
	}

	out := h.handle(req)

	if out.reply == nil || out.reply.MessageType() != dhcp4.MessageTypeAck {
		t.Fatalf("expected ACK, got %+v", out)
	}
	if !out.reply.YIAddr.Equal(net.ParseIP("10.0.0.100")) {
		t.Fatalf("expected yiaddr 10.0.0.100, got %v", out.reply.YIAddr)
	}

	if !out.mutated {
		t.Fatal("expected Offered->Assigned transition to report a table mutation")
	}

	key := lease.KeyFromMessage(req)
	table.Lock()
	rec, ok := table.Get(key)
	table.Unlock()
	if !ok || rec.State != lease.StateAssigned {
		t.Fatalf("expected Assigned record, got %+v (present=%v)", rec, ok)
	}
	if rec.LastSeen.IsZero() {
		t.Fatal("expected LastSeen to be set on the Assigned transition")
	}
}

func TestSelectingWrongServerDropsSilently(t *testing.T) {
	h, table := newTestHandler(testConfiguration())

	discover := baseRequest(dhcp4.MessageTypeDiscover)
	discover.Broadcast = true
	h.handle(discover)

	req := baseRequest(dhcp4.MessageTypeRequest)
	req.Options = dhcp4.Options{
		dhcp4.DHCPMessageType{Type: dhcp4.MessageTypeRequest},
		dhcp4.ServerIdentifier{Address: net.ParseIP("10.0.0.99").To4()},
		dhcp4.RequestedIPAddress{Address: net.ParseIP("10.0.0.100").To4()},
	}

	out := h.handle(req)

	if out.reply != nil {
		t.Fatalf("expected no reply, got %+v", out.reply)
	}

	key := lease.KeyFromMessage(req)
	table.Lock()
	_, ok := table.Get(key)
	table.Unlock()
	if ok {
		t.Fatal("expected offered record to be evicted")
	}
}

func TestInitRebootUnknownClientNaks(t *testing.T) {
	h, _ := newTestHandler(testConfiguration())

	req := baseRequest(dhcp4.MessageTypeRequest)
	req.Options = dhcp4.Options{
		dhcp4.DHCPMessageType{Type: dhcp4.MessageTypeRequest},
		dhcp4.RequestedIPAddress{Address: net.ParseIP("10.0.0.105").To4()},
	}

	out := h.handle(req)

	if out.reply == nil || out.reply.MessageType() != dhcp4.MessageTypeNak {
		t.Fatalf("expected NAK, got %+v", out)
	}
	if out.dest.String() != "255.255.255.255:68" {
		t.Fatalf("expected broadcast destination, got %v", out.dest)
	}
}

func TestInformProducesUnicastAckWithoutLeaseTime(t *testing.T) {
	h, _ := newTestHandler(testConfiguration())

	req := baseRequest(dhcp4.MessageTypeInform)
	req.CIAddr = net.ParseIP("10.0.0.50").To4()

	out := h.handle(req)

	if out.reply == nil || out.reply.MessageType() != dhcp4.MessageTypeAck {
		t.Fatalf("expected ACK, got %+v", out)
	}
	if !out.reply.YIAddr.Equal(net.IPv4zero) {
		t.Fatalf("expected yiaddr 0.0.0.0, got %v", out.reply.YIAddr)
	}
	if out.reply.Options.Has(dhcp4.OptionIPAddressLeaseTime) {
		t.Fatal("expected no lease time option on INFORM ACK")
	}
	if out.dest.String() != "10.0.0.50:68" {
		t.Fatalf("expected unicast to 10.0.0.50:68, got %v", out.dest)
	}
}

func TestOfferExpiryTriggersFreshAllocation(t *testing.T) {
	cfg := testConfiguration()
	cfg.OfferExpiration = time.Second
	h, table := newTestHandler(cfg)

	start := time.Now()
	h.now = func() time.Time { return start }

	discover := baseRequest(dhcp4.MessageTypeDiscover)
	discover.Broadcast = true
	first := h.handle(discover)
	if !first.reply.YIAddr.Equal(net.ParseIP("10.0.0.100")) {
		t.Fatalf("expected first offer 10.0.0.100, got %v", first.reply.YIAddr)
	}

	table.Tick(start.Add(2 * time.Second))

	h.now = func() time.Time { return start.Add(2 * time.Second) }
	second := h.handle(discover)
	if !second.reply.YIAddr.Equal(net.ParseIP("10.0.0.100")) {
		t.Fatalf("expected fresh allocation to reuse 10.0.0.100 (only free address at pool head), got %v", second.reply.YIAddr)
	}
}

func TestRelayRoutingUsesGiaddrRegardlessOfMessageType(t *testing.T) {
	h, _ := newTestHandler(testConfiguration())

	req := baseRequest(dhcp4.MessageTypeDiscover)
	req.GIAddr = net.ParseIP("192.168.9.1").To4()

	out := h.handle(req)

	if out.dest.String() != "192.168.9.1:67" {
		t.Fatalf("expected relay destination 192.168.9.1:67, got %v", out.dest)
	}
}

func TestReleaseAndDeclineReportMutation(t *testing.T) {
	h, table := newTestHandler(testConfiguration())

	discover := baseRequest(dhcp4.MessageTypeDiscover)
	discover.Broadcast = true
	h.handle(discover)

	req := baseRequest(dhcp4.MessageTypeRequest)
	req.Options = dhcp4.Options{
		dhcp4.DHCPMessageType{Type: dhcp4.MessageTypeRequest},
		dhcp4.ServerIdentifier{Address: net.ParseIP("10.0.0.1").To4()},
		dhcp4.RequestedIPAddress{Address: net.ParseIP("10.0.0.100").To4()},
	}
	h.handle(req)

	release := baseRequest(dhcp4.MessageTypeRelease)
	release.CIAddr = net.ParseIP("10.0.0.100").To4()
	release.Options = dhcp4.Options{
		dhcp4.DHCPMessageType{Type: dhcp4.MessageTypeRelease},
		dhcp4.ServerIdentifier{Address: net.ParseIP("10.0.0.1").To4()},
	}
	out := h.handle(release)
	if out.reply != nil {
		t.Fatalf("expected no reply to RELEASE, got %+v", out.reply)
	}
	if !out.mutated {
		t.Fatal("expected RELEASE to report a table mutation")
	}

	key := lease.KeyFromMessage(release)
	table.Lock()
	rec, ok := table.Get(key)
	table.Unlock()
	if !ok || rec.State != lease.StateReleased || rec.LastSeen.IsZero() {
		t.Fatalf("expected Released record with LastSeen set, got %+v (present=%v)", rec, ok)
	}

	decline := baseRequest(dhcp4.MessageTypeDecline)
	decline.CHAddr = append(net.HardwareAddr(nil), []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0x02}...)
	decline.Options = dhcp4.Options{
		dhcp4.DHCPMessageType{Type: dhcp4.MessageTypeDecline},
		dhcp4.ServerIdentifier{Address: net.ParseIP("10.0.0.1").To4()},
		dhcp4.RequestedIPAddress{Address: net.ParseIP("10.0.0.101").To4()},
	}
	h.table.Lock()
	h.table.Put(lease.KeyFromMessage(decline), &lease.Record{
		State:           lease.StateOffered,
		IPAddress:       net.ParseIP("10.0.0.101").To4(),
		HardwareAddress: decline.CHAddr,
	})
	h.table.Unlock()

	out = h.handle(decline)
	if out.reply != nil {
		t.Fatalf("expected no reply to DECLINE, got %+v", out.reply)
	}
	if !out.mutated {
		t.Fatal("expected DECLINE to report a table mutation")
	}
}

func TestInformRoutesThroughGiaddrWhenRelayed(t *testing.T) {
	h, _ := newTestHandler(testConfiguration())

	req := baseRequest(dhcp4.MessageTypeInform)
	req.CIAddr = net.ParseIP("10.0.0.50").To4()
	req.GIAddr = net.ParseIP("192.168.9.1").To4()

	out := h.handle(req)

	if out.reply == nil || out.reply.MessageType() != dhcp4.MessageTypeAck {
		t.Fatalf("expected ACK, got %+v", out)
	}
	if out.dest.String() != "192.168.9.1:67" {
		t.Fatalf("expected relayed INFORM ACK routed to giaddr 192.168.9.1:67, got %v", out.dest)
	}
}
