package dhcp4

import (
	"net"
	"reflect"
	"testing"
	"time"
)

func sampleMessage() *Message {
	return &Message{
		Op:        OpCodeBootRequest,
		HType:     HardwareTypeEthernet,
		HLen:      6,
		XID:       0xDEADBEEF,
		Broadcast: true,
		CIAddr:    net.IPv4zero,
		YIAddr:    net.IPv4zero,
		SIAddr:    net.IPv4zero,
		GIAddr:    net.IPv4zero,
		CHAddr:    net.HardwareAddr{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0x01},
		Options: Options{
			DHCPMessageType{Type: MessageTypeDiscover},
			ParameterRequestList{Codes: []OptionCode{OptionSubnetMask, OptionRouter}},
			HostName{Name: "workstation"},
		},
	}
}

func TestRoundTrip(t *testing.T) {
	m := sampleMessage()
	encoded := m.Encode(0)

	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if decoded.Op != m.Op || decoded.XID != m.XID || decoded.Broadcast != m.Broadcast {
		t.Fatalf("header mismatch: got %+v", decoded)
	}
	if decoded.CHAddr.String() != m.CHAddr.String() {
		t.Fatalf("chaddr mismatch: got %s want %s", decoded.CHAddr, m.CHAddr)
	}
	if decoded.MessageType() != MessageTypeDiscover {
		t.Fatalf("message type mismatch: got %v", decoded.MessageType())
	}
	if decoded.Options.HostName() != "workstation" {
		t.Fatalf("hostname mismatch: got %q", decoded.Options.HostName())
	}
	prl := decoded.Options.ParameterRequestList()
	if !reflect.DeepEqual(prl, []OptionCode{OptionSubnetMask, OptionRouter}) {
		t.Fatalf("parameter request list mismatch: got %v", prl)
	}
}

func TestMinimumPacketSizePadding(t *testing.T) {
	m := sampleMessage()
	encoded := m.Encode(312)
	if len(encoded) < 312 {
		t.Fatalf("expected padding to 312 bytes, got %d", len(encoded))
	}
}

func TestMalformedHeaderShortBuffer(t *testing.T) {
	if _, err := Decode(make([]byte, 10)); err != ErrMalformedHeader {
		t.Fatalf("expected ErrMalformedHeader, got %v", err)
	}
}

func TestMalformedHeaderBadCookie(t *testing.T) {
	m := sampleMessage()
	encoded := m.Encode(0)
	encoded[HeaderSize] ^= 0xFF // corrupt cookie
	if _, err := Decode(encoded); err != ErrMalformedHeader {
		t.Fatalf("expected ErrMalformedHeader, got %v", err)
	}
}

func TestUnknownOptionBecomesGeneric(t *testing.T) {
	m := sampleMessage()
	m.Options = append(m.Options, Generic{OptCode: OptionCode(224), Data: []byte("vendor-blob")})
	decoded, err := Decode(m.Encode(0))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	opt := decoded.Options.Get(OptionCode(224))
	generic, ok := opt.(Generic)
	if !ok {
		t.Fatalf("expected Generic, got %T", opt)
	}
	if string(generic.Data) != "vendor-blob" {
		t.Fatalf("generic data mismatch: got %q", generic.Data)
	}
}

func TestMissingEndTolerated(t *testing.T) {
	m := sampleMessage()
	encoded := m.Encode(0)
	// Strip the trailing End marker (255) that encodeOptionTLVs appends.
	truncated := encoded[:len(encoded)-1]
	if _, err := Decode(truncated); err != nil {
		t.Fatalf("expected missing End to be tolerated, got %v", err)
	}
}

func TestDuplicateCodeFragmentsConcatenate(t *testing.T) {
	// Hand-build an options area with two fragments of the same vendor
	// class identifier code, which must be concatenated before decode.
	base := sampleMessage()
	base.Options = Options{DHCPMessageType{Type: MessageTypeDiscover}}
	encoded := base.Encode(0)
	trimmed := encoded[:len(encoded)-1] // drop End marker to append more

	extra := []byte{byte(OptionVendorClassIdentifier), 3, 'f', 'o', 'o'}
	extra = append(extra, byte(OptionVendorClassIdentifier), 3, 'b', 'a', 'r')
	extra = append(extra, byte(OptionEnd))

	full := append(trimmed, extra...)
	decoded, err := Decode(full)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	vc, ok := decoded.Options.Get(OptionVendorClassIdentifier).(VendorClassIdentifier)
	if !ok {
		t.Fatalf("expected VendorClassIdentifier option")
	}
	if string(vc.Data) != "foobar" {
		t.Fatalf("expected concatenated fragments 'foobar', got %q", vc.Data)
	}
}

func TestOptionOverloadReassembly(t *testing.T) {
	inline := &Message{
		Op:     OpCodeBootRequest,
		HType:  HardwareTypeEthernet,
		HLen:   6,
		CHAddr: net.HardwareAddr{1, 2, 3, 4, 5, 6},
		Options: Options{
			DHCPMessageType{Type: MessageTypeRequest},
			HostName{Name: "a-host-that-is-fairly-long-for-testing"},
			ServerIdentifier{Address: net.IPv4(10, 0, 0, 1).To4()},
		},
	}
	inlineBytes := inline.Encode(0)
	inlineDecoded, err := Decode(inlineBytes)
	if err != nil {
		t.Fatalf("Decode inline: %v", err)
	}

	overloaded := buildOverloadedDatagram(t)
	overloadedDecoded, err := Decode(overloaded)
	if err != nil {
		t.Fatalf("Decode overloaded: %v", err)
	}

	if inlineDecoded.MessageType() != overloadedDecoded.MessageType() {
		t.Fatalf("message type mismatch: %v vs %v", inlineDecoded.MessageType(), overloadedDecoded.MessageType())
	}
	if inlineDecoded.Options.HostName() != overloadedDecoded.Options.HostName() {
		t.Fatalf("hostname mismatch: %q vs %q", inlineDecoded.Options.HostName(), overloadedDecoded.Options.HostName())
	}
	if !inlineDecoded.Options.ServerID().Equal(overloadedDecoded.Options.ServerID()) {
		t.Fatalf("server id mismatch: %v vs %v", inlineDecoded.Options.ServerID(), overloadedDecoded.Options.ServerID())
	}
}

// buildOverloadedDatagram hand-assembles a datagram where the hostname
// option lives in the "file" field and the server identifier lives in the
// "sname" field, per spec.md §4.1.1 (Option Overload = 3).
func buildOverloadedDatagram(t *testing.T) []byte {
	t.Helper()

	h := header{
		Op:     OpCodeBootRequest,
		HType:  HardwareTypeEthernet,
		HLen:   6,
		CHAddr: net.HardwareAddr{1, 2, 3, 4, 5, 6},
	}

	fileOpts := []byte{byte(OptionHostName), 38}
	fileOpts = append(fileOpts, []byte("a-host-that-is-fairly-long-for-testing")[:38]...)
	fileOpts = append(fileOpts, byte(OptionEnd))
	copy(h.File[:], fileOpts)

	snameOpts := []byte{byte(OptionServerIdentifier), 4, 10, 0, 0, 1, byte(OptionEnd)}
	copy(h.SName[:], snameOpts)

	primary := Options{
		DHCPMessageType{Type: MessageTypeRequest},
		OptionOverload{Value: 3},
	}

	buf := h.encode()
	buf = append(buf, MagicCookie[:]...)
	buf = append(buf, encodeOptionTLVs(primary)...)
	return buf
}

func TestLeaseTimeRoundTrip(t *testing.T) {
	m := sampleMessage()
	m.Options.Set(IPAddressLeaseTime{Duration: 3600 * time.Second})
	decoded, err := Decode(m.Encode(0))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	lt, ok := decoded.Options.LeaseTime()
	if !ok || lt != 3600*time.Second {
		t.Fatalf("expected 3600s lease time, got %v (present=%v)", lt, ok)
	}
}

func TestOptionsSetReplacesInPlace(t *testing.T) {
	opts := Options{
		DHCPMessageType{Type: MessageTypeDiscover},
		HostName{Name: "first"},
	}
	opts.Set(DHCPMessageType{Type: MessageTypeOffer})
	if len(opts) != 2 {
		t.Fatalf("expected Set to replace in place, got %d options", len(opts))
	}
	if opts.MessageType() != MessageTypeOffer {
		t.Fatalf("expected replaced message type Offer, got %v", opts.MessageType())
	}
}
