package dhcp4

import (
	"bytes"
	"net"
)

// Message is a decoded DHCPv4 datagram (spec.md §3 DhcpMessage).
type Message struct {
	Op        OpCode
	HType     HardwareType
	HLen      byte
	Hops      byte
	XID       uint32
	Secs      uint16
	Broadcast bool
	CIAddr    net.IP
	YIAddr    net.IP
	SIAddr    net.IP
	GIAddr    net.IP
	CHAddr    net.HardwareAddr
	SName     string
	File      string
	Options   Options
}

// MessageType returns the value of option 53, or Undefined if absent.
func (m *Message) MessageType() MessageType {
	return m.Options.MessageType()
}

// Decode parses a raw datagram into a Message, per spec.md §4.1.
func Decode(data []byte) (*Message, error) {
	if len(data) < MinPacketLen {
		return nil, ErrMalformedHeader
	}

	h, err := decodeHeader(data[:HeaderSize])
	if err != nil {
		return nil, err
	}

	cookie := data[HeaderSize : HeaderSize+CookieSize]
	if !bytes.Equal(cookie, MagicCookie[:]) {
		return nil, ErrMalformedHeader
	}

	primary, err := parseOptionStream(data[HeaderSize+CookieSize:])
	if err != nil {
		return nil, err
	}

	overload, hasOverload, err := scanOverload(primary)
	if err != nil {
		return nil, err
	}

	buffers := [][]rawOption{primary}
	sname := zeroTerminatedString(h.SName[:])
	file := zeroTerminatedString(h.File[:])

	if hasOverload {
		if overload&1 != 0 { // file holds options
			fileFrags, err := parseOptionStream(h.File[:])
			if err != nil {
				return nil, err
			}
			buffers = append(buffers, fileFrags)
			file = ""
		}
		if overload&2 != 0 { // sname holds options
			snameFrags, err := parseOptionStream(h.SName[:])
			if err != nil {
				return nil, err
			}
			buffers = append(buffers, snameFrags)
			sname = ""
		}
	}

	merged := mergeFragments(buffers...)
	opts := make(Options, 0, len(merged))
	for _, frag := range merged {
		opts = append(opts, decodeOption(frag.Code, frag.Value))
	}

	return &Message{
		Op:        h.Op,
		HType:     h.HType,
		HLen:      h.HLen,
		Hops:      h.Hops,
		XID:       h.XID,
		Secs:      h.Secs,
		Broadcast: h.Flags&broadcastFlag != 0,
		CIAddr:    h.CIAddr,
		YIAddr:    h.YIAddr,
		SIAddr:    h.SIAddr,
		GIAddr:    h.GIAddr,
		CHAddr:    h.CHAddr,
		SName:     sname,
		File:      file,
		Options:   opts,
	}, nil
}

// scanOverload looks for option 52 among already-parsed primary fragments,
// without yet merging duplicates (spec.md §4.1.1: "scan options once").
func scanOverload(primary []rawOption) (value byte, present bool, err error) {
	for _, frag := range primary {
		if frag.Code == OptionOptionOverload {
			if len(frag.Value) != 1 {
				return 0, false, ErrMalformedOption
			}
			return frag.Value[0], true, nil
		}
	}
	return 0, false, nil
}

// Encode serializes m to a datagram, zero-padding to at least minSize
// bytes. This implementation never overflows options into sname/file: it
// only needs to tolerate Option Overload on decode, since every reply this
// server builds fits comfortably in the primary options area.
func (m *Message) Encode(minSize int) []byte {
	h := header{
		Op:     m.Op,
		HType:  m.HType,
		HLen:   m.HLen,
		Hops:   m.Hops,
		XID:    m.XID,
		Secs:   m.Secs,
		CIAddr: orZero(m.CIAddr),
		YIAddr: orZero(m.YIAddr),
		SIAddr: orZero(m.SIAddr),
		GIAddr: orZero(m.GIAddr),
		CHAddr: m.CHAddr,
	}
	if m.Broadcast {
		h.Flags |= broadcastFlag
	}
	copy(h.SName[:], m.SName)
	copy(h.File[:], m.File)

	buf := h.encode()
	buf = append(buf, MagicCookie[:]...)
	buf = append(buf, encodeOptionTLVs(m.Options)...)

	if len(buf) < minSize {
		buf = append(buf, make([]byte, minSize-len(buf))...)
	}
	return buf
}

func orZero(ip net.IP) net.IP {
	if ip == nil {
		return net.IPv4zero
	}
	return ip
}

// NewReply builds a reply skeleton mirroring the request's transaction
// identity (xid, htype, chaddr, giaddr, broadcast flag) with secs zeroed,
// per spec.md §4.5's OFFER construction rule ("mirrored xid/secs-zeroed/
// broadcast/giaddr/chaddr/htype").
func (m *Message) NewReply(msgType MessageType) *Message {
	reply := &Message{
		Op:        OpCodeBootReply,
		HType:     m.HType,
		HLen:      m.HLen,
		XID:       m.XID,
		Secs:      0,
		Broadcast: m.Broadcast,
		GIAddr:    m.GIAddr,
		CHAddr:    append(net.HardwareAddr(nil), m.CHAddr...),
		Options:   Options{DHCPMessageType{Type: msgType}},
	}
	return reply
}
