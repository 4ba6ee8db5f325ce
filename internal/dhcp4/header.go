package dhcp4

import (
	"encoding/binary"
	"net"
)

// header is the fixed 236-byte BOOTP header, decoded into Go-friendly
// fields. It is not exported; Message is the public surface.
type header struct {
	Op     OpCode
	HType  HardwareType
	HLen   byte
	Hops   byte
	XID    uint32
	Secs   uint16
	Flags  uint16
	CIAddr net.IP
	YIAddr net.IP
	SIAddr net.IP
	GIAddr net.IP
	CHAddr net.HardwareAddr
	SName  [SNameLen]byte
	File   [FileLen]byte
}

const broadcastFlag = 0x8000

func decodeHeader(data []byte) (header, error) {
	var h header
	if len(data) < HeaderSize {
		return h, ErrMalformedHeader
	}

	h.Op = OpCode(data[0])
	h.HType = HardwareType(data[1])
	h.HLen = data[2]
	h.Hops = data[3]
	h.XID = binary.BigEndian.Uint32(data[4:8])
	h.Secs = binary.BigEndian.Uint16(data[8:10])
	h.Flags = binary.BigEndian.Uint16(data[10:12])

	h.CIAddr = cloneIP(data[12:16])
	h.YIAddr = cloneIP(data[16:20])
	h.SIAddr = cloneIP(data[20:24])
	h.GIAddr = cloneIP(data[24:28])

	hlen := int(h.HLen)
	if hlen > MaxCHAddrLen {
		hlen = MaxCHAddrLen
	}
	chaddr := make(net.HardwareAddr, hlen)
	copy(chaddr, data[28:28+hlen])
	h.CHAddr = chaddr

	copy(h.SName[:], data[44:44+SNameLen])
	copy(h.File[:], data[44+SNameLen:44+SNameLen+FileLen])

	return h, nil
}

func (h header) encode() []byte {
	buf := make([]byte, HeaderSize)
	buf[0] = byte(h.Op)
	buf[1] = byte(h.HType)
	buf[2] = h.HLen
	buf[3] = h.Hops
	binary.BigEndian.PutUint32(buf[4:8], h.XID)
	binary.BigEndian.PutUint16(buf[8:10], h.Secs)
	binary.BigEndian.PutUint16(buf[10:12], h.Flags)

	putIP(buf[12:16], h.CIAddr)
	putIP(buf[16:20], h.YIAddr)
	putIP(buf[20:24], h.SIAddr)
	putIP(buf[24:28], h.GIAddr)

	copy(buf[28:28+MaxCHAddrLen], h.CHAddr)
	copy(buf[44:44+SNameLen], h.SName[:])
	copy(buf[44+SNameLen:44+SNameLen+FileLen], h.File[:])

	return buf
}

func cloneIP(b []byte) net.IP {
	ip := make(net.IP, 4)
	copy(ip, b)
	return ip
}

func putIP(dst []byte, ip net.IP) {
	if ip == nil {
		return
	}
	if v4 := ip.To4(); v4 != nil {
		copy(dst, v4)
	}
}

// zeroTerminatedString decodes a fixed-size legacy field (sname/file) as
// ASCII truncated at the first NUL byte.
func zeroTerminatedString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
