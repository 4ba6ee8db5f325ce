package dhcp4

import (
	"encoding/binary"
	"net"
)

func beUint16(b []byte) uint16 { return binary.BigEndian.Uint16(b) }
func beUint32(b []byte) uint32 { return binary.BigEndian.Uint32(b) }

// decoders maps a well-known option code to a function that turns its
// (already reassembled, duplicate-merged) value bytes into a typed Option.
// A code with no entry decodes to Generic. Malformed values for a known
// code (wrong length) also fall back to Generic rather than failing the
// whole datagram — RFC 2131 decoders are expected to be liberal in what
// they accept from options they don't strictly need.
var decoders = map[OptionCode]func([]byte) Option{
	OptionSubnetMask: func(v []byte) Option {
		if len(v) != 4 {
			return nil
		}
		mask := make([]byte, 4)
		copy(mask, v)
		return SubnetMask{Mask: mask}
	},
	OptionRouter: func(v []byte) Option {
		if len(v) == 0 || len(v)%4 != 0 {
			return nil
		}
		return Router{Routers: bytesToIPs(v)}
	},
	OptionDomainNameServer: func(v []byte) Option {
		if len(v) == 0 || len(v)%4 != 0 {
			return nil
		}
		return DomainNameServer{Servers: bytesToIPs(v)}
	},
	OptionHostName: func(v []byte) Option {
		return HostName{Name: string(v)}
	},
	OptionNTPServers: func(v []byte) Option {
		if len(v) == 0 || len(v)%4 != 0 {
			return nil
		}
		return NTPServers{Servers: bytesToIPs(v)}
	},
	OptionRequestedIPAddress: func(v []byte) Option {
		if len(v) != 4 {
			return nil
		}
		ip := make(net.IP, 4)
		copy(ip, v)
		return RequestedIPAddress{Address: ip}
	},
	OptionIPAddressLeaseTime: func(v []byte) Option {
		if len(v) != 4 {
			return nil
		}
		return IPAddressLeaseTime{Duration: secondsToDuration(beUint32(v))}
	},
	OptionOptionOverload: func(v []byte) Option {
		if len(v) != 1 {
			return nil
		}
		return OptionOverload{Value: v[0]}
	},
	OptionMessageType: func(v []byte) Option {
		if len(v) != 1 {
			return nil
		}
		return DHCPMessageType{Type: MessageType(v[0])}
	},
	OptionServerIdentifier: func(v []byte) Option {
		if len(v) != 4 {
			return nil
		}
		ip := make(net.IP, 4)
		copy(ip, v)
		return ServerIdentifier{Address: ip}
	},
	OptionParameterRequestList: func(v []byte) Option {
		codes := make([]OptionCode, len(v))
		for i, b := range v {
			codes[i] = OptionCode(b)
		}
		return ParameterRequestList{Codes: codes}
	},
	OptionMessage: func(v []byte) Option {
		return MessageOption{Text: string(v)}
	},
	OptionMaximumDHCPMessageSize: func(v []byte) Option {
		if len(v) != 2 {
			return nil
		}
		return MaximumDHCPMessageSize{Size: beUint16(v)}
	},
	OptionRenewalTime: func(v []byte) Option {
		if len(v) != 4 {
			return nil
		}
		return RenewalTime{Duration: secondsToDuration(beUint32(v))}
	},
	OptionRebindingTime: func(v []byte) Option {
		if len(v) != 4 {
			return nil
		}
		return RebindingTime{Duration: secondsToDuration(beUint32(v))}
	},
	OptionVendorClassIdentifier: func(v []byte) Option {
		return VendorClassIdentifier{Data: append([]byte(nil), v...)}
	},
	OptionClientIdentifier: func(v []byte) Option {
		return ClientIdentifier{Data: append([]byte(nil), v...)}
	},
	OptionTFTPServerName: func(v []byte) Option {
		return TFTPServerName{Name: string(v)}
	},
	OptionBootFileName: func(v []byte) Option {
		return BootFileName{Name: string(v)}
	},
	OptionUserClass: func(v []byte) Option {
		return UserClass{Data: append([]byte(nil), v...)}
	},
	OptionFQDN: func(v []byte) Option {
		return FQDN{Data: append([]byte(nil), v...)}
	},
}

// decodeOption dispatches a reassembled (code, value) pair to its typed
// decoder, falling back to Generic for unknown codes or decode failures.
func decodeOption(code OptionCode, value []byte) Option {
	if fn, ok := decoders[code]; ok {
		if opt := fn(value); opt != nil {
			return opt
		}
	}
	return Generic{OptCode: code, Data: append([]byte(nil), value...)}
}
