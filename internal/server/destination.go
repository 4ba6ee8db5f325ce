package server

import (
	"net"

	"dhcpd/internal/dhcp4"
)

const (
	clientPort = 68
	serverPort = 67
)

// replyDestination computes where a reply is sent, per spec.md §4.6's
// table. request is the inbound message that prompted response.
func replyDestination(request, response *dhcp4.Message) *net.UDPAddr {
	if len(request.GIAddr) != 0 && !request.GIAddr.IsUnspecified() {
		return &net.UDPAddr{IP: request.GIAddr, Port: serverPort}
	}

	msgType := response.MessageType()

	if msgType == dhcp4.MessageTypeNak {
		return broadcastAddr()
	}

	if len(request.CIAddr) != 0 && !request.CIAddr.IsUnspecified() {
		return &net.UDPAddr{IP: request.CIAddr, Port: clientPort}
	}

	if request.Broadcast {
		return broadcastAddr()
	}

	// giaddr=0, ciaddr=0, broadcast flag clear: RFC 2131 calls for a
	// unicast send to yiaddr, which needs ARP or raw-socket delivery this
	// transport doesn't implement (spec.md §9 open question). Falls back to
	// broadcast; a documented deviation, not a bug.
	return broadcastAddr()
}

func broadcastAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4bcast, Port: clientPort}
}
