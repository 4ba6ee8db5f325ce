// Package transport implements the UdpTransport boundary (spec.md §6):
// datagram delivery with SO_BROADCAST set and, on Linux, an optional
// SO_BINDTODEVICE bind, plus Transient/Fatal error classification.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// Datagram is one received (peer, bytes) pair.
type Datagram struct {
	Peer *net.UDPAddr
	Data []byte
}

// UdpTransport is the socket boundary the server core consumes (spec.md §6).
type UdpTransport interface {
	Receive() (Datagram, error)
	Send(peer *net.UDPAddr, data []byte) error
	LocalEndpoint() *net.UDPAddr
	Close() error
}

// Error wraps a transport failure with its classification.
type Error struct {
	Transient bool
	Fatal     bool
	err       error
}

func (e *Error) Error() string { return e.err.Error() }
func (e *Error) Unwrap() error { return e.err }

func transientError(err error) *Error { return &Error{Transient: true, err: err} }
func fatalError(err error) *Error     { return &Error{Fatal: true, err: err} }

// IsTransient reports whether err is a transport error classified transient.
func IsTransient(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Transient
}

// IsFatal reports whether err is a transport error classified fatal.
func IsFatal(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Fatal
}

// UDPTransport is a net.ListenUDP-backed UdpTransport.
type UDPTransport struct {
	conn      *net.UDPConn
	localAddr *net.UDPAddr
}

// Listen opens a UDP socket bound to addr with SO_BROADCAST set. If
// bindInterface is non-empty, on Linux the socket is additionally bound to
// that interface via SO_BINDTODEVICE (see sockopt_linux.go).
func Listen(addr *net.UDPAddr, bindInterface string) (*UDPTransport, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var ctrlErr error
			err := c.Control(func(fd uintptr) {
				if err := setSocketOptions(fd, bindInterface); err != nil {
					ctrlErr = err
				}
			})
			if err != nil {
				return err
			}
			return ctrlErr
		},
	}

	pc, err := lc.ListenPacket(context.Background(), "udp4", addr.String())
	if err != nil {
		return nil, fmt.Errorf("listen udp %s: %w", addr, err)
	}
	conn := pc.(*net.UDPConn)
	local, _ := conn.LocalAddr().(*net.UDPAddr)

	return &UDPTransport{conn: conn, localAddr: local}, nil
}

// Receive reads one datagram, classifying failures per spec.md §6.
func (t *UDPTransport) Receive() (Datagram, error) {
	buf := make([]byte, 65535)
	n, peer, err := t.conn.ReadFromUDP(buf)
	if err != nil {
		return Datagram{}, classifyReceiveError(err)
	}
	return Datagram{Peer: peer, Data: buf[:n]}, nil
}

// Send writes a datagram to peer, classifying failures per spec.md §6.
func (t *UDPTransport) Send(peer *net.UDPAddr, data []byte) error {
	if _, err := t.conn.WriteToUDP(data, peer); err != nil {
		return classifySendError(err)
	}
	return nil
}

// LocalEndpoint returns the socket's bound local address.
func (t *UDPTransport) LocalEndpoint() *net.UDPAddr { return t.localAddr }

// Close disposes the socket, causing any pending Receive to fail.
func (t *UDPTransport) Close() error { return t.conn.Close() }

func classifyReceiveError(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return fatalError(err)
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EMSGSIZE) {
		return transientError(err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Timeout() {
		return transientError(err)
	}
	return fatalError(err)
}

func classifySendError(err error) error {
	if errors.Is(err, syscall.EMSGSIZE) || errors.Is(err, syscall.ECONNRESET) {
		return transientError(err)
	}
	if errors.Is(err, net.ErrClosed) {
		return fatalError(err)
	}
	return transientError(err)
}
