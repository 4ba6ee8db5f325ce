//go:build linux

package transport

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// setSocketOptions enables SO_BROADCAST and, if bindInterface is set, binds
// the socket to that interface via SO_BINDTODEVICE (spec.md §6).
func setSocketOptions(fd uintptr, bindInterface string) error {
	if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1); err != nil {
		return fmt.Errorf("set SO_BROADCAST: %w", err)
	}
	if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fmt.Errorf("set SO_REUSEADDR: %w", err)
	}
	if bindInterface != "" {
		if err := unix.BindToDevice(int(fd), bindInterface); err != nil {
			return fmt.Errorf("bind to device %s: %w", bindInterface, err)
		}
	}
	return nil
}
