//go:build !linux

package transport

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// setSocketOptions enables SO_BROADCAST. Binding to a specific interface via
// SO_BINDTODEVICE is Linux-only (spec.md §6); a non-empty bindInterface on
// any other platform is a configuration error.
func setSocketOptions(fd uintptr, bindInterface string) error {
	if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1); err != nil {
		return fmt.Errorf("set SO_BROADCAST: %w", err)
	}
	if bindInterface != "" {
		return fmt.Errorf("bind-to-device is not supported on %s", runtime.GOOS)
	}
	return nil
}
