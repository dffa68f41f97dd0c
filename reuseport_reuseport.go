//go:build linux || darwin

package socket

import "golang.org/x/sys/unix"

// setReusePort sets SO_REUSEPORT where the kernel supports it, letting
// several listener processes share one address. Every Listen call sets it,
// this module's own tests included, though none of them binds two
// listeners to one address.
func setReusePort(fd int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
}
