//go:build unix

package socket

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// controlReuseAddr is installed as a net.ListenConfig.Control hook so the
// listening socket carries SO_REUSEADDR (fast rebind after restart) and, on
// platforms where the constant is available, SO_REUSEPORT (multiple
// listeners sharing one port, e.g. for a multi-process accept fanout)
// before Listen's call to bind/listen runs.
func controlReuseAddr(_, _ string, c syscall.RawConn) error {
	var ctrlErr error
	err := c.Control(func(fd uintptr) {
		ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		if ctrlErr != nil {
			return
		}
		ctrlErr = setReusePort(int(fd))
	})
	if err != nil {
		return err
	}
	return ctrlErr
}
