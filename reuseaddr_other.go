//go:build !unix

package socket

import "syscall"

// controlReuseAddr is a no-op stub for non-unix GOOS (e.g. windows), where
// this module doesn't hand-roll the setsockopt sequence.
func controlReuseAddr(_, _ string, _ syscall.RawConn) error { return nil }
