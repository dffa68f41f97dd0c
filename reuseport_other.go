//go:build unix && !linux && !darwin

package socket

// setReusePort is a no-op on unix platforms where SO_REUSEPORT isn't
// uniformly available through golang.org/x/sys/unix's constant set.
func setReusePort(_ int) error { return nil }
