//go:build linux

package server

import "golang.org/x/sys/unix"

// applySocketOptions tunes the listening socket: address reuse, a 1 MiB
// receive buffer, and two SYN retries so half-open handshakes fail fast.
func applySocketOptions(fd uintptr) error {
	if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return err
	}
	if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, 1<<20); err != nil {
		return err
	}
	return unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_SYNCNT, 2)
}
