//go:build unix

package sockio

import (
	"io"
	"syscall"

	"golang.org/x/sys/unix"
)

const rawReadSupported = true

// readRaw performs a single read(2) on the descriptor. The runtime keeps
// sockets in non-blocking mode, so an empty receive buffer yields EAGAIN.
func readRaw(raw syscall.RawConn, buf []byte) (int, error) {
	var (
		n    int
		rerr error
	)
	err := raw.Read(func(fd uintptr) bool {
		n, rerr = unix.Read(int(fd), buf)
		return true
	})
	if err != nil {
		return 0, err
	}

	switch {
	case rerr == unix.EAGAIN || rerr == unix.EWOULDBLOCK || rerr == unix.EINTR:
		return 0, nil
	case rerr != nil:
		return 0, rerr
	case n == 0:
		return 0, io.EOF
	}
	return n, nil
}
