package sockio

import (
	"context"
	"fmt"
	"net"
	"syscall"
)

// ListenOptions tunes the listening socket.
type ListenOptions struct {
	// ReusePort lets several processes bind the same address where the
	// platform supports SO_REUSEPORT. Ignored elsewhere.
	ReusePort bool
}

// Listen opens a TCP listener on addr with the given socket options.
func Listen(ctx context.Context, addr string, opts ListenOptions) (net.Listener, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			if !opts.ReusePort {
				return nil
			}
			var opErr error
			if err := c.Control(func(fd uintptr) {
				opErr = setReusePort(fd)
			}); err != nil {
				return err
			}
			return opErr
		},
	}

	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return ln, nil
}
