// Package sockio holds the low level socket helpers used by the game server:
// a read that never waits for data, and listener socket options.
//
// Connections backed by a file descriptor are read with a non-blocking syscall.
// Others, such as ngrok tunnel streams and in-memory pipes, fall back to a read
// with a PollTimeout deadline, so an idle one costs up to PollTimeout per read.
// A read pass over N idle tunnel clients therefore takes about N*PollTimeout.
package sockio

import (
	"errors"
	"io"
	"net"
	"syscall"
	"time"
)

// PollTimeout bounds the fallback read used for connections that do not expose
// a file descriptor, such as in-memory pipes.
const PollTimeout = time.Millisecond

// ReadAvailable reads whatever is already available on conn without waiting.
//
// It returns (0, nil) when no data is pending and (0, io.EOF) when the peer has
// closed its side. Any other error is fatal for the connection.
func ReadAvailable(conn net.Conn, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	if sc, ok := conn.(syscall.Conn); ok && rawReadSupported {
		raw, err := sc.SyscallConn()
		if err == nil {
			return readRaw(raw, buf)
		}
	}
	return readWithDeadline(conn, buf)
}

func readWithDeadline(conn net.Conn, buf []byte) (int, error) {
	if err := conn.SetReadDeadline(time.Now().Add(PollTimeout)); err != nil {
		return 0, err
	}
	n, err := conn.Read(buf)
	_ = conn.SetReadDeadline(time.Time{})

	if err == nil {
		return n, nil
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return n, nil
	}
	if n > 0 && errors.Is(err, io.EOF) {
		return n, nil
	}
	return n, err
}
