//go:build !unix

package sockio

import "syscall"

const rawReadSupported = false

func readRaw(syscall.RawConn, []byte) (int, error) {
	return 0, nil
}
