//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package sockio

func setReusePort(uintptr) error { return nil }
