package kms

import "golang.org/x/sys/unix"

// readFd reads once from fd into buf, returning the byte count. A short
// read is not an error here: DRM event reads are always a whole number of
// events, never a partial one (the kernel buffers whole events).
func readFd(fd int, buf []byte) (int, error) {
	n, err := unix.Read(fd, buf)
	if err != nil {
		return 0, err
	}
	return n, nil
}
