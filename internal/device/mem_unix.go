//go:build unix

package device

import "golang.org/x/sys/unix"

// mapAnon maps n zeroed bytes of private anonymous memory.
func mapAnon(n int) ([]byte, error) {
	return unix.Mmap(-1, 0, n, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
}

// unmap releases memory obtained from mapAnon.
func unmap(mem []byte) error {
	return unix.Munmap(mem)
}
