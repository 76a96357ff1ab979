//go:build !unix && !windows

package device

// mapAnon falls back to heap memory where no anonymous mapping is available.
// Regions are only ever addressed through their base pointer, which the
// region itself keeps reachable.
func mapAnon(n int) ([]byte, error) {
	return make([]byte, n), nil
}

func unmap([]byte) error { return nil }
