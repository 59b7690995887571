//go:build !linux

package dataset

import "os"

// mapFile falls back to a plain read on platforms without the mmap
// fast path.
func mapFile(path string) ([]byte, func() error, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	return data, func() error { return nil }, nil
}
