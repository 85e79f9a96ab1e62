//go:build linux || darwin || freebsd

package arena

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// platformSource maps anonymous private memory, readable and writable only.
type platformSource struct{}

func (platformSource) mapBlock(size int) ([]byte, error) {
	mem, err := unix.Mmap(
		-1, 0,
		size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANON,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to mmap %d bytes: %w", size, err)
	}
	return mem, nil
}

func (platformSource) unmapBlock(mem []byte) error {
	return unix.Munmap(mem)
}
