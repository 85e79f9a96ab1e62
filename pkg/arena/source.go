package arena

// blockSource is the platform allocator blocks and oversize buffers come from.
type blockSource interface {
	mapBlock(size int) ([]byte, error)
	unmapBlock(mem []byte) error
}

// heapSource allocates from the Go heap. Used where mmap is unavailable and
// by tests that need to count platform calls.
type heapSource struct{}

func (heapSource) mapBlock(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func (heapSource) unmapBlock([]byte) error {
	return nil
}
