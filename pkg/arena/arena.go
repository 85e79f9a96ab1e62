// Package arena is a segregated free-list allocator for word buffers.
//
// Requests are rounded up to a power-of-two size class between MinChunkBytes
// and BlockBytes. Each class keeps a free list refilled by carving a whole
// block obtained from the platform. Requests larger than a block bypass the
// lists and go straight to the platform.
package arena

import (
	"fmt"
	"math/bits"
	"unsafe"

	umerrors "github.com/ascrivener/um/pkg/errors"
)

const (
	MinChunkBytes = 32
	BlockBytes    = 1024 * 1024
)

// Word is the element type an arena can hand out. Only pointer-free types
// are allowed since blocks may live outside the Go heap.
type Word interface {
	~uint8 | ~uint32
}

// Arena hands out []T buffers. It is not safe for concurrent use.
type Arena[T Word] struct {
	source   blockSource
	elemSize int
	minShift int // log2 of the smallest class in elements
	free     [][][]T
	blocks   [][]byte
	large    map[*T][]byte
	stats    Stats
}

// Stats reports arena usage.
type Stats struct {
	Blocks     int
	LargeLive  int
	ChunksLive int
}

// New creates an arena backed by the platform block source.
func New[T Word]() *Arena[T] {
	return newArena[T](platformSource{})
}

func newArena[T Word](source blockSource) *Arena[T] {
	var zero T
	elemSize := int(unsafe.Sizeof(zero))
	minElems := MinChunkBytes / elemSize
	maxElems := BlockBytes / elemSize
	classes := bits.Len(uint(maxElems)) - bits.Len(uint(minElems)) + 1

	return &Arena[T]{
		source:   source,
		elemSize: elemSize,
		minShift: bits.Len(uint(minElems)) - 1,
		free:     make([][][]T, classes),
		large:    make(map[*T][]byte),
	}
}

// classFor returns the size class index serving n elements, or -1 when n is
// larger than a block.
func (a *Arena[T]) classFor(n int) int {
	if n <= 1<<a.minShift {
		return 0
	}
	shift := bits.Len(uint(n - 1))
	class := shift - a.minShift
	if class >= len(a.free) {
		return -1
	}
	return class
}

func (a *Arena[T]) classElems(class int) int {
	return 1 << (a.minShift + class)
}

// Alloc returns a buffer of exactly n elements. When zero is false the
// contents are unspecified.
func (a *Arena[T]) Alloc(n int, zero bool) ([]T, error) {
	if n < 0 {
		return nil, fmt.Errorf("arena: negative allocation size %d", n)
	}
	if n == 0 {
		return []T{}, nil
	}

	class := a.classFor(n)
	if class < 0 {
		return a.allocLarge(n)
	}

	list := a.free[class]
	if len(list) == 0 {
		if err := a.refill(class); err != nil {
			return nil, err
		}
		list = a.free[class]
	}
	chunk := list[len(list)-1]
	a.free[class] = list[:len(list)-1]
	a.stats.ChunksLive++

	buf := chunk[:n]
	if zero {
		clear(buf)
	}
	return buf, nil
}

// refill carves a new block into chunks of the given class.
func (a *Arena[T]) refill(class int) error {
	block, err := a.source.mapBlock(BlockBytes)
	if err != nil {
		return umerrors.WrapResourceError(err, "arena: failed to obtain block")
	}
	a.blocks = append(a.blocks, block)
	a.stats.Blocks++

	elems := asElems[T](block, a.elemSize)
	size := a.classElems(class)
	for off := len(elems) - size; off >= 0; off -= size {
		a.free[class] = append(a.free[class], elems[off:off+size:off+size])
	}
	return nil
}

func (a *Arena[T]) allocLarge(n int) ([]T, error) {
	mem, err := a.source.mapBlock(n * a.elemSize)
	if err != nil {
		return nil, umerrors.WrapResourceError(err, fmt.Sprintf("arena: failed to allocate %d elements", n))
	}
	buf := asElems[T](mem, a.elemSize)[:n:n]
	a.large[&buf[0]] = mem
	a.stats.LargeLive++
	return buf, nil
}

// Release returns a buffer obtained from Alloc. Releasing anything else
// panics.
func (a *Arena[T]) Release(buf []T) {
	if cap(buf) == 0 {
		return
	}
	buf = buf[:cap(buf)]
	if mem, ok := a.large[&buf[0]]; ok {
		delete(a.large, &buf[0])
		a.stats.LargeLive--
		if err := a.source.unmapBlock(mem); err != nil {
			panic(fmt.Sprintf("arena: failed to release large allocation: %v", err))
		}
		return
	}

	class := a.classFor(len(buf))
	if class < 0 || a.classElems(class) != len(buf) {
		panic(fmt.Sprintf("arena: release of a buffer with capacity %d not owned by this arena", len(buf)))
	}
	a.free[class] = append(a.free[class], buf)
	a.stats.ChunksLive--
}

// Stats returns current usage counters.
func (a *Arena[T]) Stats() Stats {
	return a.stats
}

// Close returns every block to the platform. Buffers handed out earlier must
// not be used afterwards.
func (a *Arena[T]) Close() error {
	var firstErr error
	for _, block := range a.blocks {
		if err := a.source.unmapBlock(block); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, mem := range a.large {
		if err := a.source.unmapBlock(mem); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.blocks = nil
	a.large = make(map[*T][]byte)
	for i := range a.free {
		a.free[i] = nil
	}
	a.stats = Stats{}
	return firstErr
}

func asElems[T Word](mem []byte, elemSize int) []T {
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(mem))), len(mem)/elemSize)
}
