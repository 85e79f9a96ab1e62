package um

import (
	"sort"

	umerrors "github.com/ascrivener/um/pkg/errors"
	"github.com/ascrivener/um/pkg/platter"
)

// JumpTable maps an instruction index to the code address of its routine.
// Entries are strictly increasing.
type JumpTable []uint32

// CodeObject is the generated code for one array together with its jump
// table. It is owned by exactly one Array at a time.
type CodeObject struct {
	code      []byte
	jumpTable JumpTable
	// guard is the address of the bounds-guard routine.
	guard uint32
}

// Len returns the number of jump table slots.
func (co *CodeObject) Len() int {
	return len(co.jumpTable)
}

// Size returns the number of code bytes including the bounds guard.
func (co *CodeObject) Size() int {
	return len(co.code)
}

// Entry returns the code address where execution at instruction i starts.
// Indices past the end resolve to the bounds guard.
func (co *CodeObject) Entry(i uint32) uint32 {
	if uint64(i) >= uint64(len(co.jumpTable)) {
		return co.guard
	}
	return co.jumpTable[i]
}

// fingerFor recovers the instruction index whose routine returned to the host
// with the given resume address. The search runs over the jump table with the
// guard address as a sentinel after the last slot: the first slot whose
// address is at or past addr is the boundary after the returning routine.
func (co *CodeObject) fingerFor(addr uint32) (uint32, error) {
	n := len(co.jumpTable)
	j := sort.Search(n+1, func(i int) bool {
		return co.Entry(uint32(i)) >= addr
	})
	if j == 0 {
		return 0, umerrors.InvalidArrayIndex("resume address precedes the first routine", addr)
	}
	if j > n {
		return 0, umerrors.InvalidArrayIndex("resume address past the bounds guard", addr)
	}
	return uint32(j - 1), nil
}

// generateCode builds a code object for platters. Code and slots come from
// mem. Sizes are measured in a first pass so the buffer is allocated exactly.
func generateCode(mem *Memory, platters []platter.Platter) (*CodeObject, error) {
	total := 0
	for _, p := range platters {
		total += sizeOrEmit(p, nil)
	}
	total += sizeOrEmitBoundsGuard(nil)

	code, err := mem.Code.Alloc(total, false)
	if err != nil {
		return nil, err
	}
	jumpTable, err := mem.Slots.Alloc(len(platters), false)
	if err != nil {
		mem.Code.Release(code)
		return nil, err
	}

	addr := 0
	for i, p := range platters {
		jumpTable[i] = uint32(addr)
		addr += sizeOrEmit(p, code[addr:])
	}
	guard := uint32(addr)
	addr += sizeOrEmitBoundsGuard(code[addr:])
	if addr != total {
		panic("um: emitted code size differs from measured size")
	}

	return &CodeObject{
		code:      code,
		jumpTable: jumpTable,
		guard:     guard,
	}, nil
}

func (co *CodeObject) release(mem *Memory) {
	mem.Code.Release(co.code)
	mem.Slots.Release(co.jumpTable)
	co.code = nil
	co.jumpTable = nil
}
