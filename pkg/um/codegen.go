package um

import (
	"fmt"

	"github.com/ascrivener/um/pkg/platter"
)

// recompileStubSize is the size of the routine planted over an amended slot
// of the running array. Every generated routine must be at least this long so
// the stub always fits in place.
const recompileStubSize = sizeRet

var arithOps = [...]byte{
	platter.Addition:       opAdd,
	platter.Multiplication: opMul,
	platter.Division:       opDiv,
	platter.NotAnd:         opNand,
}

// sizeOrEmit generates the routine for one platter into to and returns its
// size in bytes. With a nil to it only measures.
func sizeOrEmit(p platter.Platter, to []byte) int {
	cb := newCodeBuffer(to)
	emitRoutine(cb, p)
	if cb.len() < recompileStubSize {
		panic(fmt.Sprintf("um: routine for %s is %d bytes, shorter than the recompile stub", p, cb.len()))
	}
	return cb.len()
}

func emitRoutine(cb *CodeBuffer, p platter.Platter) {
	in, err := platter.Decode(p)
	if err != nil {
		// halt(invalid operator, word)
		cb.emitMovImm(locV1, uint32(HaltInvalidOperator))
		cb.emitMovImm(locV2, uint32(p))
		cb.emitRet(ReturnHalt)
		return
	}

	a, b, c := in.A, in.B, in.C
	switch in.Op {
	case platter.ConditionalMove:
		// if c != 0 { a = b }
		skip := cb.emitJz(c)
		cb.emitMov(a, b)
		cb.patchJump(skip)

	case platter.ArrayIndex:
		cb.emitLoad(a, b, c)

	case platter.ArrayAmendment:
		cb.emitStore(a, b, c)

	case platter.Addition, platter.Multiplication, platter.Division, platter.NotAnd:
		cb.emitArith(arithOps[in.Op], a, b, c)

	case platter.Halt:
		cb.emitMovImm(locV1, uint32(HaltNormal))
		cb.emitRet(ReturnHalt)

	case platter.Allocation:
		cb.emitMov(locV1, c)
		cb.emitRet(ReturnAllocation)
		cb.emitMov(b, locAcc)

	case platter.Abandonment:
		cb.emitMov(locV1, c)
		cb.emitRet(ReturnAbandonment)

	case platter.Output:
		cb.emitMov(locV1, c)
		cb.emitRet(ReturnOutput)

	case platter.Input:
		cb.emitRet(ReturnInput)
		cb.emitMov(c, locAcc)

	case platter.LoadProgram:
		// Loading array 0 is a plain jump within the running code.
		cb.emitMov(locV1, b)
		cb.emitMov(locV2, c)
		load := cb.emitJnz(locV1)
		cb.emitJmpTable(locV2)
		cb.patchJump(load)
		cb.emitRet(ReturnLoadProgram)

	case platter.Orthography:
		cb.emitMovImm(a, in.Value)

	default:
		panic(fmt.Sprintf("um: unexpected opcode %s", in.Op))
	}
}

// sizeOrEmitBoundsGuard generates the routine placed after the last platter's
// routine. Falling into it is an out-of-bounds halt.
func sizeOrEmitBoundsGuard(to []byte) int {
	cb := newCodeBuffer(to)
	cb.emitMovImm(locV1, uint32(HaltOutOfBounds))
	cb.emitRet(ReturnHalt)
	return cb.len()
}

// plantRecompileStub overwrites the start of the routine at addr.
func plantRecompileStub(code []byte, addr uint32) {
	cb := newCodeBuffer(code[addr : addr+recompileStubSize])
	cb.emitRet(ReturnRecompile)
}
