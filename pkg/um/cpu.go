package um

import (
	"encoding/binary"
	"fmt"

	"github.com/ascrivener/um/pkg/platter"
)

// execute runs code from pc until a routine returns to the host. Array
// accesses that fault and divisions by zero also come back as returns so the
// host decides what to do with them.
func (e *Engine) execute(code *CodeObject, pc uint32) nativeExit {
	f := &e.file
	buf := code.code

	for {
		switch buf[pc] {
		case opMov:
			f[buf[pc+1]] = f[buf[pc+2]]
			pc += sizeMov

		case opMovI:
			f[buf[pc+1]] = binary.LittleEndian.Uint32(buf[pc+2:])
			pc += sizeMovI

		case opJz:
			pc += sizeJump
			if f[buf[pc-2]] == 0 {
				pc += uint32(buf[pc-1])
			}

		case opJnz:
			pc += sizeJump
			if f[buf[pc-2]] != 0 {
				pc += uint32(buf[pc-1])
			}

		case opLoad:
			handle, offset := f[buf[pc+2]], f[buf[pc+3]]
			target := e.lookup(handle)
			if target == nil || uint64(offset) >= uint64(len(target.platters)) {
				return nativeExit{Reason: ReturnFault, Value1: handle, Value2: offset, Resume: pc}
			}
			f[buf[pc+1]] = uint32(target.platters[offset])
			pc += sizeTri

		case opStore:
			handle, offset := f[buf[pc+1]], f[buf[pc+2]]
			target := e.lookup(handle)
			if target == nil || uint64(offset) >= uint64(len(target.platters)) {
				return nativeExit{Reason: ReturnFault, Value1: handle, Value2: offset, Resume: pc}
			}
			target.platters[offset] = platter.Platter(f[buf[pc+3]])
			target.dirty = true
			if target == e.running {
				plantRecompileStub(buf, code.Entry(offset))
			}
			pc += sizeTri

		case opAdd:
			f[buf[pc+1]] = f[buf[pc+2]] + f[buf[pc+3]]
			pc += sizeTri

		case opMul:
			f[buf[pc+1]] = f[buf[pc+2]] * f[buf[pc+3]]
			pc += sizeTri

		case opDiv:
			divisor := f[buf[pc+3]]
			if divisor == 0 {
				f[locV1] = uint32(HaltDivisionByZero)
				f[locV2] = 0
				return nativeExit{Reason: ReturnHalt, Value1: f[locV1], Value2: f[locV2], Resume: pc}
			}
			f[buf[pc+1]] = f[buf[pc+2]] / divisor
			pc += sizeTri

		case opNand:
			f[buf[pc+1]] = ^(f[buf[pc+2]] & f[buf[pc+3]])
			pc += sizeTri

		case opRet:
			return nativeExit{
				Reason: ReturnReason(buf[pc+1]),
				Value1: f[locV1],
				Value2: f[locV2],
				Resume: pc + sizeRet,
			}

		case opJmpT:
			pc = code.Entry(f[buf[pc+1]])
			if e.interrupted.Load() {
				return nativeExit{Reason: ReturnInterrupt, Resume: pc}
			}

		default:
			panic(fmt.Sprintf("um: bad host opcode 0x%02X at 0x%X", buf[pc], pc))
		}
	}
}
