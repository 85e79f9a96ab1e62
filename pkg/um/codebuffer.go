package um

import "encoding/binary"

// Host code is a byte-encoded register-transfer instruction set. Operands name
// slots of the executor's register file: the 8 machine registers followed by
// three scratch registers used to pass values across a return to the host.
//
// Encodings (all little endian):
//
//	mov   d, s      01 d s
//	movi  d, imm32  02 d imm32
//	jz    s, rel8   03 s rel      skip rel bytes when f[s] == 0
//	jnz   s, rel8   04 s rel      skip rel bytes when f[s] != 0
//	load  d, a, i   05 d a i      f[d] = arrays[f[a]][f[i]]
//	store a, i, v   06 a i v      arrays[f[a]][f[i]] = f[v]
//	add   d, x, y   07 d x y
//	mul   d, x, y   08 d x y
//	div   d, x, y   09 d x y
//	nand  d, x, y   0A d x y
//	ret   reason    0B reason     return to host, resume at the next byte
//	jmpt  s         0C s          jump to running jump table slot f[s]
const (
	opMov   byte = 0x01
	opMovI  byte = 0x02
	opJz    byte = 0x03
	opJnz   byte = 0x04
	opLoad  byte = 0x05
	opStore byte = 0x06
	opAdd   byte = 0x07
	opMul   byte = 0x08
	opDiv   byte = 0x09
	opNand  byte = 0x0A
	opRet   byte = 0x0B
	opJmpT  byte = 0x0C
)

// Register file slots beyond the machine registers.
const (
	locV1  byte = 8
	locV2  byte = 9
	locAcc byte = 10

	fileSize = 11
)

const (
	sizeMov   = 3
	sizeMovI  = 6
	sizeJump  = 3
	sizeTri   = 4
	sizeRet   = 2
	sizeJmpT  = 2
	maxRelJmp = 255
)

// CodeBuffer emits host code. A buffer with no backing storage only counts,
// which is how the size pass of a generation runs.
type CodeBuffer struct {
	code []byte
	n    int
}

// newCodeBuffer writes into to; a nil to measures only.
func newCodeBuffer(to []byte) *CodeBuffer {
	return &CodeBuffer{code: to}
}

func (cb *CodeBuffer) measuring() bool {
	return cb.code == nil
}

func (cb *CodeBuffer) emit(b byte) {
	if !cb.measuring() {
		cb.code[cb.n] = b
	}
	cb.n++
}

func (cb *CodeBuffer) emitBytes(bs ...byte) {
	if !cb.measuring() {
		copy(cb.code[cb.n:], bs)
	}
	cb.n += len(bs)
}

func (cb *CodeBuffer) emitU32(val uint32) {
	if !cb.measuring() {
		binary.LittleEndian.PutUint32(cb.code[cb.n:], val)
	}
	cb.n += 4
}

func (cb *CodeBuffer) len() int {
	return cb.n
}

// Emit: mov d, s
func (cb *CodeBuffer) emitMov(d, s byte) {
	cb.emitBytes(opMov, d, s)
}

// Emit: movi d, imm32
func (cb *CodeBuffer) emitMovImm(d byte, imm uint32) {
	cb.emitBytes(opMovI, d)
	cb.emitU32(imm)
}

// emitJz emits a jz with a placeholder displacement and returns its position
// for patchJump.
func (cb *CodeBuffer) emitJz(s byte) int {
	pos := cb.n
	cb.emitBytes(opJz, s, 0)
	return pos
}

// emitJnz is emitJz for the non-zero case.
func (cb *CodeBuffer) emitJnz(s byte) int {
	pos := cb.n
	cb.emitBytes(opJnz, s, 0)
	return pos
}

// patchJump points the jump emitted at pos to the current position.
func (cb *CodeBuffer) patchJump(pos int) {
	rel := cb.n - pos - sizeJump
	if rel < 0 || rel > maxRelJmp {
		panic("um: jump displacement out of range")
	}
	if !cb.measuring() {
		cb.code[pos+2] = byte(rel)
	}
}

// Emit: load d, a, i
func (cb *CodeBuffer) emitLoad(d, a, i byte) {
	cb.emitBytes(opLoad, d, a, i)
}

// Emit: store a, i, v
func (cb *CodeBuffer) emitStore(a, i, v byte) {
	cb.emitBytes(opStore, a, i, v)
}

// emitArith emits one of add, mul, div or nand.
func (cb *CodeBuffer) emitArith(op, d, x, y byte) {
	cb.emitBytes(op, d, x, y)
}

// Emit: ret reason
func (cb *CodeBuffer) emitRet(reason ReturnReason) {
	cb.emitBytes(opRet, byte(reason))
}

// Emit: jmpt s
func (cb *CodeBuffer) emitJmpTable(s byte) {
	cb.emitBytes(opJmpT, s)
}
