// Package platter decodes 32-bit machine words into instructions.
package platter

import (
	"fmt"

	umerrors "github.com/ascrivener/um/pkg/errors"
)

// Platter is one 32-bit machine word, either an instruction or data.
type Platter uint32

// Opcode is the operator number held in the top four bits of a platter.
type Opcode uint8

const (
	ConditionalMove Opcode = iota
	ArrayIndex
	ArrayAmendment
	Addition
	Multiplication
	Division
	NotAnd
	Halt
	Allocation
	Abandonment
	Output
	Input
	LoadProgram
	Orthography

	// OpcodeCount is the number of valid opcodes. Operator numbers at or
	// above it do not decode.
	OpcodeCount = 14
)

var opcodeNames = [OpcodeCount]string{
	ConditionalMove: "conditional-move",
	ArrayIndex:      "array-index",
	ArrayAmendment:  "array-amendment",
	Addition:        "addition",
	Multiplication:  "multiplication",
	Division:        "division",
	NotAnd:          "not-and",
	Halt:            "halt",
	Allocation:      "allocation",
	Abandonment:     "abandonment",
	Output:          "output",
	Input:           "input",
	LoadProgram:     "load-program",
	Orthography:     "orthography",
}

func (op Opcode) String() string {
	if op < OpcodeCount {
		return opcodeNames[op]
	}
	return fmt.Sprintf("opcode(%d)", uint8(op))
}

// Instruction is the decoded form of a platter. Orthography uses A and Value,
// every other opcode uses A, B and C.
type Instruction struct {
	Op    Opcode
	A     uint8
	B     uint8
	C     uint8
	Value uint32
}

const (
	registerMask = 0x7
	valueBits    = 25
	valueMask    = 1<<valueBits - 1

	// MaxValue is the largest immediate orthography can load.
	MaxValue = valueMask
)

// Opcode returns the operator number of the platter without validating it.
func (p Platter) Opcode() Opcode {
	return Opcode(p >> 28)
}

func (p Platter) String() string {
	return fmt.Sprintf("0x%08X", uint32(p))
}

// Decode turns a platter into an instruction. Operator numbers 14 and 15
// fail with a format error.
func Decode(p Platter) (Instruction, error) {
	op := p.Opcode()
	switch {
	case op < Orthography:
		return Instruction{
			Op: op,
			A:  uint8(p>>6) & registerMask,
			B:  uint8(p>>3) & registerMask,
			C:  uint8(p) & registerMask,
		}, nil
	case op == Orthography:
		return Instruction{
			Op:    op,
			A:     uint8(p>>valueBits) & registerMask,
			Value: uint32(p) & valueMask,
		}, nil
	default:
		return Instruction{}, umerrors.FormatErrorf("operator number %d in platter %s is not valid", uint8(op), p)
	}
}

// Encode builds a three-register platter. Fields are truncated to their widths.
func Encode(op Opcode, a, b, c uint8) Platter {
	return Platter(uint32(op&0xF)<<28 |
		uint32(a&registerMask)<<6 |
		uint32(b&registerMask)<<3 |
		uint32(c&registerMask))
}

// EncodeOrthography builds an orthography platter loading value into register a.
func EncodeOrthography(a uint8, value uint32) Platter {
	return Platter(uint32(Orthography)<<28 |
		uint32(a&registerMask)<<valueBits |
		value&valueMask)
}

func (in Instruction) String() string {
	if in.Op == Orthography {
		return fmt.Sprintf("%s r%d <- %d", in.Op, in.A, in.Value)
	}
	return fmt.Sprintf("%s a=r%d b=r%d c=r%d", in.Op, in.A, in.B, in.C)
}
