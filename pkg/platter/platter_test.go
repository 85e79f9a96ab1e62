package platter

import (
	"testing"

	umerrors "github.com/ascrivener/um/pkg/errors"
	"github.com/google/go-cmp/cmp"
)

func TestDecodeThreeRegisterForm(t *testing.T) {
	tests := []struct {
		name string
		p    Platter
		want Instruction
	}{
		{"conditional move", 0x000001CA, Instruction{Op: ConditionalMove, A: 7, B: 1, C: 2}},
		{"addition", Encode(Addition, 2, 1, 0), Instruction{Op: Addition, A: 2, B: 1, C: 0}},
		{"halt ignores middle bits", 0x70FFFE00, Instruction{Op: Halt}},
		{"load program", Encode(LoadProgram, 0, 3, 4), Instruction{Op: LoadProgram, B: 3, C: 4}},
		{"middle bits ignored", 0x3FFFFE3F | 0x3<<28, Instruction{Op: Addition, A: 0, B: 7, C: 7}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.p)
			if err != nil {
				t.Fatalf("Decode(%s) failed: %v", tt.p, err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Decode(%s) mismatch (-want +got):\n%s", tt.p, diff)
			}
		})
	}
}

func TestDecodeOrthography(t *testing.T) {
	p := EncodeOrthography(5, MaxValue)
	in, err := Decode(p)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if in.Op != Orthography || in.A != 5 || in.Value != MaxValue {
		t.Errorf("Decode(%s) = %v, want orthography r5 <- %d", p, in, MaxValue)
	}

	// 'A' into register 1
	in, err = Decode(0xD2000041)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if in.A != 1 || in.Value != 'A' {
		t.Errorf("Decode(0xD2000041) = %v, want r1 <- 65", in)
	}
}

func TestDecodeInvalidOperators(t *testing.T) {
	for _, p := range []Platter{0xE0000000, 0xEFFFFFFF, 0xF0000000, 0xFFFFFFFF, 0xF1234567} {
		_, err := Decode(p)
		if err == nil {
			t.Errorf("Decode(%s) succeeded, want format error", p)
			continue
		}
		if !umerrors.IsFormatError(err) {
			t.Errorf("Decode(%s) error %T is not a format error", p, err)
		}
	}
}

// Sweeps every operator number with a spread of operand bits; decoding must
// never fail for 0-13 and always fail for 14-15.
func TestDecodeIsTotal(t *testing.T) {
	for op := uint32(0); op < 16; op++ {
		for low := uint32(0); low < 1<<28; low += 0x0012_3457 {
			p := Platter(op<<28 | low)
			in, err := Decode(p)
			if op >= OpcodeCount {
				if err == nil {
					t.Fatalf("Decode(%s) succeeded for operator %d", p, op)
				}
				continue
			}
			if err != nil {
				t.Fatalf("Decode(%s) failed: %v", p, err)
			}
			if in.Op != Opcode(op) {
				t.Fatalf("Decode(%s).Op = %d, want %d", p, in.Op, op)
			}
			if op == uint32(Orthography) {
				if in.A != uint8(low>>25) || in.Value != low&MaxValue {
					t.Fatalf("Decode(%s) = %v, bad orthography fields", p, in)
				}
				continue
			}
			if in.A != uint8(low>>6&7) || in.B != uint8(low>>3&7) || in.C != uint8(low&7) {
				t.Fatalf("Decode(%s) = %v, bad register fields", p, in)
			}
		}
	}
}

func TestOpcodeString(t *testing.T) {
	if got := LoadProgram.String(); got != "load-program" {
		t.Errorf("LoadProgram.String() = %q", got)
	}
	if got := Opcode(15).String(); got != "opcode(15)" {
		t.Errorf("Opcode(15).String() = %q", got)
	}
}
