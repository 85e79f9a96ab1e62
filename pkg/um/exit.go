package um

import (
	"errors"
	"fmt"

	"github.com/ascrivener/um/pkg/platter"
)

// ReturnReason is the code generated routines hand back to the host when
// they need it to act.
type ReturnReason uint8

const (
	ReturnHalt        ReturnReason = iota + 1 // v1: halt subreason, v2: offending word
	ReturnAllocation                          // v1: requested size; handle goes back in acc
	ReturnAbandonment                         // v1: handle
	ReturnOutput                              // v1: byte value
	ReturnInput                               // byte (or all ones at EOF) goes back in acc
	ReturnLoadProgram                         // v1: source handle, v2: finger
	ReturnRecompile                           // running array was amended under a planted stub
	ReturnFault                               // v1: handle, v2: offset of a bad array access
	ReturnInterrupt                           // Run's context was cancelled during a jump
)

func (r ReturnReason) String() string {
	switch r {
	case ReturnHalt:
		return "halt"
	case ReturnAllocation:
		return "allocation"
	case ReturnAbandonment:
		return "abandonment"
	case ReturnOutput:
		return "output"
	case ReturnInput:
		return "input"
	case ReturnLoadProgram:
		return "load-program"
	case ReturnRecompile:
		return "recompile"
	case ReturnFault:
		return "fault"
	case ReturnInterrupt:
		return "interrupt"
	default:
		return fmt.Sprintf("reason(%d)", uint8(r))
	}
}

// HaltReason is the subreason carried by a halt return.
type HaltReason uint32

const (
	HaltNormal HaltReason = iota
	HaltInvalidOperator
	HaltOutOfBounds
	HaltDivisionByZero
)

// nativeExit is what the executor returns on every transfer back to the host.
type nativeExit struct {
	Reason ReturnReason
	Value1 uint32
	Value2 uint32
	// Resume is the code address right after the returning instruction.
	Resume uint32
}

// HaltError is returned by Run when the machine stops abnormally.
type HaltError struct {
	Reason HaltReason
	Word   platter.Platter
}

func (e *HaltError) Error() string {
	switch e.Reason {
	case HaltInvalidOperator:
		return fmt.Sprintf("Invalid operator: %s", e.Word)
	case HaltOutOfBounds:
		return "Execution beyond array length"
	case HaltDivisionByZero:
		return "Division by zero"
	default:
		return fmt.Sprintf("Unexpected halt code: 0x%X", uint32(e.Reason))
	}
}

// ErrSuspended is returned by Run when input reached end-of-stream and the
// engine was configured to suspend instead of returning the EOF sentinel.
var ErrSuspended = errors.New("machine suspended waiting for input")
