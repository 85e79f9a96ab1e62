package um

import (
	"errors"
	"fmt"
	"io"

	umerrors "github.com/ascrivener/um/pkg/errors"
	"github.com/ascrivener/um/pkg/platter"
)

// hostHandler acts on a return from generated code. It returns the code
// address to resume at, or done with the result of Run.
type hostHandler func(e *Engine, exit nativeExit) (next uint32, done bool, err error)

var hostHandlers [ReturnInterrupt + 1]hostHandler

func init() {
	hostHandlers[ReturnHalt] = handleHalt
	hostHandlers[ReturnAllocation] = handleAllocation
	hostHandlers[ReturnAbandonment] = handleAbandonment
	hostHandlers[ReturnOutput] = handleOutput
	hostHandlers[ReturnInput] = handleInput
	hostHandlers[ReturnLoadProgram] = handleLoadProgram
	hostHandlers[ReturnRecompile] = handleRecompile
	hostHandlers[ReturnFault] = handleFault
	hostHandlers[ReturnInterrupt] = handleInterrupt
}

func handleHalt(e *Engine, exit nativeExit) (uint32, bool, error) {
	reason := HaltReason(exit.Value1)
	if reason == HaltNormal {
		return 0, true, nil
	}

	herr := &HaltError{Reason: reason, Word: platter.Platter(exit.Value2)}
	if _, err := fmt.Fprintf(e.out, "\n%s\n", herr); err != nil {
		return 0, true, fmt.Errorf("writing halt diagnostic: %w", err)
	}
	return 0, true, herr
}

func handleAllocation(e *Engine, exit nativeExit) (uint32, bool, error) {
	handle, err := e.allocate(exit.Value1)
	if err != nil {
		return 0, true, err
	}
	e.file[locAcc] = handle
	return exit.Resume, false, nil
}

func handleAbandonment(e *Engine, exit nativeExit) (uint32, bool, error) {
	if err := e.abandon(exit.Value1); err != nil {
		return 0, true, err
	}
	return exit.Resume, false, nil
}

func handleOutput(e *Engine, exit nativeExit) (uint32, bool, error) {
	b := byte(exit.Value1)
	if err := e.out.WriteByte(b); err != nil {
		return 0, true, fmt.Errorf("writing output: %w", err)
	}
	if b == '\n' {
		if err := e.out.Flush(); err != nil {
			return 0, true, fmt.Errorf("flushing output: %w", err)
		}
	}
	return exit.Resume, false, nil
}

func handleInput(e *Engine, exit nativeExit) (uint32, bool, error) {
	if err := e.out.Flush(); err != nil {
		return 0, true, fmt.Errorf("flushing output: %w", err)
	}

	b, err := e.in.ReadByte()
	switch {
	case err == nil:
		e.file[locAcc] = uint32(b)
	case errors.Is(err, io.EOF) && e.suspendOnEOF:
		finger, ferr := e.running.code.fingerFor(exit.Resume)
		if ferr != nil {
			return 0, true, ferr
		}
		e.finger = finger
		e.log.Debug("suspended on end of input", "finger", finger)
		return 0, true, ErrSuspended
	case errors.Is(err, io.EOF):
		e.file[locAcc] = ^uint32(0)
	default:
		return 0, true, fmt.Errorf("reading input: %w", err)
	}
	return exit.Resume, false, nil
}

func handleLoadProgram(e *Engine, exit nativeExit) (uint32, bool, error) {
	next, err := e.loadProgram(exit.Value1, exit.Value2)
	if err != nil {
		return 0, true, err
	}
	return next, false, nil
}

func handleRecompile(e *Engine, exit nativeExit) (uint32, bool, error) {
	finger, err := e.running.code.fingerFor(exit.Resume)
	if err != nil {
		return 0, true, err
	}
	if err := e.regenerate(e.running); err != nil {
		return 0, true, err
	}
	e.stats.Recompiles++
	e.log.Debug("recompiled running array", "finger", finger)
	return e.running.code.Entry(finger), false, nil
}

func handleFault(e *Engine, exit nativeExit) (uint32, bool, error) {
	if e.lookup(exit.Value1) == nil {
		return 0, true, umerrors.InvalidArrayIndex("access to unallocated array", exit.Value1)
	}
	return 0, true, umerrors.InvalidArrayIndex(fmt.Sprintf("offset beyond array %d", exit.Value1), exit.Value2)
}

// handleInterrupt resumes at the jump target; Run's context check stops the
// machine.
func handleInterrupt(e *Engine, exit nativeExit) (uint32, bool, error) {
	return exit.Resume, false, nil
}
