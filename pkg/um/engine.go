// Package um runs platter machine programs by generating host code for each
// array before it executes.
//
// Every array that runs as array 0 is turned into a buffer of routines, one
// per platter, followed by a bounds guard. A jump table maps instruction
// indices to routine addresses. Routines that need the host (halt, allocation,
// abandonment, I/O, program load) return with a reason code; the engine acts
// on it and resumes the code. Writes into the running array plant a
// recompile stub over the amended slot so the stale routine never runs.
package um

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"

	umerrors "github.com/ascrivener/um/pkg/errors"
	"github.com/ascrivener/um/pkg/platter"
)

// Config configures an Engine. Zero values are usable: no input (every read
// sees end-of-stream), discarded output, no logging and private memory.
type Config struct {
	Input  io.Reader
	Output io.Writer
	Logger *slog.Logger
	// Memory backs every array and code buffer. When nil the engine creates
	// its own and closes it in Close.
	Memory *Memory
	// SuspendOnEOF makes an input request at end-of-stream stop Run with
	// ErrSuspended instead of handing the program the EOF sentinel.
	SuspendOnEOF bool
}

// Stats counts engine events since creation.
type Stats struct {
	Regenerations uint64
	Recompiles    uint64
	Transfers     uint64
	Loads         uint64
	Allocations   uint64
	Abandonments  uint64
}

// Engine is a platter machine. It is not safe for concurrent use.
type Engine struct {
	file    [fileSize]uint32
	arrays  []*Array
	minFree uint32
	// running is the array whose code executes. It is the array installed
	// as handle 0, and stays alive after handle 0 is abandoned until another
	// program is loaded.
	running *Array
	// donor is the array that last gave its code to array 0.
	donor  *Array
	finger uint32

	mem     *Memory
	ownsMem bool
	in      *bufio.Reader
	out     *bufio.Writer
	log     *slog.Logger

	suspendOnEOF bool
	stopped      bool
	// interrupted is set when the context of the current Run is done. Every
	// loop that stays in generated code passes a jmpt, which checks it.
	interrupted atomic.Bool
	stats       Stats
}

var errStopped = errors.New("um: engine already stopped")

// New creates an engine with program as array 0. The platters are copied.
func New(program []platter.Platter, cfg Config) (*Engine, error) {
	e := newEngine(cfg)
	platters, err := e.mem.Platters.Alloc(len(program), false)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("allocating array 0: %w", err)
	}
	copy(platters, program)

	zero := adoptArray(platters)
	e.arrays = []*Array{zero}
	e.running = zero
	return e, nil
}

func newEngine(cfg Config) *Engine {
	e := &Engine{
		minFree:      1,
		mem:          cfg.Memory,
		log:          cfg.Logger,
		suspendOnEOF: cfg.SuspendOnEOF,
	}
	if e.mem == nil {
		e.mem = NewMemory()
		e.ownsMem = true
	}
	if e.log == nil {
		e.log = slog.New(slog.DiscardHandler)
	}

	input := cfg.Input
	if input == nil {
		input = strings.NewReader("")
	}
	output := cfg.Output
	if output == nil {
		output = io.Discard
	}
	e.in = bufio.NewReader(input)
	e.out = bufio.NewWriter(output)
	return e
}

// Run executes the machine until it halts, fails or suspends. A normal halt
// returns nil. An abnormal halt writes a diagnostic line to the output and
// returns a *HaltError. After ErrSuspended, Run may be called again and
// resumes at the input instruction. Cancelling the context stops the machine
// at its next return to the host or jump within array 0.
func (e *Engine) Run(ctx context.Context) (err error) {
	if e.stopped {
		return errStopped
	}
	e.interrupted.Store(false)
	stop := context.AfterFunc(ctx, func() {
		e.interrupted.Store(true)
	})
	defer stop()
	defer func() {
		if ferr := e.out.Flush(); ferr != nil && err == nil {
			err = fmt.Errorf("flushing output: %w", ferr)
		}
	}()

	if e.running.code == nil || e.running.dirty {
		if err := e.regenerate(e.running); err != nil {
			e.stopped = true
			return err
		}
	}
	pc := e.running.code.Entry(e.finger)

	for {
		if err := ctx.Err(); err != nil {
			e.stopped = true
			return err
		}

		exit := e.execute(e.running.code, pc)

		var handler hostHandler
		if int(exit.Reason) < len(hostHandlers) {
			handler = hostHandlers[exit.Reason]
		}
		if handler == nil {
			e.stopped = true
			return fmt.Errorf("um: unexpected return reason %s", exit.Reason)
		}

		next, done, herr := handler(e, exit)
		if done {
			if !errors.Is(herr, ErrSuspended) {
				e.stopped = true
			}
			return herr
		}
		pc = next
	}
}

// Registers returns the machine registers.
func (e *Engine) Registers() [8]uint32 {
	var regs [8]uint32
	copy(regs[:], e.file[:8])
	return regs
}

// Array returns the live array with the given handle, or nil.
func (e *Engine) Array(handle uint32) *Array {
	return e.lookup(handle)
}

// Stats returns event counters.
func (e *Engine) Stats() Stats {
	return e.stats
}

// Close releases every array. When the engine created its own Memory it is
// closed too.
func (e *Engine) Close() error {
	seen := make(map[*Array]bool, len(e.arrays)+1)
	for _, a := range append(e.arrays, e.running) {
		if a == nil || seen[a] {
			continue
		}
		seen[a] = true
		a.release(e.mem)
	}
	e.arrays = nil
	e.running = nil
	e.donor = nil
	e.stopped = true

	if e.ownsMem {
		return e.mem.Close()
	}
	return nil
}

func (e *Engine) lookup(handle uint32) *Array {
	if uint64(handle) >= uint64(len(e.arrays)) {
		return nil
	}
	return e.arrays[handle]
}

// regenerate gives a fresh code object to a. Regenerating the running array
// breaks the link to the donor since the running code no longer matches it.
func (e *Engine) regenerate(a *Array) error {
	if err := a.regenerate(e.mem); err != nil {
		return fmt.Errorf("generating code: %w", err)
	}
	if a == e.running {
		e.donor = nil
	}
	e.stats.Regenerations++
	e.log.Debug("regenerated code", "platters", a.Len(), "bytes", a.code.Size())
	return nil
}

// allocate creates a zero-filled array under the lowest free handle.
func (e *Engine) allocate(size uint32) (uint32, error) {
	a, err := newArray(e.mem, size)
	if err != nil {
		return 0, fmt.Errorf("allocating %d platters: %w", size, err)
	}

	handle := e.minFree
	for uint64(handle) < uint64(len(e.arrays)) && e.arrays[handle] != nil {
		handle++
	}
	if uint64(handle) == uint64(len(e.arrays)) {
		e.arrays = append(e.arrays, a)
	} else {
		e.arrays[handle] = a
	}
	e.minFree = handle + 1
	e.stats.Allocations++
	return handle, nil
}

// abandon destroys the array with the given handle. Abandoning handle 0
// leaves the running code alive until another program is loaded.
func (e *Engine) abandon(handle uint32) error {
	a := e.lookup(handle)
	if a == nil {
		return umerrors.InvalidArrayIndex("abandonment of unallocated array", handle)
	}
	e.arrays[handle] = nil
	if a == e.donor {
		e.donor = nil
	}
	if a != e.running {
		a.release(e.mem)
	} else {
		e.log.Debug("abandoned array 0 while running")
	}
	if handle != 0 && handle < e.minFree {
		e.minFree = handle
	}
	e.stats.Abandonments++
	return nil
}

// loadProgram replaces array 0 with a copy of the source array and returns
// the code address of finger in the new program.
func (e *Engine) loadProgram(source, finger uint32) (uint32, error) {
	if source == 0 {
		return 0, umerrors.InvalidArrayIndex("load-program from array 0 reached the host", source)
	}
	src := e.lookup(source)
	if src == nil {
		return 0, umerrors.InvalidArrayIndex("load-program from unallocated array", source)
	}
	if uint64(finger) >= uint64(len(src.platters)) {
		return 0, umerrors.InvalidArrayIndex("program finger beyond loaded array", finger)
	}

	prev := e.running
	if e.donor != nil && e.donor.code == nil && !e.donor.dirty && !prev.dirty && prev.code != nil {
		e.donor.code = prev.takeCode()
		e.stats.Transfers++
		e.log.Debug("returned code to donor", "platters", e.donor.Len())
	}

	if src.code == nil || src.dirty {
		if err := e.regenerate(src); err != nil {
			return 0, err
		}
	}
	next, err := src.clone(e.mem)
	if err != nil {
		return 0, fmt.Errorf("copying program: %w", err)
	}

	prev.release(e.mem)
	next.code = src.takeCode()
	e.arrays[0] = next
	e.running = next
	e.donor = src
	e.stats.Loads++
	e.log.Debug("loaded program", "source", source, "finger", finger, "platters", next.Len())
	return next.code.Entry(finger), nil
}
