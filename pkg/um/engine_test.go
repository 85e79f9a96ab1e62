package um

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	umerrors "github.com/ascrivener/um/pkg/errors"
	"github.com/ascrivener/um/pkg/platter"
	"github.com/google/go-cmp/cmp"
)

func op(o platter.Opcode, a, b, c uint8) platter.Platter {
	return platter.Encode(o, a, b, c)
}

func ortho(a uint8, value uint32) platter.Platter {
	return platter.EncodeOrthography(a, value)
}

func newTestEngine(t *testing.T, program []platter.Platter, input string, out *bytes.Buffer) *Engine {
	t.Helper()
	e, err := New(program, Config{Input: strings.NewReader(input), Output: out})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() {
		if err := e.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})
	return e
}

func runProgram(t *testing.T, program []platter.Platter, input string) (string, *Engine, error) {
	t.Helper()
	var out bytes.Buffer
	e := newTestEngine(t, program, input, &out)
	err := e.Run(context.Background())
	return out.String(), e, err
}

func TestInputAddOutput(t *testing.T) {
	program := []platter.Platter{
		op(platter.Input, 0, 0, 1),
		ortho(0, 10),
		op(platter.Addition, 2, 1, 0),
		op(platter.Output, 0, 0, 2),
		op(platter.Halt, 0, 0, 0),
	}

	out, _, err := runProgram(t, program, "A")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out != "K" {
		t.Errorf("output = %q, want %q", out, "K")
	}
}

func TestInputEndOfStream(t *testing.T) {
	program := []platter.Platter{
		op(platter.Input, 0, 0, 1),
		op(platter.Halt, 0, 0, 0),
	}

	_, e, err := runProgram(t, program, "")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := e.Registers()[1]; got != 0xFFFFFFFF {
		t.Errorf("r1 = 0x%X, want all ones", got)
	}
}

func TestAmendArrayZeroMarksDirty(t *testing.T) {
	program := []platter.Platter{
		ortho(0, 4),
		ortho(1, 'A'),
		op(platter.ArrayAmendment, 2, 0, 1),
		op(platter.Halt, 0, 0, 0),
		ortho(7, 7),
	}

	_, e, err := runProgram(t, program, "")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	zero := e.Array(0)
	if !zero.Dirty() {
		t.Errorf("array 0 is not dirty after amendment")
	}
	if got := zero.At(4); got != 'A' {
		t.Errorf("platter[4] = %s, want 'A'", got)
	}
	if got := e.Stats().Recompiles; got != 0 {
		t.Errorf("recompiles = %d, want 0 since slot 4 never ran", got)
	}
}

func TestAllocationReusesLowestFreeHandle(t *testing.T) {
	program := []platter.Platter{
		ortho(0, 10),
		op(platter.Allocation, 0, 1, 0),
		op(platter.Allocation, 0, 2, 0),
		op(platter.Abandonment, 0, 0, 1),
		op(platter.Allocation, 0, 3, 0),
		op(platter.Allocation, 0, 4, 0),
		op(platter.Halt, 0, 0, 0),
	}

	_, e, err := runProgram(t, program, "")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	regs := e.Registers()
	want := [4]uint32{1, 2, 1, 3}
	if diff := cmp.Diff(want, [4]uint32(regs[1:5])); diff != "" {
		t.Errorf("handles mismatch (-want +got):\n%s", diff)
	}
	if got := e.Array(regs[3]).Len(); got != 10 {
		t.Errorf("reused array has %d platters, want 10", got)
	}
	stats := e.Stats()
	if stats.Allocations != 4 || stats.Abandonments != 1 {
		t.Errorf("stats = %+v, want 4 allocations and 1 abandonment", stats)
	}
}

func TestAllocatedArrayIsZeroed(t *testing.T) {
	program := []platter.Platter{
		ortho(0, 3),
		op(platter.Allocation, 0, 1, 0),
		ortho(2, 2),
		ortho(3, 99),
		op(platter.ArrayAmendment, 1, 2, 3),
		op(platter.Abandonment, 0, 0, 1),
		op(platter.Allocation, 0, 1, 0),
		op(platter.ArrayIndex, 4, 1, 2),
		op(platter.Halt, 0, 0, 0),
	}

	_, e, err := runProgram(t, program, "")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := e.Registers()[4]; got != 0 {
		t.Errorf("platter read from reallocated array = %d, want 0", got)
	}
}

func TestExecutionBeyondArrayLength(t *testing.T) {
	program := []platter.Platter{
		ortho(0, 'h'),
		op(platter.Output, 0, 0, 0),
		ortho(0, 'i'),
		op(platter.Output, 0, 0, 0),
	}

	out, _, err := runProgram(t, program, "")
	var herr *HaltError
	if !errors.As(err, &herr) || herr.Reason != HaltOutOfBounds {
		t.Fatalf("Run error = %v, want out-of-bounds halt", err)
	}
	if want := "hi\nExecution beyond array length\n"; out != want {
		t.Errorf("output = %q, want %q", out, want)
	}
}

func TestInvalidOperator(t *testing.T) {
	for _, word := range []platter.Platter{0xE0000001, 0xF00DCAFE} {
		t.Run(word.String(), func(t *testing.T) {
			out, _, err := runProgram(t, []platter.Platter{word}, "")
			var herr *HaltError
			if !errors.As(err, &herr) || herr.Reason != HaltInvalidOperator {
				t.Fatalf("Run error = %v, want invalid operator halt", err)
			}
			if herr.Word != word {
				t.Errorf("halt word = %s, want %s", herr.Word, word)
			}
			if want := "\nInvalid operator: " + word.String() + "\n"; out != want {
				t.Errorf("output = %q, want %q", out, want)
			}
		})
	}
}

func TestDivisionByZero(t *testing.T) {
	program := []platter.Platter{
		ortho(1, 5),
		op(platter.Division, 2, 1, 0),
		op(platter.Halt, 0, 0, 0),
	}

	out, _, err := runProgram(t, program, "")
	var herr *HaltError
	if !errors.As(err, &herr) || herr.Reason != HaltDivisionByZero {
		t.Fatalf("Run error = %v, want division by zero halt", err)
	}
	if out != "\nDivision by zero\n" {
		t.Errorf("output = %q", out)
	}
}

func TestArithmetic(t *testing.T) {
	program := []platter.Platter{
		ortho(0, 1<<24),
		ortho(1, 1<<8),
		op(platter.Multiplication, 2, 0, 1), // 2^32 wraps to 0
		ortho(3, 7),
		op(platter.Division, 4, 0, 3),
		op(platter.NotAnd, 5, 2, 2),          // all ones
		op(platter.Addition, 6, 5, 3),        // wraps to 6
		op(platter.ConditionalMove, 7, 3, 2), // not taken
		op(platter.Halt, 0, 0, 0),
	}

	_, e, err := runProgram(t, program, "")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	want := [8]uint32{1 << 24, 1 << 8, 0, 7, (1 << 24) / 7, 0xFFFFFFFF, 6, 0}
	if diff := cmp.Diff(want, e.Registers()); diff != "" {
		t.Errorf("registers mismatch (-want +got):\n%s", diff)
	}
}

// selfModifyingProgram builds the Output r3 word at run time and writes it
// over slot 9, which holds a halt.
func selfModifyingProgram() []platter.Platter {
	return []platter.Platter{
		ortho(1, 0xA0),
		ortho(4, 1<<24),
		op(platter.Multiplication, 1, 1, 4),
		ortho(5, 3),
		op(platter.Addition, 1, 1, 5),
		ortho(3, 'X'),
		ortho(6, 9),
		op(platter.ArrayAmendment, 0, 6, 1),
		ortho(2, 0),
		op(platter.Halt, 0, 0, 0),
		op(platter.Halt, 0, 0, 0),
	}
}

// writeLog records every Write it receives.
type writeLog struct {
	writes []string
}

func (w *writeLog) Write(p []byte) (int, error) {
	w.writes = append(w.writes, string(p))
	return len(p), nil
}

// watchedReader notes the writes seen by a writeLog when it is first read.
type watchedReader struct {
	r    io.Reader
	log  *writeLog
	seen []string
	read bool
}

func (w *watchedReader) Read(p []byte) (int, error) {
	if !w.read {
		w.seen = append([]string(nil), w.log.writes...)
		w.read = true
	}
	return w.r.Read(p)
}

func TestOutputFlushesAtNewline(t *testing.T) {
	program := []platter.Platter{
		ortho(1, 'a'),
		op(platter.Output, 0, 0, 1),
		ortho(1, 'b'),
		op(platter.Output, 0, 0, 1),
		ortho(1, '\n'),
		op(platter.Output, 0, 0, 1),
		ortho(1, 'c'),
		op(platter.Output, 0, 0, 1),
		op(platter.Halt, 0, 0, 0),
	}

	var out writeLog
	e, err := New(program, Config{Output: &out})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer e.Close()

	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if diff := cmp.Diff([]string{"ab\n", "c"}, out.writes); diff != "" {
		t.Errorf("writes mismatch (-want +got):\n%s", diff)
	}
}

func TestOutputFlushesBeforeInput(t *testing.T) {
	program := []platter.Platter{
		ortho(1, 'p'),
		op(platter.Output, 0, 0, 1),
		op(platter.Input, 0, 0, 2),
		op(platter.Output, 0, 0, 2),
		op(platter.Halt, 0, 0, 0),
	}

	var out writeLog
	in := &watchedReader{r: strings.NewReader("q"), log: &out}
	e, err := New(program, Config{Input: in, Output: &out})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer e.Close()

	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if diff := cmp.Diff([]string{"p"}, in.seen); diff != "" {
		t.Errorf("writes before input (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"p", "q"}, out.writes); diff != "" {
		t.Errorf("writes mismatch (-want +got):\n%s", diff)
	}
}

func TestSelfModificationMatchesRegeneration(t *testing.T) {
	program := selfModifyingProgram()
	out, e, err := runProgram(t, program, "")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out != "X" {
		t.Errorf("output = %q, want %q", out, "X")
	}
	stats := e.Stats()
	if stats.Recompiles != 1 || stats.Regenerations != 2 {
		t.Errorf("stats = %+v, want 1 recompile and 2 regenerations", stats)
	}

	amended := selfModifyingProgram()
	amended[9] = op(platter.Output, 0, 0, 3)
	fresh, _, err := runProgram(t, amended, "")
	if err != nil {
		t.Fatalf("Run of amended program failed: %v", err)
	}
	if fresh != out {
		t.Errorf("amended program output = %q, self-modified output = %q", fresh, out)
	}
}

func TestSelfModificationOfLastSlot(t *testing.T) {
	// 0x51 decodes as r1 = r2 if r1 != 0.
	program := []platter.Platter{
		ortho(1, 0x51),
		ortho(2, 3),
		op(platter.ArrayAmendment, 0, 2, 1),
		ortho(7, 0),
	}

	_, e, err := runProgram(t, program, "")
	var herr *HaltError
	if !errors.As(err, &herr) || herr.Reason != HaltOutOfBounds {
		t.Fatalf("Run error = %v, want out-of-bounds halt", err)
	}
	if got := e.Registers()[1]; got != 3 {
		t.Errorf("r1 = %d, want 3 from the amended last slot", got)
	}
	if got := e.Stats().Recompiles; got != 1 {
		t.Errorf("recompiles = %d, want 1", got)
	}
}

// reloadingProgram copies a five platter program into a new array and loads
// it. That program prints r3 and reloads itself once more at 0 before
// loading itself at its halt.
func reloadingProgram() []platter.Platter {
	sub := []platter.Platter{
		op(platter.Output, 0, 0, 3),
		op(platter.ConditionalMove, 2, 6, 6),
		ortho(6, 4),
		op(platter.LoadProgram, 0, 1, 2),
		op(platter.Halt, 0, 0, 0),
	}

	const data = 26
	program := []platter.Platter{
		ortho(4, uint32(len(sub))),
		op(platter.Allocation, 0, 1, 4),
	}
	for k := range sub {
		program = append(program,
			ortho(7, uint32(data+k)),
			op(platter.ArrayIndex, 6, 0, 7),
			ortho(7, uint32(k)),
			op(platter.ArrayAmendment, 1, 7, 6),
		)
	}
	program = append(program,
		ortho(6, 0),
		ortho(2, 0),
		ortho(3, 'Z'),
		op(platter.LoadProgram, 0, 1, 2),
	)
	if len(program) != data {
		panic("reloadingProgram: data offset out of date")
	}
	return append(program, sub...)
}

func TestReloadReusesCode(t *testing.T) {
	out, e, err := runProgram(t, reloadingProgram(), "")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out != "ZZ" {
		t.Errorf("output = %q, want %q", out, "ZZ")
	}

	want := Stats{Regenerations: 2, Transfers: 2, Loads: 3, Allocations: 1}
	if diff := cmp.Diff(want, e.Stats()); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
}

// stageAndLoad copies n platters of array 0 starting at data into a new
// array and loads it at finger 0. It uses r1, r2, r4, r6 and r7.
func stageAndLoad(data uint32, n int) []platter.Platter {
	code := []platter.Platter{
		ortho(4, uint32(n)),
		op(platter.Allocation, 0, 1, 4),
	}
	for k := range n {
		code = append(code,
			ortho(7, data+uint32(k)),
			op(platter.ArrayIndex, 6, 0, 7),
			ortho(7, uint32(k)),
			op(platter.ArrayAmendment, 1, 7, 6),
		)
	}
	return append(code,
		ortho(2, 0),
		op(platter.LoadProgram, 0, 1, 2),
	)
}

// stageSize is the length of stageAndLoad's code for n platters.
func stageSize(n int) int {
	return 4 + 4*n
}

func TestAbandonedDonorGetsNoCode(t *testing.T) {
	last := []platter.Platter{
		ortho(3, 'B'),
		op(platter.Output, 0, 0, 3),
		op(platter.Halt, 0, 0, 0),
	}

	// middle runs from handle 1, abandons it and loads last from a new
	// array that reuses handle 1.
	middleData := 3 + stageSize(len(last))
	middle := []platter.Platter{
		ortho(3, 'A'),
		op(platter.Output, 0, 0, 3),
		op(platter.Abandonment, 0, 0, 1),
	}
	middle = append(middle, stageAndLoad(uint32(middleData), len(last))...)
	middle = append(middle, last...)

	program := stageAndLoad(uint32(stageSize(len(middle))), len(middle))
	program = append(program, middle...)

	out, e, err := runProgram(t, program, "")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out != "AB" {
		t.Errorf("output = %q, want %q", out, "AB")
	}
	if got := e.Registers()[1]; got != 1 {
		t.Errorf("reallocated handle = %d, want 1", got)
	}

	want := Stats{Regenerations: 3, Loads: 2, Allocations: 2, Abandonments: 1}
	if diff := cmp.Diff(want, e.Stats()); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadProgramFromArrayZeroJumps(t *testing.T) {
	program := []platter.Platter{
		ortho(1, 4),
		ortho(2, 'Y'),
		op(platter.LoadProgram, 0, 0, 1),
		op(platter.Output, 0, 0, 2),
		op(platter.Halt, 0, 0, 0),
	}

	out, e, err := runProgram(t, program, "")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out != "" {
		t.Errorf("output = %q, want the output instruction skipped", out)
	}
	if got := e.Stats().Loads; got != 0 {
		t.Errorf("loads = %d, want 0 for a jump within array 0", got)
	}
}

func TestLoadProgramFromArrayZeroBeyondEnd(t *testing.T) {
	program := []platter.Platter{
		ortho(1, 100),
		op(platter.LoadProgram, 0, 0, 1),
		op(platter.Halt, 0, 0, 0),
	}

	_, _, err := runProgram(t, program, "")
	var herr *HaltError
	if !errors.As(err, &herr) || herr.Reason != HaltOutOfBounds {
		t.Fatalf("Run error = %v, want out-of-bounds halt", err)
	}
}

func TestHandleErrors(t *testing.T) {
	tests := []struct {
		name    string
		program []platter.Platter
		index   uint32
	}{
		{
			name: "abandon unallocated",
			program: []platter.Platter{
				ortho(1, 3),
				op(platter.Abandonment, 0, 0, 1),
			},
			index: 3,
		},
		{
			name: "load from unallocated",
			program: []platter.Platter{
				ortho(1, 2),
				op(platter.LoadProgram, 0, 1, 0),
			},
			index: 2,
		},
		{
			name: "load finger beyond source",
			program: []platter.Platter{
				ortho(0, 2),
				op(platter.Allocation, 0, 1, 0),
				ortho(2, 5),
				op(platter.LoadProgram, 0, 1, 2),
			},
			index: 5,
		},
		{
			name: "index unallocated array",
			program: []platter.Platter{
				ortho(2, 6),
				op(platter.ArrayIndex, 1, 2, 3),
			},
			index: 6,
		},
		{
			name: "amend beyond array",
			program: []platter.Platter{
				ortho(3, 40),
				op(platter.ArrayAmendment, 0, 3, 3),
			},
			index: 40,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := runProgram(t, tt.program, "")
			var ierr *umerrors.InvalidArrayIndexError
			if !errors.As(err, &ierr) {
				t.Fatalf("Run error = %v, want invalid array index", err)
			}
			if ierr.Index != tt.index {
				t.Errorf("index = %d, want %d", ierr.Index, tt.index)
			}
		})
	}
}

func TestAbandonArrayZeroKeepsRunning(t *testing.T) {
	program := []platter.Platter{
		op(platter.Abandonment, 0, 0, 0),
		ortho(1, 'k'),
		op(platter.Output, 0, 0, 1),
		op(platter.Halt, 0, 0, 0),
	}

	out, e, err := runProgram(t, program, "")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out != "k" {
		t.Errorf("output = %q, want %q", out, "k")
	}
	if e.Array(0) != nil {
		t.Errorf("array 0 still allocated after abandonment")
	}
}

func TestSuspendAndRestore(t *testing.T) {
	program := []platter.Platter{
		op(platter.Input, 0, 0, 1),
		op(platter.Output, 0, 0, 1),
		op(platter.Input, 0, 0, 2),
		op(platter.Output, 0, 0, 2),
		op(platter.Halt, 0, 0, 0),
	}

	var out bytes.Buffer
	e, err := New(program, Config{Input: strings.NewReader("a"), Output: &out, SuspendOnEOF: true})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer e.Close()

	if err := e.Run(context.Background()); !errors.Is(err, ErrSuspended) {
		t.Fatalf("Run error = %v, want ErrSuspended", err)
	}
	if out.String() != "a" {
		t.Errorf("output before suspension = %q, want %q", out.String(), "a")
	}

	state := e.State()
	if state.Finger != 2 {
		t.Errorf("finger = %d, want 2", state.Finger)
	}
	if diff := cmp.Diff(program, state.Arrays[0]); diff != "" {
		t.Errorf("array 0 mismatch (-want +got):\n%s", diff)
	}

	out.Reset()
	restored, err := Restore(state, Config{Input: strings.NewReader("b"), Output: &out})
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	defer restored.Close()

	if err := restored.Run(context.Background()); err != nil {
		t.Fatalf("restored Run failed: %v", err)
	}
	if out.String() != "b" {
		t.Errorf("output after restore = %q, want %q", out.String(), "b")
	}
	if got := restored.Registers()[1]; got != 'a' {
		t.Errorf("r1 after restore = %d, want 'a'", got)
	}
}

func TestRestoreArrays(t *testing.T) {
	state := State{
		Registers: [8]uint32{0, 3},
		Arrays: map[uint32][]platter.Platter{
			0: {
				ortho(2, 1),
				op(platter.ArrayIndex, 4, 1, 2),
				op(platter.Allocation, 0, 5, 2),
				op(platter.Halt, 0, 0, 0),
			},
			3: {10, 20},
		},
	}

	e, err := Restore(state, Config{})
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	defer e.Close()

	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	regs := e.Registers()
	if regs[4] != 20 {
		t.Errorf("r4 = %d, want 20", regs[4])
	}
	if regs[5] != 1 {
		t.Errorf("allocated handle = %d, want 1", regs[5])
	}
}

func TestRestoreRejectsMissingProgram(t *testing.T) {
	_, err := Restore(State{Arrays: map[uint32][]platter.Platter{1: {0}}}, Config{})
	if !umerrors.IsInvalidArrayIndex(err) {
		t.Errorf("Restore error = %v, want invalid array index", err)
	}
}

func TestRestoreRejectsHugeHandle(t *testing.T) {
	state := State{
		Arrays: map[uint32][]platter.Platter{
			0:          {op(platter.Halt, 0, 0, 0)},
			0xFFFFFFFF: {1},
		},
	}

	_, err := Restore(state, Config{})
	var ierr *umerrors.InvalidArrayIndexError
	if !errors.As(err, &ierr) {
		t.Fatalf("Restore error = %v, want invalid array index", err)
	}
	if ierr.Index != 0xFFFFFFFF {
		t.Errorf("index = 0x%X, want 0xFFFFFFFF", ierr.Index)
	}
}

func TestRunHonoursContext(t *testing.T) {
	var out bytes.Buffer
	e := newTestEngine(t, []platter.Platter{op(platter.Halt, 0, 0, 0)}, "", &out)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := e.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
	if err := e.Run(context.Background()); err == nil {
		t.Errorf("Run after stop succeeded")
	}
}

func TestRunStopsSpinningMachine(t *testing.T) {
	program := []platter.Platter{
		ortho(1, 0),
		op(platter.LoadProgram, 0, 0, 1),
	}
	var out bytes.Buffer
	e := newTestEngine(t, program, "", &out)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := e.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run error = %v, want context.DeadlineExceeded", err)
	}
	if got := e.Stats().Loads; got != 0 {
		t.Errorf("loads = %d, want 0", got)
	}
}
