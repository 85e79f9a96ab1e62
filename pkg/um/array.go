package um

import "github.com/ascrivener/um/pkg/platter"

// Array is a fixed-length block of platters, optionally carrying the code
// generated from it. When dirty is set the code no longer matches the
// platters and must be regenerated before it runs again.
type Array struct {
	platters []platter.Platter
	dirty    bool
	code     *CodeObject
}

// newArray allocates a zero-filled array of size platters.
func newArray(mem *Memory, size uint32) (*Array, error) {
	platters, err := mem.Platters.Alloc(int(size), true)
	if err != nil {
		return nil, err
	}
	return &Array{platters: platters}, nil
}

// adoptArray wraps platters already allocated from mem.Platters.
func adoptArray(platters []platter.Platter) *Array {
	return &Array{platters: platters}
}

// clone copies the platters into a new array. The code object is not copied.
func (a *Array) clone(mem *Memory) (*Array, error) {
	platters, err := mem.Platters.Alloc(len(a.platters), false)
	if err != nil {
		return nil, err
	}
	copy(platters, a.platters)
	return &Array{platters: platters}, nil
}

// Len returns the number of platters.
func (a *Array) Len() int {
	return len(a.platters)
}

// At returns platter i.
func (a *Array) At(i int) platter.Platter {
	return a.platters[i]
}

// Dirty reports whether the array was written since its code was generated.
func (a *Array) Dirty() bool {
	return a.dirty
}

// Code returns the owned code object, or nil.
func (a *Array) Code() *CodeObject {
	return a.code
}

// regenerate replaces the array's code with freshly generated code and clears
// the dirty flag.
func (a *Array) regenerate(mem *Memory) error {
	a.releaseCode(mem)
	code, err := generateCode(mem, a.platters)
	if err != nil {
		return err
	}
	a.code = code
	a.dirty = false
	return nil
}

// takeCode moves the code object out of the array.
func (a *Array) takeCode() *CodeObject {
	code := a.code
	a.code = nil
	return code
}

func (a *Array) releaseCode(mem *Memory) {
	if a.code != nil {
		a.code.release(mem)
		a.code = nil
	}
}

// release returns the array's platters and code to mem.
func (a *Array) release(mem *Memory) {
	a.releaseCode(mem)
	mem.Platters.Release(a.platters)
	a.platters = nil
}
