package um

import (
	"fmt"
	"maps"
	"slices"

	umerrors "github.com/ascrivener/um/pkg/errors"
	"github.com/ascrivener/um/pkg/platter"
)

// maxRestoredHandle bounds the handle table Restore builds from a state.
const maxRestoredHandle = 1 << 24

// State is a copy of everything needed to continue a machine elsewhere.
// Arrays holds the live arrays by handle; handle 0 is always the running
// program, even when the program abandoned it.
type State struct {
	Registers [8]uint32
	Finger    uint32
	Arrays    map[uint32][]platter.Platter
}

// Handles returns the array handles in ascending order.
func (s State) Handles() []uint32 {
	return slices.Sorted(maps.Keys(s.Arrays))
}

// State copies the machine. Finger is meaningful before the first Run and
// after Run returned ErrSuspended.
func (e *Engine) State() State {
	state := State{
		Registers: e.Registers(),
		Finger:    e.finger,
		Arrays:    make(map[uint32][]platter.Platter, len(e.arrays)),
	}
	for handle, a := range e.arrays {
		if a == nil {
			continue
		}
		state.Arrays[uint32(handle)] = slices.Clone(a.platters)
	}
	if e.running != nil {
		state.Arrays[0] = slices.Clone(e.running.platters)
	}
	return state
}

// Restore creates an engine that continues from state at its finger.
func Restore(state State, cfg Config) (*Engine, error) {
	program, ok := state.Arrays[0]
	if !ok {
		return nil, umerrors.InvalidArrayIndex("restored state has no array 0", 0)
	}
	if uint64(state.Finger) >= uint64(len(program)) {
		return nil, umerrors.InvalidArrayIndex("restored finger beyond array 0", state.Finger)
	}

	handles := state.Handles()
	if top := handles[len(handles)-1]; top >= maxRestoredHandle {
		return nil, umerrors.InvalidArrayIndex("restored handle beyond handle limit", top)
	}

	e, err := New(program, cfg)
	if err != nil {
		return nil, err
	}
	copy(e.file[:8], state.Registers[:])
	e.finger = state.Finger

	arrays := make([]*Array, uint64(handles[len(handles)-1])+1)
	arrays[0] = e.running
	e.arrays = arrays
	for _, handle := range handles {
		if handle == 0 {
			continue
		}
		platters := state.Arrays[handle]
		a, err := newArray(e.mem, uint32(len(platters)))
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("restoring array %d: %w", handle, err)
		}
		copy(a.platters, platters)
		e.arrays[handle] = a
	}

	e.minFree = 1
	for uint64(e.minFree) < uint64(len(e.arrays)) && e.arrays[e.minFree] != nil {
		e.minFree++
	}
	return e, nil
}
