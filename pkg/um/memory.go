package um

import (
	"errors"

	"github.com/ascrivener/um/pkg/arena"
	"github.com/ascrivener/um/pkg/platter"
)

// Memory holds the arenas every buffer of an engine is allocated from.
type Memory struct {
	Platters *arena.Arena[platter.Platter]
	Code     *arena.Arena[byte]
	Slots    *arena.Arena[uint32]
}

// NewMemory creates a Memory backed by the platform allocator.
func NewMemory() *Memory {
	return &Memory{
		Platters: arena.New[platter.Platter](),
		Code:     arena.New[byte](),
		Slots:    arena.New[uint32](),
	}
}

// Close releases every block held by the arenas.
func (m *Memory) Close() error {
	return errors.Join(m.Platters.Close(), m.Code.Close(), m.Slots.Close())
}
