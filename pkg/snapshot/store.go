// Package snapshot keeps suspended machines in a pebble database so they can
// be resumed by a later process.
//
// Each snapshot is stored as one metadata record and one value per array:
//
//	snapshot/<name>/meta                 CBOR record
//	snapshot/<name>/array/<handle BE32>  big-endian platters
package snapshot

import (
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ascrivener/um/pkg/platter"
	"github.com/ascrivener/um/pkg/scroll"
	"github.com/ascrivener/um/pkg/um"
	"github.com/cockroachdb/pebble"
	"github.com/fxamacker/cbor/v2"
)

const (
	keyPrefix     = "snapshot/"
	recordVersion = 1
)

// ErrNotFound is returned when no snapshot has the requested name.
var ErrNotFound = errors.New("snapshot not found")

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("snapshot: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

type record struct {
	Version    uint8     `cbor:"1,keyasint"`
	ScrollHash [32]byte  `cbor:"2,keyasint"`
	Registers  [8]uint32 `cbor:"3,keyasint"`
	Finger     uint32    `cbor:"4,keyasint"`
	Handles    []uint32  `cbor:"5,keyasint"`
	Created    int64     `cbor:"6,keyasint"`
}

// Snapshot is a saved machine.
type Snapshot struct {
	Name       string
	ScrollHash scroll.Hash
	Created    time.Time
	State      um.State
}

// Store is a pebble-backed snapshot database.
type Store struct {
	db *pebble.DB
}

// Open opens or creates the store in dir.
func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("opening snapshot store: %w", err)
	}
	return &Store{db: db}, nil
}

func checkName(name string) error {
	if name == "" || strings.Contains(name, "/") {
		return fmt.Errorf("invalid snapshot name %q", name)
	}
	return nil
}

func namePrefix(name string) []byte {
	return []byte(keyPrefix + name + "/")
}

func metaKey(name string) []byte {
	return []byte(keyPrefix + name + "/meta")
}

func arrayKey(name string, handle uint32) []byte {
	return binary.BigEndian.AppendUint32([]byte(keyPrefix+name+"/array/"), handle)
}

// prefixEnd returns the smallest key greater than every key with prefix.
func prefixEnd(prefix []byte) []byte {
	end := slices.Clone(prefix)
	end[len(end)-1]++
	return end
}

// Save stores state under name, replacing any snapshot with the same name.
func (s *Store) Save(name string, hash scroll.Hash, state um.State) error {
	if err := checkName(name); err != nil {
		return err
	}
	if _, ok := state.Arrays[0]; !ok {
		return fmt.Errorf("snapshot %q: state has no array 0", name)
	}

	rec := record{
		Version:    recordVersion,
		ScrollHash: hash,
		Registers:  state.Registers,
		Finger:     state.Finger,
		Handles:    state.Handles(),
		Created:    time.Now().UnixNano(),
	}
	meta, err := cborEncMode.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("snapshot %q: encoding record: %w", name, err)
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	prefix := namePrefix(name)
	if err := batch.DeleteRange(prefix, prefixEnd(prefix), nil); err != nil {
		return err
	}
	if err := batch.Set(metaKey(name), meta, nil); err != nil {
		return err
	}
	for _, handle := range rec.Handles {
		if err := batch.Set(arrayKey(name, handle), scroll.Encode(state.Arrays[handle]), nil); err != nil {
			return err
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("snapshot %q: commit: %w", name, err)
	}
	return nil
}

// Load reads the snapshot saved under name.
func (s *Store) Load(name string) (*Snapshot, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}

	var rec record
	if err := s.get(metaKey(name), func(value []byte) error {
		return cbor.Unmarshal(value, &rec)
	}); err != nil {
		return nil, fmt.Errorf("snapshot %q: %w", name, err)
	}
	if rec.Version != recordVersion {
		return nil, fmt.Errorf("snapshot %q: unsupported record version %d", name, rec.Version)
	}

	state := um.State{
		Registers: rec.Registers,
		Finger:    rec.Finger,
		Arrays:    make(map[uint32][]platter.Platter, len(rec.Handles)),
	}
	for _, handle := range rec.Handles {
		if err := s.get(arrayKey(name, handle), func(value []byte) error {
			platters, err := decodePlatters(value)
			state.Arrays[handle] = platters
			return err
		}); err != nil {
			return nil, fmt.Errorf("snapshot %q: array %d: %w", name, handle, err)
		}
	}

	return &Snapshot{
		Name:       name,
		ScrollHash: rec.ScrollHash,
		Created:    time.Unix(0, rec.Created),
		State:      state,
	}, nil
}

// get calls fn with the value stored at key. The value is only valid during
// the call.
func (s *Store) get(key []byte, fn func([]byte) error) error {
	value, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	defer closer.Close()
	return fn(value)
}

func decodePlatters(value []byte) ([]platter.Platter, error) {
	if len(value)%4 != 0 {
		return nil, fmt.Errorf("array value length %d is not a multiple of 4", len(value))
	}
	platters := make([]platter.Platter, len(value)/4)
	for i := range platters {
		platters[i] = platter.Platter(binary.BigEndian.Uint32(value[4*i:]))
	}
	return platters, nil
}

// List returns the names of all snapshots in key order.
func (s *Store) List() ([]string, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: prefixEnd([]byte(keyPrefix)),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var names []string
	for iter.First(); iter.Valid(); iter.Next() {
		key := string(iter.Key())
		name, ok := strings.CutSuffix(strings.TrimPrefix(key, keyPrefix), "/meta")
		if !ok || strings.Contains(name, "/") {
			continue
		}
		names = append(names, name)
	}
	return names, iter.Error()
}

// Delete removes the snapshot saved under name. Deleting a missing snapshot
// is not an error.
func (s *Store) Delete(name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	prefix := namePrefix(name)
	return s.db.DeleteRange(prefix, prefixEnd(prefix), pebble.Sync)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
