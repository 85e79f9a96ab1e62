// Package scroll reads program images. A scroll is a sequence of big-endian
// 32-bit platters with nothing before or after them.
package scroll

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"io"

	"github.com/ascrivener/um/pkg/arena"
	umerrors "github.com/ascrivener/um/pkg/errors"
	"github.com/ascrivener/um/pkg/platter"
	"golang.org/x/crypto/blake2b"
)

// Read reads a scroll of size bytes from r into platters allocated from m.
func Read(r io.Reader, size int64, m *arena.Arena[platter.Platter]) ([]platter.Platter, error) {
	if size < 0 || size%4 != 0 {
		return nil, umerrors.FormatErrorf("scroll length %d is not a multiple of 4", size)
	}

	platters, err := m.Alloc(int(size/4), false)
	if err != nil {
		return nil, err
	}

	br := bufio.NewReader(r)
	var word [4]byte
	for i := range platters {
		if _, err := io.ReadFull(br, word[:]); err != nil {
			m.Release(platters)
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, umerrors.FormatErrorf("scroll truncated at platter %d of %d", i, len(platters))
			}
			return nil, umerrors.WrapFormatError(err, "reading scroll")
		}
		platters[i] = platter.Platter(binary.BigEndian.Uint32(word[:]))
	}
	return platters, nil
}

// Encode writes platters in scroll form.
func Encode(platters []platter.Platter) []byte {
	out := make([]byte, 4*len(platters))
	for i, p := range platters {
		binary.BigEndian.PutUint32(out[4*i:], uint32(p))
	}
	return out
}

// Hash is the blake2b-256 digest of a scroll image.
type Hash [blake2b.Size256]byte

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// HashPlatters returns the hash of the scroll image holding platters.
func HashPlatters(platters []platter.Platter) Hash {
	return blake2b.Sum256(Encode(platters))
}
