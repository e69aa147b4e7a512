// Package block defines the BlockId type (spec §3) and the operations that
// sit above the raw blockid codec: random non-indexed handle generation,
// marking a BlockId indexed, and decoding a BlockId back into its handle and
// (for indexed ids) selector set.
package block

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/spatialfs/spatialfs/internal/blockid"
	"github.com/spatialfs/spatialfs/internal/geoselect"
)

// ID is a 64-bit block identifier. Its top bit is the indexed flag (spec §3).
type ID uint64

const indexedFlag = uint64(1) << 63

// IsIndexed reports whether id's top bit marks it as produced under an
// indexing storage policy.
func (id ID) IsIndexed() bool { return uint64(id)&indexedFlag != 0 }

// NewRandom returns a BlockId for a non-indexed block: the top bit is 0 and
// the remaining 63 bits are random, per spec §3.
func NewRandom() (ID, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("block: generating random handle: %w", err)
	}
	v := binary.BigEndian.Uint64(buf[:])
	v &^= indexedFlag // clear top bit: non-indexed
	return ID(v), nil
}

// randomHandle28 returns a random 28-bit handle for the codec's truncated
// block-handle field.
func randomHandle28() (uint32, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("block: generating handle: %w", err)
	}
	return binary.BigEndian.Uint32(buf[:]) & 0x0FFFFFFF, nil
}

// NewIndexed allocates a fresh indexed BlockId with the full (include-all)
// selector set - the ID assigned at addBlock time, before any sub-block
// rewrite narrows the selector set for a query.
func NewIndexed() (ID, error) {
	handle, err := randomHandle28()
	if err != nil {
		return 0, err
	}
	return EncodeIndexed(handle, geoselect.Full())
}

// EncodeIndexed packs handle and selectors into an indexed BlockId, forcing
// the top bit to 1 as the caller-side step spec §4.5 describes. See
// internal/blockid's package doc for the handle-truncation consequence of
// this OR.
func EncodeIndexed(handle uint32, selectors *geoselect.Set) (ID, error) {
	v, err := blockid.Encode(handle, selectors)
	if err != nil {
		return 0, err
	}
	return ID(v | indexedFlag), nil
}

// DecodeIndexed recovers the truncated handle and selector set from an
// indexed BlockId. Calling it on a non-indexed id is an invariant violation
// (the caller is expected to check IsIndexed first, per spec §3: "this bit
// alone drives ... the read path's sub-block-ID decode").
func (id ID) DecodeIndexed() (uint32, *geoselect.Set, error) {
	if !id.IsIndexed() {
		return 0, nil, fmt.Errorf("block: DecodeIndexed called on non-indexed id %x", uint64(id))
	}
	return blockid.Decode(uint64(id))
}

// WithSelectors returns a new indexed BlockId sharing id's truncated handle
// but restricted to selectors - the sub-block-ID rewrite of spec §4.3 step 3.
func (id ID) WithSelectors(selectors *geoselect.Set) (ID, error) {
	handle, _, err := id.DecodeIndexed()
	if err != nil {
		return 0, err
	}
	return EncodeIndexed(handle, selectors)
}

func (id ID) String() string { return fmt.Sprintf("%016x", uint64(id)) }

// CanonicalDiskID returns the identifier under which id's underlying block
// is persisted on disk. A non-indexed id is already its own disk key. An
// indexed id's disk key is the full-selector-set encoding of its truncated
// handle: every sub-block rewrite of the same underlying block (spec §4.3
// step 3) narrows the selector nibbles but leaves the handle untouched, so
// the on-disk blk_<id>/blk_<id>.meta pair is always named for the
// include-all encoding the block was first written under (spec §4.5:
// "NewIndexed allocates a fresh indexed BlockId with the full ...
// selector set").
func (id ID) CanonicalDiskID() (ID, error) {
	if !id.IsIndexed() {
		return id, nil
	}
	return id.WithSelectors(geoselect.Full())
}
