// Package blockid implements the block-ID codec of spec §4.5: packing up to
// 16 geohash selectors plus a truncated 28-bit block handle into a single
// 64-bit identifier, so that a storage-node sub-block read needs no
// out-of-band state beyond the ID itself.
//
// Layout of the 64-bit word (bit 0 is least significant):
//
//	bits 63..36  (28 bits)  truncated block handle
//	bits 35..4   (32 bits)  up to 8 packed base-16 selector nibbles
//	bits  3..0   ( 4 bits)  encode length k (mod 16)
//
// The indexed flag named in spec §3 (BlockId's top bit) lives at bit 63,
// which is also the handle's own most-significant bit - the two are the
// same bit by construction. The caller who marks a BlockId "indexed" always
// forces bit 63 to 1 after calling Encode (spec §4.5: "the indexed flag (top
// bit) is set by the caller"), which clobbers whatever the handle's own top
// bit was. This package does not second-guess that: Encode/Decode operate on
// the full 28-bit field including its top bit, and the indexed flag is
// applied by the caller (see package block's EncodeIndexed). The practical
// effect is that the truncated handle has 27 usable
// bits for indexed blocks - the 28th (its sign-like top bit) is always 1.
package blockid

import (
	"fmt"

	"github.com/spatialfs/spatialfs/internal/geoselect"
)

const (
	handleBits    = 28
	handleShift   = 36
	middleBits    = 32
	middleShift   = 4
	selectorWidth = 4 // bits per packed geohash selector nibble
	maxSelectors  = 16
	handleMask    = uint64(1)<<handleBits - 1
)

// Encode packs handle (its low 28 bits) and selectors into the 64-bit word
// described above. It does not set the indexed flag; callers that want an
// indexed BlockId OR in (1<<63) themselves (see block.EncodeIndexed).
func Encode(handle uint32, selectors *geoselect.Set) (uint64, error) {
	if selectors == nil {
		selectors = geoselect.New()
	}
	k := selectors.Len()
	if k > maxSelectors {
		return 0, fmt.Errorf("blockid: selector set too large: %d", k)
	}

	h := uint64(handle) & handleMask
	result := h << handleShift

	var middle uint64
	switch {
	case k == 0 || k == maxSelectors:
		// include-all sentinel: nibbles stay zero.
	case k <= 8:
		values := selectors.Values() // ascending order
		var v uint64
		for _, s := range values {
			v = (v << selectorWidth) | uint64(s)
		}
		v <<= uint((8 - k) * selectorWidth)
		middle = v
	default: // 9..15: exclude list
		excl := selectors.Complement().Values() // 16-k values, ascending
		var v uint64
		for _, s := range excl {
			v = (v << selectorWidth) | uint64(s)
		}
		middle = v
	}
	result |= middle << middleShift
	result |= uint64(k % maxSelectors)
	return result, nil
}

// Decode reconstructs the truncated handle and selector set packed into id
// by Encode. id is expected to already have any out-of-band flag bits (such
// as the BlockId indexed flag) cleared from positions this codec doesn't
// own - here that's none, since the codec owns the entire 64 bits.
func Decode(id uint64) (uint32, *geoselect.Set, error) {
	k := int(id & 0xF)
	rest := id >> middleShift // bits 0..31: middle (32 bits); bits 32..59: handle (28 bits)
	handle := uint32((rest >> middleBits) & handleMask)

	selectors := geoselect.New()
	switch {
	case k == 0:
		selectors = geoselect.Full()
	case k <= 8:
		width := uint(k * selectorWidth)
		topK := (rest & (uint64(1)<<middleBits - 1)) >> (uint(middleBits) - width)
		for i := k - 1; i >= 0; i-- {
			v := byte(topK & 0xF)
			topK >>= selectorWidth
			if v > 15 {
				return 0, nil, fmt.Errorf("blockid: decoded selector out of range: %d", v)
			}
			selectors.Add(v)
		}
	case k <= 15:
		// Exclude list is packed verbatim (right-aligned, no extra shift),
		// so it occupies the low bits of the middle field - unlike the
		// include list, which is left-shifted to the top (see Encode).
		numExcl := maxSelectors - k
		width := uint(numExcl * selectorWidth)
		bottomExcl := rest & (uint64(1)<<width - 1)
		excl := geoselect.New()
		for i := 0; i < numExcl; i++ {
			v := byte(bottomExcl & 0xF)
			bottomExcl >>= selectorWidth
			excl.Add(v)
		}
		selectors = excl.Complement()
	default:
		return 0, nil, fmt.Errorf("blockid: invalid encode length %d", k)
	}
	return handle, selectors, nil
}
