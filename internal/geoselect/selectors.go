// Package geoselect represents a geohash selector set - the up-to-16 base-16
// last-character values a query or a block-ID sub-block descriptor carries
// (GLOSSARY "Geohash selector"). It is backed by github.com/RoaringBitmap/roaring,
// the same bitmap library the teacher uses for its log/address block indices
// in eth/stagedsync/stage_log_index.go; here the universe is tiny (0..15)
// but the bitmap gives us set construction (the query rewrite's survivor
// set, spec §4.3 step 2), complement (the block-ID codec's exclude list),
// union and intersection instead of hand-rolled bit tricks.
package geoselect

import "github.com/RoaringBitmap/roaring"

// Set is a set of selector values in [0, 16).
type Set struct {
	bm *roaring.Bitmap
}

// New returns an empty selector set.
func New() *Set {
	return &Set{bm: roaring.New()}
}

// Full returns the set containing all 16 selector values - the include-all
// sentinel semantics of block-ID codec length 0 (spec §4.5).
func Full() *Set {
	s := New()
	for v := byte(0); v < 16; v++ {
		s.Add(v)
	}
	return s
}

// FromValues builds a set from a slice of selector values.
func FromValues(vs []byte) *Set {
	s := New()
	for _, v := range vs {
		s.Add(v)
	}
	return s
}

func (s *Set) Add(v byte) { s.bm.Add(uint32(v)) }

func (s *Set) Contains(v byte) bool { return s.bm.Contains(uint32(v)) }

func (s *Set) Len() int { return int(s.bm.GetCardinality()) }

// Values returns the set's members in ascending order.
func (s *Set) Values() []byte {
	out := make([]byte, 0, s.Len())
	it := s.bm.Iterator()
	for it.HasNext() {
		out = append(out, byte(it.Next()))
	}
	return out
}

// Complement returns the selectors in [0,16) not present in s.
func (s *Set) Complement() *Set {
	full := Full()
	full.bm.AndNot(s.bm)
	return full
}

// Union returns a new set containing every selector in s or other.
func (s *Set) Union(other *Set) *Set {
	out := &Set{bm: s.bm.Clone()}
	out.bm.Or(other.bm)
	return out
}

// Intersect returns a new set containing only selectors present in both.
func (s *Set) Intersect(other *Set) *Set {
	out := &Set{bm: s.bm.Clone()}
	out.bm.And(other.bm)
	return out
}

// IsFull reports whether the set contains all 16 selector values.
func (s *Set) IsFull() bool { return s.Len() == 16 }

// IsEmpty reports whether the set contains no selector values.
func (s *Set) IsEmpty() bool { return s.Len() == 0 }
