package coordstore

import (
	"sync"

	"github.com/spatialfs/spatialfs/internal/block"
	"github.com/spatialfs/spatialfs/internal/radix"
	"github.com/spatialfs/spatialfs/internal/recordindex"
)

// GeohashEntry is one (geohash, byte_length) pair in the flat reverse map
// (spec §4.3: "a parallel flat map BlockId -> list<(geohash, byte_length)>
// for fast reverse lookup during query rewrite").
type GeohashEntry struct {
	Geohash string
	Length  uint32
}

// SpatialIndex pairs the radix trie (forward: geohash -> blocks) with the
// flat reverse map (backward: block -> geohashes) the query rewriter needs.
type SpatialIndex struct {
	mu   sync.RWMutex
	trie *radix.Trie
	flat map[block.ID][]GeohashEntry
	seen map[block.ID]map[string]struct{} // suppresses duplicate (block, geohash) reports
}

// NewSpatialIndex returns an empty SpatialIndex.
func NewSpatialIndex() *SpatialIndex {
	return &SpatialIndex{
		trie: radix.New(),
		flat: make(map[block.ID][]GeohashEntry),
		seen: make(map[block.ID]map[string]struct{}),
	}
}

// UpdateSpatial inserts (block_id, geohash) into both the radix trie and the
// flat reverse map, suppressing an exact (block, geohash) duplicate (spec
// §4.3 "update_spatial ... duplicates are suppressed").
func (s *SpatialIndex) UpdateSpatial(id block.ID, geohash string, length uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dup, ok := s.seen[id]
	if !ok {
		dup = make(map[string]struct{})
		s.seen[id] = dup
	}
	if _, already := dup[geohash]; already {
		return
	}
	dup[geohash] = struct{}{}

	s.trie.Insert(geohash, id)
	s.flat[id] = append(s.flat[id], GeohashEntry{Geohash: geohash, Length: length})
}

// ReportIndex applies every spatial entry of idx to a single block in one
// call, the shape indexReport actually delivers (spec §4.3 "Reports").
func (s *SpatialIndex) ReportIndex(id block.ID, idx recordindex.BlockIndex) {
	for _, e := range idx.Spatial {
		s.UpdateSpatial(id, e.Geohash, e.End-e.Start)
	}
}

// EntriesFor returns a copy of block id's flat (geohash, length) list.
func (s *SpatialIndex) EntriesFor(id block.ID) []GeohashEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]GeohashEntry(nil), s.flat[id]...)
}

// Query resolves a single spatial predicate (prefix match either direction)
// against the trie, returning the block IDs it touches.
func (s *SpatialIndex) Query(prefix string) []block.ID {
	out := s.trie.GetDescendants(prefix)
	seen := make(map[block.ID]struct{}, len(out))
	for _, id := range out {
		seen[id] = struct{}{}
	}
	for i := 1; i < len(prefix); i++ {
		for _, id := range s.trie.Get(prefix[:i]) {
			if _, dup := seen[id]; !dup {
				seen[id] = struct{}{}
				out = append(out, id)
			}
		}
	}
	return out
}

// TemporalMap is BlockId -> (min_ts, max_ts), insert-once (spec §4.3
// "Temporal map ... inserted on first report, never overwritten").
type TemporalMap struct {
	mu   sync.RWMutex
	byID map[block.ID][2]uint64
}

// NewTemporalMap returns an empty TemporalMap.
func NewTemporalMap() *TemporalMap {
	return &TemporalMap{byID: make(map[block.ID][2]uint64)}
}

// UpdateTemporal inserts (min, max) for id only if id has no entry yet.
func (t *TemporalMap) UpdateTemporal(id block.ID, min, max uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.byID[id]; ok {
		return
	}
	t.byID[id] = [2]uint64{min, max}
}

// Get returns id's (min_ts, max_ts) and whether it is present.
func (t *TemporalMap) Get(id block.ID) (min, max uint64, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, present := t.byID[id]
	return v[0], v[1], present
}
