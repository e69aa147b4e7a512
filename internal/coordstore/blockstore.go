// Package coordstore holds the coordinator's in-memory stores: the block
// store, the spatial radix + flat reverse map, and the temporal map (spec
// §4.3), each guarded by its own RWMutex per spec §5's "narrowest lock
// required" policy - the same per-store-lock shape as the teacher's
// ethdb key-value stores, one mutex per logical table rather than one
// global lock.
package coordstore

import (
	"sync"

	"github.com/spatialfs/spatialfs/internal/block"
)

// BlockMeta is the block store's per-block record (spec §4.3 "Block store").
type BlockMeta struct {
	GenerationStamp uint64
	Length          uint64
	StorageNodeIDs  []string
	StorageIDs      []string
}

// BlockStore is BlockId -> BlockMeta with idempotent per-node updates.
type BlockStore struct {
	mu   sync.RWMutex
	byID map[block.ID]*BlockMeta
}

// NewBlockStore returns an empty BlockStore.
func NewBlockStore() *BlockStore {
	return &BlockStore{byID: make(map[block.ID]*BlockMeta)}
}

// Update records that nodeID/storageID hold a replica of id at length bytes,
// generation gs. Idempotent: if nodeID already appears in id's location
// list, the call is a no-op (spec §4.3: "if node_id already appears in the
// locations, it returns without change").
func (s *BlockStore) Update(id block.ID, gs uint64, length uint64, nodeID, storageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, ok := s.byID[id]
	if !ok {
		meta = &BlockMeta{GenerationStamp: gs, Length: length}
		s.byID[id] = meta
	}
	for _, existing := range meta.StorageNodeIDs {
		if existing == nodeID {
			return
		}
	}
	meta.StorageNodeIDs = append(meta.StorageNodeIDs, nodeID)
	meta.StorageIDs = append(meta.StorageIDs, storageID)
	meta.GenerationStamp = gs
	meta.Length = length
}

// Get returns a copy of id's metadata and whether it is known.
func (s *BlockStore) Get(id block.ID) (BlockMeta, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.byID[id]
	if !ok {
		return BlockMeta{}, false
	}
	return BlockMeta{
		GenerationStamp: meta.GenerationStamp,
		Length:          meta.Length,
		StorageNodeIDs:  append([]string(nil), meta.StorageNodeIDs...),
		StorageIDs:      append([]string(nil), meta.StorageIDs...),
	}, true
}

// Delete removes id from the store.
func (s *BlockStore) Delete(id block.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, id)
}
