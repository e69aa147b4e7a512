// Package datanodestore is the coordinator's registry of storage nodes and
// their storages (spec §4.3 "datanode store", §5 heartbeat/staleness), each
// with a bounded ring of recent state samples. Grounded on the teacher's
// bounded-ring sample buffers in eth/stagedsync's stage progress tracking,
// adapted here to hold heartbeat samples instead of sync-stage cursors.
package datanodestore

import (
	"sync"
	"time"

	"github.com/pborman/uuid"
)

// StateSample is one heartbeat's worth of reported capacity.
type StateSample struct {
	At            time.Time
	CapacityBytes uint64
	UsedBytes     uint64
}

// Storage is a single storage volume on a node.
type Storage struct {
	ID      string
	samples []StateSample // bounded ring, newest last
}

// Node is a registered storage node.
type Node struct {
	ID       string
	Address  string
	samples  []StateSample
	storages map[string]*Storage
}

// defaultRingCapacity backs a Store constructed with a non-positive ring
// length.
const defaultRingCapacity = 16

// Store is the coordinator's live registry of storage nodes.
type Store struct {
	mu         sync.RWMutex
	byID       map[string]*Node
	staleAfter time.Duration
	ringCap    int
}

// New returns an empty Store. staleAfter is the heartbeat tolerance of
// spec §5: a node whose most recent sample is older than staleAfter is not
// selected for new-block placement. ringLen bounds each node's and
// storage's state-sample ring; the oldest sample is evicted past it.
func New(staleAfter time.Duration, ringLen int) *Store {
	if ringLen <= 0 {
		ringLen = defaultRingCapacity
	}
	return &Store{byID: make(map[string]*Node), staleAfter: staleAfter, ringCap: ringLen}
}

func (s *Store) pushSample(ring []StateSample, sample StateSample) []StateSample {
	ring = append(ring, sample)
	if len(ring) > s.ringCap {
		ring = ring[len(ring)-s.ringCap:]
	}
	return ring
}

// Register adds a new storage node at address and returns the fresh UUID
// it assigns as the node's ID (mirrors hdfs-style datanode registration,
// where the coordinator is the source of truth for node identity).
func (s *Store) Register(address string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.byID[id] = &Node{ID: id, Address: address, storages: make(map[string]*Storage)}
	return id
}

// Heartbeat records a state sample for nodeID/storageID, registering the
// storage on first sight.
func (s *Store) Heartbeat(nodeID, storageID string, now time.Time, capacity, used uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.byID[nodeID]
	if !ok {
		return false
	}
	sample := StateSample{At: now, CapacityBytes: capacity, UsedBytes: used}
	n.samples = s.pushSample(n.samples, sample)

	st, ok := n.storages[storageID]
	if !ok {
		st = &Storage{ID: storageID}
		n.storages[storageID] = st
	}
	st.samples = s.pushSample(st.samples, sample)
	return true
}

// Samples returns a copy of nodeID's retained state samples, oldest first.
// At most the configured ring length are held; anything older has been
// evicted and is no longer readable.
func (s *Store) Samples(nodeID string) []StateSample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.byID[nodeID]
	if !ok {
		return nil
	}
	return append([]StateSample(nil), n.samples...)
}

// IsStale reports whether nodeID's most recent heartbeat is older than the
// store's staleness threshold, measured against now.
func (s *Store) IsStale(nodeID string, now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.byID[nodeID]
	if !ok || len(n.samples) == 0 {
		return true
	}
	last := n.samples[len(n.samples)-1]
	return now.Sub(last.At) > s.staleAfter
}

// LiveNodeIDs returns the IDs of every registered, non-stale node.
func (s *Store) LiveNodeIDs(now time.Time) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for id, n := range s.byID {
		if len(n.samples) == 0 {
			continue
		}
		if now.Sub(n.samples[len(n.samples)-1].At) > s.staleAfter {
			continue
		}
		out = append(out, id)
	}
	return out
}

// Address returns nodeID's registered transfer address.
func (s *Store) Address(nodeID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.byID[nodeID]
	if !ok {
		return "", false
	}
	return n.Address, true
}

// Addresses resolves a list of storage-node IDs to their registered
// transfer addresses, for callers (addBlock, getBlockLocations,
// getIndexReplicas) that hand a dialable replica list to a client or peer
// storage node rather than the bare IDs the block store tracks internally.
// An ID with no registered node is dropped rather than propagated as a
// dangling address.
func (s *Store) Addresses(ids []string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if n, ok := s.byID[id]; ok {
			out = append(out, n.Address)
		}
	}
	return out
}
