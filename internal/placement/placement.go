// Package placement implements the indexed-block replica placement
// algorithm of spec §4.4: co-locate a replica on the storage node with the
// most affinity for a block's geohashes, then fill remaining slots by a
// utilization-biased probabilistic draw.
package placement

import (
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/spatialfs/spatialfs/internal/block"
	"github.com/spatialfs/spatialfs/internal/coordstore"
	"github.com/spatialfs/spatialfs/internal/datanodestore"
	"github.com/spatialfs/spatialfs/internal/recordindex"
)

type usageEntry struct {
	nodeID string
	bytes  uint64
}

// GetIndexReplicas implements spec §4.4's algorithm. selfID is the storage
// node that already holds the indexed block being ingested (skipped for the
// most-affinity slot if it is also the top-usage node).
func GetIndexReplicas(selfID string, desiredCount int, idx recordindex.BlockIndex, nodes *datanodestore.Store, blocks *coordstore.BlockStore, spatial *coordstore.SpatialIndex) []string {
	if desiredCount <= 0 {
		return nil
	}
	now := time.Now()
	live := nodes.LiveNodeIDs(now)
	usage := make(map[string]uint64, len(live))
	for _, id := range live {
		usage[id] = 0
	}

	for _, entry := range idx.Spatial {
		for _, b := range spatial.Query(entry.Geohash) {
			meta, ok := blocks.Get(b)
			if !ok {
				continue
			}
			length := lengthForGeohash(spatial, b, entry.Geohash)
			for _, nodeID := range meta.StorageNodeIDs {
				if _, tracked := usage[nodeID]; tracked {
					usage[nodeID] += length
				}
			}
		}
	}

	pool := make([]usageEntry, 0, len(usage))
	for id, u := range usage {
		pool = append(pool, usageEntry{nodeID: id, bytes: u})
	}
	sort.Slice(pool, func(i, j int) bool { return pool[i].bytes < pool[j].bytes })

	var out []string
	if len(pool) > 0 {
		top := pool[len(pool)-1]
		if top.nodeID != selfID {
			out = append(out, top.nodeID)
			pool = pool[:len(pool)-1]
		}
	}

	for len(out) < desiredCount && len(pool) > 0 {
		n := len(pool)
		u := rand.Float64()
		picked := n - 1 // fallback: last index
		base := math.Log(float64(n + 1))
		for i := 0; i < n; i++ {
			threshold := math.Log(float64(i+2)) / base
			if u <= threshold {
				picked = i
				break
			}
		}
		out = append(out, pool[picked].nodeID)
		pool = append(pool[:picked], pool[picked+1:]...)
	}
	return out
}

// UniformRandomReplicas implements spec §4.4's "Non-indexed addBlock
// placement": a uniform random sample of `count` distinct live nodes.
func UniformRandomReplicas(nodes *datanodestore.Store, count int) []string {
	live := nodes.LiveNodeIDs(time.Now())
	rand.Shuffle(len(live), func(i, j int) { live[i], live[j] = live[j], live[i] })
	if count > len(live) {
		count = len(live)
	}
	return live[:count]
}

// lengthForGeohash returns block b's byte length contribution for the exact
// geohash key, or 0 if absent from its flat entry list.
func lengthForGeohash(spatial *coordstore.SpatialIndex, b block.ID, geohash string) uint64 {
	entries := spatial.EntriesFor(b)
	for _, e := range entries {
		if e.Geohash == geohash {
			return uint64(e.Length)
		}
	}
	return 0
}
