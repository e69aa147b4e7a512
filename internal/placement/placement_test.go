package placement

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spatialfs/spatialfs/internal/block"
	"github.com/spatialfs/spatialfs/internal/coordstore"
	"github.com/spatialfs/spatialfs/internal/datanodestore"
	"github.com/spatialfs/spatialfs/internal/recordindex"
)

func TestGetIndexReplicas_MostAffinitySlotSkipsSelf(t *testing.T) {
	nodes := datanodestore.New(time.Minute, 10)
	now := time.Now()
	a := nodes.Register("a:1")
	b := nodes.Register("b:1")
	require.True(t, nodes.Heartbeat(a, "sa", now, 1000, 100))
	require.True(t, nodes.Heartbeat(b, "sb", now, 1000, 100))

	blocks := coordstore.NewBlockStore()
	spatial := coordstore.NewSpatialIndex()

	existing := block.ID(1)
	spatial.UpdateSpatial(existing, "9q8y0", 500)
	blocks.Update(existing, 1, 500, a, "sa")

	idx := recordindex.BlockIndex{Spatial: []recordindex.SpatialEntry{{Geohash: "9q8y0"}}}
	reps := GetIndexReplicas(b, 2, idx, nodes, blocks, spatial)
	require.Contains(t, reps, a) // a has all the affinity usage, not self (b)
}

func TestGetIndexReplicas_SkipsAffinitySlotWhenSelfIsTop(t *testing.T) {
	nodes := datanodestore.New(time.Minute, 10)
	now := time.Now()
	a := nodes.Register("a:1")
	require.True(t, nodes.Heartbeat(a, "sa", now, 1000, 100))

	blocks := coordstore.NewBlockStore()
	spatial := coordstore.NewSpatialIndex()
	existing := block.ID(1)
	spatial.UpdateSpatial(existing, "9q8y0", 500)
	blocks.Update(existing, 1, 500, a, "sa")

	idx := recordindex.BlockIndex{Spatial: []recordindex.SpatialEntry{{Geohash: "9q8y0"}}}
	reps := GetIndexReplicas(a, 1, idx, nodes, blocks, spatial)
	require.NotContains(t, reps, a)
}

func TestUniformRandomReplicas_DistinctAndBounded(t *testing.T) {
	nodes := datanodestore.New(time.Minute, 10)
	now := time.Now()
	for i := 0; i < 5; i++ {
		id := nodes.Register("node")
		require.True(t, nodes.Heartbeat(id, "s", now, 1000, 0))
	}
	reps := UniformRandomReplicas(nodes, 3)
	require.Len(t, reps, 3)
	seen := map[string]bool{}
	for _, r := range reps {
		require.False(t, seen[r])
		seen[r] = true
	}
}
