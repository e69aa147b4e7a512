package coordstore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spatialfs/spatialfs/internal/block"
)

func TestSpatialIndex_SuppressesDuplicateReport(t *testing.T) {
	s := NewSpatialIndex()
	id := block.ID(1)
	s.UpdateSpatial(id, "9q8y", 10)
	s.UpdateSpatial(id, "9q8y", 10) // duplicate (block, geohash): no-op

	require.Len(t, s.EntriesFor(id), 1)
	require.ElementsMatch(t, []block.ID{id}, s.Query("9q8y"))
}

func TestSpatialIndex_DifferentBlocksSameGeohash(t *testing.T) {
	s := NewSpatialIndex()
	a, b := block.ID(1), block.ID(2)
	s.UpdateSpatial(a, "9q8y", 10)
	s.UpdateSpatial(b, "9q8y", 20)

	require.ElementsMatch(t, []block.ID{a, b}, s.Query("9q8y"))
}

func TestTemporalMap_InsertOnceNeverOverwritten(t *testing.T) {
	tm := NewTemporalMap()
	id := block.ID(1)
	tm.UpdateTemporal(id, 100, 200)
	tm.UpdateTemporal(id, 0, 9999) // must not overwrite

	min, max, ok := tm.Get(id)
	require.True(t, ok)
	require.EqualValues(t, 100, min)
	require.EqualValues(t, 200, max)
}

func TestTemporalMap_UnknownBlockNotOK(t *testing.T) {
	tm := NewTemporalMap()
	_, _, ok := tm.Get(block.ID(1))
	require.False(t, ok)
}
