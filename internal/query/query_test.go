package query

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spatialfs/spatialfs/internal/block"
	"github.com/spatialfs/spatialfs/internal/coordstore"
)

func TestParse_ConjunctionOfSpatialAndTemporal(t *testing.T) {
	q, err := Parse("g=9q8y&t>=1000&t<2000")
	require.NoError(t, err)
	require.Len(t, q.Spatial, 1)
	require.Len(t, q.Temporal, 2)
	require.Equal(t, "9q8y", q.Spatial[0].Value)
	require.False(t, q.Spatial[0].Negate)
}

func TestParse_NegatedSpatial(t *testing.T) {
	q, err := Parse("geohash!=9q8y")
	require.NoError(t, err)
	require.True(t, q.Spatial[0].Negate)
}

func TestParse_UnknownFieldIsHardError(t *testing.T) {
	_, err := Parse("bogus=1")
	require.Error(t, err)
}

func TestParse_UnsupportedOperatorForFieldIsHardError(t *testing.T) {
	_, err := Parse("g<9q8y")
	require.Error(t, err)
	_, err = Parse("t=1000")
	require.Error(t, err)
}

func TestParse_EmptyStringMatchesEverything(t *testing.T) {
	q, err := Parse("")
	require.NoError(t, err)
	require.False(t, q.HasSpatial())
	require.False(t, q.HasTemporal())
}

func TestSplitPath(t *testing.T) {
	path, queryStr, err := SplitPath("/data/obs.csv+g=9q8y&t<2000")
	require.NoError(t, err)
	require.Equal(t, "/data/obs.csv", path)
	require.Equal(t, "g=9q8y&t<2000", queryStr)

	path, queryStr, err = SplitPath("/data/obs.csv")
	require.NoError(t, err)
	require.Equal(t, "/data/obs.csv", path)
	require.Empty(t, queryStr)

	_, _, err = SplitPath("/a+b+c")
	require.Error(t, err, "more than one '+' is malformed")
}

func TestEvaluateBlock_SkipsTupleWithUndecodableLastChar(t *testing.T) {
	temporal := coordstore.NewTemporalMap()
	spatial := coordstore.NewSpatialIndex()
	id, err := block.NewIndexed()
	require.NoError(t, err)

	spatial.UpdateSpatial(id, "9q8y0", 10)
	spatial.UpdateSpatial(id, "9q8yZ", 99) // 'Z' fails the geohash-character decode

	q, err := Parse("g=9q8y")
	require.NoError(t, err)
	d, err := EvaluateBlock(q, id, temporal, spatial)
	require.NoError(t, err)
	require.False(t, d.Dropped)
	require.EqualValues(t, 10, d.Length, "the undecodable tuple contributes no length")
}

func TestEvaluateBlock_TemporalFilterDrops(t *testing.T) {
	temporal := coordstore.NewTemporalMap()
	spatial := coordstore.NewSpatialIndex()
	id := block.ID(42)
	temporal.UpdateTemporal(id, 5000, 6000)

	q, err := Parse("t<1000")
	require.NoError(t, err)
	d, err := EvaluateBlock(q, id, temporal, spatial)
	require.NoError(t, err)
	require.True(t, d.Dropped)
}

func TestEvaluateBlock_NoTemporalEntryPassesThrough(t *testing.T) {
	temporal := coordstore.NewTemporalMap()
	spatial := coordstore.NewSpatialIndex()
	id := block.ID(7)

	q, err := Parse("t<1000")
	require.NoError(t, err)
	d, err := EvaluateBlock(q, id, temporal, spatial)
	require.NoError(t, err)
	require.False(t, d.Dropped)
	require.Equal(t, id, d.BlockID)
}

func TestEvaluateBlock_SpatialRewriteProducesSubBlockID(t *testing.T) {
	temporal := coordstore.NewTemporalMap()
	spatial := coordstore.NewSpatialIndex()
	id, err := block.NewIndexed()
	require.NoError(t, err)

	spatial.UpdateSpatial(id, "9q8y0", 10)
	spatial.UpdateSpatial(id, "abcdf", 20) // different last-char selector, won't match
	spatial.UpdateSpatial(id, "9q8y1", 5)

	q, err := Parse("g=9q8y")
	require.NoError(t, err)
	d, err := EvaluateBlock(q, id, temporal, spatial)
	require.NoError(t, err)
	require.False(t, d.Dropped)
	require.EqualValues(t, 15, d.Length)
	require.NotEqual(t, id, d.BlockID)

	_, selectors, err := d.BlockID.DecodeIndexed()
	require.NoError(t, err)
	require.True(t, selectors.Contains(0))
	require.True(t, selectors.Contains(1))
	require.False(t, selectors.Contains(15)) // 'f' decodes to 15
}

func TestEvaluateBlock_NoSurvivorsDropsBlock(t *testing.T) {
	temporal := coordstore.NewTemporalMap()
	spatial := coordstore.NewSpatialIndex()
	id, err := block.NewIndexed()
	require.NoError(t, err)
	spatial.UpdateSpatial(id, "abcdf", 20)

	q, err := Parse("g=9q8y")
	require.NoError(t, err)
	d, err := EvaluateBlock(q, id, temporal, spatial)
	require.NoError(t, err)
	require.True(t, d.Dropped)
}
