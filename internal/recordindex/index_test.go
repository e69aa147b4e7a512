package recordindex

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spatialfs/spatialfs/internal/policy"
)

// csvPointPolicy mirrors the scenario in spec §8 S1: "lat,lon,ts,data" header,
// three records, two of which (A and B) colocate in the same geohash group
// and one (C) lives in a distant one.
func csvPointPolicy() policy.CsvPoint {
	return policy.CsvPoint{LatitudeIndex: 0, LongitudeIndex: 1, TimestampIndex: 2}
}

func TestIndex_S1ColocatedAndDistantGroups(t *testing.T) {
	payload := []byte(
		"lat,lon,ts,data\n" +
			"45.0,-93.0,1000,A\n" +
			"45.0001,-93.0001,2000,B\n" +
			"10.0,10.0,3000,C\n")

	reordered, idx, err := Index(payload, csvPointPolicy())
	require.NoError(t, err)

	require.True(t, idx.HasTime)
	require.EqualValues(t, 1000, idx.MinTS)
	require.EqualValues(t, 3000, idx.MaxTS)

	// Two geohash groups in the compacted spatial table: the near pair and
	// the distant point.
	require.Len(t, idx.Spatial, 2)

	// Every byte of the reordered payload is claimed by exactly one entry,
	// and entries are in ascending, non-overlapping order (Testable
	// Property 2: "reorder partition").
	require.EqualValues(t, 0, idx.Spatial[0].Start)
	for i := 1; i < len(idx.Spatial); i++ {
		require.Equal(t, idx.Spatial[i-1].End, idx.Spatial[i].Start)
	}
	require.EqualValues(t, len(reordered), idx.Spatial[len(idx.Spatial)-1].End)

	// The near pair (A, B) lands in one contiguous run; the distant point
	// (C) lands in the other. Since the source already orders A, B before
	// C, and A/B share a geohash while C does not, the reordered bytes
	// contain A and B adjacent to each other.
	require.Contains(t, string(reordered), "A\n45.0001,-93.0001,2000,B\n")
	require.Contains(t, string(reordered), "10.0,10.0,3000,C\n")
}

func TestIndex_RunLengthInvariance(t *testing.T) {
	// Reordering three consecutive same-geohash records should produce one
	// run, identical regardless of how many records shared that run
	// (Testable Property 3: "run-length invariance").
	single := []byte(
		"lat,lon,ts,data\n" +
			"45.0,-93.0,1000,A\n")
	triple := []byte(
		"lat,lon,ts,data\n" +
			"45.0,-93.0,1000,A\n" +
			"45.0,-93.0,1001,A\n" +
			"45.0,-93.0,1002,A\n")

	_, idxSingle, err := Index(single, csvPointPolicy())
	require.NoError(t, err)
	_, idxTriple, err := Index(triple, csvPointPolicy())
	require.NoError(t, err)

	require.Len(t, idxSingle.Spatial, 1)
	require.Len(t, idxTriple.Spatial, 1)
	require.Equal(t, idxSingle.Spatial[0].Geohash, idxTriple.Spatial[0].Geohash)
}

func TestIndex_SkippedRecordBytesExcludedFromNeighboringGroup(t *testing.T) {
	// A record with a field-count mismatch (extra column) must not leak its
	// bytes into the interval of the geohash group before or after it.
	payload := []byte(
		"lat,lon,ts,data\n" +
			"45.0,-93.0,1000,A\n" +
			"bad,row,with,too,many,fields\n" +
			"10.0,10.0,3000,C\n")

	reordered, idx, err := Index(payload, csvPointPolicy())
	require.NoError(t, err)
	require.NotContains(t, string(reordered), "bad,row")
	require.Len(t, idx.Spatial, 2)
}

func TestIndex_EmptyBodyProducesNoSpatialTable(t *testing.T) {
	payload := []byte("lat,lon,ts,data\n")
	reordered, idx, err := Index(payload, csvPointPolicy())
	require.NoError(t, err)
	require.Empty(t, idx.Spatial)
	require.False(t, idx.HasTime)
	require.Equal(t, payload, reordered)
}

func TestIndex_WktPolicyUsesBoundingBoxCorners(t *testing.T) {
	payload := []byte(
		"id\tgeom\n" +
			"1\tPOLYGON((-93.0 45.0, -93.0 45.1, -92.9 45.1, -92.9 45.0, -93.0 45.0))\n")
	_, idx, err := Index(payload, policy.Wkt{SpatialIndex: 1})
	require.NoError(t, err)
	require.False(t, idx.HasTime)
	require.Len(t, idx.Spatial, 1)
	require.NotEmpty(t, idx.Spatial[0].Geohash)
}

func TestCompactPrefixes_AdjacentMergeUnderSharedPrefix(t *testing.T) {
	in := []SpatialEntry{
		{Geohash: "abcd", Start: 0, End: 10},
		{Geohash: "abce", Start: 10, End: 20},
		{Geohash: "xyz", Start: 20, End: 30},
	}
	out := compactPrefixes(in)
	require.Len(t, out, 2)
	require.Equal(t, 0, int(out[0].Start))
	require.Equal(t, 20, int(out[0].End))
	require.Equal(t, 20, int(out[1].Start))
	require.Equal(t, 30, int(out[1].End))
}
