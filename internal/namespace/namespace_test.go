package namespace

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMkdirsAndGetFile(t *testing.T) {
	tr := New(time.Minute)
	require.NoError(t, tr.Mkdirs("/a/b/c", true))

	_, ok := tr.GetFile("/a/b/c")
	require.True(t, ok)
	_, ok = tr.GetFile("/a/b")
	require.True(t, ok)
	_, ok = tr.GetFile("/a/b/x")
	require.False(t, ok)
}

func TestMkdirsWithoutCreateParentFailsOnMissingAncestors(t *testing.T) {
	tr := New(time.Minute)
	err := tr.Mkdirs("/a/b/c", false)
	require.Error(t, err)
}

func TestCreateThenAddBlockThenComplete(t *testing.T) {
	tr := New(time.Minute)
	require.NoError(t, tr.Mkdirs("/data", true))
	f, err := tr.Create("/data/points.csv", 3, 1<<20, "")
	require.NoError(t, err)
	require.False(t, f.Complete)

	_, err = tr.AddBlock("/data/points.csv", 111)
	require.NoError(t, err)
	_, err = tr.AddBlock("/data/points.csv", 222)
	require.NoError(t, err)

	got, ok := tr.GetFile("/data/points.csv")
	require.True(t, ok)
	require.Equal(t, []uint64{111, 222}, got.Blocks)

	require.NoError(t, tr.Complete("/data/points.csv"))
	got, _ = tr.GetFile("/data/points.csv")
	require.True(t, got.Complete)
}

func TestEffectivePolicyInheritsFromNearestAncestor(t *testing.T) {
	tr := New(time.Minute)
	require.NoError(t, tr.Mkdirs("/geo/points", true))
	require.NoError(t, tr.SetStoragePolicy("/geo", "CsvPoint(timestamp_index:2, latitude_index:0, longitude_index:1)"))

	_, err := tr.Create("/geo/points/a.csv", 3, 1<<20, "")
	require.NoError(t, err)

	p, ok, err := tr.EffectivePolicy("/geo/points/a.csv")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "CsvPoint", p.Kind())
}

func TestEffectivePolicyOwnSettingOverridesAncestor(t *testing.T) {
	tr := New(time.Minute)
	require.NoError(t, tr.Mkdirs("/geo", true))
	require.NoError(t, tr.SetStoragePolicy("/geo", "Wkt(spatial_index:1)"))
	_, err := tr.Create("/geo/a.csv", 3, 1<<20, "CsvPoint(timestamp_index:2, latitude_index:0, longitude_index:1)")
	require.NoError(t, err)

	p, ok, err := tr.EffectivePolicy("/geo/a.csv")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "CsvPoint", p.Kind())
}

func TestEffectivePolicyNoneSetAnywhere(t *testing.T) {
	tr := New(time.Minute)
	require.NoError(t, tr.Mkdirs("/geo", true))
	_, err := tr.Create("/geo/a.csv", 3, 1<<20, "")
	require.NoError(t, err)

	_, ok, err := tr.EffectivePolicy("/geo/a.csv")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRenewLease(t *testing.T) {
	tr := New(time.Minute)
	f, err := tr.Create("/a.csv", 3, 1<<20, "")
	require.NoError(t, err)
	require.True(t, tr.RenewLease(f.ID))

	require.NoError(t, tr.Complete("/a.csv"))
	require.False(t, tr.RenewLease(f.ID)) // lease cleared on completion
}

func TestExpiredLeases(t *testing.T) {
	tr := New(-time.Second) // already-expired timeout
	f, err := tr.Create("/a.csv", 3, 1<<20, "")
	require.NoError(t, err)

	expired := tr.ExpiredLeases(time.Now())
	require.Contains(t, expired, f.ID)
}

func TestComputePath(t *testing.T) {
	tr := New(time.Minute)
	require.NoError(t, tr.Mkdirs("/a/b", true))
	f, err := tr.Create("/a/b/c.csv", 3, 1<<20, "")
	require.NoError(t, err)
	require.Equal(t, "/a/b/c.csv", tr.ComputePath(f.ID))
}
