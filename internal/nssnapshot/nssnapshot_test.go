package nssnapshot

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spatialfs/spatialfs/internal/namespace"
)

func TestSaveThenLoadRoundTrips(t *testing.T) {
	tr := namespace.New(time.Minute)
	require.NoError(t, tr.Mkdirs("/geo/points", true))
	require.NoError(t, tr.SetStoragePolicy("/geo", "Wkt(spatial_index:1)"))
	f, err := tr.Create("/geo/points/a.csv", 3, 1<<20, "")
	require.NoError(t, err)
	_, err = tr.AddBlock("/geo/points/a.csv", 555)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "snapshot")
	require.NoError(t, Save(path, tr))

	restored, found, err := Load(path, time.Minute)
	require.NoError(t, err)
	require.True(t, found)

	got, ok := restored.GetFile("/geo/points/a.csv")
	require.True(t, ok)
	require.Equal(t, f.ID, got.ID)
	require.Equal(t, []uint64{555}, got.Blocks)

	p, ok, err := restored.EffectivePolicy("/geo/points/a.csv")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Wkt", p.Kind())
}

func TestLoadMissingFileReturnsNotFound(t *testing.T) {
	_, found, err := Load(filepath.Join(t.TempDir(), "missing"), time.Minute)
	require.NoError(t, err)
	require.False(t, found)
}
