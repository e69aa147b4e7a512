package block

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spatialfs/spatialfs/internal/geoselect"
)

func TestNewRandomIsNeverIndexed(t *testing.T) {
	for i := 0; i < 64; i++ {
		id, err := NewRandom()
		require.NoError(t, err)
		require.False(t, id.IsIndexed())
	}
}

func TestNewIndexedCarriesFullSelectorSet(t *testing.T) {
	id, err := NewIndexed()
	require.NoError(t, err)
	require.True(t, id.IsIndexed())

	_, sel, err := id.DecodeIndexed()
	require.NoError(t, err)
	require.True(t, sel.IsFull())
}

func TestDecodeIndexedRejectsNonIndexedID(t *testing.T) {
	id, err := NewRandom()
	require.NoError(t, err)
	_, _, err = id.DecodeIndexed()
	require.Error(t, err)
}

func TestWithSelectorsNarrowsWithoutChangingHandle(t *testing.T) {
	id, err := NewIndexed()
	require.NoError(t, err)
	handle, _, err := id.DecodeIndexed()
	require.NoError(t, err)

	narrow, err := id.WithSelectors(geoselect.FromValues([]byte{0xa}))
	require.NoError(t, err)
	require.True(t, narrow.IsIndexed())
	require.NotEqual(t, id, narrow, "narrowing the selector set changes the wire id")

	narrowHandle, narrowSel, err := narrow.DecodeIndexed()
	require.NoError(t, err)
	require.Equal(t, handle, narrowHandle, "WithSelectors must not touch the handle")
	require.ElementsMatch(t, []byte{0xa}, narrowSel.Values())
}

func TestCanonicalDiskIDIsStableAcrossNarrowing(t *testing.T) {
	id, err := NewIndexed()
	require.NoError(t, err)
	wantDisk, err := id.CanonicalDiskID()
	require.NoError(t, err)
	require.Equal(t, id, wantDisk, "a freshly allocated indexed id is already its own disk key")

	narrow, err := id.WithSelectors(geoselect.FromValues([]byte{3, 7}))
	require.NoError(t, err)
	require.NotEqual(t, id, narrow)

	gotDisk, err := narrow.CanonicalDiskID()
	require.NoError(t, err)
	require.Equal(t, wantDisk, gotDisk, "narrowed sub-block ids must resolve back to the same on-disk key")
}

func TestCanonicalDiskIDIsIdentityForNonIndexed(t *testing.T) {
	id, err := NewRandom()
	require.NoError(t, err)
	disk, err := id.CanonicalDiskID()
	require.NoError(t, err)
	require.Equal(t, id, disk)
}

func TestStringIsFixedWidthHex(t *testing.T) {
	id, err := NewRandom()
	require.NoError(t, err)
	require.Len(t, id.String(), 16)
}
