package blockid

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spatialfs/spatialfs/internal/geoselect"
)

func TestRoundTripIncludeList(t *testing.T) {
	handle := uint32(0x0123456)
	sel := geoselect.FromValues([]byte{3, 10})

	id, err := Encode(handle, sel)
	require.NoError(t, err)
	require.EqualValues(t, 0x2, id&0xF, "low nibble carries k=2")

	gotHandle, gotSel, err := Decode(id)
	require.NoError(t, err)
	require.Equal(t, handle, gotHandle)
	require.ElementsMatch(t, []byte{3, 10}, gotSel.Values())
}

func TestRoundTripAllCounts(t *testing.T) {
	handle := uint32(0x0A5A5A5) // bit27 (handle's top bit) intentionally 0 here would
	// collide with the indexed-flag caveat documented in the package doc; the
	// codec itself (no flag applied) round-trips exactly regardless.
	for k := 0; k <= 16; k++ {
		sel := geoselect.New()
		for v := byte(0); int(v) < k; v++ {
			sel.Add(v)
		}
		id, err := Encode(handle, sel)
		require.NoError(t, err, "k=%d", k)
		gotHandle, gotSel, err := Decode(id)
		require.NoError(t, err, "k=%d", k)
		require.Equal(t, handle, gotHandle, "k=%d", k)
		if k == 16 {
			require.True(t, gotSel.IsFull(), "k=16 decodes as include-all")
		} else {
			require.Equal(t, k, gotSel.Len(), "k=%d", k)
			require.ElementsMatch(t, sel.Values(), gotSel.Values(), "k=%d", k)
		}
	}
}

func TestEmptySelectorSetDecodesAsFull(t *testing.T) {
	// spec §9 open question: encode of an empty set and of the full set both
	// produce low nibble 0; decode always treats 0 as "all 16". We do not
	// invent a fix - this test documents the behavior as specified.
	id, err := Encode(0x42, geoselect.New())
	require.NoError(t, err)
	_, sel, err := Decode(id)
	require.NoError(t, err)
	require.True(t, sel.IsFull())
}

func TestAllSubsetsRoundTrip(t *testing.T) {
	for mask := 0; mask < (1 << 16); mask++ {
		sel := geoselect.New()
		for v := byte(0); v < 16; v++ {
			if mask&(1<<v) != 0 {
				sel.Add(v)
			}
		}
		id, err := Encode(0x1, sel)
		require.NoError(t, err)
		_, gotSel, err := Decode(id)
		require.NoError(t, err)
		k := sel.Len()
		if k == 0 {
			require.True(t, gotSel.IsFull())
			continue
		}
		require.ElementsMatch(t, sel.Values(), gotSel.Values(), "mask=%b", mask)
	}
}
