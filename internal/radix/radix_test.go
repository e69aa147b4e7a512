package radix

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spatialfs/spatialfs/internal/block"
)

func sortedIDs(ids []block.ID) []block.ID {
	out := append([]block.ID(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func TestInsertAndGetExact(t *testing.T) {
	tr := New()
	tr.Insert("9q8yyk", block.ID(1))
	tr.Insert("9q8yyk", block.ID(2))
	tr.Insert("9q8yym", block.ID(3))

	require.ElementsMatch(t, []block.ID{1, 2}, tr.Get("9q8yyk"))
	require.ElementsMatch(t, []block.ID{3}, tr.Get("9q8yym"))
	require.Nil(t, tr.Get("9q8yy"))
}

func TestGetDescendantsMatchesPrefixAndLongerKeys(t *testing.T) {
	tr := New()
	tr.Insert("9q8y", block.ID(1))
	tr.Insert("9q8yzz", block.ID(2))
	tr.Insert("abcd", block.ID(3))

	got := sortedIDs(tr.GetDescendants("9q8y"))
	require.Equal(t, []block.ID{1, 2}, got)

	require.Empty(t, tr.GetDescendants("zzzz"))
	require.ElementsMatch(t, []block.ID{3}, tr.GetDescendants("abcd"))
}

func TestGetDescendantsQueryKeyShorterThanEdge(t *testing.T) {
	tr := New()
	tr.Insert("9q8yyyyy", block.ID(1))

	// "9q8" is a prefix of the stored key but shorter than its single edge
	// segment, exercising GetDescendants' partial-edge match.
	require.ElementsMatch(t, []block.ID{1}, tr.GetDescendants("9q8"))
}

func TestRemovePrunesBlockButKeepsNode(t *testing.T) {
	tr := New()
	tr.Insert("9q8y", block.ID(1))
	tr.Insert("9q8y", block.ID(2))
	tr.Remove("9q8y", block.ID(1))
	require.ElementsMatch(t, []block.ID{2}, tr.Get("9q8y"))
}

func TestEdgeSplitOnDivergence(t *testing.T) {
	tr := New()
	tr.Insert("9q8yA", block.ID(1))
	tr.Insert("9q8yB", block.ID(2))
	require.ElementsMatch(t, []block.ID{1}, tr.Get("9q8yA"))
	require.ElementsMatch(t, []block.ID{2}, tr.Get("9q8yB"))
	require.ElementsMatch(t, []block.ID{1, 2}, tr.GetDescendants("9q8y"))
}
