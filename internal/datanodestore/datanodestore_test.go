package datanodestore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRegisterAndHeartbeat(t *testing.T) {
	s := New(time.Minute, 10)
	id := s.Register("10.0.0.1:9100")
	require.NotEmpty(t, id)

	now := time.Now()
	require.True(t, s.Heartbeat(id, "disk0", now, 1000, 200))
	require.False(t, s.IsStale(id, now))
}

func TestHeartbeatUnknownNodeIsRejected(t *testing.T) {
	s := New(time.Minute, 10)
	require.False(t, s.Heartbeat("no-such-node", "disk0", time.Now(), 0, 0))
}

func TestIsStaleBeforeFirstHeartbeat(t *testing.T) {
	s := New(time.Minute, 10)
	id := s.Register("10.0.0.1:9100")
	require.True(t, s.IsStale(id, time.Now()), "a node with no samples yet is stale")
}

func TestIsStaleAfterThreshold(t *testing.T) {
	s := New(time.Minute, 10)
	id := s.Register("10.0.0.1:9100")
	base := time.Now()
	require.True(t, s.Heartbeat(id, "disk0", base, 1000, 0))
	require.True(t, s.IsStale(id, base.Add(2*time.Minute)))
}

func TestLiveNodeIDsExcludesStaleAndUnheardNodes(t *testing.T) {
	s := New(time.Minute, 10)
	fresh := s.Register("10.0.0.1:9100")
	stale := s.Register("10.0.0.2:9100")
	never := s.Register("10.0.0.3:9100")
	_ = never

	base := time.Now()
	require.True(t, s.Heartbeat(fresh, "disk0", base, 1000, 0))
	require.True(t, s.Heartbeat(stale, "disk0", base.Add(-2*time.Minute), 1000, 0))

	live := s.LiveNodeIDs(base)
	require.Contains(t, live, fresh)
	require.NotContains(t, live, stale)
	require.NotContains(t, live, never)
}

func TestAddressResolvesRegisteredNode(t *testing.T) {
	s := New(time.Minute, 10)
	id := s.Register("10.0.0.1:9100")

	addr, ok := s.Address(id)
	require.True(t, ok)
	require.Equal(t, "10.0.0.1:9100", addr)

	_, ok = s.Address("unknown")
	require.False(t, ok)
}

func TestSampleRingKeepsOnlyMostRecent(t *testing.T) {
	s := New(time.Hour, 10)
	id := s.Register("10.0.0.1:9100")

	base := time.Now()
	for i := 0; i < 25; i++ {
		require.True(t, s.Heartbeat(id, "disk0", base.Add(time.Duration(i)*time.Second), 1000, uint64(i)))
	}

	samples := s.Samples(id)
	require.Len(t, samples, 10)
	require.EqualValues(t, 15, samples[0].UsedBytes, "samples older than the 10th most recent are evicted")
	require.EqualValues(t, 24, samples[9].UsedBytes)
}

func TestAddressesResolvesAndDropsUnknownIDs(t *testing.T) {
	s := New(time.Minute, 10)
	a := s.Register("10.0.0.1:9100")
	b := s.Register("10.0.0.2:9100")

	got := s.Addresses([]string{a, "dangling-id", b})
	require.ElementsMatch(t, []string{"10.0.0.1:9100", "10.0.0.2:9100"}, got)
}
