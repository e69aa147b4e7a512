package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spatialfs/spatialfs/internal/block"
	"github.com/spatialfs/spatialfs/internal/policy"
	"github.com/spatialfs/spatialfs/internal/recordindex"
)

type fakeDisk struct {
	mu     sync.Mutex
	writes map[block.ID][]byte
	metas  map[block.ID]BlockMeta
}

func newFakeDisk() *fakeDisk {
	return &fakeDisk{writes: make(map[block.ID][]byte), metas: make(map[block.ID]BlockMeta)}
}

func (d *fakeDisk) WriteBlock(meta BlockMeta, payload []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writes[meta.ID] = append([]byte(nil), payload...)
	d.metas[meta.ID] = meta
	return nil
}

func (d *fakeDisk) written(id block.ID) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.writes[id]
	return b, ok
}

func (d *fakeDisk) writtenMeta(id block.ID) (BlockMeta, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.metas[id]
	return m, ok
}

type fakeResolver struct {
	mu       sync.Mutex
	calls    int
	replicas []string
}

func (r *fakeResolver) GetIndexReplicas(ctx context.Context, desiredCount int, idx recordindex.BlockIndex) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.replicas, nil
}

func (r *fakeResolver) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type fakeReporter struct {
	mu      sync.Mutex
	reports []recordindex.BlockIndex
}

func (r *fakeReporter) ReportIndex(ctx context.Context, id block.ID, idx recordindex.BlockIndex) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, idx)
	return nil
}

func (r *fakeReporter) reportCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reports)
}

type fakeTransfer struct {
	mu     sync.Mutex
	sent   []string
	failOn map[string]bool
}

func newFakeTransfer() *fakeTransfer {
	return &fakeTransfer{failOn: make(map[string]bool)}
}

func (t *fakeTransfer) SendReplica(ctx context.Context, addr string, meta BlockMeta, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failOn[addr] {
		return fmt.Errorf("connection refused")
	}
	t.sent = append(t.sent, addr)
	return nil
}

func (t *fakeTransfer) sentTo() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.sent...)
}

func newTestPool(disk *fakeDisk, resolver *fakeResolver, reporter *fakeReporter, tr *fakeTransfer) *Pool {
	return New(Deps{
		Disk:      disk,
		Replicas:  resolver,
		IndexRep:  reporter,
		Transfer:  tr,
		NodeLabel: "test",
	}, 16, 2, 2)
}

func TestSubmitWriteTransfersToClientReplicas(t *testing.T) {
	disk := newFakeDisk()
	resolver := &fakeResolver{}
	reporter := &fakeReporter{}
	tr := newFakeTransfer()
	p := newTestPool(disk, resolver, reporter, tr)
	defer p.Shutdown()

	id, err := block.NewRandom()
	require.NoError(t, err)
	payload := []byte("hello block")
	p.SubmitWrite(BlockMeta{ID: id, Length: uint64(len(payload))}, payload, []string{"n1:9001", "n2:9001"})

	require.Eventually(t, func() bool {
		return len(tr.sentTo()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	got, ok := disk.written(id)
	require.True(t, ok)
	require.Equal(t, payload, got, "non-indexed payload is written byte-for-byte")
	require.ElementsMatch(t, []string{"n1:9001", "n2:9001"}, tr.sentTo())
	require.Zero(t, resolver.callCount(), "non-indexed transfer never consults getIndexReplicas")
}

func TestSubmitReplicaIsTerminalAfterWrite(t *testing.T) {
	disk := newFakeDisk()
	resolver := &fakeResolver{replicas: []string{"n9:9001"}}
	reporter := &fakeReporter{}
	tr := newFakeTransfer()
	p := newTestPool(disk, resolver, reporter, tr)
	defer p.Shutdown()

	id, err := block.NewIndexed()
	require.NoError(t, err)
	idx := recordindex.BlockIndex{Spatial: []recordindex.SpatialEntry{{Geohash: "9q8ya", Start: 0, End: 4}}}
	p.SubmitReplica(BlockMeta{ID: id, Length: 4, Index: idx}, []byte("data"))

	require.Eventually(t, func() bool {
		_, ok := disk.written(id)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	// Give any (incorrect) transfer stage a moment to fire before asserting.
	time.Sleep(50 * time.Millisecond)
	require.Empty(t, tr.sentTo(), "replica arrivals must not re-transfer")
	require.Zero(t, resolver.callCount(), "replica arrivals must not consult getIndexReplicas")

	meta, ok := disk.writtenMeta(id)
	require.True(t, ok)
	require.Equal(t, idx, meta.Index, "a replica write persists the primary's spatial table")
}

func TestSubmitIndexReordersReportsAndTransfers(t *testing.T) {
	disk := newFakeDisk()
	resolver := &fakeResolver{replicas: []string{"hot:9001", "cold:9001"}}
	reporter := &fakeReporter{}
	tr := newFakeTransfer()
	p := newTestPool(disk, resolver, reporter, tr)
	defer p.Shutdown()

	payload := []byte("lat,lon,ts,data\n10.0,10.0,3000,C\n45.0,-93.0,1000,A\n45.01,-93.01,2000,B\n")
	id, err := block.NewIndexed()
	require.NoError(t, err)
	meta := BlockMeta{
		ID:     id,
		Length: uint64(len(payload)),
		Policy: policy.CsvPoint{LatitudeIndex: 0, LongitudeIndex: 1, TimestampIndex: 2},
	}
	p.SubmitIndex(meta, payload, []string{"a", "b"})

	require.Eventually(t, func() bool {
		return len(tr.sentTo()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, 1, reporter.reportCount(), "a successful INDEX sends one index report")
	require.Equal(t, 1, resolver.callCount(), "indexed transfer resolves replicas via the coordinator")
	require.ElementsMatch(t, []string{"hot:9001", "cold:9001"}, tr.sentTo(),
		"indexed transfer uses the coordinator's list, not the client's")

	got, ok := disk.written(id)
	require.True(t, ok)
	require.NotEqual(t, payload, got, "indexed payload is reordered before the WRITE stage")
	require.Len(t, got, len(payload)-len("lat,lon,ts,data\n"), "reorder drops only the header record")
}

func TestOneFailedReplicaDoesNotAbortOthers(t *testing.T) {
	disk := newFakeDisk()
	resolver := &fakeResolver{}
	reporter := &fakeReporter{}
	tr := newFakeTransfer()
	tr.failOn["bad:9001"] = true
	p := newTestPool(disk, resolver, reporter, tr)
	defer p.Shutdown()

	id, err := block.NewRandom()
	require.NoError(t, err)
	p.SubmitWrite(BlockMeta{ID: id, Length: 1}, []byte("x"), []string{"ok1:9001", "bad:9001", "ok2:9001"})

	require.Eventually(t, func() bool {
		return len(tr.sentTo()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	require.ElementsMatch(t, []string{"ok1:9001", "ok2:9001"}, tr.sentTo())
}

func TestShutdownStopsWorkers(t *testing.T) {
	disk := newFakeDisk()
	p := newTestPool(disk, &fakeResolver{}, &fakeReporter{}, newFakeTransfer())

	id, err := block.NewRandom()
	require.NoError(t, err)
	p.SubmitWrite(BlockMeta{ID: id, Length: 1}, []byte("x"), nil)
	require.Eventually(t, func() bool {
		_, ok := disk.written(id)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		p.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown did not drain the worker pool")
	}
}
