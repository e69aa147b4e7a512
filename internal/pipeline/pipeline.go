// Package pipeline implements the storage-node ingest pipeline of spec
// §4.1: a single bounded multi-producer/multi-consumer queue of
// BlockOperation items, drained by a fixed-size worker pool that lets any
// worker take up any stage (INDEX, WRITE, TRANSFER), smoothing CPU-heavy
// indexing against I/O-heavy writes and transfers - the same "shared queue
// across stages" shape as the teacher's staged sync
// (eth/stagedsync/stage_log_index.go promotes/unwinds a single logical
// stage at a time over a shared transaction; here the sharing is across
// concurrent workers instead of sequential stages, but the bounded-queue +
// worker-pool + shutdown-broadcast skeleton is the same).
package pipeline

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/spatialfs/spatialfs/internal/block"
	"github.com/spatialfs/spatialfs/internal/logging"
	"github.com/spatialfs/spatialfs/internal/metrics"
	"github.com/spatialfs/spatialfs/internal/policy"
	"github.com/spatialfs/spatialfs/internal/recordindex"
)

// Stage is one of the three ingest states of spec §4.1.
type Stage int

const (
	StageIndex Stage = iota
	StageWrite
	StageTransfer
)

func (s Stage) String() string {
	switch s {
	case StageIndex:
		return "INDEX"
	case StageWrite:
		return "WRITE"
	case StageTransfer:
		return "TRANSFER"
	default:
		return "UNKNOWN"
	}
}

// BlockMeta is the per-block metadata carried alongside a BlockOperation's
// payload through the pipeline.
type BlockMeta struct {
	ID              block.ID
	GenerationStamp uint64
	Length          uint64
	Policy          policy.Policy // nil for non-indexed blocks
	Index           recordindex.BlockIndex
}

// BlockOperation is one item moving through the ingest pipeline.
type BlockOperation struct {
	Meta     BlockMeta
	Payload  []byte
	Replicas []string // storage-node addresses; empty for submit_replica items
	Stage    Stage

	// replica marks an item that arrived via SubmitReplica: terminal after
	// WRITE, never re-transferred (spec §4.1 "starts at WRITE, no further
	// TRANSFER"). Without this, an indexed replica arrival would loop back
	// through getIndexReplicas and fan out again.
	replica bool
}

// Disk is the storage-node's local persistence surface (spec §4.6).
type Disk interface {
	WriteBlock(meta BlockMeta, payload []byte) error
}

// ReplicaResolver asks the coordinator for an indexed block's replica set
// (spec §4.4 getIndexReplicas).
type ReplicaResolver interface {
	GetIndexReplicas(ctx context.Context, desiredCount int, idx recordindex.BlockIndex) ([]string, error)
}

// IndexReporter sends a completed BlockIndex back to the coordinator
// (spec §4.3 indexReport).
type IndexReporter interface {
	ReportIndex(ctx context.Context, id block.ID, idx recordindex.BlockIndex) error
}

// Transferer opens a connection to a replica and streams a replica-write
// message (spec §4.1 TRANSFER policy).
type Transferer interface {
	SendReplica(ctx context.Context, addr string, meta BlockMeta, payload []byte) error
}

// Deps bundles the pipeline's external collaborators.
type Deps struct {
	Disk      Disk
	Replicas  ReplicaResolver
	IndexRep  IndexReporter
	Transfer  Transferer
	NodeLabel string // used only for metric label cardinality
}

// Pool is the bounded worker pool draining the shared operation queue.
type Pool struct {
	deps Deps
	log  logging.Logger

	queue chan *BlockOperation
	stop  chan struct{}
	wg    sync.WaitGroup

	transferSem *semaphore.Weighted
}

// New builds a Pool with the given queue capacity, worker count, and
// bound on concurrent outbound replica transfers (one semaphore shared by
// all workers of the pool).
func New(deps Deps, queueLen, workers, maxConcurrentTransfers int) *Pool {
	p := &Pool{
		deps:        deps,
		log:         logging.New("component", "pipeline", "node", deps.NodeLabel),
		queue:       make(chan *BlockOperation, queueLen),
		stop:        make(chan struct{}),
		transferSem: semaphore.NewWeighted(int64(maxConcurrentTransfers)),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// SubmitWrite enqueues a non-indexed block, starting at WRITE. Blocks if the
// queue is full - this is the backpressure mechanism of spec §4.1.
func (p *Pool) SubmitWrite(meta BlockMeta, payload []byte, replicas []string) {
	p.enqueue(&BlockOperation{Meta: meta, Payload: payload, Replicas: replicas, Stage: StageWrite})
}

// SubmitIndex enqueues an indexed block, starting at INDEX.
func (p *Pool) SubmitIndex(meta BlockMeta, payload []byte, replicas []string) {
	p.enqueue(&BlockOperation{Meta: meta, Payload: payload, Replicas: replicas, Stage: StageIndex})
}

// SubmitReplica enqueues a replica arrival, starting at WRITE with no
// further TRANSFER.
func (p *Pool) SubmitReplica(meta BlockMeta, payload []byte) {
	p.enqueue(&BlockOperation{Meta: meta, Payload: payload, Stage: StageWrite, replica: true})
}

func (p *Pool) enqueue(op *BlockOperation) {
	p.queue <- op
	metrics.IngestQueueDepth.WithLabelValues(p.deps.NodeLabel).Set(float64(len(p.queue)))
}

// Shutdown broadcasts the stop signal; workers finish their current stage
// and exit at their next queue-wait. Items still queued are dropped.
func (p *Pool) Shutdown() {
	close(p.stop)
	p.wg.Wait()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			return
		case op := <-p.queue:
			metrics.IngestQueueDepth.WithLabelValues(p.deps.NodeLabel).Set(float64(len(p.queue)))
			p.process(op)
		}
	}
}

func (p *Pool) process(op *BlockOperation) {
	metrics.WorkersBusy.WithLabelValues(p.deps.NodeLabel).Inc()
	defer metrics.WorkersBusy.WithLabelValues(p.deps.NodeLabel).Dec()

	switch op.Stage {
	case StageIndex:
		p.runIndex(op)
	case StageWrite:
		p.runWrite(op)
	case StageTransfer:
		p.runTransfer(op)
	}
}

func (p *Pool) runIndex(op *BlockOperation) {
	reordered, idx, err := recordindex.Index(op.Payload, op.Meta.Policy)
	if err != nil {
		p.log.Warn("INDEX stage failed, dropping item", "block", op.Meta.ID, "error", err)
		metrics.StageCompletions.WithLabelValues("INDEX", "fail").Inc()
		return
	}
	op.Payload = reordered
	op.Meta.Index = idx
	op.Meta.Length = uint64(len(reordered))
	metrics.StageCompletions.WithLabelValues("INDEX", "ok").Inc()

	ctx := context.Background()
	if p.deps.IndexRep != nil {
		if err := p.deps.IndexRep.ReportIndex(ctx, op.Meta.ID, idx); err != nil {
			p.log.Warn("index report failed", "block", op.Meta.ID, "error", err)
		}
	}

	op.Stage = StageWrite
	p.enqueue(op)
}

func (p *Pool) runWrite(op *BlockOperation) {
	if err := p.deps.Disk.WriteBlock(op.Meta, op.Payload); err != nil {
		p.log.Warn("WRITE stage failed, dropping item", "block", op.Meta.ID, "error", err)
		metrics.StageCompletions.WithLabelValues("WRITE", "fail").Inc()
		return
	}
	metrics.StageCompletions.WithLabelValues("WRITE", "ok").Inc()

	if op.replica {
		return // terminal: replica arrivals never re-transfer
	}
	if len(op.Replicas) == 0 && !op.Meta.ID.IsIndexed() {
		return // terminal: no replicas requested
	}
	op.Stage = StageTransfer
	p.enqueue(op)
}

func (p *Pool) runTransfer(op *BlockOperation) {
	ctx := context.Background()
	replicas := op.Replicas
	if op.Meta.ID.IsIndexed() {
		var err error
		replicas, err = p.deps.Replicas.GetIndexReplicas(ctx, len(op.Replicas), op.Meta.Index)
		if err != nil {
			p.log.Error("getIndexReplicas failed, dropping transfer", "block", op.Meta.ID, "error", err)
			metrics.StageCompletions.WithLabelValues("TRANSFER", "fail").Inc()
			return
		}
	}
	if len(replicas) == 0 {
		metrics.StageCompletions.WithLabelValues("TRANSFER", "ok").Inc()
		return
	}

	g, gctx := errgroup.WithContext(context.Background())
	_ = gctx // deliberately unused for cancellation: one replica's failure must not abort the others (spec §4.1)
	for _, addr := range replicas {
		addr := addr
		if err := p.transferSem.Acquire(ctx, 1); err != nil {
			continue
		}
		g.Go(func() error {
			defer p.transferSem.Release(1)
			if err := p.deps.Transfer.SendReplica(ctx, addr, op.Meta, op.Payload); err != nil {
				p.log.Warn("replica transfer failed, continuing with remaining replicas", "addr", addr, "block", op.Meta.ID, "error", err)
			}
			return nil // never propagate: failures here must not cancel siblings
		})
	}
	_ = g.Wait()
	metrics.StageCompletions.WithLabelValues("TRANSFER", "ok").Inc()
}
