// Package storagenode wires a single storage node: local block storage,
// the staged ingest pipeline, the binary transfer surface, and the
// periodic report/heartbeat ticks to the coordinator (spec §5).
package storagenode

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/ugorji/go/codec"
	"golang.org/x/sync/semaphore"

	"github.com/spatialfs/spatialfs/internal/block"
	"github.com/spatialfs/spatialfs/internal/blockstore"
	"github.com/spatialfs/spatialfs/internal/config"
	"github.com/spatialfs/spatialfs/internal/coordinatorrpc"
	"github.com/spatialfs/spatialfs/internal/logging"
	"github.com/spatialfs/spatialfs/internal/pipeline"
	"github.com/spatialfs/spatialfs/internal/policy"
	"github.com/spatialfs/spatialfs/internal/recordindex"
	"github.com/spatialfs/spatialfs/internal/transfer"
)

var reqHandle codec.CborHandle

func encodeReq(v interface{}) []byte {
	var buf bytes.Buffer
	codec.NewEncoder(&buf, &reqHandle).MustEncode(v)
	return buf.Bytes()
}

func decodeReq(b []byte, v interface{}) error {
	return codec.NewDecoderBytes(b, &reqHandle).Decode(v)
}

// diskAdapter bridges pipeline.Disk's (meta, payload) shape to
// blockstore.Store's positional WriteBlock signature.
type diskAdapter struct {
	store *blockstore.Store
}

func (d diskAdapter) WriteBlock(meta pipeline.BlockMeta, payload []byte) error {
	return d.store.WriteBlock(meta.ID, meta.Length, payload, meta.ID.IsIndexed(), meta.Index)
}

// coordinatorAdapter implements pipeline.ReplicaResolver and
// pipeline.IndexReporter against a live coordinatorrpc.Client.
type coordinatorAdapter struct {
	client *coordinatorrpc.Client
	selfID string
}

func (c coordinatorAdapter) GetIndexReplicas(ctx context.Context, desiredCount int, idx recordindex.BlockIndex) ([]string, error) {
	return c.client.GetIndexReplicas(c.selfID, desiredCount, idx)
}

func (c coordinatorAdapter) ReportIndex(ctx context.Context, id block.ID, idx recordindex.BlockIndex) error {
	return c.client.IndexReport(id, idx)
}

// peerTransferer implements pipeline.Transferer by dialing a peer's
// transfer surface directly and issuing a write-replica op (80/82 framing
// of spec §6).
type peerTransferer struct{}

func (peerTransferer) SendReplica(ctx context.Context, addr string, meta pipeline.BlockMeta, payload []byte) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("storagenode: dialing replica target %s: %w", addr, err)
	}
	defer conn.Close()

	policyStr := ""
	if meta.Policy != nil {
		policyStr = meta.Policy.String()
	}
	req := encodeReq(writeRequest{
		ID: uint64(meta.ID), GenerationStamp: meta.GenerationStamp,
		Length: meta.Length, Policy: policyStr, Index: meta.Index,
	})
	if err := transfer.WriteFrame(conn, transfer.OpWriteReplica, req); err != nil {
		return err
	}
	w := bufio.NewWriter(conn)
	if err := transfer.WritePayload(w, payload); err != nil {
		return err
	}
	return w.Flush()
}

// writeRequest is the op-request body carried ahead of the chunked
// payload stream for ops 80 (write-block) and 82 (write-replica). Policy
// travels with the write because the storage node's INDEX stage needs it
// to parse records (spec §4.2); it is empty for non-indexed blocks.
// Write-replica requests carry the primary's policy string, but replica
// arrivals skip INDEX entirely (spec §4.1). Index is
// set only on write-replica: the replica skips INDEX, so the primary's
// BlockIndex rides along and lands in the replica's blk_<id>.meta, keeping
// indexed reads servable from any replica.
type writeRequest struct {
	ID              uint64
	GenerationStamp uint64
	Length          uint64
	Policy          string
	Replicas        []string // client-supplied replica set, spec §4.1 TRANSFER policy
	Client          string   // "direct-client" selects the raw-byte degenerate mode
	Index           recordindex.BlockIndex
}

// readRequest is the op-request body for op 81 (read-block): the
// (possibly sub-block) id, logical offset, and byte count to return.
type readRequest struct {
	ID     uint64
	Offset uint64
	Length uint64
	Client string
}

// Node bundles a storage node's local state: its assigned ID, on-disk
// store, ingest pipeline, and coordinator client.
type Node struct {
	cfg   config.StorageNode
	log   logging.Logger
	id    string
	store *blockstore.Store
	pool  *pipeline.Pool
	coord *coordinatorrpc.Client
}

// New opens local storage, registers with the coordinator, and starts the
// ingest pipeline.
func New(cfg config.StorageNode) (*Node, error) {
	store, err := blockstore.New(cfg.DataDir, cfg.MetaCacheEntries)
	if err != nil {
		return nil, fmt.Errorf("storagenode: opening block store: %w", err)
	}
	coord, err := coordinatorrpc.Dial(cfg.CoordinatorAddr)
	if err != nil {
		return nil, fmt.Errorf("storagenode: dialing coordinator: %w", err)
	}
	id, err := coord.RegisterDatanode(cfg.TransferAddr)
	if err != nil {
		return nil, fmt.Errorf("storagenode: registering with coordinator: %w", err)
	}

	n := &Node{
		cfg:   cfg,
		log:   logging.New("component", "storagenode", "node", id),
		id:    id,
		store: store,
		coord: coord,
	}
	workers := cfg.IndexWorkers + cfg.WriteWorkers + cfg.TransferWorkers
	if workers <= 0 {
		workers = 1
	}
	n.pool = pipeline.New(pipeline.Deps{
		Disk:      diskAdapter{store: store},
		Replicas:  coordinatorAdapter{client: coord, selfID: id},
		IndexRep:  coordinatorAdapter{client: coord, selfID: id},
		Transfer:  peerTransferer{},
		NodeLabel: id,
	}, cfg.IngestQueueLen, workers, cfg.TransferWorkers)

	return n, nil
}

// ID returns this node's coordinator-assigned identity.
func (n *Node) ID() string { return n.id }

// Pool exposes the ingest pipeline for submission by the transfer-surface
// connection handlers.
func (n *Node) Pool() *pipeline.Pool { return n.pool }

// Store exposes the local block store for read-path RPCs.
func (n *Node) Store() *blockstore.Store { return n.store }

// Shutdown drains the ingest pipeline.
func (n *Node) Shutdown() {
	n.pool.Shutdown()
	n.coord.Close()
}

// ServeTransfer accepts connections on ln and dispatches each frame to the
// ingest pipeline or local store, until ln is closed. Concurrent connection
// handlers are bounded at cfg.AcceptWorkers; when all are busy the accept
// loop blocks, pushing backpressure to connecting peers the same way the
// full ingest queue does.
func (n *Node) ServeTransfer(ln net.Listener) {
	workers := n.cfg.AcceptWorkers
	if workers <= 0 {
		workers = 1
	}
	sem := semaphore.NewWeighted(int64(workers))
	ctx := context.Background()
	for {
		if err := sem.Acquire(ctx, 1); err != nil {
			return
		}
		conn, err := ln.Accept()
		if err != nil {
			sem.Release(1)
			n.log.Warn("transfer listener closed", "error", err)
			return
		}
		go func() {
			defer sem.Release(1)
			n.handleTransferConn(conn)
		}()
	}
}

func (n *Node) handleTransferConn(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	frame, err := transfer.ReadFrame(r)
	if err != nil {
		n.log.Warn("transfer frame read failed", "error", err)
		return
	}

	switch frame.Op {
	case transfer.OpWriteBlock, transfer.OpWriteReplica:
		var req writeRequest
		if err := decodeReq(frame.Request, &req); err != nil {
			n.log.Warn("malformed write request", "error", err)
			return
		}
		var payload []byte
		if req.Client == transfer.DirectClientName {
			payload = make([]byte, req.Length)
			err = transfer.ReadDirect(struct {
				io.Reader
				io.Writer
			}{r, conn}, payload)
		} else {
			payload, err = transfer.ReadPayload(r)
		}
		if err != nil {
			n.log.Warn("transfer payload read failed", "error", err)
			return
		}
		id := block.ID(req.ID)
		meta := pipeline.BlockMeta{ID: id, GenerationStamp: req.GenerationStamp, Length: req.Length, Index: req.Index}
		if req.Policy != "" {
			p, perr := policy.Parse(req.Policy)
			if perr != nil {
				n.log.Warn("malformed policy in write request", "block", id, "error", perr)
				return
			}
			meta.Policy = p
		}
		switch {
		case frame.Op == transfer.OpWriteReplica:
			n.pool.SubmitReplica(meta, payload)
		case id.IsIndexed():
			n.pool.SubmitIndex(meta, payload, req.Replicas)
		default:
			n.pool.SubmitWrite(meta, payload, req.Replicas)
		}

	case transfer.OpReadBlock:
		var req readRequest
		if err := decodeReq(frame.Request, &req); err != nil {
			n.log.Warn("malformed read request", "error", err)
			return
		}
		id := block.ID(req.ID)
		buf := make([]byte, req.Length)
		var readErr error
		if id.IsIndexed() {
			handle, selectors, derr := id.DecodeIndexed()
			_ = handle
			if derr != nil {
				n.log.Warn("malformed sub-block read request", "error", derr)
				return
			}
			diskID, cerr := id.CanonicalDiskID()
			if cerr != nil {
				n.log.Warn("resolving canonical disk id failed", "error", cerr)
				return
			}
			readErr = n.store.ReadIndexed(diskID, selectors.Contains, int64(req.Offset), buf)
		} else {
			readErr = n.store.Read(id, int64(req.Offset), buf)
		}
		if readErr != nil {
			n.log.Warn("local read failed", "block", id, "error", readErr)
			return
		}
		if req.Client == transfer.DirectClientName {
			if err := transfer.WriteDirect(struct {
				io.Reader
				io.Writer
			}{r, conn}, buf); err != nil {
				n.log.Warn("direct read reply failed", "block", id, "error", err)
			}
			return
		}
		w := bufio.NewWriter(conn)
		_ = transfer.WritePayload(w, buf)
		_ = w.Flush()

	default:
		n.log.Warn("unknown transfer op", "op", frame.Op)
	}
}

// RunTickers starts the periodic block-report and heartbeat goroutines
// described in spec §5 ("a single periodic thread that ticks on three
// independent intervals: block report, heartbeat, and index report"). The
// index report itself is sent synchronously at the end of a successful
// INDEX stage (internal/pipeline's runIndex) rather than batched here,
// which satisfies the same "index report flows back to coordinator" data
// flow with lower staleness; IndexReportEvery is kept in config for a
// future batched-resend mode and is not ticked directly.
func (n *Node) RunTickers(stop <-chan struct{}) {
	go n.tick(n.cfg.HeartbeatEvery, stop, func() {
		if _, err := n.coord.Heartbeat(n.id, n.id, 0, 0); err != nil {
			n.log.Warn("heartbeat failed", "error", err)
		}
	})
	go n.tick(n.cfg.BlockReportEvery, stop, n.sendBlockReport)
}

// sendBlockReport scans local storage and reports every held block to the
// coordinator (spec §5 "pushes periodic block reports").
func (n *Node) sendBlockReport() {
	blocks, err := n.store.ListBlocks()
	if err != nil {
		n.log.Warn("block report scan failed", "error", err)
		return
	}
	for _, b := range blocks {
		if err := n.coord.BlockReport(b.ID, 0, b.Length, n.id, n.id); err != nil {
			n.log.Warn("block report failed", "block", b.ID, "error", err)
		}
	}
}

func (n *Node) tick(every time.Duration, stop <-chan struct{}, fn func()) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			fn()
		}
	}
}
