// Package coordinator wires the coordinator's stores into the RPC method
// set of spec §6: client-facing (create, addBlock, complete,
// getBlockLocations, getFileInfo, getServerDefaults, mkdirs, renewLease,
// setStoragePolicy), storage-facing (registerDatanode, heartbeat,
// blockReport, indexReport, getIndexReplicas, getStoragePolicy), and
// administrative (indexView, inodePersist).
package coordinator

import (
	"fmt"
	"time"

	"github.com/spatialfs/spatialfs/internal/block"
	"github.com/spatialfs/spatialfs/internal/config"
	"github.com/spatialfs/spatialfs/internal/coordstore"
	"github.com/spatialfs/spatialfs/internal/datanodestore"
	"github.com/spatialfs/spatialfs/internal/errs"
	"github.com/spatialfs/spatialfs/internal/logging"
	"github.com/spatialfs/spatialfs/internal/namespace"
	"github.com/spatialfs/spatialfs/internal/nssnapshot"
	"github.com/spatialfs/spatialfs/internal/placement"
	"github.com/spatialfs/spatialfs/internal/policy"
	"github.com/spatialfs/spatialfs/internal/query"
	"github.com/spatialfs/spatialfs/internal/recordindex"
)

// LocatedBlock pairs a rewritten sub-block descriptor with its replica set
// (spec §4.3 "LocatedBlocks ... attaching each descriptor to its block's
// replica set").
type LocatedBlock struct {
	BlockID  block.ID
	Length   uint64
	Replicas []string
}

// Coordinator holds every coordinator-side store and serves its RPC methods.
type Coordinator struct {
	cfg      config.Coordinator
	log      logging.Logger
	ns       *namespace.Tree
	blocks   *coordstore.BlockStore
	spatial  *coordstore.SpatialIndex
	temporal *coordstore.TemporalMap
	nodes    *datanodestore.Store
}

// New builds a Coordinator, loading a namespace snapshot from
// cfg.SnapshotPath if one exists (spec §6: "on startup, if the path
// exists, it is read; otherwise a fresh tree is created with root inode 2").
func New(cfg config.Coordinator) (*Coordinator, error) {
	var ns *namespace.Tree
	if cfg.SnapshotPath != "" {
		loaded, found, err := nssnapshot.Load(cfg.SnapshotPath, cfg.LeaseTTL)
		if err != nil {
			return nil, fmt.Errorf("coordinator: loading namespace snapshot: %w", err)
		}
		if found {
			ns = loaded
		}
	}
	if ns == nil {
		ns = namespace.New(cfg.LeaseTTL)
	}

	return &Coordinator{
		cfg:      cfg,
		log:      logging.New("component", "coordinator"),
		ns:       ns,
		blocks:   coordstore.NewBlockStore(),
		spatial:  coordstore.NewSpatialIndex(),
		temporal: coordstore.NewTemporalMap(),
		nodes:    datanodestore.New(cfg.StaleAfter, cfg.HeartbeatRingLen),
	}, nil
}

// GetServerDefaults returns the process-wide defaults advertised to
// clients (spec §6 "getServerDefaults").
func (c *Coordinator) GetServerDefaults() config.ServerDefaults {
	return c.cfg.Defaults
}

// Mkdirs creates a directory, per spec's external mkdirs method.
func (c *Coordinator) Mkdirs(path string, createParent bool) error {
	return c.ns.Mkdirs(path, createParent)
}

// Create opens a new file for writing.
func (c *Coordinator) Create(path string, replication uint32, blockSize uint64, storagePolicy string) (*namespace.Inode, error) {
	return c.ns.Create(path, replication, blockSize, storagePolicy)
}

// Rename moves a file or directory, per spec's external rename method.
func (c *Coordinator) Rename(src, dst string) error {
	return c.ns.Rename(src, dst)
}

// SetStoragePolicy sets a path's own storage-policy string.
func (c *Coordinator) SetStoragePolicy(path, policyStr string) error {
	return c.ns.SetStoragePolicy(path, policyStr)
}

// GetStoragePolicy resolves the effective (inherited) storage policy for a
// path - the storage-facing counterpart of SetStoragePolicy (spec §6
// "getStoragePolicy").
func (c *Coordinator) GetStoragePolicy(path string) (policy.Policy, bool, error) {
	return c.ns.EffectivePolicy(path)
}

// RenewLease extends an open file's write lease.
func (c *Coordinator) RenewLease(inode uint64) bool {
	return c.ns.RenewLease(inode)
}

// Complete closes a file for further appends. A lapsed lease is logged but
// not enforced; lease recovery is out of scope.
func (c *Coordinator) Complete(path string) error {
	if f, ok := c.ns.GetFile(path); ok && !c.ns.LeaseValid(f.ID, time.Now()) {
		c.log.Warn("complete on file without an active lease", "path", path)
	}
	return c.ns.Complete(path)
}

// AddBlockResult is what addBlock hands back to the writing client.
type AddBlockResult struct {
	BlockID  block.ID
	Replicas []string
}

// AddBlock allocates a new block for path, chooses replicas by the
// appropriate placement strategy (spec §4.4), and records it on the file.
func (c *Coordinator) AddBlock(path string, selfID string, indexed bool) (AddBlockResult, error) {
	f, ok := c.ns.GetFile(path)
	if !ok {
		return AddBlockResult{}, errs.New(errs.NotFound, "coordinator.AddBlock", fmt.Errorf("unknown file %q", path))
	}
	if !c.ns.LeaseValid(f.ID, time.Now()) {
		c.log.Warn("addBlock on file without an active lease", "path", path)
	}

	var id block.ID
	var err error
	if indexed {
		id, err = block.NewIndexed()
	} else {
		id, err = block.NewRandom()
	}
	if err != nil {
		return AddBlockResult{}, err
	}
	// A freshly allocated block has no index yet: most-affinity slot has
	// nothing to match against, so every addBlock - indexed or not - falls
	// back to uniform placement until the first indexReport arrives and
	// real replica choices can use affinity (spec §4.4 applies to
	// steady-state ingest, not the very first block of a file).
	replicaIDs := placement.UniformRandomReplicas(c.nodes, int(f.Replication))

	if _, err := c.ns.AddBlock(path, uint64(id)); err != nil {
		return AddBlockResult{}, err
	}
	return AddBlockResult{BlockID: id, Replicas: c.nodes.Addresses(replicaIDs)}, nil
}

// GetIndexReplicas implements the storage-facing RPC of the same name
// (spec §4.4), used by a storage node's TRANSFER stage once a block has
// been indexed.
func (c *Coordinator) GetIndexReplicas(selfID string, desiredCount int, idx recordindex.BlockIndex) []string {
	ids := placement.GetIndexReplicas(selfID, desiredCount, idx, c.nodes, c.blocks, c.spatial)
	return c.nodes.Addresses(ids)
}

// BlockReport records that nodeID/storageID hold a replica of id.
func (c *Coordinator) BlockReport(id block.ID, gs, length uint64, nodeID, storageID string) {
	c.blocks.Update(id, gs, length, nodeID, storageID)
}

// IndexReport applies a completed BlockIndex to the spatial and temporal
// stores (spec §4.3 "Reports").
func (c *Coordinator) IndexReport(id block.ID, idx recordindex.BlockIndex) {
	c.spatial.ReportIndex(id, idx)
	if idx.HasTime {
		c.temporal.UpdateTemporal(id, idx.MinTS, idx.MaxTS)
	}
}

// RegisterDatanode admits a new storage node and returns its assigned ID.
func (c *Coordinator) RegisterDatanode(address string) string {
	return c.nodes.Register(address)
}

// Heartbeat records one state sample for nodeID/storageID.
func (c *Coordinator) Heartbeat(nodeID, storageID string, capacity, used uint64) bool {
	return c.nodes.Heartbeat(nodeID, storageID, time.Now(), capacity, used)
}

// GetBlockLocations rewrites path's block list against a query string and
// returns each surviving sub-block's descriptor plus replica set (spec
// §4.3 "Query evaluation (block level)" and "LocatedBlocks"). The path may
// carry the query embedded as "<path>+<query>" (spec §6 path-with-query
// syntax); an embedded query is used when queryString itself is empty.
func (c *Coordinator) GetBlockLocations(path, queryString string) ([]LocatedBlock, uint64, error) {
	path, embedded, err := query.SplitPath(path)
	if err != nil {
		return nil, 0, err
	}
	if queryString == "" {
		queryString = embedded
	}

	f, ok := c.ns.GetFile(path)
	if !ok {
		return nil, 0, errs.New(errs.NotFound, "coordinator.GetBlockLocations", fmt.Errorf("unknown file %q", path))
	}
	q, err := query.Parse(queryString)
	if err != nil {
		return nil, 0, err
	}

	var out []LocatedBlock
	var fileLength uint64
	for _, rawID := range f.Blocks {
		id := block.ID(rawID)
		desc, err := query.EvaluateBlock(q, id, c.temporal, c.spatial)
		if err != nil {
			return nil, 0, err
		}
		if desc.Dropped {
			continue
		}
		meta, _ := c.blocks.Get(id)
		length := desc.Length
		if length == 0 {
			length = meta.Length
		}
		out = append(out, LocatedBlock{BlockID: desc.BlockID, Length: length, Replicas: c.nodes.Addresses(meta.StorageNodeIDs)})
		fileLength += length
	}
	return out, fileLength, nil
}

// GetFileInfo returns path's Inode, or (nil, false) if it does not exist.
// A "+query" suffix is stripped before resolution (spec §6: "a file's
// resolution ignores the query").
func (c *Coordinator) GetFileInfo(path string) (*namespace.Inode, bool) {
	path, _, err := query.SplitPath(path)
	if err != nil {
		return nil, false
	}
	return c.ns.GetFile(path)
}

// GetListing lists a directory's immediate children, ignoring any "+query"
// suffix the same way GetFileInfo does.
func (c *Coordinator) GetListing(path string) ([]*namespace.Inode, bool) {
	path, _, err := query.SplitPath(path)
	if err != nil {
		return nil, false
	}
	f, ok := c.ns.GetFile(path)
	if !ok {
		if path == "/" || path == "" {
			return c.ns.GetChildren(namespace.RootInode)
		}
		return nil, false
	}
	return c.ns.GetChildren(f.ID)
}

// IndexViewEntry is one block's dump in the indexView administrative RPC.
type IndexViewEntry struct {
	BlockID block.ID
	Spatial []coordstore.GeohashEntry
	MinTS   uint64
	MaxTS   uint64
	HasTime bool
}

// IndexView dumps the spatial and temporal map entries of each block in ids
// (spec §6: "indexView (dumps the spatial + temporal maps)"). A block with
// no index entries still yields an entry, with an empty spatial list and
// HasTime false.
func (c *Coordinator) IndexView(ids []block.ID) []IndexViewEntry {
	out := make([]IndexViewEntry, 0, len(ids))
	for _, id := range ids {
		entries := c.spatial.EntriesFor(id)
		min, max, hasTime := c.temporal.Get(id)
		out = append(out, IndexViewEntry{BlockID: id, Spatial: entries, MinTS: min, MaxTS: max, HasTime: hasTime})
	}
	return out
}

// InodePersist writes the namespace snapshot to cfg.SnapshotPath (spec §6
// "inodePersist (writes the namespace snapshot to a configured path)").
func (c *Coordinator) InodePersist() error {
	if c.cfg.SnapshotPath == "" {
		return fmt.Errorf("coordinator: no snapshot path configured")
	}
	return nssnapshot.Save(c.cfg.SnapshotPath, c.ns)
}
