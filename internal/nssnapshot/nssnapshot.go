// Package nssnapshot implements inodePersist's on-disk format (spec §6
// "Namespace snapshot"): a self-describing length-prefixed serialization of
// the inode map, the children map, and the parents map, written with
// ugorji/go/codec the same way internal/blockstore encodes block metadata.
package nssnapshot

import (
	"bufio"
	"fmt"
	"os"
	"time"

	"github.com/ugorji/go/codec"

	"github.com/spatialfs/spatialfs/internal/namespace"
)

var handle codec.CborHandle

// wireInode is the serializable projection of namespace.Inode.
type wireInode struct {
	ID            uint64
	Name          string
	Type          int
	Owner         string
	Group         string
	Permissions   uint32
	StoragePolicy string
	Blocks        []uint64
	Replication   uint32
	BlockSize     uint64
	Complete      bool
}

// snapshot is the full on-disk record.
type snapshot struct {
	Inodes   []wireInode
	Children map[uint64][]uint64
	Parents  map[uint64]uint64
}

// Save writes tr's full state to path (spec §6: written by inodePersist).
func Save(path string, tr *namespace.Tree) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("nssnapshot: creating snapshot file: %w", err)
	}
	defer f.Close()

	snap := snapshot{Children: make(map[uint64][]uint64), Parents: make(map[uint64]uint64)}
	tr.Walk(func(n *namespace.Inode, children []uint64, parent uint64, hasParent bool) {
		snap.Inodes = append(snap.Inodes, wireInode{
			ID:            n.ID,
			Name:          n.Name,
			Type:          int(n.Type),
			Owner:         n.Owner,
			Group:         n.Group,
			Permissions:   n.Permissions,
			StoragePolicy: n.StoragePolicy,
			Blocks:        n.Blocks,
			Replication:   n.Replication,
			BlockSize:     n.BlockSize,
			Complete:      n.Complete,
		})
		snap.Children[n.ID] = children
		if hasParent {
			snap.Parents[n.ID] = parent
		}
	})

	w := bufio.NewWriter(f)
	enc := codec.NewEncoder(w, &handle)
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("nssnapshot: encoding snapshot: %w", err)
	}
	return w.Flush()
}

// Load reads a snapshot written by Save and rebuilds a Tree from it. If
// path does not exist, Load returns (nil, false, nil) so the caller falls
// back to a fresh tree (spec §6: "otherwise a fresh tree is created with
// root inode 2").
func Load(path string, leaseTimeout time.Duration) (*namespace.Tree, bool, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("nssnapshot: opening snapshot file: %w", err)
	}
	defer f.Close()

	var snap snapshot
	dec := codec.NewDecoder(bufio.NewReader(f), &handle)
	if err := dec.Decode(&snap); err != nil {
		return nil, false, fmt.Errorf("nssnapshot: decoding snapshot: %w", err)
	}

	nodes := make([]namespace.RestoreInode, 0, len(snap.Inodes))
	for _, wi := range snap.Inodes {
		nodes = append(nodes, namespace.RestoreInode{
			Inode: namespace.Inode{
				ID:            wi.ID,
				Name:          wi.Name,
				Type:          namespace.FileType(wi.Type),
				Owner:         wi.Owner,
				Group:         wi.Group,
				Permissions:   wi.Permissions,
				StoragePolicy: wi.StoragePolicy,
				Blocks:        wi.Blocks,
				Replication:   wi.Replication,
				BlockSize:     wi.BlockSize,
				Complete:      wi.Complete,
			},
			Children:  snap.Children[wi.ID],
			Parent:    snap.Parents[wi.ID],
			HasParent: func() bool { _, ok := snap.Parents[wi.ID]; return ok }(),
		})
	}

	tr := namespace.Restore(nodes, int64(leaseTimeout))
	return tr, true, nil
}
