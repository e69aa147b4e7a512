// Package radix is the coordinator's spatial index of spec §4.3: a
// byte-keyed PATRICIA trie over geohash prefixes, mapping each stored
// prefix to the set of BlockIds whose spatial table carries it. Modeled on
// the teacher's trie package (trie/trie_from_witness.go assembles
// shortNode/fullNode trees keyed by byte-prefix runs, splitting an edge
// where keys diverge); this version branches per-byte directly on geohash
// characters instead of on keccak-derived keys.
package radix

import (
	"sort"
	"sync"

	"github.com/spatialfs/spatialfs/internal/block"
)

type node struct {
	prefix   string // the bytes this node's edge carries beyond its parent's
	children map[byte]*node
	blocks   map[block.ID]struct{} // non-nil only for nodes that are themselves a stored key
}

func newNode(prefix string) *node {
	return &node{prefix: prefix, children: make(map[byte]*node)}
}

// Trie is a concurrency-safe radix trie from geohash-prefix strings to the
// set of block IDs that own that prefix.
type Trie struct {
	mu   sync.RWMutex
	root *node
}

// New returns an empty Trie.
func New() *Trie {
	return &Trie{root: newNode("")}
}

// Insert records that id owns geohash prefix key.
func (t *Trie) Insert(key string, id block.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.descend(key, true)
	if n.blocks == nil {
		n.blocks = make(map[block.ID]struct{})
	}
	n.blocks[id] = struct{}{}
}

// Remove drops id from key's block set. The node itself stays in the trie
// even when it becomes both block-less and childless.
func (t *Trie) Remove(key string, id block.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.descend(key, false)
	if n == nil || n.blocks == nil {
		return
	}
	delete(n.blocks, id)
}

// Get returns the block IDs stored under the exact key, or nil if key has
// no entry.
func (t *Trie) Get(key string) []block.ID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := t.descend(key, false)
	if n == nil {
		return nil
	}
	return idSlice(n.blocks)
}

// GetDescendants returns the block IDs stored at key or at any longer key
// sharing key as a prefix (spec §4.3 "get_descendants"): a spatial query
// for prefix "9q8y" must also match blocks indexed under "9q8yz".
func (t *Trie) GetDescendants(key string) []block.ID {
	t.mu.RLock()
	defer t.mu.RUnlock()

	cur := t.root
	remaining := key
	for remaining != "" {
		child, ok := cur.children[remaining[0]]
		if !ok {
			return nil
		}
		if len(child.prefix) <= len(remaining) {
			if remaining[:len(child.prefix)] != child.prefix {
				return nil
			}
			remaining = remaining[len(child.prefix):]
			cur = child
			continue
		}
		// child.prefix is longer than what's left of the query key: the
		// query key is itself a prefix of this edge, so everything under
		// child matches.
		if child.prefix[:len(remaining)] != remaining {
			return nil
		}
		cur = child
		remaining = ""
	}

	var out []block.ID
	collect(cur, &out)
	return out
}

func collect(n *node, out *[]block.ID) {
	for id := range n.blocks {
		*out = append(*out, id)
	}
	keys := make([]byte, 0, len(n.children))
	for b := range n.children {
		keys = append(keys, b)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, b := range keys {
		collect(n.children[b], out)
	}
}

// descend walks (and, if create is true, builds) the path for key,
// returning the node whose accumulated prefix equals key exactly.
func (t *Trie) descend(key string, create bool) *node {
	cur := t.root
	remaining := key
	for remaining != "" {
		child, ok := cur.children[remaining[0]]
		if !ok {
			if !create {
				return nil
			}
			leaf := newNode(remaining)
			cur.children[remaining[0]] = leaf
			return leaf
		}

		common := commonPrefixLen(child.prefix, remaining)
		switch {
		case common == len(child.prefix):
			cur = child
			remaining = remaining[common:]
		case create:
			// Split child's edge at the divergence point.
			split := newNode(child.prefix[:common])
			child.prefix = child.prefix[common:]
			split.children[child.prefix[0]] = child
			cur.children[remaining[0]] = split
			cur = split
			remaining = remaining[common:]
		default:
			return nil
		}
	}
	return cur
}

func commonPrefixLen(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

func idSlice(m map[block.ID]struct{}) []block.ID {
	if len(m) == 0 {
		return nil
	}
	out := make([]block.ID, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	return out
}
