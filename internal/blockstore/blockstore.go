// Package blockstore is the storage-node's on-disk layout of spec §4.6:
// blk_<id> raw payload files and blk_<id>.meta length-delimited metadata
// records, plus the plain and indexed read paths. Metadata is encoded with
// ugorji/go/codec the way the teacher self-describes its genesis/chain
// config blobs, and decoded metadata is cached with hashicorp/golang-lru
// (from the teacher's require block) to avoid re-parsing a block's .meta
// file on every read.
package blockstore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	mmap "github.com/edsrzf/mmap-go"
	lru "github.com/hashicorp/golang-lru"
	"github.com/ugorji/go/codec"

	"github.com/spatialfs/spatialfs/internal/block"
	"github.com/spatialfs/spatialfs/internal/geohash"
	"github.com/spatialfs/spatialfs/internal/logging"
	"github.com/spatialfs/spatialfs/internal/metrics"
	"github.com/spatialfs/spatialfs/internal/recordindex"
)

var handle codec.CborHandle

var log = logging.New("component", "blockstore")

// Meta is the wire shape of a blk_<id>.meta record (spec §6 "Block metadata
// wire").
type Meta struct {
	BlockID uint64
	Length  uint64
	HasIdx  bool
	Index   recordindex.BlockIndex
}

// Store manages the data_directory of spec §4.6.
type Store struct {
	dir       string
	metaCache *lru.Cache // block.ID -> *Meta
}

// New returns a Store rooted at dir, with a decoded-metadata cache holding
// up to cacheSize entries.
func New(dir string, cacheSize int) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blockstore: creating data directory: %w", err)
	}
	c, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("blockstore: building metadata cache: %w", err)
	}
	return &Store{dir: dir, metaCache: c}, nil
}

func (s *Store) payloadPath(id block.ID) string {
	return filepath.Join(s.dir, fmt.Sprintf("blk_%s", id))
}

func (s *Store) metaPath(id block.ID) string {
	return filepath.Join(s.dir, fmt.Sprintf("blk_%s.meta", id))
}

// WriteBlock persists payload to blk_<id> and always writes blk_<id>.meta
// alongside it; idx is stored in the metadata record, flagged by hasIdx.
func (s *Store) WriteBlock(id block.ID, length uint64, payload []byte, hasIdx bool, idx recordindex.BlockIndex) error {
	if err := os.WriteFile(s.payloadPath(id), payload, 0o644); err != nil {
		return fmt.Errorf("blockstore: writing block payload: %w", err)
	}
	meta := Meta{BlockID: uint64(id), Length: length, HasIdx: hasIdx, Index: idx}
	f, err := os.Create(s.metaPath(id))
	if err != nil {
		return fmt.Errorf("blockstore: creating metadata file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := codec.NewEncoder(w, &handle)
	if err := enc.Encode(meta); err != nil {
		return fmt.Errorf("blockstore: encoding metadata: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("blockstore: flushing metadata: %w", err)
	}
	s.metaCache.Add(id, &meta)
	return nil
}

// Stat returns id's persisted length, for callers (the transfer surface's
// read-block op) that need to size a read buffer before calling Read.
func (s *Store) Stat(id block.ID) (uint64, error) {
	meta, err := s.loadMeta(id)
	if err != nil {
		return 0, err
	}
	return meta.Length, nil
}

// loadMeta returns id's decoded metadata, serving from cache when possible.
func (s *Store) loadMeta(id block.ID) (*Meta, error) {
	if v, ok := s.metaCache.Get(id); ok {
		return v.(*Meta), nil
	}
	f, err := os.Open(s.metaPath(id))
	if err != nil {
		return nil, fmt.Errorf("blockstore: opening metadata file: %w", err)
	}
	defer f.Close()

	var meta Meta
	dec := codec.NewDecoder(bufio.NewReader(f), &handle)
	if err := dec.Decode(&meta); err != nil {
		return nil, fmt.Errorf("blockstore: decoding metadata: %w", err)
	}
	s.metaCache.Add(id, &meta)
	return &meta, nil
}

// BlockSummary is one locally-held block's identity and length, as
// surfaced to the periodic block-report scan (spec §5 "pushes periodic
// block reports").
type BlockSummary struct {
	ID     block.ID
	Length uint64
}

// ListBlocks scans the data directory for persisted blk_<id> payload files
// and returns each one's id and length, for the storage node's periodic
// block report.
func (s *Store) ListBlocks() ([]BlockSummary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("blockstore: listing data directory: %w", err)
	}
	var out []BlockSummary
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "blk_") || strings.HasSuffix(name, ".meta") {
			continue
		}
		var raw uint64
		if _, err := fmt.Sscanf(name, "blk_%x", &raw); err != nil {
			continue
		}
		id := block.ID(raw)
		length, err := s.Stat(id)
		if err != nil {
			continue
		}
		out = append(out, BlockSummary{ID: id, Length: length})
	}
	return out, nil
}

// mapPayload memory-maps blk_<id> read-only. Blocks are write-once (spec
// §4.1: a block is written, optionally indexed, then never modified again),
// which makes the whole payload file safe to hand out as a stable mapping
// for the lifetime of one read call.
func (s *Store) mapPayload(id block.ID) (mmap.MMap, *os.File, error) {
	f, err := os.Open(s.payloadPath(id))
	if err != nil {
		return nil, nil, fmt.Errorf("blockstore: opening block payload: %w", err)
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("blockstore: mapping block payload: %w", err)
	}
	return m, f, nil
}

// Read implements spec §4.6's "Plain read": copy len(buf) bytes starting at
// offset out of blk_<id>'s memory-mapped payload.
func (s *Store) Read(id block.ID, offset int64, buf []byte) error {
	m, f, err := s.mapPayload(id)
	if err != nil {
		return err
	}
	defer f.Close()
	defer m.Unmap()

	if offset < 0 || offset+int64(len(buf)) > int64(len(m)) {
		return fmt.Errorf("blockstore: read range [%d,%d) out of bounds for %d-byte block", offset, offset+int64(len(buf)), len(m))
	}
	copy(buf, m[offset:offset+int64(len(buf))])
	metrics.BlockReads.WithLabelValues("plain").Inc()
	return nil
}

// candidateInterval is one reordered-payload byte range whose geohash
// selector is in the requested set.
type candidateInterval struct {
	start, end uint32
}

// ReadIndexed implements spec §4.6's "Indexed read": resolve the spatial
// table entries whose last-character selector is in selectors, concatenate
// their intervals in list order, skip `offset` logical bytes, then fill buf.
func (s *Store) ReadIndexed(id block.ID, selectors func(geohashLastChar byte) bool, offset int64, buf []byte) error {
	meta, err := s.loadMeta(id)
	if err != nil {
		return err
	}

	var candidates []candidateInterval
	for _, e := range meta.Index.Spatial {
		sel, err := geohash.LastCharSelector(e.Geohash)
		if err != nil {
			// Skip, matching the coordinator's rewrite: a tuple the rewrite
			// could not decode was never counted toward the advertised
			// sub-block length, so the read must not serve it either.
			log.Warn("skipping spatial tuple with undecodable last character", "block", id, "geohash", e.Geohash, "error", err)
			continue
		}
		if selectors(sel) {
			candidates = append(candidates, candidateInterval{start: e.Start, end: e.End})
		}
	}

	m, f, err := s.mapPayload(id)
	if err != nil {
		return err
	}
	defer f.Close()
	defer m.Unmap()

	remaining := buf
	skip := offset
	for _, iv := range candidates {
		length := int64(iv.end - iv.start)
		if skip >= length {
			skip -= length
			continue
		}
		start := int64(iv.start) + skip
		skip = 0
		toRead := length - (start - int64(iv.start))
		if toRead > int64(len(remaining)) {
			toRead = int64(len(remaining))
		}
		if toRead <= 0 {
			break
		}
		if start+toRead > int64(len(m)) {
			return fmt.Errorf("blockstore: indexed interval [%d,%d) out of bounds for %d-byte block", start, start+toRead, len(m))
		}
		n := copy(remaining[:toRead], m[start:start+toRead])
		remaining = remaining[n:]
		if len(remaining) == 0 {
			break
		}
	}
	if len(remaining) != 0 {
		return fmt.Errorf("blockstore: indexed read ran out of candidate bytes, %d bytes short", len(remaining))
	}
	metrics.BlockReads.WithLabelValues("indexed").Inc()
	return nil
}
