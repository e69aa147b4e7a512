// Package recordindex is the indexing engine of spec §4.2: it parses a
// block's delimited records, computes a geohash (and, for CsvPoint, a
// timestamp) per record, coalesces consecutive same-geohash records into
// runs, reorders the payload by sorted geohash, and emits the BlockIndex
// spatial/temporal tables the coordinator stores.
package recordindex

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/spatialfs/spatialfs/internal/geohash"
	"github.com/spatialfs/spatialfs/internal/logging"
	"github.com/spatialfs/spatialfs/internal/policy"
)

var log = logging.New("component", "recordindex")

// SpatialEntry is one row of a BlockIndex's spatial table: a geohash prefix
// and the byte interval of the reordered payload it owns.
type SpatialEntry struct {
	Geohash string
	Start   uint32
	End     uint32
}

// BlockIndex is the metadata record emitted for an indexed block (spec §4.2
// Output, §6 wire shape).
type BlockIndex struct {
	Spatial []SpatialEntry
	HasTime bool
	MinTS   uint64
	MaxTS   uint64
}

type interval struct {
	start, end int
}

// Index parses payload under policy p, groups records by geohash with
// run-length continuity, and returns the reordered payload plus its
// BlockIndex. Per-record and per-block parse failures are warned and
// skipped, never fatal (spec §7 "Malformed input").
func Index(payload []byte, p policy.Policy) ([]byte, BlockIndex, error) {
	lines := splitRecords(payload)
	if len(lines) <= 1 {
		return append([]byte(nil), payload...), BlockIndex{}, nil
	}
	_, dataLines := lines[0], lines[1:]

	delim := p.Delimiter()
	var baseFieldCount = -1

	// geohash -> ordered list of contiguous byte runs in the *original* payload.
	order := make([]string, 0)
	runs := make(map[string][]interval)

	var runningGeohash string
	haveRunning := false
	runningStart := 0

	hasTemporal := policy.HasTemporal(p)
	var minTS, maxTS uint64
	sawTimestamp := false

	closeRun := func(gh string, end int) {
		if _, ok := runs[gh]; !ok {
			order = append(order, gh)
		}
		runs[gh] = append(runs[gh], interval{start: runningStart, end: end})
	}

	for _, rec := range dataLines {
		fields := bytes.Split(rec.data, []byte{delim})
		if baseFieldCount == -1 {
			baseFieldCount = len(fields)
		} else if len(fields) != baseFieldCount {
			log.Warn("record field count mismatch, skipping", "got", len(fields), "want", baseFieldCount)
			if haveRunning {
				closeRun(runningGeohash, rec.start)
				haveRunning = false
			}
			continue
		}

		gh, ts, ok, err := computeGeohashAndTimestamp(p, fields)
		if err != nil || !ok {
			if err != nil {
				log.Warn("record parse failed, skipping", "error", err)
			} else {
				log.Warn("record produced no usable geohash, skipping")
			}
			// A skipped record's bytes belong to no geohash group; close
			// whatever run was open so its bytes are not folded into a
			// neighboring group's interval.
			if haveRunning {
				closeRun(runningGeohash, rec.start)
				haveRunning = false
			}
			continue
		}
		if hasTemporal {
			if !sawTimestamp {
				minTS, maxTS = ts, ts
				sawTimestamp = true
			} else {
				if ts < minTS {
					minTS = ts
				}
				if ts > maxTS {
					maxTS = ts
				}
			}
		}

		if haveRunning && gh == runningGeohash {
			continue // still inside the current run; end extends implicitly below
		}
		if haveRunning {
			closeRun(runningGeohash, rec.start)
		}
		runningGeohash = gh
		runningStart = rec.start
		haveRunning = true
	}
	if haveRunning {
		closeRun(runningGeohash, len(payload))
	}

	if len(order) == 0 {
		// No record yielded a usable geohash: spatial table is empty, block
		// is effectively unindexed at query time (spec §4.2 Failure semantics).
		return append([]byte(nil), payload...), BlockIndex{HasTime: hasTemporal && sawTimestamp, MinTS: minTS, MaxTS: maxTS}, nil
	}

	sorted := append([]string(nil), order...)
	sort.Strings(sorted)

	reordered := make([]byte, 0, len(payload))
	perKey := make([]SpatialEntry, 0, len(sorted))
	for _, gh := range sorted {
		start := len(reordered)
		for _, iv := range runs[gh] {
			reordered = append(reordered, payload[iv.start:iv.end]...)
		}
		perKey = append(perKey, SpatialEntry{Geohash: gh, Start: uint32(start), End: uint32(len(reordered))})
	}

	spatial := compactPrefixes(perKey)

	return reordered, BlockIndex{
		Spatial: spatial,
		HasTime: hasTemporal && sawTimestamp,
		MinTS:   minTS,
		MaxTS:   maxTS,
	}, nil
}

// compactPrefixes implements spec §4.2 "Prefix compaction": compute
// match_len (longest common prefix across all stored geohashes) and max_len
// (longest geohash length), then group adjacent (sorted) keys under their
// shared prefix_len = min(match_len+1, max_len) prefix.
func compactPrefixes(perKey []SpatialEntry) []SpatialEntry {
	if len(perKey) == 0 {
		return nil
	}
	keys := make([]string, len(perKey))
	maxLen := 0
	for i, e := range perKey {
		keys[i] = e.Geohash
		if len(e.Geohash) > maxLen {
			maxLen = len(e.Geohash)
		}
	}
	matchLen := geohash.CommonPrefixLen(keys...)
	prefixLen := matchLen + 1
	if prefixLen > maxLen {
		prefixLen = maxLen
	}

	out := make([]SpatialEntry, 0, len(perKey))
	for _, e := range perKey {
		pl := prefixLen
		if pl > len(e.Geohash) {
			pl = len(e.Geohash)
		}
		prefix := e.Geohash[:pl]
		if n := len(out); n > 0 && out[n-1].Geohash == prefix {
			out[n-1].End = e.End
			continue
		}
		out = append(out, SpatialEntry{Geohash: prefix, Start: e.Start, End: e.End})
	}
	return out
}

type record struct {
	start, end int
	data       []byte
}

// splitRecords splits payload on 0x0A, returning each record's byte range in
// the original payload (the delimiter itself is excluded from data and from
// the range, matching how run intervals are later computed from rec.start).
func splitRecords(payload []byte) []record {
	var out []record
	start := 0
	for i, b := range payload {
		if b == '\n' {
			out = append(out, record{start: start, end: i, data: payload[start:i]})
			start = i + 1
		}
	}
	if start < len(payload) {
		out = append(out, record{start: start, end: len(payload), data: payload[start:]})
	}
	return out
}

// computeGeohashAndTimestamp dispatches to the policy's spatial (and,
// if applicable, temporal) format, per spec §4.2.
func computeGeohashAndTimestamp(p policy.Policy, fields [][]byte) (gh string, ts uint64, ok bool, err error) {
	switch v := p.(type) {
	case policy.CsvPoint:
		if v.LatitudeIndex >= len(fields) || v.LongitudeIndex >= len(fields) || v.TimestampIndex >= len(fields) {
			return "", 0, false, fmt.Errorf("recordindex: field index out of range")
		}
		lat, err := strconv.ParseFloat(string(fields[v.LatitudeIndex]), 64)
		if err != nil {
			return "", 0, false, fmt.Errorf("recordindex: parsing latitude: %w", err)
		}
		lon, err := strconv.ParseFloat(string(fields[v.LongitudeIndex]), 64)
		if err != nil {
			return "", 0, false, fmt.Errorf("recordindex: parsing longitude: %w", err)
		}
		tsFloat, err := strconv.ParseFloat(string(fields[v.TimestampIndex]), 64)
		if err != nil {
			return "", 0, false, fmt.Errorf("recordindex: parsing timestamp: %w", err)
		}
		return geohash.Encode(lat, lon, geohash.DefaultPrecision), uint64(math.Round(tsFloat)), true, nil

	case policy.Wkt:
		if v.SpatialIndex >= len(fields) {
			return "", 0, false, fmt.Errorf("recordindex: field index out of range")
		}
		pts := parseWKTPairs(string(fields[v.SpatialIndex]))
		minLat, minLon, maxLat, maxLon, ok := boundingBox(pts)
		if !ok {
			return "", 0, false, nil
		}
		corners := []string{
			geohash.Encode(minLat, minLon, geohash.DefaultPrecision),
			geohash.Encode(minLat, maxLon, geohash.DefaultPrecision),
			geohash.Encode(maxLat, minLon, geohash.DefaultPrecision),
			geohash.Encode(maxLat, maxLon, geohash.DefaultPrecision),
		}
		n := geohash.CommonPrefixLen(corners...)
		if n == 0 {
			return "", 0, false, nil
		}
		return corners[0][:n], 0, true, nil

	default:
		return "", 0, false, fmt.Errorf("recordindex: unsupported policy kind %T", p)
	}
}
