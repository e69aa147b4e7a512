// Package policy implements the StoragePolicy tagged union (spec §6):
// "Kind(key:value, key:value, ...)" strings parsed into CsvPoint or Wkt
// variants, each naming the record-format fields the indexing engine needs.
// Matches the teacher's convention of closed sum types dispatched by a type
// switch (see spec §9 "Tagged unions for policy and format").
package policy

import (
	"fmt"
	"strconv"
	"strings"
)

// Policy is the closed sum StoragePolicy{CsvPoint, Wkt}.
type Policy interface {
	// Kind returns the policy's registered name, e.g. "CsvPoint".
	Kind() string
	// Delimiter is the field separator byte for this record format (spec §4.2).
	Delimiter() byte
	// String renders the canonical "Kind(key:value, ...)" form.
	String() string
}

// CsvPoint is the delimited lat/lon/timestamp point format (comma-delimited).
type CsvPoint struct {
	LatitudeIndex  int
	LongitudeIndex int
	TimestampIndex int
}

func (CsvPoint) Kind() string    { return "CsvPoint" }
func (CsvPoint) Delimiter() byte { return ',' }
func (c CsvPoint) String() string {
	return fmt.Sprintf("CsvPoint(timestamp_index:%d, latitude_index:%d, longitude_index:%d)",
		c.TimestampIndex, c.LatitudeIndex, c.LongitudeIndex)
}

// Wkt is the tab-delimited WKT polygon/multipoint format.
type Wkt struct {
	SpatialIndex int
}

func (Wkt) Kind() string    { return "Wkt" }
func (Wkt) Delimiter() byte { return '\t' }
func (w Wkt) String() string {
	return fmt.Sprintf("Wkt(spatial_index:%d)", w.SpatialIndex)
}

// HasTemporal reports whether the policy's temporal format is not None
// (spec §3 invariant: "a block's (min-ts, max-ts) is present iff its
// policy's temporal format is not None").
func HasTemporal(p Policy) bool {
	_, ok := p.(CsvPoint)
	return ok
}

// Parse decodes a "Kind(key:value, key:value, ...)" string (spec §6).
func Parse(s string) (Policy, error) {
	s = strings.TrimSpace(s)
	open := strings.IndexByte(s, '(')
	if open < 0 || !strings.HasSuffix(s, ")") {
		return nil, fmt.Errorf("policy: malformed storage policy string %q", s)
	}
	kind := s[:open]
	body := s[open+1 : len(s)-1]

	kv := map[string]int{}
	if strings.TrimSpace(body) != "" {
		for _, pair := range strings.Split(body, ",") {
			parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
			if len(parts) != 2 {
				return nil, fmt.Errorf("policy: malformed key:value pair %q", pair)
			}
			key := strings.TrimSpace(parts[0])
			val, err := strconv.Atoi(strings.TrimSpace(parts[1]))
			if err != nil {
				return nil, fmt.Errorf("policy: value for %q is not an integer: %w", key, err)
			}
			kv[key] = val
		}
	}

	switch kind {
	case "CsvPoint":
		lat, ok1 := kv["latitude_index"]
		lon, ok2 := kv["longitude_index"]
		ts, ok3 := kv["timestamp_index"]
		if !ok1 || !ok2 || !ok3 {
			return nil, fmt.Errorf("policy: CsvPoint requires timestamp_index, latitude_index, longitude_index")
		}
		return CsvPoint{LatitudeIndex: lat, LongitudeIndex: lon, TimestampIndex: ts}, nil
	case "Wkt":
		idx, ok := kv["spatial_index"]
		if !ok {
			return nil, fmt.Errorf("policy: Wkt requires spatial_index")
		}
		return Wkt{SpatialIndex: idx}, nil
	default:
		return nil, fmt.Errorf("policy: unrecognized storage policy kind %q", kind)
	}
}

// RequiredFieldCount returns the minimum number of fields a record must
// carry for p: the highest field index the policy reads, plus one. The
// indexing engine does not call it; it checks each record's field count
// against the first data record's instead (spec §4.2).
func RequiredFieldCount(p Policy) int {
	switch v := p.(type) {
	case CsvPoint:
		max := v.LatitudeIndex
		for _, i := range []int{v.LongitudeIndex, v.TimestampIndex} {
			if i > max {
				max = i
			}
		}
		return max + 1
	case Wkt:
		return v.SpatialIndex + 1
	default:
		return 0
	}
}
