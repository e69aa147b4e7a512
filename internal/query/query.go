// Package query implements the spatiotemporal query language of spec §4.3:
// a conjunction of `<field><op><value>` expressions joined by `&`, and the
// block-level rewrite that turns surviving (geohash, length) entries into a
// sub-block descriptor. Grounded on the teacher's log-filter shape in
// cmd/rpcdaemon/commands/get_receipts.go (a Filter narrows candidates
// predicate-by-predicate) adapted to this language's much smaller grammar.
package query

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/spatialfs/spatialfs/internal/block"
	"github.com/spatialfs/spatialfs/internal/coordstore"
	"github.com/spatialfs/spatialfs/internal/errs"
	"github.com/spatialfs/spatialfs/internal/geohash"
	"github.com/spatialfs/spatialfs/internal/geoselect"
	"github.com/spatialfs/spatialfs/internal/logging"
)

var log = logging.New("component", "query")

// shapeRE validates the overall string shape before per-expression parsing:
// one or more `field<op>value` terms joined by `&`, no surrounding junk.
var shapeRE = regexp.MustCompile(`^[A-Za-z0-9_.:\-]+(<=|>=|!=|=|<|>)[A-Za-z0-9_.:\-]+(&[A-Za-z0-9_.:\-]+(<=|>=|!=|=|<|>)[A-Za-z0-9_.:\-]+)*$`)

// TemporalOp is one of the four supported temporal comparisons.
type TemporalOp int

const (
	OpLess TemporalOp = iota
	OpLessEq
	OpGreater
	OpGreaterEq
)

// SpatialPred is a single spatial expression: geohash equals-or-prefixes
// (or its negation) value.
type SpatialPred struct {
	Value  string
	Negate bool
}

// TemporalPred is a single temporal expression.
type TemporalPred struct {
	Op    TemporalOp
	Value uint64
}

// Query is the parsed conjunction of predicates.
type Query struct {
	Spatial  []SpatialPred
	Temporal []TemporalPred
}

// HasSpatial reports whether q carries at least one spatial predicate.
func (q Query) HasSpatial() bool { return len(q.Spatial) > 0 }

// HasTemporal reports whether q carries at least one temporal predicate.
func (q Query) HasTemporal() bool { return len(q.Temporal) > 0 }

// Parse validates and parses a query-language string. An empty string is a
// valid query with no predicates (matches everything).
func Parse(s string) (Query, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Query{}, nil
	}
	if !shapeRE.MatchString(s) {
		return Query{}, errs.New(errs.Malformed, "query.Parse", fmt.Errorf("malformed query string %q", s))
	}

	var q Query
	for _, term := range strings.Split(s, "&") {
		field, op, value, err := splitTerm(term)
		if err != nil {
			return Query{}, errs.New(errs.Malformed, "query.Parse", err)
		}
		switch field {
		case "geohash", "g":
			switch op {
			case "=":
				q.Spatial = append(q.Spatial, SpatialPred{Value: value, Negate: false})
			case "!=":
				q.Spatial = append(q.Spatial, SpatialPred{Value: value, Negate: true})
			default:
				return Query{}, errs.New(errs.Malformed, "query.Parse", fmt.Errorf("query: unsupported operator %q for spatial field", op))
			}
		case "timestamp", "t":
			ts, err := strconv.ParseUint(value, 10, 64)
			if err != nil {
				return Query{}, errs.New(errs.Malformed, "query.Parse", fmt.Errorf("query: invalid timestamp value %q: %w", value, err))
			}
			var top TemporalOp
			switch op {
			case "<":
				top = OpLess
			case "<=":
				top = OpLessEq
			case ">":
				top = OpGreater
			case ">=":
				top = OpGreaterEq
			default:
				return Query{}, errs.New(errs.Malformed, "query.Parse", fmt.Errorf("query: unsupported operator %q for temporal field", op))
			}
			q.Temporal = append(q.Temporal, TemporalPred{Op: top, Value: ts})
		default:
			return Query{}, errs.New(errs.Malformed, "query.Parse", fmt.Errorf("query: unknown field %q", field))
		}
	}
	return q, nil
}

// SplitPath separates spec §6's "<absolute-path>+<query-string>" syntax.
// The '+' is reserved: a path with no '+' carries an empty query, and more
// than one '+' is a malformed-input error.
func SplitPath(s string) (path, queryStr string, err error) {
	first := strings.IndexByte(s, '+')
	if first < 0 {
		return s, "", nil
	}
	if strings.IndexByte(s[first+1:], '+') >= 0 {
		return "", "", errs.New(errs.Malformed, "query.SplitPath", fmt.Errorf("more than one '+' in %q", s))
	}
	return s[:first], s[first+1:], nil
}

// operators in longest-first order so "<=" isn't mis-split as "<" then "=".
var ops = []string{"<=", ">=", "!=", "=", "<", ">"}

func splitTerm(term string) (field, op, value string, err error) {
	for _, candidate := range ops {
		if idx := strings.Index(term, candidate); idx >= 0 {
			return term[:idx], candidate, term[idx+len(candidate):], nil
		}
	}
	return "", "", "", fmt.Errorf("query: no operator found in term %q", term)
}

// evalTemporal checks a single predicate against a block's [min,max] range
// (spec §4.3 step 1: "a range [min,max] passes < v iff min < v, and
// symmetric for other ops").
func evalTemporal(p TemporalPred, min, max uint64) bool {
	switch p.Op {
	case OpLess:
		return min < p.Value
	case OpLessEq:
		return min <= p.Value
	case OpGreater:
		return max > p.Value
	case OpGreaterEq:
		return max >= p.Value
	default:
		return false
	}
}

// matchesPrefix implements spec §4.3 step 2's spatial comparison: "= means
// geohash has prefix or value has prefix of geohash; != means neither".
func matchesPrefix(geohashStr, value string) bool {
	return strings.HasPrefix(geohashStr, value) || strings.HasPrefix(value, geohashStr)
}

// Descriptor is a block's rewritten sub-block reference (spec §4.3 step 3).
type Descriptor struct {
	BlockID block.ID
	Length  uint64
	Dropped bool
}

// EvaluateBlock runs the temporal filter, then the spatial filter and
// rewrite, for a single block against q.
func EvaluateBlock(q Query, id block.ID, temporal *coordstore.TemporalMap, spatial *coordstore.SpatialIndex) (Descriptor, error) {
	if q.HasTemporal() {
		if min, max, ok := temporal.Get(id); ok {
			for _, p := range q.Temporal {
				if !evalTemporal(p, min, max) {
					return Descriptor{Dropped: true}, nil
				}
			}
		}
		// No temporal entry: block passes unconditionally (spec §4.3 step 1).
	}

	if !q.HasSpatial() {
		return Descriptor{BlockID: id}, nil
	}

	entries := spatial.EntriesFor(id)
	if len(entries) == 0 {
		// Block has no spatial index at all: spec's step 2 only applies
		// "if the block has a spatial index" - otherwise it is untouched by
		// the spatial filter and passes through whole.
		return Descriptor{BlockID: id}, nil
	}

	survivors := make(map[byte]uint32) // last-char selector -> summed length
	var totalLen uint64
	for _, e := range entries {
		ok := true
		for _, p := range q.Spatial {
			m := matchesPrefix(e.Geohash, p.Value)
			if p.Negate {
				m = !m
			}
			if !m {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		sel, err := geohash.LastCharSelector(e.Geohash)
		if err != nil {
			// A tuple whose last character fails the geohash-character
			// decode is skipped, not fatal (spec §3 invariants).
			log.Warn("skipping spatial tuple with undecodable last character", "block", id, "geohash", e.Geohash, "error", err)
			continue
		}
		survivors[sel] += e.Length
		totalLen += uint64(e.Length)
	}

	if len(survivors) == 0 {
		return Descriptor{Dropped: true}, nil
	}

	vals := make([]byte, 0, len(survivors))
	for v := range survivors {
		vals = append(vals, v)
	}
	sub, err := id.WithSelectors(geoselect.FromValues(vals))
	if err != nil {
		return Descriptor{}, fmt.Errorf("query: encoding sub-block id for %s: %w", id, err)
	}
	return Descriptor{BlockID: sub, Length: totalLen}, nil
}
