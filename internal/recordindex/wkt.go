package recordindex

import (
	"strconv"
	"strings"
)

// point is a single parsed lon/lat pair from a WKT token stream.
type point struct {
	lon, lat float64
}

// parseWKTPairs is the lightweight WKT tokenizer described in spec §4.2: it
// reads digits, '.', and '-' as number characters, treats a single space as
// the lon/lat separator within a pair, and any other non-numeric character
// as the pair terminator. It does not validate WKT syntax (POLYGON/POINT
// keywords, parenthesis nesting) - it only extracts the numeric pairs.
func parseWKTPairs(s string) []point {
	const (
		seekLon = iota
		inLon
		seekLat
		inLat
	)
	isNumChar := func(c byte) bool {
		return (c >= '0' && c <= '9') || c == '.' || c == '-'
	}

	var pairs []point
	var lonBuf, latBuf strings.Builder
	state := seekLon

	emit := func() {
		if lonBuf.Len() == 0 || latBuf.Len() == 0 {
			lonBuf.Reset()
			latBuf.Reset()
			return
		}
		lon, err1 := strconv.ParseFloat(lonBuf.String(), 64)
		lat, err2 := strconv.ParseFloat(latBuf.String(), 64)
		if err1 == nil && err2 == nil {
			pairs = append(pairs, point{lon: lon, lat: lat})
		}
		lonBuf.Reset()
		latBuf.Reset()
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch state {
		case seekLon:
			if isNumChar(c) {
				lonBuf.WriteByte(c)
				state = inLon
			}
		case inLon:
			switch {
			case isNumChar(c):
				lonBuf.WriteByte(c)
			case c == ' ':
				state = seekLat
			default:
				lonBuf.Reset()
				state = seekLon
			}
		case seekLat:
			switch {
			case isNumChar(c):
				latBuf.WriteByte(c)
				state = inLat
			case c == ' ':
				// tolerate repeated separators
			default:
				lonBuf.Reset()
				state = seekLon
			}
		case inLat:
			if isNumChar(c) {
				latBuf.WriteByte(c)
			} else {
				emit()
				state = seekLon
			}
		}
	}
	if state == inLat {
		emit()
	}
	return pairs
}

// boundingBox returns the (minLat, minLon, maxLat, maxLon) envelope of pts.
// ok is false for an empty input.
func boundingBox(pts []point) (minLat, minLon, maxLat, maxLon float64, ok bool) {
	if len(pts) == 0 {
		return 0, 0, 0, 0, false
	}
	minLat, maxLat = pts[0].lat, pts[0].lat
	minLon, maxLon = pts[0].lon, pts[0].lon
	for _, p := range pts[1:] {
		if p.lat < minLat {
			minLat = p.lat
		}
		if p.lat > maxLat {
			maxLat = p.lat
		}
		if p.lon < minLon {
			minLon = p.lon
		}
		if p.lon > maxLon {
			maxLon = p.lon
		}
	}
	return minLat, minLon, maxLat, maxLon, true
}
