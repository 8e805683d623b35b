// Package geo implements the geofence containment tests used to authorize
// punch locations. Everything here is pure and safe to run offline against a
// locally cached zone list.
package geo

import (
	"errors"
	"fmt"
	"math"
)

// EarthRadiusMeters is the mean Earth radius used by the haversine formula.
const EarthRadiusMeters = 6_371_000.0

// Point is a WGS84 coordinate in decimal degrees
type Point struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// Valid reports whether the point lies within latitude/longitude bounds
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

func (p Point) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lon)
}

// Kind is the shape of a zone
type Kind string

const (
	KindCircle  Kind = "circle"
	KindPolygon Kind = "polygon"
)

// Zone is the geometry of one authorization area
type Zone struct {
	ID           string
	Kind         Kind
	Center       Point
	RadiusMeters float64
	Vertices     []Point
	Active       bool
}

var (
	ErrInvalidRadius    = errors.New("radius must be positive")
	ErrTooFewVertices   = errors.New("polygon needs at least 3 vertices")
	ErrSelfIntersecting = errors.New("polygon edges intersect")
	ErrUnknownKind      = errors.New("unknown zone kind")
)

// Validate checks the zone invariants
func (z Zone) Validate() error {
	switch z.Kind {
	case KindCircle:
		if !(z.RadiusMeters > 0) {
			return ErrInvalidRadius
		}
		if !z.Center.Valid() {
			return fmt.Errorf("invalid center %s", z.Center)
		}
	case KindPolygon:
		ring := openRing(z.Vertices)
		if len(ring) < 3 {
			return ErrTooFewVertices
		}
		for _, v := range ring {
			if !v.Valid() {
				return fmt.Errorf("invalid vertex %s", v)
			}
		}
		if !isSimple(ring) {
			return ErrSelfIntersecting
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, z.Kind)
	}
	return nil
}

// Contains applies the per-kind containment test
func (z Zone) Contains(p Point) bool {
	switch z.Kind {
	case KindCircle:
		return IsInsideCircle(p, z.Center, z.RadiusMeters)
	case KindPolygon:
		return IsInsidePolygon(p, z.Vertices)
	}
	return false
}

// Distance returns the great-circle distance in meters between a and b
func Distance(a, b Point) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := toRadians(b.Lat - a.Lat)
	dLon := toRadians(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMeters * c
}

// IsInsideCircle reports whether point is within radiusMeters of center.
// The boundary (distance == radius) counts as inside; a non-positive radius
// never matches.
func IsInsideCircle(point, center Point, radiusMeters float64) bool {
	if !(radiusMeters > 0) {
		return false
	}
	return Distance(point, center) <= radiusMeters
}

// IsInsidePolygon reports whether point lies inside the ring described by
// vertices, using ray casting with lon as x and lat as y. The closing edge is
// implied; a repeated first vertex at the end is tolerated.
//
// Edges are half-open in y: an edge counts as crossed when exactly one of its
// endpoints lies strictly above the point. Points exactly on an edge are
// therefore deterministic but not guaranteed to be inside: bottom and left
// edges of an axis-aligned square include their boundary, top and right do not.
func IsInsidePolygon(point Point, vertices []Point) bool {
	ring := openRing(vertices)
	n := len(ring)
	if n < 3 {
		return false
	}

	x, y := point.Lon, point.Lat
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := ring[i].Lon, ring[i].Lat
		xj, yj := ring[j].Lon, ring[j].Lat
		if (yi > y) != (yj > y) {
			crossX := (xj-xi)*(y-yi)/(yj-yi) + xi
			if x < crossX {
				inside = !inside
			}
		}
	}
	return inside
}

// Validation is the outcome of checking a point against a zone list
type Validation struct {
	IsValid        bool
	MatchedZoneIDs []string
}

// ValidateAgainstZones tests point against every active zone and returns all
// matches. IsValid is true iff at least one zone matched.
func ValidateAgainstZones(point Point, zones []Zone) Validation {
	var v Validation
	for _, z := range zones {
		if !z.Active {
			continue
		}
		if z.Contains(point) {
			v.MatchedZoneIDs = append(v.MatchedZoneIDs, z.ID)
		}
	}
	v.IsValid = len(v.MatchedZoneIDs) > 0
	return v
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

// openRing drops a duplicated closing vertex so every edge is visited once.
func openRing(vertices []Point) []Point {
	n := len(vertices)
	if n > 1 && vertices[0] == vertices[n-1] {
		return vertices[:n-1]
	}
	return vertices
}

// isSimple reports whether no two non-adjacent edges of the ring intersect.
func isSimple(ring []Point) bool {
	n := len(ring)
	for i := 0; i < n; i++ {
		a1, a2 := ring[i], ring[(i+1)%n]
		for j := i + 1; j < n; j++ {
			// adjacent edges share an endpoint
			if j == i+1 || (i == 0 && j == n-1) {
				continue
			}
			b1, b2 := ring[j], ring[(j+1)%n]
			if segmentsIntersect(a1, a2, b1, b2) {
				return false
			}
		}
	}
	return true
}

func segmentsIntersect(p1, p2, q1, q2 Point) bool {
	d1 := orientation(q1, q2, p1)
	d2 := orientation(q1, q2, p2)
	d3 := orientation(p1, p2, q1)
	d4 := orientation(p1, p2, q2)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	switch {
	case d1 == 0 && onSegment(q1, q2, p1):
		return true
	case d2 == 0 && onSegment(q1, q2, p2):
		return true
	case d3 == 0 && onSegment(p1, p2, q1):
		return true
	case d4 == 0 && onSegment(p1, p2, q2):
		return true
	}
	return false
}

func orientation(a, b, c Point) float64 {
	return (b.Lon-a.Lon)*(c.Lat-a.Lat) - (b.Lat-a.Lat)*(c.Lon-a.Lon)
}

func onSegment(a, b, p Point) bool {
	return math.Min(a.Lon, b.Lon) <= p.Lon && p.Lon <= math.Max(a.Lon, b.Lon) &&
		math.Min(a.Lat, b.Lat) <= p.Lat && p.Lat <= math.Max(a.Lat, b.Lat)
}
