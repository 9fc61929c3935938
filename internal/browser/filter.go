package browser

import (
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"golang.org/x/text/cases"
)

// FilterState is the user's filter choice for one panel instance.
// The zero value filters nothing.
type FilterState struct {
	TextQuery          string `json:"textQuery" doc:"Text filter; empty matches every feature"`
	ViewportRestricted bool   `json:"viewportRestricted" doc:"Only list features intersecting the current map view"`
}

// Active reports whether any filter can hide a feature.
func (s FilterState) Active() bool {
	return strings.TrimSpace(s.TextQuery) != "" || s.ViewportRestricted
}

// TextFilter matches a query against a derived label.
type TextFilter struct{}

// Matches is a case-insensitive substring test. An empty query matches.
func (TextFilter) Matches(label, query string) bool {
	query = strings.TrimSpace(query)
	if query == "" {
		return true
	}
	fold := cases.Fold()
	return strings.Contains(fold.String(label), fold.String(query))
}

// ViewportFilter matches a geometry against the current map bound.
type ViewportFilter struct{}

// Matches always admits when the filter is disabled.
func (ViewportFilter) Matches(g orb.Geometry, bound orb.Bound, enabled bool) bool {
	if !enabled {
		return true
	}
	return Intersects(g, bound)
}

// Intersects is a conservative geometry/bound test: a vertex inside the
// bound, an edge crossing it, or a polygon covering it all count. Nil and
// empty geometries never intersect.
func Intersects(g orb.Geometry, b orb.Bound) bool {
	if g == nil || b.IsEmpty() {
		return false
	}

	switch geom := g.(type) {
	case orb.Point:
		return b.Contains(geom)

	case orb.MultiPoint:
		for _, p := range geom {
			if b.Contains(p) {
				return true
			}
		}
		return false

	case orb.LineString:
		return lineIntersects(geom, b)

	case orb.MultiLineString:
		for _, ls := range geom {
			if lineIntersects(ls, b) {
				return true
			}
		}
		return false

	case orb.Ring:
		return polygonIntersects(orb.Polygon{geom}, b)

	case orb.Polygon:
		return polygonIntersects(geom, b)

	case orb.MultiPolygon:
		for _, poly := range geom {
			if polygonIntersects(poly, b) {
				return true
			}
		}
		return false

	case orb.Collection:
		for _, sub := range geom {
			if Intersects(sub, b) {
				return true
			}
		}
		return false

	case orb.Bound:
		return !geom.IsEmpty() && geom.Intersects(b)

	default:
		return false
	}
}

func lineIntersects(ls orb.LineString, b orb.Bound) bool {
	switch len(ls) {
	case 0:
		return false
	case 1:
		return b.Contains(ls[0])
	}
	if !ls.Bound().Intersects(b) {
		return false
	}
	for i := 1; i < len(ls); i++ {
		if segmentIntersects(ls[i-1], ls[i], b) {
			return true
		}
	}
	return false
}

func polygonIntersects(p orb.Polygon, b orb.Bound) bool {
	if len(p) == 0 || len(p[0]) == 0 {
		return false
	}
	if !p.Bound().Intersects(b) {
		return false
	}
	for _, ring := range p {
		if lineIntersects(orb.LineString(ring), b) {
			return true
		}
	}
	// No edge touches the bound: either the polygon covers it or a hole does.
	return planar.PolygonContains(p, b.Center())
}

// segmentIntersects clips the segment pq against b (Liang-Barsky).
func segmentIntersects(p, q orb.Point, b orb.Bound) bool {
	if b.Contains(p) || b.Contains(q) {
		return true
	}
	dx, dy := q[0]-p[0], q[1]-p[1]
	t0, t1 := 0.0, 1.0
	clip := func(den, num float64) bool {
		if den == 0 {
			return num >= 0
		}
		r := num / den
		if den < 0 {
			if r > t1 {
				return false
			}
			if r > t0 {
				t0 = r
			}
		} else {
			if r < t0 {
				return false
			}
			if r < t1 {
				t1 = r
			}
		}
		return true
	}
	return clip(-dx, p[0]-b.Min[0]) &&
		clip(dx, b.Max[0]-p[0]) &&
		clip(-dy, p[1]-b.Min[1]) &&
		clip(dy, b.Max[1]-p[1]) &&
		t0 <= t1
}
