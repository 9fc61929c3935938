// Package browser implements the data browser: an index of map features per
// data layer, a text filter and a viewport filter combined into a single
// visibility decision, and a controller that keeps the rendered list and the
// map layer in sync.
//
// Everything in this package is in-memory and synchronous. Collaborators (the
// map view and the settings store) are reached through small interfaces so
// the engine can be driven without a browser.
package browser

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Feature is a single geometry with its properties.
// Geometry and properties are not modified after construction.
type Feature struct {
	ID         string
	Geometry   orb.Geometry
	Properties geojson.Properties

	keys   []string
	source string // id given by the data source, when ID was qualified
}

// NewFeature creates a feature. An empty id gets a random one so every
// feature has a stable identity for the life of the index.
// keys gives the property order; when omitted the keys are sorted.
func NewFeature(id string, geom orb.Geometry, props geojson.Properties, keys ...string) *Feature {
	if id == "" {
		id = uuid.NewString()
	}
	if props == nil {
		props = geojson.Properties{}
	}
	if len(keys) == 0 {
		keys = make([]string, 0, len(props))
		for k := range props {
			keys = append(keys, k)
		}
		sort.Strings(keys)
	}
	return &Feature{ID: id, Geometry: geom, Properties: props, keys: keys}
}

// FromGeoJSON converts an orb GeoJSON feature. keys gives the property
// order of the source document; it is ignored unless it names every property.
func FromGeoJSON(gf *geojson.Feature, keys ...string) *Feature {
	var id string
	switch v := gf.ID.(type) {
	case string:
		id = v
	case float64:
		id = strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
	default:
		id = fmt.Sprint(v)
	}
	props := gf.Properties.Clone()
	if !sameKeys(props, keys) {
		keys = nil
	}
	return NewFeature(id, gf.Geometry, props, keys...)
}

func sameKeys(props geojson.Properties, keys []string) bool {
	if len(keys) != len(props) {
		return false
	}
	for _, k := range keys {
		if _, ok := props[k]; !ok {
			return false
		}
	}
	return true
}

func (f *Feature) withID(id string) *Feature {
	c := *f
	c.source = f.SourceID()
	c.ID = id
	return &c
}

// SourceID returns the id the feature had in its data source, which differs
// from ID when the layer had to qualify it.
func (f *Feature) SourceID() string {
	if f.source != "" {
		return f.source
	}
	return f.ID
}

// Keys returns the property names in load order.
func (f *Feature) Keys() []string {
	return f.keys
}

// Property returns a property rendered as text.
func (f *Feature) Property(key string) (string, bool) {
	v, ok := f.Properties[key]
	if !ok {
		return "", false
	}
	switch val := v.(type) {
	case nil:
		return "", true
	case string:
		return val, true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(val), true
	default:
		return fmt.Sprint(val), true
	}
}

// IsPoint reports whether the feature renders as a marker.
func (f *Feature) IsPoint() bool {
	_, ok := f.Geometry.(orb.Point)
	return ok
}
