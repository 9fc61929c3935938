// Package mapview is a headless map: it tracks the viewport, the markers and
// shapes drawn for each feature, and the open popup. It implements
// browser.MapView so sessions can run without a browser.
package mapview

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	"github.com/joeblew999/plat-browse/internal/browser"
)

const (
	// MinZoom and MaxZoom bound the zoom levels the map accepts.
	MinZoom = 0
	MaxZoom = 22

	// DefaultWidth and DefaultHeight are the screen size in pixels.
	DefaultWidth  = 1280
	DefaultHeight = 720

	// tileShift makes one tile at zoom+tileShift exactly one pixel at zoom.
	tileShift = 8
)

// Camera is a map center and zoom level.
type Camera struct {
	Center orb.Point
	Zoom   int
}

// String renders the camera as a URL hash body, e.g. "6/51.000/2.000".
func (c Camera) String() string {
	return fmt.Sprintf("%d/%.3f/%.3f", c.Zoom, c.Center.Lat(), c.Center.Lon())
}

// ParseHash parses "zoom/lat/lng", with or without a leading '#'.
func ParseHash(hash string) (Camera, error) {
	hash = strings.TrimPrefix(strings.TrimSpace(hash), "#")
	parts := strings.Split(hash, "/")
	if len(parts) != 3 {
		return Camera{}, fmt.Errorf("invalid map hash %q: want zoom/lat/lng", hash)
	}
	zoom, err := strconv.Atoi(parts[0])
	if err != nil {
		return Camera{}, fmt.Errorf("invalid zoom in %q: %w", hash, err)
	}
	lat, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return Camera{}, fmt.Errorf("invalid latitude in %q: %w", hash, err)
	}
	lng, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return Camera{}, fmt.Errorf("invalid longitude in %q: %w", hash, err)
	}
	if lat < -90 || lat > 90 {
		return Camera{}, fmt.Errorf("latitude %v out of range", lat)
	}
	return Camera{Center: orb.Point{lng, lat}, Zoom: clampZoom(zoom)}, nil
}

// BoundAt returns the geographic bound of a width x height pixel screen
// centered on the camera, using 256 px web mercator tiles.
func BoundAt(cam Camera, width, height int) orb.Bound {
	z := maptile.Zoom(clampZoom(cam.Zoom) + tileShift)
	px := maptile.Fraction(cam.Center, z)
	world := float64(uint64(1) << z)

	halfW, halfH := float64(width)/2, float64(height)/2
	minX, maxX := px[0]-halfW, px[0]+halfW
	minY := math.Max(px[1]-halfH, 0)
	maxY := math.Min(px[1]+halfH, world-1)

	return orb.Bound{
		Min: orb.Point{lonAt(minX, world), latAt(maxY, z)},
		Max: orb.Point{lonAt(maxX, world), latAt(minY, z)},
	}
}

func lonAt(x, world float64) float64 {
	return x/world*360 - 180
}

// latAt returns the latitude of the top edge of pixel row y.
func latAt(y float64, z maptile.Zoom) float64 {
	return maptile.New(0, uint32(y), z).Bound().Max.Lat()
}

func clampZoom(z int) int {
	return max(MinZoom, min(MaxZoom, z))
}

// Kind is how a feature is drawn.
type Kind string

const (
	Marker Kind = "marker"
	Path   Kind = "path"
)

// Shape is a drawn feature.
type Shape struct {
	Layer   string `json:"layer" doc:"Data layer id"`
	ID      string `json:"id" doc:"Feature id"`
	Kind    Kind   `json:"kind" enum:"marker,path" doc:"marker for points, path for lines and polygons"`
	Visible bool   `json:"visible" doc:"Whether the shape is on the map"`
}

type shapeKey struct {
	layer, id string
}

// Map is a headless map. It is safe for concurrent use.
type Map struct {
	mu            sync.Mutex
	camera        Camera
	width, height int
	shapes        map[shapeKey]*Shape
	popup         *shapeKey
	listeners     map[int]func(orb.Bound)
	nextListener  int
}

// New creates a map of the given screen size (defaults when zero).
func New(cam Camera, width, height int) *Map {
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}
	cam.Zoom = clampZoom(cam.Zoom)
	return &Map{
		camera:    cam,
		width:     width,
		height:    height,
		shapes:    make(map[shapeKey]*Shape),
		listeners: make(map[int]func(orb.Bound)),
	}
}

// Camera returns the current center and zoom.
func (m *Map) Camera() Camera {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.camera
}

// Bound implements browser.MapView.
func (m *Map) Bound() orb.Bound {
	m.mu.Lock()
	defer m.mu.Unlock()
	return BoundAt(m.camera, m.width, m.height)
}

// SetView moves the camera and notifies move listeners.
func (m *Map) SetView(cam Camera) {
	cam.Zoom = clampZoom(cam.Zoom)
	m.move(func(c *Camera) { *c = cam })
}

// ZoomIn zooms one level in around the center.
func (m *Map) ZoomIn() {
	m.move(func(c *Camera) { c.Zoom = clampZoom(c.Zoom + 1) })
}

// ZoomOut zooms one level out around the center.
func (m *Map) ZoomOut() {
	m.move(func(c *Camera) { c.Zoom = clampZoom(c.Zoom - 1) })
}

// PanTo recenters the map.
func (m *Map) PanTo(center orb.Point) {
	m.move(func(c *Camera) { c.Center = center })
}

// OnMove registers fn for every viewport change and returns a function that
// removes it. fn runs after the map is unlocked.
func (m *Map) OnMove(fn func(orb.Bound)) (cancel func()) {
	m.mu.Lock()
	id := m.nextListener
	m.nextListener++
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

func (m *Map) move(apply func(*Camera)) {
	m.mu.Lock()
	apply(&m.camera)
	bound := BoundAt(m.camera, m.width, m.height)
	ids := make([]int, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(orb.Bound), len(ids))
	for i, id := range ids {
		fns[i] = m.listeners[id]
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(bound)
	}
}

// SetVisible implements browser.MapView.
func (m *Map) SetVisible(layerID string, f *browser.Feature, visible bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := shapeKey{layer: layerID, id: f.ID}
	s, ok := m.shapes[key]
	if !ok {
		kind := Path
		if f.IsPoint() {
			kind = Marker
		}
		s = &Shape{Layer: layerID, ID: f.ID, Kind: kind}
		m.shapes[key] = s
	}
	s.Visible = visible
	if !visible && m.popup != nil && *m.popup == key {
		m.popup = nil
	}
}

// OpenPopup implements browser.MapView.
func (m *Map) OpenPopup(layerID string, f *browser.Feature) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := shapeKey{layer: layerID, id: f.ID}
	m.popup = &key
}

// ClosePopup closes the open popup, if any.
func (m *Map) ClosePopup() {
	m.mu.Lock()
	m.popup = nil
	m.mu.Unlock()
}

// Popup returns the feature whose popup is open.
func (m *Map) Popup() (layerID, featureID string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.popup == nil {
		return "", "", false
	}
	return m.popup.layer, m.popup.id, true
}

// Visible returns the drawn shapes, ordered by layer then id.
func (m *Map) Visible() []Shape {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Shape
	for _, s := range m.shapes {
		if s.Visible {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Layer != out[j].Layer {
			return out[i].Layer < out[j].Layer
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Count returns how many shapes of a kind are drawn.
func (m *Map) Count(kind Kind) int {
	n := 0
	for _, s := range m.Visible() {
		if s.Kind == kind {
			n++
		}
	}
	return n
}
