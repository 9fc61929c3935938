package mapview_test

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-browse/internal/browser"
	"github.com/joeblew999/plat-browse/internal/mapview"
)

var (
	france    = orb.Point{3.339844, 46.920255}
	greenland = orb.Point{-41.3, 71.8}
	nz        = orb.Point{172.9, -43.3}
)

func TestParseHash(t *testing.T) {
	cam, err := mapview.ParseHash("#6/51/2")
	require.NoError(t, err)
	assert.Equal(t, 6, cam.Zoom)
	assert.Equal(t, orb.Point{2, 51}, cam.Center)
	assert.Equal(t, "6/51.000/2.000", cam.String())

	cam, err = mapview.ParseHash("30/0/0")
	require.NoError(t, err)
	assert.Equal(t, mapview.MaxZoom, cam.Zoom)

	for _, bad := range []string{"", "6/51", "x/1/2", "6/y/2", "6/1/z", "6/91/0"} {
		_, err := mapview.ParseHash(bad)
		assert.Error(t, err, bad)
	}
}

func TestBoundAt(t *testing.T) {
	cam, err := mapview.ParseHash("6/51/2")
	require.NoError(t, err)

	b := mapview.BoundAt(cam, mapview.DefaultWidth, mapview.DefaultHeight)
	assert.True(t, b.Contains(france))
	assert.False(t, b.Contains(greenland))
	assert.False(t, b.Contains(nz))
	assert.InDelta(t, 2, b.Center().Lon(), 0.01)
	assert.InDelta(t, 28.125, b.Max.Lon()-b.Min.Lon(), 0.01)
}

func TestBoundAtWideView(t *testing.T) {
	cam, err := mapview.ParseHash("4/61.98/-2.68")
	require.NoError(t, err)

	b := mapview.BoundAt(cam, mapview.DefaultWidth, mapview.DefaultHeight)
	assert.True(t, b.Contains(france))
	assert.True(t, b.Contains(greenland))
	assert.False(t, b.Contains(nz))
}

func TestZoomOutRevealsMore(t *testing.T) {
	m := mapview.New(mapview.Camera{Center: orb.Point{2, 51}, Zoom: 6}, 0, 0)
	require.False(t, m.Bound().Contains(greenland))

	var moves []orb.Bound
	cancel := m.OnMove(func(b orb.Bound) { moves = append(moves, b) })
	defer cancel()

	m.ZoomOut()
	m.ZoomOut()
	m.ZoomOut()
	assert.Equal(t, 3, m.Camera().Zoom)
	assert.True(t, m.Bound().Contains(greenland))
	require.Len(t, moves, 3)
	assert.Equal(t, m.Bound(), moves[2])

	m.SetView(mapview.Camera{Zoom: -4})
	assert.Equal(t, mapview.MinZoom, m.Camera().Zoom)

	m.ZoomIn()
	assert.Equal(t, 1, m.Camera().Zoom)
	m.PanTo(nz)
	assert.True(t, m.Bound().Contains(nz))
}

func TestMapTracksShapes(t *testing.T) {
	m := mapview.New(mapview.Camera{Center: orb.Point{0, 0}, Zoom: 1}, 0, 0)

	point := browser.NewFeature("p", france, geojson.Properties{"name": "p"})
	line := browser.NewFeature("l", orb.LineString{{176.1, -38.6}, {168.3, -45.2}}, nil)

	m.SetVisible("layer", point, true)
	m.SetVisible("layer", line, true)
	assert.Equal(t, 1, m.Count(mapview.Marker))
	assert.Equal(t, 1, m.Count(mapview.Path))

	m.OpenPopup("layer", point)
	layer, id, ok := m.Popup()
	require.True(t, ok)
	assert.Equal(t, "layer", layer)
	assert.Equal(t, "p", id)

	m.SetVisible("layer", point, false)
	assert.Equal(t, 0, m.Count(mapview.Marker))
	_, _, ok = m.Popup()
	assert.False(t, ok, "hiding a shape closes its popup")

	assert.Equal(t, []mapview.Shape{{Layer: "layer", ID: "l", Kind: mapview.Path, Visible: true}}, m.Visible())
}

func TestControllerDrivesMap(t *testing.T) {
	m := mapview.New(mapview.Camera{Center: orb.Point{2, 51}, Zoom: 6}, 0, 0)
	c := browser.NewController(m)
	defer c.Stop()
	cancel := m.OnMove(c.ViewportMoved)
	defer cancel()

	l := browser.NewDataLayer("calque", browser.LayerSettings{Name: "Calque 1", DisplayOnLoad: true, Browsable: true})
	require.NoError(t, l.Add(browser.NewFeature("point", france, geojson.Properties{"name": "one point in france"})))
	require.NoError(t, l.Add(browser.NewFeature("polygon", orb.Polygon{{
		{-41.3, 71.8}, {-43.5, 70.8}, {-39.3, 70.9}, {-37.7, 72.2}, {-41.3, 71.8},
	}}, geojson.Properties{"name": "one polygon in greenland"})))
	require.NoError(t, l.Add(browser.NewFeature("line", orb.LineString{{176.1, -38.6}, {172.9, -43.3}, {168.3, -45.2}},
		geojson.Properties{"name": "one line in new zeland"})))
	c.AddLayer(l)
	c.Open()

	assert.Equal(t, 1, m.Count(mapview.Marker))
	assert.Equal(t, 2, m.Count(mapview.Path))

	c.SetViewportRestricted(true)
	assert.Equal(t, "1/3", c.View().Sections[0].Count)
	assert.Equal(t, 1, m.Count(mapview.Marker))
	assert.Equal(t, 0, m.Count(mapview.Path))

	m.ZoomOut()
	m.ZoomOut()
	m.ZoomOut()
	assert.Equal(t, "2/3", c.View().Sections[0].Count)
	assert.Equal(t, 1, m.Count(mapview.Path))
}
