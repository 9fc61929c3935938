package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const niagaraGeoJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"name": "Niagara Falls"},
     "geometry": {"type": "Point", "coordinates": [-79.04, 43.08]}}
  ]
}`

const niagaraCSV = "name,latitude,longitude\nNiagara Falls,43.08,-79.04"

func TestParseGeoJSON(t *testing.T) {
	features, err := ParseGeoJSON([]byte(niagaraGeoJSON))
	require.NoError(t, err)
	require.Len(t, features, 1)
	assert.Equal(t, orb.Point{-79.04, 43.08}, features[0].Geometry)
	name, _ := features[0].Property("name")
	assert.Equal(t, "Niagara Falls", name)
	assert.NotEmpty(t, features[0].ID)

	single, err := ParseGeoJSON([]byte(`{"type":"Feature","id":"x","properties":{},"geometry":{"type":"Point","coordinates":[1,2]}}`))
	require.NoError(t, err)
	require.Len(t, single, 1)
	assert.Equal(t, "x", single[0].ID)

	bare, err := ParseGeoJSON([]byte(`{"type":"LineString","coordinates":[[1,2],[3,4]]}`))
	require.NoError(t, err)
	require.Len(t, bare, 1)
	assert.Equal(t, orb.LineString{{1, 2}, {3, 4}}, bare[0].Geometry)

	ordered, err := ParseGeoJSON([]byte(`{"type":"FeatureCollection","features":[
		{"type":"Feature","properties":{"zeta":1,"alpha":2,"mid":{"a":1}},"geometry":{"type":"Point","coordinates":[1,2]}},
		{"type":"Feature","properties":null,"geometry":{"type":"Point","coordinates":[1,2]}}]}`))
	require.NoError(t, err)
	require.Len(t, ordered, 2)
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, ordered[0].Keys())
	assert.Empty(t, ordered[1].Keys())

	_, err = ParseGeoJSON([]byte(`{}`))
	assert.Error(t, err)
	_, err = ParseGeoJSON([]byte(`nope`))
	assert.Error(t, err)
}

func TestParseCSV(t *testing.T) {
	features, skipped, err := ParseCSV([]byte(niagaraCSV))
	require.NoError(t, err)
	assert.Zero(t, skipped)
	require.Len(t, features, 1)
	assert.Equal(t, orb.Point{-79.04, 43.08}, features[0].Geometry)
	assert.Equal(t, []string{"name"}, features[0].Keys())
}

func TestParseCSVVariants(t *testing.T) {
	data := "\xef\xbb\xbfName;LAT;Lng;kind\nA;43,08;-79,04;falls\nB;;1;none\nC;95;1;bad\n"
	features, skipped, err := ParseCSV([]byte(data))
	require.NoError(t, err)
	assert.Equal(t, 2, skipped)
	require.Len(t, features, 1)
	assert.Equal(t, orb.Point{-79.04, 43.08}, features[0].Geometry)
	assert.Equal(t, []string{"Name", "kind"}, features[0].Keys())

	_, _, err = ParseCSV([]byte("name,x,y\na,1,2\n"))
	assert.Error(t, err)

	features, _, err = ParseCSV(nil)
	require.NoError(t, err)
	assert.Empty(t, features)
}

func TestResolveFormat(t *testing.T) {
	tests := []struct {
		format, name, ctype, data string
		want                      string
	}{
		{"CSV", "", "", "", FormatCSV},
		{"json", "", "", "", FormatGeoJSON},
		{"", "geo.csv", "", "", FormatCSV},
		{"", "geo.json", "", "", FormatGeoJSON},
		{"", "", "text/csv", "", FormatCSV},
		{"", "", "application/geo+json", "", FormatGeoJSON},
		{"", "", "", "  {\"type\":", FormatGeoJSON},
		{"", "", "", "a,b", FormatCSV},
	}
	for _, tt := range tests {
		got, err := resolveFormat(tt.format, tt.name, tt.ctype, []byte(tt.data))
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%+v", tt)
	}

	_, err := resolveFormat("kml", "", "", nil)
	assert.Error(t, err)
}

func TestLoaderInlineAndFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "niagara.csv"), []byte(niagaraCSV), 0644))
	l := NewLoader(dir)
	ctx := context.Background()

	features, err := l.Load(ctx, LayerSource{Data: niagaraGeoJSON})
	require.NoError(t, err)
	assert.Len(t, features, 1)

	features, err = l.Load(ctx, LayerSource{Data: niagaraCSV, Format: "csv"})
	require.NoError(t, err)
	assert.Len(t, features, 1)

	features, err = l.Load(ctx, LayerSource{File: "niagara.csv"})
	require.NoError(t, err)
	assert.Len(t, features, 1)

	_, err = l.Load(ctx, LayerSource{File: "../etc/passwd"})
	assert.Error(t, err)

	features, err = l.Load(ctx, LayerSource{})
	require.NoError(t, err)
	assert.Empty(t, features)

	_, err = l.Load(ctx, LayerSource{Query: "SELECT 1"})
	assert.Error(t, err, "no database configured")
}

func TestLoaderURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/geo.json":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(niagaraGeoJSON))
		case "/geo.csv":
			w.Write([]byte(niagaraCSV))
		case "/big":
			w.Write(make([]byte, 2048))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	l := NewLoader(t.TempDir(), WithHTTPClient(srv.Client()), WithMaxBytes(1024))
	ctx := context.Background()

	features, err := l.Load(ctx, LayerSource{URL: srv.URL + "/geo.json"})
	require.NoError(t, err)
	assert.Len(t, features, 1)

	features, err = l.Load(ctx, LayerSource{URL: srv.URL + "/geo.csv", Format: "csv"})
	require.NoError(t, err)
	assert.Len(t, features, 1)

	_, err = l.Load(ctx, LayerSource{URL: srv.URL + "/missing"})
	assert.Error(t, err)

	_, err = l.Load(ctx, LayerSource{URL: srv.URL + "/big"})
	assert.Error(t, err)

	_, err = l.Load(ctx, LayerSource{URL: "file:///etc/passwd"})
	assert.Error(t, err)
}

func TestLoadLayersDegradesToEmpty(t *testing.T) {
	l := NewLoader(t.TempDir())
	m := MapConfig{ID: "m", Name: "m", Layers: []DataLayerConfig{
		{ID: "good", Name: "good", Source: LayerSource{Data: niagaraGeoJSON}},
		{ID: "bad", Name: "bad", Source: LayerSource{Data: "{broken"}},
		{ID: "hidden", Name: "hidden", DisplayOnLoad: Bool(false), Source: LayerSource{Data: niagaraCSV}},
	}}

	layers, err := l.LoadLayers(context.Background(), m)
	require.NoError(t, err)
	require.Len(t, layers, 3)
	assert.Equal(t, "good", layers[0].ID)
	assert.Equal(t, 1, layers[0].Len())
	assert.Equal(t, 0, layers[1].Len())
	assert.Equal(t, 1, layers[2].Len())
	assert.False(t, layers[2].Settings.DisplayOnLoad)
}

func TestLoadLayersCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l := NewLoader(t.TempDir())
	_, err := l.LoadLayers(ctx, MapConfig{ID: "m", Name: "m", Layers: []DataLayerConfig{{ID: "a", Name: "a"}}})
	assert.ErrorIs(t, err, context.Canceled)
}
