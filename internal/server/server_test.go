package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/joeblew999/plat-browse/internal/service"
)

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	cfg.DataDir = t.TempDir()
	cfg.DisableDB = true
	srv, err := New(cfg)
	require.NoError(t, err)
	return srv
}

func TestRoutes(t *testing.T) {
	srv := newTestServer(t, Config{Host: "localhost", Port: "8087"})
	defer srv.Close()

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"plat-browse"`)
	assert.Contains(t, rec.Header().Values("Link"), `</api/v1/sessions>; rel="sessions"`)
	assert.NotContains(t, rec.Header().Values("Link"), `</api/v1/panel/{sid}>; rel="{sid}"`)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/info", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "duckdb")

	oapi := srv.OpenAPI()
	assert.Contains(t, oapi.Paths, "/api/v1/sessions/{sid}/filter")
	assert.Contains(t, oapi.Paths, "/api/v1/panel/{sid}/events")
	assert.Equal(t, "http://localhost:8087", oapi.Servers[0].URL)
}

func TestWatchReloadsLayers(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	srv := newTestServer(t, Config{Watch: true})
	svc := srv.Services()
	require.NoError(t, os.MkdirAll(svc.Source.SourcesDir(), 0755))
	file := filepath.Join(svc.Source.SourcesDir(), "points.csv")
	require.NoError(t, os.WriteFile(file, []byte("name,lat,lon\nA,43,-79\n"), 0644))

	m, err := svc.Map.Create(service.MapConfig{Name: "watched", OnLoadPanel: service.PanelDataBrowser,
		Layers: []service.DataLayerConfig{{Name: "points", Source: service.LayerSource{File: "points.csv"}}}})
	require.NoError(t, err)
	sess, err := svc.Session.Create(context.Background(), m.ID)
	require.NoError(t, err)
	require.Len(t, sess.Controller.View().Rows(), 1)

	ctx, cancel := context.WithCancel(context.Background())
	srv.Start(ctx)

	deadline := time.Now().Add(5 * time.Second)
	for len(sess.Controller.View().Rows()) != 2 {
		if time.Now().After(deadline) {
			t.Fatal("layer was not reloaded")
		}
		// Rewrite until the watcher is registered and picks a write up.
		require.NoError(t, os.WriteFile(file, []byte("name,lat,lon\nA,43,-79\nB,44,-78\n"), 0644))
		time.Sleep(300 * time.Millisecond)
	}

	cancel()
	require.NoError(t, srv.Close())
}

func TestWatchReloadsFragments(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	webDir := t.TempDir()
	fragments := filepath.Join(webDir, "templates", "fragments")
	require.NoError(t, os.MkdirAll(fragments, 0755))
	file := filepath.Join(fragments, "empty.html")
	require.NoError(t, os.WriteFile(file, []byte(`{{define "empty-state"}}<p>first</p>{{end}}`), 0644))

	srv := newTestServer(t, Config{Watch: true, WebDir: webDir})
	render := func() string {
		html, err := srv.renderer.Render("empty-state", nil)
		require.NoError(t, err)
		return html
	}
	require.Equal(t, "<p>first</p>", render())

	ctx, cancel := context.WithCancel(context.Background())
	srv.Start(ctx)

	deadline := time.Now().Add(5 * time.Second)
	for render() != "<p>second</p>" {
		if time.Now().After(deadline) {
			t.Fatal("fragments were not reloaded")
		}
		require.NoError(t, os.WriteFile(file, []byte(`{{define "empty-state"}}<p>second</p>{{end}}`), 0644))
		time.Sleep(300 * time.Millisecond)
	}

	cancel()
	require.NoError(t, srv.Close())
}
