package panel

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-browse/internal/service"
	"github.com/joeblew999/plat-browse/internal/templates"
)

type fixture struct {
	mux      *http.ServeMux
	api      humatest.TestAPI
	sessions *service.SessionService
	sess     *service.Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	bus := service.NewEventBus()
	maps := service.NewMapService(dir, bus, nil)
	sessions := service.NewSessionService(maps, service.NewLoader(dir), service.NewSettingsService(dir, nil), bus)
	t.Cleanup(sessions.Close)

	m, err := service.LoadMapFile(filepath.Join("..", "..", "service", "testdata", "umap.yaml"))
	require.NoError(t, err)
	sess, err := sessions.Open(context.Background(), m, m.ID)
	require.NoError(t, err)

	renderer, err := templates.Default()
	require.NoError(t, err)

	mux := http.NewServeMux()
	api := humago.New(mux, huma.DefaultConfig("panel", "test"))
	huma.AutoRegister(api, NewHandler(sessions, bus, renderer, nil))
	return &fixture{mux: mux, api: humatest.Wrap(t, api), sessions: sessions, sess: sess}
}

func TestShowPanel(t *testing.T) {
	f := newFixture(t)

	resp := f.api.Get("/api/v1/panel/" + f.sess.ID)
	require.Equal(t, http.StatusOK, resp.Code)
	body := resp.Body.String()
	assert.Contains(t, body, "event: datastar-patch-elements")
	assert.Contains(t, body, "#panel")
	assert.Contains(t, body, `id="browse_data_calque_1_point"`)
	assert.Contains(t, body, "one polygon in greenland")
	assert.Contains(t, body, `data-signals="{&#34;filter&#34;:&#34;&#34;,&#34;inbbox&#34;:false}"`)

	assert.Equal(t, http.StatusNotFound, f.api.Get("/api/v1/panel/missing").Code)
}

func TestFilterSignals(t *testing.T) {
	f := newFixture(t)

	resp := f.api.Post("/api/v1/panel/"+f.sess.ID+"/filter", map[string]any{"filter": "poly"})
	require.Equal(t, http.StatusOK, resp.Code)
	body := resp.Body.String()
	assert.Contains(t, body, "#browser-sections")
	assert.Contains(t, body, "one polygon in greenland")
	assert.NotContains(t, body, "one point in france")
	assert.Equal(t, "poly", f.sess.Controller.State().TextQuery)
	assert.False(t, f.sess.Controller.State().ViewportRestricted)

	resp = f.api.Post("/api/v1/panel/"+f.sess.ID+"/filter", map[string]any{"filter": "", "inbbox": true})
	require.Equal(t, http.StatusOK, resp.Code)
	body = resp.Body.String()
	assert.Contains(t, body, "one point in france")
	assert.NotContains(t, body, "one polygon in greenland")
	assert.Contains(t, body, "(1/3)")
	assert.True(t, f.sess.Controller.State().ViewportRestricted)

	resp = f.api.Post("/api/v1/panel/"+f.sess.ID+"/filter", strings.NewReader("{"))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestOpenClose(t *testing.T) {
	f := newFixture(t)

	resp := f.api.Post("/api/v1/panel/" + f.sess.ID + "/close")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `<div id="panel"></div>`)
	assert.False(t, f.sess.Controller.IsOpen())

	resp = f.api.Get("/api/v1/panel/" + f.sess.ID)
	assert.NotContains(t, resp.Body.String(), "browse_data_")

	resp = f.api.Post("/api/v1/panel/" + f.sess.ID + "/open")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "one line in new zeland")
	assert.True(t, f.sess.Controller.IsOpen())
}

func TestEventsFollowRenders(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/panel/"+f.sess.ID+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	lines := bufio.NewScanner(resp.Body)
	waitFor := func(want string) {
		t.Helper()
		for lines.Scan() {
			if strings.Contains(lines.Text(), want) {
				return
			}
		}
		t.Fatalf("stream ended before %q", want)
	}

	// The first patch is sent once the subscription is in place.
	waitFor("one line in new zeland")
	f.sess.Controller.SetQuery("greenland")
	waitFor("#browser-sections")
	waitFor("one polygon in greenland")

	require.NoError(t, f.sessions.Delete(f.sess.ID))
	waitFor(`<div id="panel"></div>`)
}
