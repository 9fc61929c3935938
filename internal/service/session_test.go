package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-browse/internal/mapview"
)

type fixture struct {
	dir      string
	bus      *EventBus
	maps     *MapService
	settings *SettingsService
	sessions *SessionService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	bus := NewEventBus()
	maps := NewMapService(dir, bus, nil)
	settings := NewSettingsService(dir, nil)
	loader := NewLoader(filepath.Join(dir, "sources"))
	sessions := NewSessionService(maps, loader, settings, bus)
	t.Cleanup(sessions.Close)
	return &fixture{dir: dir, bus: bus, maps: maps, settings: settings, sessions: sessions}
}

func (f *fixture) umap(t *testing.T) MapConfig {
	t.Helper()
	m, err := LoadMapFile("testdata/umap.yaml")
	require.NoError(t, err)
	m, err = f.maps.Create(m)
	require.NoError(t, err)
	return m
}

func TestSessionOpensBrowserOnLoad(t *testing.T) {
	f := newFixture(t)
	m := f.umap(t)

	sess, err := f.sessions.Create(context.Background(), m.ID)
	require.NoError(t, err)

	v := sess.Controller.View()
	assert.True(t, v.Open)
	require.Len(t, v.Sections, 2)
	assert.Equal(t, "Calque 1", v.Sections[0].Name)
	assert.Len(t, v.Sections[0].Rows, 3)
	assert.Equal(t, "This layer is not loaded", v.Sections[1].Name)
	assert.Empty(t, v.Sections[1].Rows)

	assert.Equal(t, 1, sess.Map.Count(mapview.Marker))
	assert.Equal(t, 2, sess.Map.Count(mapview.Path))

	got, err := f.sessions.Get(sess.ID)
	require.NoError(t, err)
	assert.Same(t, sess, got)
}

func TestSessionViewportFollowsMap(t *testing.T) {
	f := newFixture(t)
	m := f.umap(t)
	sess, err := f.sessions.Create(context.Background(), m.ID)
	require.NoError(t, err)

	sess.Controller.SetViewportRestricted(true)
	assert.Equal(t, "1/3", sess.Controller.View().Sections[0].Count)

	sess.Zoom(false)
	sess.Zoom(false)
	sess.Zoom(false)
	assert.Equal(t, "2/3", sess.Controller.View().Sections[0].Count)

	cam, err := mapview.ParseHash("4/61.98/-2.68")
	require.NoError(t, err)
	sess.MoveTo(cam, true)
	assert.Equal(t, "2/3", sess.Controller.View().Sections[0].Count)
}

func TestSessionRestrictionSharedPerMap(t *testing.T) {
	f := newFixture(t)
	m := f.umap(t)
	ctx := context.Background()

	first, err := f.sessions.Create(ctx, m.ID)
	require.NoError(t, err)
	first.Controller.SetViewportRestricted(true)
	require.NoError(t, f.sessions.Delete(first.ID))

	second, err := f.sessions.Create(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, second.Controller.State().ViewportRestricted)

	restarted := NewSettingsService(f.dir, nil)
	assert.True(t, restarted.Get(m.ID).ViewportRestricted)
}

func TestSessionErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.sessions.Create(ctx, "missing")
	assert.ErrorIs(t, err, ErrMapNotFound)

	_, err = f.sessions.Get("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	assert.ErrorIs(t, f.sessions.Delete("missing"), ErrSessionNotFound)
}

func TestPreview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.sessions.Preview(ctx, PreviewRequest{Data: niagaraCSV, DataFormat: "csv", Color: "DarkRed"})
	require.NoError(t, err)
	assert.Equal(t, 1, sess.Map.Count(mapview.Marker))
	assert.False(t, sess.Controller.IsOpen())

	sess.Controller.Open()
	rows := sess.Controller.View().Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, "Niagara Falls", rows[0].Label)
	assert.Equal(t, "rgb(139, 0, 0)", rows[0].CSS)

	_, err = f.sessions.Preview(ctx, PreviewRequest{})
	assert.Error(t, err)
	_, err = f.sessions.Preview(ctx, PreviewRequest{Data: niagaraCSV, DataFormat: "kml"})
	assert.Error(t, err)
}

func TestSessionPublishesRenders(t *testing.T) {
	f := newFixture(t)
	m := f.umap(t)
	sess, err := f.sessions.Create(context.Background(), m.ID)
	require.NoError(t, err)

	sub := f.bus.SubscribeSession(sess.ID)
	defer f.bus.Unsubscribe(sub)

	sess.Controller.SetQuery("poly")
	select {
	case ev := <-sub.C:
		assert.Equal(t, Event{Resource: ResourceSessions, Action: "rendered", ID: sess.ID}, ev)
	case <-time.After(time.Second):
		t.Fatal("no render event")
	}
}

func TestReloadFile(t *testing.T) {
	f := newFixture(t)
	sources := filepath.Join(f.dir, "sources")
	require.NoError(t, os.MkdirAll(sources, 0755))
	file := filepath.Join(sources, "points.csv")
	require.NoError(t, os.WriteFile(file, []byte(niagaraCSV), 0644))

	m, err := f.maps.Create(MapConfig{Name: "files", Layers: []DataLayerConfig{
		{Name: "points", Source: LayerSource{File: "points.csv"}},
	}})
	require.NoError(t, err)
	sess, err := f.sessions.Create(context.Background(), m.ID)
	require.NoError(t, err)
	sess.Controller.Open()
	require.Len(t, sess.Controller.View().Rows(), 1)

	require.NoError(t, os.WriteFile(file, []byte(niagaraCSV+"\nHorseshoe,43.07,-79.07\n"), 0644))
	assert.Equal(t, 1, f.sessions.ReloadFile(context.Background(), "points.csv"))
	assert.Len(t, sess.Controller.View().Rows(), 2)

	assert.Equal(t, 0, f.sessions.ReloadFile(context.Background(), "other.csv"))
}

func TestSessionList(t *testing.T) {
	f := newFixture(t)
	m := f.umap(t)
	a, err := f.sessions.Create(context.Background(), m.ID)
	require.NoError(t, err)
	b, err := f.sessions.Create(context.Background(), m.ID)
	require.NoError(t, err)

	list := f.sessions.List()
	require.Len(t, list, 2)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, []string{list[0].ID, list[1].ID})
}

func TestSessionKeepsSharedFeatureIDsApart(t *testing.T) {
	f := newFixture(t)
	data := `{"type": "FeatureCollection", "features": [
		{"type": "Feature", "id": 1, "properties": {"name": "first"}, "geometry": {"type": "Point", "coordinates": [2, 51]}},
		{"type": "Feature", "id": 1, "properties": {"name": "again"}, "geometry": {"type": "Point", "coordinates": [2.1, 51]}},
		{"type": "Feature", "id": 2, "properties": {"name": "second"}, "geometry": {"type": "Point", "coordinates": [2.2, 51]}}
	]}`
	m, err := f.maps.Create(MapConfig{Name: "shared ids", OnLoadPanel: PanelDataBrowser, Layers: []DataLayerConfig{
		{Name: "one", Source: LayerSource{Data: data}},
		{Name: "two", Source: LayerSource{Data: data}},
	}})
	require.NoError(t, err)

	sess, err := f.sessions.Create(context.Background(), m.ID)
	require.NoError(t, err)
	v := sess.Controller.View()
	require.Len(t, v.Sections, 2)
	assert.Len(t, v.Sections[0].Rows, 3)
	assert.Len(t, v.Sections[1].Rows, 3)
	assert.Len(t, v.Rows(), 6)
	assert.Equal(t, 6, sess.Map.Count(mapview.Marker))

	one, _ := sess.Controller.Layer(v.Sections[0].Layer)
	two, _ := sess.Controller.Layer(v.Sections[1].Layer)
	require.NoError(t, sess.Controller.Delete("1"))
	assert.Equal(t, 2, one.Len())
	assert.Equal(t, 3, two.Len())

	require.NoError(t, sess.Controller.Delete(two.ID+":1"))
	assert.Equal(t, 2, two.Len())
	assert.Len(t, sess.Controller.View().Rows(), 4)
}
