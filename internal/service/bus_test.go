package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBusFilters(t *testing.T) {
	bus := NewEventBus()
	all := bus.Subscribe()
	maps := bus.Subscribe(ResourceMaps)
	one := bus.SubscribeSession("s1")
	defer bus.Unsubscribe(all)
	defer bus.Unsubscribe(maps)
	defer bus.Unsubscribe(one)

	bus.Publish(Event{Resource: ResourceSessions, Action: "rendered", ID: "s2"})
	bus.Publish(Event{Resource: ResourceSessions, Action: "rendered", ID: "s1"})
	bus.Publish(Event{Resource: ResourceMaps, Action: "created", ID: "m"})

	assert.Len(t, all.C, 3)
	assert.Len(t, maps.C, 1)
	assert.Len(t, one.C, 1)
	assert.Equal(t, "s1", (<-one.C).ID)
}

func TestEventBusDropsForSlowSubscribers(t *testing.T) {
	bus := NewEventBus()
	sub := bus.Subscribe()
	for i := 0; i < 100; i++ {
		bus.Publish(Event{Resource: ResourceMaps})
	}
	assert.Len(t, sub.C, cap(sub.ch))

	bus.Unsubscribe(sub)
	bus.Unsubscribe(sub)
	for range sub.C {
	}
}

func TestSettingsScope(t *testing.T) {
	dir := t.TempDir()
	svc := NewSettingsService(dir, nil)
	a, b := svc.Scope("a"), svc.Scope("b")

	a.SetViewportRestricted(true)
	assert.True(t, a.ViewportRestricted())
	assert.False(t, b.ViewportRestricted())

	assert.True(t, NewSettingsService(dir, nil).Get("a").ViewportRestricted)

	mem := NewSettingsService("", nil)
	mem.Scope("x").SetViewportRestricted(true)
	assert.True(t, mem.Get("x").ViewportRestricted)
}

func TestSettingsNullStore(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.json"), []byte("null"), 0644))
	svc := NewSettingsService(dir, nil)
	assert.NotPanics(t, func() { svc.Scope("m").SetViewportRestricted(true) })
	assert.True(t, NewSettingsService(dir, nil).Get("m").ViewportRestricted)
}

func TestSourceServiceList(t *testing.T) {
	dir := t.TempDir()
	svc := NewSourceService(dir, nil)

	files, err := svc.List()
	require.NoError(t, err)
	assert.Empty(t, files)

	require.NoError(t, os.MkdirAll(svc.SourcesDir(), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(svc.SourcesDir(), "a.csv"), []byte(niagaraCSV), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(svc.SourcesDir(), "notes.txt"), []byte("x"), 0644))

	files, err = svc.List()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, SourceFile{Name: "a.csv", Size: "50 B", FileType: "CSV"}, files[0])

	p, err := svc.Path("a.csv")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(svc.SourcesDir(), "a.csv"), p)
	for _, bad := range []string{"", "../a.csv", "sub/a.csv", `..\a.csv`} {
		_, err := svc.Path(bad)
		assert.Error(t, err, bad)
	}
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "512 B", formatSize(512))
	assert.Equal(t, "1.5 KB", formatSize(1536))
	assert.Equal(t, "2.0 MB", formatSize(2<<20))
}

func TestSourceWatch(t *testing.T) {
	svc := NewSourceService(t.TempDir(), nil)
	ctx, cancel := context.WithCancel(context.Background())

	changed := make(chan string, 4)
	done := make(chan error, 1)
	go func() {
		done <- svc.Watch(ctx, func(name string) { changed <- name })
	}()

	target := filepath.Join(svc.SourcesDir(), "points.csv")
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(300 * time.Millisecond)
	defer tick.Stop()

	got := ""
	for got == "" {
		select {
		case name := <-changed:
			got = name
		case <-tick.C:
			// The watcher may not be registered yet; keep writing until it sees one.
			_ = os.WriteFile(target, []byte(niagaraCSV), 0644)
		case <-deadline:
			t.Fatal("no change reported")
		}
	}
	assert.Equal(t, "points.csv", got)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
}
