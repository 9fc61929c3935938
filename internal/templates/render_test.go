package templates

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-browse/internal/browser"
)

func TestRenderSection(t *testing.T) {
	r, err := Default()
	require.NoError(t, err)

	html, err := r.Render("browser-section", browser.Section{
		Layer:     "calque",
		Name:      "Calque 1",
		Displayed: true,
		Count:     "1/3",
		Rows: []browser.Row{{
			Layer: "calque", ID: "point", Label: "one point in france", CSS: "rgb(139, 0, 0)",
		}},
	})
	require.NoError(t, err)

	assert.Contains(t, html, `title="Features in this layer: 1/3"`)
	assert.Contains(t, html, "(1/3)")
	assert.Contains(t, html, "one point in france")
	assert.Contains(t, html, "background-color: rgb(139, 0, 0)")
	assert.NotContains(t, html, " off")
}

func TestRenderEscapesLabels(t *testing.T) {
	r, err := Default()
	require.NoError(t, err)

	html, err := r.Render("browser-row", browser.Row{Layer: "l", ID: "x", Label: "<script>", CSS: "rgb(0, 0, 0)"})
	require.NoError(t, err)
	assert.NotContains(t, html, "<script>")
	assert.Contains(t, html, "&lt;script&gt;")
}

func TestRenderEmptyState(t *testing.T) {
	r, err := Default()
	require.NoError(t, err)

	html, err := r.Render("browser-sections", map[string]any{"Sections": []browser.Section{}})
	require.NoError(t, err)
	assert.Contains(t, html, "No data")

	_, err = r.Render("missing-fragment", nil)
	assert.Error(t, err)
}

func TestOverrideFragments(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.html"),
		[]byte(`{{define "empty-state"}}<p>nothing: {{.Title}}</p>{{end}}`), 0644))

	r, err := New(dir)
	require.NoError(t, err)
	html, err := r.Render("empty-state", map[string]string{"Title": "here"})
	require.NoError(t, err)
	assert.Equal(t, "<p>nothing: here</p>", html)

	require.NoError(t, r.Reload(t.TempDir()))
	html, err = r.Render("empty-state", map[string]string{"Title": "here", "Message": "m"})
	require.NoError(t, err)
	assert.Contains(t, html, `class="empty-state"`)
}
