// Package templates renders the HTML fragments sent in Datastar SSE patches.
package templates

import (
	"bytes"
	"embed"
	"html/template"
	"io/fs"
	"path/filepath"
	"sync"
)

//go:embed fragments/*.html
var defaultFragments embed.FS

// funcMap provides common template functions.
var funcMap = template.FuncMap{
	// dict builds a map from key-value pairs for nested templates.
	"dict": func(values ...any) map[string]any {
		if len(values)%2 != 0 {
			return nil
		}
		m := make(map[string]any, len(values)/2)
		for i := 0; i < len(values); i += 2 {
			key, ok := values[i].(string)
			if !ok {
				continue
			}
			m[key] = values[i+1]
		}
		return m
	},
	// swatch turns a resolved "rgb(r, g, b)" colour into a style attribute.
	"swatch": func(css string) template.CSS {
		return template.CSS("background-color: " + css)
	},
}

// Renderer manages HTML fragment templates.
type Renderer struct {
	templates *template.Template
	mu        sync.RWMutex
}

// Default returns a renderer over the embedded fragments.
func Default() (*Renderer, error) {
	return NewFS(defaultFragments, "fragments/*.html")
}

// New loads every *.html file in fragmentsDir on top of the embedded
// fragments, so a web directory can override single fragments.
func New(fragmentsDir string) (*Renderer, error) {
	tmpl, err := parse(fragmentsDir)
	if err != nil {
		return nil, err
	}
	return &Renderer{templates: tmpl}, nil
}

// NewFS loads fragments matching pattern from fsys.
func NewFS(fsys fs.FS, pattern string) (*Renderer, error) {
	tmpl, err := template.New("").Funcs(funcMap).ParseFS(fsys, pattern)
	if err != nil {
		return nil, err
	}
	return &Renderer{templates: tmpl}, nil
}

func parse(fragmentsDir string) (*template.Template, error) {
	tmpl, err := template.New("").Funcs(funcMap).ParseFS(defaultFragments, "fragments/*.html")
	if err != nil {
		return nil, err
	}
	matches, err := filepath.Glob(filepath.Join(fragmentsDir, "*.html"))
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return tmpl, nil
	}
	return tmpl.ParseFiles(matches...)
}

// Render renders a named template to a string.
func (r *Renderer) Render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := r.RenderToBuffer(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderToBuffer renders a named template to a buffer.
func (r *Renderer) RenderToBuffer(buf *bytes.Buffer, name string, data any) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.templates.ExecuteTemplate(buf, name, data)
}

// Reload reloads templates from disk (dev hot-reload).
func (r *Renderer) Reload(fragmentsDir string) error {
	tmpl, err := parse(fragmentsDir)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.templates = tmpl
	r.mu.Unlock()

	return nil
}
