// Package service contains the business logic of plat-browse: map
// configuration storage, feature loading, browser sessions and the event bus.
package service

import (
	"github.com/joeblew999/plat-browse/internal/browser"
	"github.com/joeblew999/plat-browse/internal/mapview"
)

const (
	// PanelDataBrowser opens the data browser when a session starts.
	PanelDataBrowser = "databrowser"
	// DefaultView is used when a map has no view.
	DefaultView = "6/51/2"
)

// MapConfig is a map: its label and colour rules, its default view and its
// data layers. Huma reads the tags for OpenAPI and validation; yaml.v3 reads
// them for map files.
type MapConfig struct {
	ID           string            `json:"id,omitempty" yaml:"id,omitempty" doc:"Unique map identifier" example:"france"`
	Name         string            `json:"name" yaml:"name" required:"true" minLength:"1" maxLength:"100" doc:"Display name" example:"France"`
	LabelKey     string            `json:"labelKey,omitempty" yaml:"labelKey,omitempty" doc:"Property or template used for labels" example:"{name} ({foo})"`
	Color        string            `json:"color,omitempty" yaml:"color,omitempty" doc:"Colour name, hex value or template" example:"{mycolor}"`
	DefaultColor string            `json:"defaultColor,omitempty" yaml:"defaultColor,omitempty" doc:"Colour used when Color does not resolve" example:"DarkBlue"`
	OnLoadPanel  string            `json:"onLoadPanel,omitempty" yaml:"onLoadPanel,omitempty" doc:"Panel opened when a session starts (databrowser)" example:"databrowser"`
	View         string            `json:"view,omitempty" yaml:"view,omitempty" doc:"Initial view as zoom/lat/lng" example:"6/51/2"`
	Width        int               `json:"width,omitempty" yaml:"width,omitempty" minimum:"0" doc:"Screen width in pixels" example:"1280"`
	Height       int               `json:"height,omitempty" yaml:"height,omitempty" minimum:"0" doc:"Screen height in pixels" example:"720"`
	Layers       []DataLayerConfig `json:"layers,omitempty" yaml:"layers,omitempty" doc:"Data layers"`
}

// DataLayerConfig is one data layer of a map.
type DataLayerConfig struct {
	ID            string      `json:"id,omitempty" yaml:"id,omitempty" doc:"Layer identifier, generated from the name when empty" example:"calque_1"`
	Name          string      `json:"name" yaml:"name" required:"true" minLength:"1" maxLength:"100" doc:"Layer name" example:"Calque 1"`
	DisplayOnLoad *bool       `json:"displayOnLoad,omitempty" yaml:"displayOnLoad,omitempty" doc:"Draw the layer when the map loads (default true)"`
	Browsable     *bool       `json:"browsable,omitempty" yaml:"browsable,omitempty" doc:"List the layer in the data browser (default true)"`
	LabelKey      string      `json:"labelKey,omitempty" yaml:"labelKey,omitempty" doc:"Overrides the map label key"`
	Color         string      `json:"color,omitempty" yaml:"color,omitempty" doc:"Overrides the map colour"`
	Source        LayerSource `json:"source" yaml:"source" doc:"Where the features come from"`
}

// LayerSource says where a layer's features come from. Exactly one of Data,
// File, URL and Query is expected; an empty source is an empty layer.
type LayerSource struct {
	Data   string `json:"data,omitempty" yaml:"data,omitempty" doc:"Inline GeoJSON or CSV"`
	File   string `json:"file,omitempty" yaml:"file,omitempty" doc:"File in the sources directory" example:"points.geojson"`
	URL    string `json:"url,omitempty" yaml:"url,omitempty" doc:"Remote GeoJSON or CSV" example:"https://example.org/geo.json"`
	Query  string `json:"query,omitempty" yaml:"query,omitempty" doc:"DuckDB query returning a geojson column"`
	Format string `json:"format,omitempty" yaml:"format,omitempty" doc:"geojson or csv; guessed when empty" example:"csv"`
}

// Kind names the source for logs.
func (s LayerSource) Kind() string {
	switch {
	case s.Data != "":
		return "data"
	case s.File != "":
		return "file"
	case s.URL != "":
		return "url"
	case s.Query != "":
		return "query"
	}
	return "empty"
}

// Settings converts the layer config to engine settings.
func (c DataLayerConfig) Settings() browser.LayerSettings {
	return browser.LayerSettings{
		Name:          c.Name,
		DisplayOnLoad: boolOr(c.DisplayOnLoad, true),
		Browsable:     boolOr(c.Browsable, true),
		LabelKey:      c.LabelKey,
		Color:         c.Color,
	}
}

// Rules returns the map-level label and colour rules.
func (c MapConfig) Rules() browser.Rules {
	return browser.Rules{
		Label: browser.LabelRule{Key: c.LabelKey},
		Color: browser.ColorRule{Template: c.Color, Default: c.DefaultColor},
	}
}

// Camera parses the map view, falling back to DefaultView.
func (c MapConfig) Camera() (mapview.Camera, error) {
	view := c.View
	if view == "" {
		view = DefaultView
	}
	return mapview.ParseHash(view)
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// Bool returns a pointer to b, for DataLayerConfig literals.
func Bool(b bool) *bool {
	return &b
}

// SourceFile represents a file in the sources directory.
type SourceFile struct {
	Name     string `json:"name" doc:"File name" example:"points.geojson"`
	Size     string `json:"size" doc:"Human-readable file size" example:"1.2 MB"`
	FileType string `json:"fileType" doc:"File type: GeoJSON, CSV or GeoParquet" example:"GeoJSON"`
}
