package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
)

type InfoHandler struct {
	dataDir string
	query   bool
	svc     *Services
}

// NewInfoHandler reports on the running server. query says whether DuckDB
// query layers are enabled.
func NewInfoHandler(dataDir string, query bool, svc *Services) *InfoHandler {
	return &InfoHandler{dataDir: dataDir, query: query, svc: svc}
}

func (h *InfoHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/info", h.GetInfo, huma.OperationTags("health"))
}

type InfoBody struct {
	Name     string   `json:"name" doc:"Service name"`
	Version  string   `json:"version" doc:"Service version"`
	DataDir  string   `json:"data_dir" doc:"Data directory path"`
	Maps     int      `json:"maps" doc:"Stored maps"`
	Sessions int      `json:"sessions" doc:"Open sessions"`
	Features []string `json:"features" doc:"Available features"`
}

func (h *InfoHandler) GetInfo(ctx context.Context, input *struct{}) (*struct{ Body InfoBody }, error) {
	features := []string{"databrowser", "preview", "geojson", "csv"}
	if h.query {
		features = append(features, "duckdb")
	}
	return &struct{ Body InfoBody }{Body: InfoBody{
		Name:     "plat-browse",
		Version:  Version,
		DataDir:  h.dataDir,
		Maps:     len(h.svc.Map.List()),
		Sessions: len(h.svc.Session.List()),
		Features: features,
	}}, nil
}
