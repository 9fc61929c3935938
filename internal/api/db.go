package api

import (
	"context"
	"database/sql"

	"github.com/danielgtaylor/huma/v2"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-browse/internal/service"
)

// QueryHandler helps authoring query layers: it lists DuckDB tables and
// runs a layer query the way a session would.
type QueryHandler struct {
	db     func() (*sql.DB, error)
	loader *service.Loader
}

// NewQueryHandler creates a query handler. db may be nil when DuckDB is disabled.
func NewQueryHandler(db func() (*sql.DB, error), loader *service.Loader) *QueryHandler {
	return &QueryHandler{db: db, loader: loader}
}

// RegisterRoutes registers database routes with Huma.
func (h *QueryHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/tables", h.ListTables, huma.OperationTags("query"))
	huma.Post(api, "/api/v1/query", h.Query, huma.OperationTags("query"))
}

type TablesOutput struct {
	Body struct {
		Tables []string `json:"tables" doc:"List of table names"`
	}
}

// ListTables returns all DuckDB tables.
func (h *QueryHandler) ListTables(ctx context.Context, input *struct{}) (*TablesOutput, error) {
	conn, err := h.conn()
	if err != nil {
		return nil, err
	}
	rows, err := conn.QueryContext(ctx, "SHOW TABLES")
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list tables", err)
	}
	defer rows.Close()

	out := &TablesOutput{}
	out.Body.Tables = []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, huma.Error500InternalServerError("failed to list tables", err)
		}
		out.Body.Tables = append(out.Body.Tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, huma.Error500InternalServerError("failed to list tables", err)
	}
	return out, nil
}

type QueryInput struct {
	Body struct {
		Query string `json:"query" minLength:"1" doc:"SQL returning a geojson column, optionally id and property columns" example:"SELECT name, ST_AsGeoJSON(geom) AS geojson FROM places"`
	}
}

type QueryOutput struct {
	Body struct {
		Count    int                        `json:"count" doc:"Features returned"`
		Features *geojson.FeatureCollection `json:"features" doc:"Features as a GeoJSON FeatureCollection"`
	}
}

// Query runs a layer query and returns the features it yields.
func (h *QueryHandler) Query(ctx context.Context, input *QueryInput) (*QueryOutput, error) {
	if _, err := h.conn(); err != nil {
		return nil, err
	}
	features, err := h.loader.Load(ctx, service.LayerSource{Query: input.Body.Query})
	if err != nil {
		return nil, huma.Error400BadRequest("query failed: " + err.Error())
	}

	fc := geojson.NewFeatureCollection()
	for _, f := range features {
		gf := geojson.NewFeature(f.Geometry)
		gf.ID = f.ID
		gf.Properties = f.Properties
		fc.Append(gf)
	}
	out := &QueryOutput{}
	out.Body.Count = len(features)
	out.Body.Features = fc
	return out, nil
}

func (h *QueryHandler) conn() (*sql.DB, error) {
	if h.db == nil {
		return nil, huma.Error503ServiceUnavailable("database not available")
	}
	conn, err := h.db()
	if err != nil {
		return nil, huma.Error503ServiceUnavailable("database not available", err)
	}
	return conn, nil
}
