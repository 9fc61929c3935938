package service

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/joeblew999/plat-browse/internal/browser"
)

// Source formats.
const (
	FormatGeoJSON = "geojson"
	FormatCSV     = "csv"
)

const (
	defaultMaxBytes     = 32 << 20
	defaultFetchTimeout = 30 * time.Second
	loadConcurrency     = 4
)

var (
	latColumns = []string{"lat", "latitude"}
	lonColumns = []string{"lon", "lng", "long", "longitude"}
)

// Loader turns layer sources into features.
type Loader struct {
	sourcesDir string
	client     *http.Client
	maxBytes   int64
	db         func() (*sql.DB, error)
	log        *zap.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithHTTPClient sets the client used for url sources.
func WithHTTPClient(c *http.Client) LoaderOption {
	return func(l *Loader) { l.client = c }
}

// WithMaxBytes caps the size of fetched and read sources.
func WithMaxBytes(n int64) LoaderOption {
	return func(l *Loader) { l.maxBytes = n }
}

// WithDB enables query and GeoParquet sources.
func WithDB(open func() (*sql.DB, error)) LoaderOption {
	return func(l *Loader) { l.db = open }
}

// WithLoaderLogger sets the logger.
func WithLoaderLogger(log *zap.Logger) LoaderOption {
	return func(l *Loader) { l.log = log }
}

// NewLoader creates a loader reading files from sourcesDir.
func NewLoader(sourcesDir string, opts ...LoaderOption) *Loader {
	l := &Loader{
		sourcesDir: sourcesDir,
		client:     &http.Client{Timeout: defaultFetchTimeout},
		maxBytes:   defaultMaxBytes,
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads the features of one source. An empty source has no features.
func (l *Loader) Load(ctx context.Context, src LayerSource) ([]*browser.Feature, error) {
	switch {
	case src.Data != "":
		return l.decode([]byte(src.Data), src.Format, "", "")

	case src.File != "":
		p, err := sourcePath(l.sourcesDir, src.File)
		if err != nil {
			return nil, err
		}
		switch strings.ToLower(filepath.Ext(p)) {
		case ".parquet", ".geoparquet":
			return l.query(ctx, parquetQuery(p))
		}
		data, err := l.readFile(p)
		if err != nil {
			return nil, err
		}
		return l.decode(data, src.Format, src.File, "")

	case src.URL != "":
		data, contentType, err := l.fetch(ctx, src.URL)
		if err != nil {
			return nil, err
		}
		u, _ := url.Parse(src.URL)
		return l.decode(data, src.Format, path.Base(u.Path), contentType)

	case src.Query != "":
		return l.query(ctx, src.Query)
	}
	return nil, nil
}

// LoadLayers loads every layer of m concurrently and returns them in map
// order. A layer whose source fails is logged and comes back empty.
func (l *Loader) LoadLayers(ctx context.Context, m MapConfig) ([]*browser.DataLayer, error) {
	layers := make([]*browser.DataLayer, len(m.Layers))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(loadConcurrency)
	for i, cfg := range m.Layers {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			layer := browser.NewDataLayer(cfg.ID, cfg.Settings())
			features, err := l.Load(ctx, cfg.Source)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				l.log.Warn("layer loaded empty",
					zap.String("map", m.ID),
					zap.String("layer", cfg.ID),
					zap.String("source", cfg.Source.Kind()),
					zap.Error(err),
				)
			}
			layer.Reset(features)
			l.log.Info("layer loaded",
				zap.String("map", m.ID),
				zap.String("layer", cfg.ID),
				zap.Int("features", layer.Len()),
			)
			layers[i] = layer
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return layers, nil
}

func (l *Loader) decode(data []byte, format, name, contentType string) ([]*browser.Feature, error) {
	format, err := resolveFormat(format, name, contentType, data)
	if err != nil {
		return nil, err
	}
	if format == FormatCSV {
		features, skipped, err := ParseCSV(data)
		if skipped > 0 {
			l.log.Warn("csv rows without coordinates skipped", zap.Int("rows", skipped))
		}
		return features, err
	}
	return ParseGeoJSON(data)
}

func (l *Loader) readFile(p string) ([]byte, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readCapped(f, l.maxBytes)
}

func (l *Loader) fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch %s: %s", rawURL, resp.Status)
	}
	data, err := readCapped(resp.Body, l.maxBytes)
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func readCapped(r io.Reader, max int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > max {
		return nil, fmt.Errorf("source larger than %s", formatSize(max))
	}
	return data, nil
}

// resolveFormat picks the format from, in order: the explicit format, the
// file extension, the content type, and the first byte of the data.
func resolveFormat(format, name, contentType string, data []byte) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case FormatCSV:
		return FormatCSV, nil
	case FormatGeoJSON, "json":
		return FormatGeoJSON, nil
	case "":
	default:
		return "", fmt.Errorf("unsupported data format %q", format)
	}

	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return FormatCSV, nil
	case ".geojson", ".json":
		return FormatGeoJSON, nil
	}
	if strings.Contains(contentType, "csv") {
		return FormatCSV, nil
	}
	if strings.Contains(contentType, "json") {
		return FormatGeoJSON, nil
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		return FormatGeoJSON, nil
	}
	return FormatCSV, nil
}

type rawFeature struct {
	Properties json.RawMessage `json:"properties"`
}

// propertyKeys lists the keys of a JSON object in document order. It returns
// nil for anything that is not an object.
func propertyKeys(obj json.RawMessage) []string {
	dec := json.NewDecoder(bytes.NewReader(obj))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil
	}
	var keys []string
	seen := make(map[string]bool)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil
		}
		key, ok := tok.(string)
		if !ok {
			return nil
		}
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil
		}
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	return keys
}

// ParseGeoJSON decodes a FeatureCollection, a single Feature or a bare
// geometry. Property order follows the document.
func ParseGeoJSON(data []byte) ([]*browser.Feature, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode geojson: %w", err)
	}

	switch head.Type {
	case "":
		return nil, errors.New("decode geojson: missing type")

	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, fmt.Errorf("decode geojson: %w", err)
		}
		var raw struct {
			Features []rawFeature `json:"features"`
		}
		_ = json.Unmarshal(data, &raw)
		features := make([]*browser.Feature, 0, len(fc.Features))
		for i, f := range fc.Features {
			var keys []string
			if i < len(raw.Features) {
				keys = propertyKeys(raw.Features[i].Properties)
			}
			features = append(features, browser.FromGeoJSON(f, keys...))
		}
		return features, nil

	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, fmt.Errorf("decode geojson: %w", err)
		}
		var raw rawFeature
		_ = json.Unmarshal(data, &raw)
		return []*browser.Feature{browser.FromGeoJSON(f, propertyKeys(raw.Properties)...)}, nil
	}

	g, err := geojson.UnmarshalGeometry(data)
	if err != nil {
		return nil, fmt.Errorf("decode geojson: %w", err)
	}
	return []*browser.Feature{browser.NewFeature("", g.Geometry(), nil)}, nil
}

// ParseCSV reads points from a CSV with a header row. Latitude and longitude
// columns are found by name; every other column becomes a property, in
// header order. Rows without usable coordinates are skipped and counted.
func ParseCSV(data []byte) (features []*browser.Feature, skipped int, err error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	delim := detectDelimiter(data)
	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = delim
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("decode csv: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	latIdx, lonIdx := findColumn(header, latColumns), findColumn(header, lonColumns)
	if latIdx < 0 || lonIdx < 0 {
		return nil, 0, fmt.Errorf("decode csv: no latitude/longitude columns in %q", header)
	}

	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, skipped, fmt.Errorf("decode csv: %w", err)
		}

		lat, okLat := parseCoord(rec, latIdx, delim, 90)
		lon, okLon := parseCoord(rec, lonIdx, delim, 180)
		if !okLat || !okLon {
			skipped++
			continue
		}

		props := geojson.Properties{}
		keys := make([]string, 0, len(header))
		for i, h := range header {
			if i == latIdx || i == lonIdx || i >= len(rec) || h == "" {
				continue
			}
			props[h] = rec[i]
			keys = append(keys, h)
		}
		features = append(features, browser.NewFeature("", orb.Point{lon, lat}, props, keys...))
	}
	return features, skipped, nil
}

func detectDelimiter(data []byte) rune {
	line := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}
	best, bestCount := ',', 0
	for _, d := range []rune{',', ';', '\t', '|'} {
		if n := bytes.Count(line, []byte(string(d))); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

func findColumn(header, names []string) int {
	for _, name := range names {
		for i, h := range header {
			if strings.EqualFold(h, name) {
				return i
			}
		}
	}
	return -1
}

func parseCoord(rec []string, idx int, delim rune, limit float64) (float64, bool) {
	if idx >= len(rec) {
		return 0, false
	}
	s := strings.TrimSpace(rec[idx])
	if delim != ',' {
		s = strings.Replace(s, ",", ".", 1)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < -limit || v > limit {
		return 0, false
	}
	return v, true
}

func parquetQuery(p string) string {
	quoted := strings.ReplaceAll(p, "'", "''")
	return fmt.Sprintf("SELECT ST_AsGeoJSON(geometry) AS geojson, * EXCLUDE (geometry) FROM read_parquet('%s')", quoted)
}

// query runs a DuckDB query. The geojson column holds the geometry, an id
// column (if any) the feature id, and every other column a property.
func (l *Loader) query(ctx context.Context, q string) ([]*browser.Feature, error) {
	if l.db == nil {
		return nil, errors.New("query sources need a database")
	}
	conn, err := l.db()
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	rows, err := conn.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	geomIdx, idIdx := -1, -1
	for i, c := range columns {
		switch strings.ToLower(c) {
		case "geojson":
			geomIdx = i
		case "id":
			idIdx = i
		}
	}
	if geomIdx < 0 {
		return nil, errors.New("query: result has no geojson column")
	}

	var features []*browser.Feature
	skipped := 0
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("query: %w", err)
		}

		raw := textValue(values[geomIdx])
		if raw == "" {
			skipped++
			continue
		}
		g, err := geojson.UnmarshalGeometry([]byte(raw))
		if err != nil {
			skipped++
			continue
		}

		props := geojson.Properties{}
		keys := make([]string, 0, len(columns))
		for i, c := range columns {
			if i == geomIdx || i == idIdx {
				continue
			}
			props[c] = plainValue(values[i])
			keys = append(keys, c)
		}
		id := ""
		if idIdx >= 0 {
			id = textValue(values[idIdx])
		}
		features = append(features, browser.NewFeature(id, g.Geometry(), props, keys...))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	if skipped > 0 {
		l.log.Warn("query rows without geometry skipped", zap.Int("rows", skipped))
	}
	return features, nil
}

func textValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	default:
		return fmt.Sprint(val)
	}
}

func plainValue(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return val
	}
}
