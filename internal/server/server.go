package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-browse/internal/api"
	"github.com/joeblew999/plat-browse/internal/api/panel"
	"github.com/joeblew999/plat-browse/internal/db"
	"github.com/joeblew999/plat-browse/internal/humastar"
	"github.com/joeblew999/plat-browse/internal/service"
	"github.com/joeblew999/plat-browse/internal/templates"
)

// Config holds the server configuration.
type Config struct {
	Host    string
	Port    string
	DataDir string
	WebDir  string // static files and fragment overrides

	Logger      *zap.Logger
	SettleDelay time.Duration // debounce for viewport moves
	Watch       bool          // reload layers when source files change
	DisableDB   bool          // no DuckDB query layers
}

// Server is the browse HTTP server.
type Server struct {
	config    Config
	log       *zap.Logger
	mux       *http.ServeMux
	humaAPI   huma.API
	links     *humastar.Links
	bus       *service.EventBus
	services  *api.Services
	renderer  *templates.Renderer
	fragments string // override directory the renderer was loaded from

	wg sync.WaitGroup
}

// New creates a new browse server.
func New(cfg Config) (*Server, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	renderer, fragments, err := newRenderer(cfg.WebDir, log)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	links := humastar.NewLinks(panel.Tag)

	humaConfig := huma.DefaultConfig("plat-browse API", api.Version)
	humaConfig.Info.Description = "Browse, filter and edit the features of map data layers."
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://%s:%s", cfg.Host, cfg.Port), Description: "Local server"},
	}
	// Disable $schema property in responses (cleaner JSON)
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}
	humaConfig.Transformers = append(humaConfig.Transformers, links.Transformer())

	bus := service.NewEventBus()
	sources := service.NewSourceService(cfg.DataDir, log)

	loaderOpts := []service.LoaderOption{service.WithLoaderLogger(log)}
	var conn func() (*sql.DB, error)
	if !cfg.DisableDB {
		conn = db.Lazy(db.Config{
			DataDir:    cfg.DataDir,
			DBName:     "browse",
			Extensions: db.DefaultExtensions,
			Logger:     log.Named("duckdb"),
		})
		loaderOpts = append(loaderOpts, service.WithDB(conn))
	}
	loader := service.NewLoader(sources.SourcesDir(), loaderOpts...)

	maps := service.NewMapService(cfg.DataDir, bus, log)
	settings := service.NewSettingsService(cfg.DataDir, log)
	sessions := service.NewSessionService(maps, loader, settings, bus,
		service.WithSettleDelay(cfg.SettleDelay),
		service.WithSessionLogger(log),
	)

	s := &Server{
		config:    cfg,
		log:       log,
		mux:       mux,
		humaAPI:   humago.New(mux, humaConfig),
		links:     links,
		bus:       bus,
		services:  &api.Services{Map: maps, Session: sessions, Source: sources},
		renderer:  renderer,
		fragments: fragments,
	}

	huma.AutoRegister(s.humaAPI, api.NewAPIHandler(s.services))
	huma.AutoRegister(s.humaAPI, api.NewInfoHandler(cfg.DataDir, conn != nil, s.services))
	huma.AutoRegister(s.humaAPI, api.NewQueryHandler(conn, loader))
	huma.AutoRegister(s.humaAPI, panel.NewHandler(sessions, bus, renderer, log.Named("panel")))
	links.Build(s.humaAPI)

	s.routes()
	return s, nil
}

func newRenderer(webDir string, log *zap.Logger) (*templates.Renderer, string, error) {
	if webDir == "" {
		r, err := templates.Default()
		return r, "", err
	}
	fragmentsDir := filepath.Join(webDir, "templates", "fragments")
	if _, err := os.Stat(fragmentsDir); err != nil {
		r, err := templates.Default()
		return r, "", err
	}
	r, err := templates.New(fragmentsDir)
	if err != nil {
		return nil, "", fmt.Errorf("load fragments from %s: %w", fragmentsDir, err)
	}
	log.Info("loaded fragment overrides", zap.String("dir", fragmentsDir))
	return r, fragmentsDir, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// OpenAPI returns the OpenAPI document of the REST API.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.humaAPI.OpenAPI()
}

// Services exposes the services for in-process use by the CLI.
func (s *Server) Services() *api.Services {
	return s.services
}

// Start runs background work until ctx is done: with Watch set, open layers
// backed by a source file are reloaded whenever that file changes, and
// fragment overrides are re-parsed when one of them is edited.
func (s *Server) Start(ctx context.Context) {
	if !s.config.Watch {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := s.services.Source.Watch(ctx, func(name string) {
			s.services.Session.ReloadFile(ctx, name)
		})
		if err != nil {
			s.log.Error("source watcher stopped", zap.Error(err))
		}
	}()

	if s.fragments == "" {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		isFragment := func(name string) bool { return filepath.Ext(name) == ".html" }
		err := service.WatchDir(ctx, s.fragments, isFragment, s.reloadFragments, s.log)
		if err != nil {
			s.log.Error("fragment watcher stopped", zap.Error(err))
		}
	}()
}

func (s *Server) reloadFragments(name string) {
	if err := s.renderer.Reload(s.fragments); err != nil {
		s.log.Warn("keeping previous fragments", zap.String("file", name), zap.Error(err))
		return
	}
	s.log.Info("reloaded fragments", zap.String("file", name))
}

// Close waits for background work started with a now cancelled context,
// closes every session and the database.
func (s *Server) Close() error {
	s.wg.Wait()
	s.services.Session.Close()
	return db.Close()
}

func (s *Server) routes() {
	if s.config.WebDir != "" {
		staticDir := filepath.Join(s.config.WebDir, "static")
		s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir))))
	}
	s.mux.HandleFunc("/", s.handleRoot)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	for _, link := range s.links.For(humastar.EntryPoint) {
		w.Header().Add("Link", link)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"service": "plat-browse",
		"status":  "running",
	})
}
