package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-browse/internal/browser"
	"github.com/joeblew999/plat-browse/internal/mapview"
)

// ErrSessionNotFound is returned for an unknown session id.
var ErrSessionNotFound = errors.New("session not found")

// PreviewScope is the settings scope shared by preview sessions.
const PreviewScope = "preview"

// Session is one open map: a headless map view and the browser controller
// drawing onto it.
type Session struct {
	ID         string
	MapID      string
	Scope      string
	Config     MapConfig
	Created    time.Time
	Map        *mapview.Map
	Controller *browser.Controller

	cancels []func()
}

// MoveTo recenters the map. With settle the list follows immediately
// instead of waiting for the settle delay.
func (s *Session) MoveTo(cam mapview.Camera, settle bool) {
	s.Map.SetView(cam)
	if settle {
		s.Controller.ViewportSettled(s.Map.Bound())
	}
}

// Zoom zooms one level in or out and settles the list.
func (s *Session) Zoom(in bool) {
	if in {
		s.Map.ZoomIn()
	} else {
		s.Map.ZoomOut()
	}
	s.Controller.ViewportSettled(s.Map.Bound())
}

// LayerConfig returns the configuration a layer was loaded from.
func (s *Session) LayerConfig(id string) (DataLayerConfig, bool) {
	for _, l := range s.Config.Layers {
		if l.ID == id {
			return l, true
		}
	}
	return DataLayerConfig{}, false
}

func (s *Session) close() {
	for _, cancel := range s.cancels {
		cancel()
	}
	s.Controller.Stop()
}

// PreviewRequest builds a one-layer map from inline or remote data.
type PreviewRequest struct {
	Data        string `json:"data,omitempty" doc:"Inline GeoJSON or CSV"`
	DataURL     string `json:"dataUrl,omitempty" doc:"Remote GeoJSON or CSV" example:"https://example.org/geo.csv"`
	DataFormat  string `json:"dataFormat,omitempty" doc:"geojson or csv; guessed when empty" example:"csv"`
	Color       string `json:"color,omitempty" doc:"Colour of every feature" example:"DarkRed"`
	View        string `json:"view,omitempty" doc:"Initial view as zoom/lat/lng" example:"4/43/-79"`
	OnLoadPanel string `json:"onLoadPanel,omitempty" doc:"databrowser opens the browser on load"`
}

// MapConfig returns the preview map.
func (r PreviewRequest) MapConfig() MapConfig {
	return MapConfig{
		ID:          "preview",
		Name:        "Preview",
		Color:       r.Color,
		View:        r.View,
		OnLoadPanel: r.OnLoadPanel,
		Layers: []DataLayerConfig{{
			ID:   "preview",
			Name: "Preview",
			Source: LayerSource{
				Data:   r.Data,
				URL:    r.DataURL,
				Format: r.DataFormat,
			},
		}},
	}
}

// SessionOption configures a SessionService.
type SessionOption func(*SessionService)

// WithSettleDelay debounces viewport moves in every session.
func WithSettleDelay(d time.Duration) SessionOption {
	return func(s *SessionService) { s.settle = d }
}

// WithSessionLogger sets the logger.
func WithSessionLogger(log *zap.Logger) SessionOption {
	return func(s *SessionService) { s.log = log }
}

// SessionService keeps the open sessions.
type SessionService struct {
	maps     *MapService
	loader   *Loader
	settings *SettingsService
	bus      *EventBus
	log      *zap.Logger
	settle   time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionService creates a session registry. bus may be nil.
func NewSessionService(maps *MapService, loader *Loader, settings *SettingsService, bus *EventBus, opts ...SessionOption) *SessionService {
	s := &SessionService{
		maps:     maps,
		loader:   loader,
		settings: settings,
		bus:      bus,
		log:      zap.NewNop(),
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.settings == nil {
		s.settings = NewSettingsService("", s.log)
	}
	return s
}

// Create opens a session on a stored map.
func (s *SessionService) Create(ctx context.Context, mapID string) (*Session, error) {
	if s.maps == nil {
		return nil, fmt.Errorf("%w: %q", ErrMapNotFound, mapID)
	}
	m, err := s.maps.Get(mapID)
	if err != nil {
		return nil, err
	}
	return s.Open(ctx, m, m.ID)
}

// Preview opens a session on a map built from the request.
func (s *SessionService) Preview(ctx context.Context, req PreviewRequest) (*Session, error) {
	if req.Data == "" && req.DataURL == "" {
		return nil, errors.New("preview needs data or dataUrl")
	}
	if req.DataFormat != "" {
		if _, err := resolveFormat(req.DataFormat, "", "", nil); err != nil {
			return nil, err
		}
	}
	return s.Open(ctx, req.MapConfig(), PreviewScope)
}

// Open loads every layer of m and starts a session. Browser settings are
// shared by sessions with the same scope.
func (s *SessionService) Open(ctx context.Context, m MapConfig, scope string) (*Session, error) {
	if err := Normalize(&m); err != nil {
		return nil, err
	}
	cam, err := m.Camera()
	if err != nil {
		return nil, err
	}
	layers, err := s.loader.LoadLayers(ctx, m)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	view := mapview.New(cam, m.Width, m.Height)
	ctrl := browser.NewController(view,
		browser.WithLogger(s.log.With(zap.String("session", id))),
		browser.WithSettings(s.settings.Scope(scope)),
		browser.WithRules(m.Rules()),
		browser.WithSettleDelay(s.settle),
	)
	for _, l := range layers {
		ctrl.AddLayer(l)
	}

	sess := &Session{
		ID:         id,
		MapID:      m.ID,
		Scope:      scope,
		Config:     m,
		Created:    time.Now(),
		Map:        view,
		Controller: ctrl,
	}
	sess.cancels = append(sess.cancels,
		view.OnMove(ctrl.ViewportMoved),
		ctrl.OnRender(func(browser.View) { s.publish("rendered", id) }),
	)
	if m.OnLoadPanel == PanelDataBrowser {
		ctrl.Open()
	}

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()

	s.log.Info("session opened",
		zap.String("session", id),
		zap.String("map", m.ID),
		zap.Int("layers", len(layers)),
	)
	s.publish("created", id)
	return sess, nil
}

// Get returns a session by id.
func (s *SessionService) Get(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSessionNotFound, id)
	}
	return sess, nil
}

// List returns the open sessions, oldest first.
func (s *SessionService) List() []*Session {
	s.mu.RLock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Created.Equal(out[j].Created) {
			return out[i].Created.Before(out[j].Created)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Delete closes a session.
func (s *SessionService) Delete(id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %q", ErrSessionNotFound, id)
	}
	sess.close()
	s.publish("deleted", id)
	return nil
}

// Close closes every session.
func (s *SessionService) Close() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.close()
	}
}

// ReloadFile reloads every open layer backed by the named source file and
// returns how many layers were refreshed. Layers whose reload fails keep
// their features.
func (s *SessionService) ReloadFile(ctx context.Context, name string) int {
	n := 0
	for _, sess := range s.List() {
		for _, cfg := range sess.Config.Layers {
			if cfg.Source.File != name {
				continue
			}
			layer, ok := sess.Controller.Layer(cfg.ID)
			if !ok {
				continue
			}
			features, err := s.loader.Load(ctx, cfg.Source)
			if err != nil {
				s.log.Warn("source reload failed",
					zap.String("session", sess.ID),
					zap.String("file", name),
					zap.Error(err),
				)
				continue
			}
			layer.Reset(features)
			n++
		}
	}
	if n > 0 {
		s.log.Info("source reloaded", zap.String("file", name), zap.Int("layers", n))
		if s.bus != nil {
			s.bus.Publish(Event{Resource: ResourceSources, Action: "reloaded", ID: name})
		}
	}
	return n
}

func (s *SessionService) publish(action, id string) {
	if s.bus != nil {
		s.bus.Publish(Event{Resource: ResourceSessions, Action: action, ID: id})
	}
}
