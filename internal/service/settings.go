package service

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/joeblew999/plat-browse/internal/browser"
)

// BrowserSettings are the browser preferences kept per map.
type BrowserSettings struct {
	ViewportRestricted bool `json:"viewportRestricted" doc:"Only list features in the current map view"`
}

// SettingsService keeps browser preferences per scope (a map id) in
// settings.json, so they survive closing the panel, new sessions and
// restarts. An empty dataDir keeps them in memory only.
type SettingsService struct {
	dataDir  string
	log      *zap.Logger
	mu       sync.RWMutex
	settings map[string]BrowserSettings
}

// NewSettingsService creates a settings service and loads settings.json.
func NewSettingsService(dataDir string, log *zap.Logger) *SettingsService {
	if log == nil {
		log = zap.NewNop()
	}
	s := &SettingsService{
		dataDir:  dataDir,
		log:      log,
		settings: make(map[string]BrowserSettings),
	}
	s.loadFromDisk()
	return s
}

// Get returns the settings of a scope.
func (s *SettingsService) Get(scope string) BrowserSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings[scope]
}

// Set replaces the settings of a scope and persists them. Write failures are
// logged; the in-memory value still applies.
func (s *SettingsService) Set(scope string, v BrowserSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.settings[scope]; ok && cur == v {
		return
	}
	s.settings[scope] = v
	if err := s.saveToDisk(); err != nil {
		s.log.Warn("browser settings not saved", zap.String("scope", scope), zap.Error(err))
	}
}

// Scope returns a browser.SettingsStore bound to one scope.
func (s *SettingsService) Scope(scope string) browser.SettingsStore {
	return scopedSettings{svc: s, scope: scope}
}

type scopedSettings struct {
	svc   *SettingsService
	scope string
}

func (s scopedSettings) ViewportRestricted() bool {
	return s.svc.Get(s.scope).ViewportRestricted
}

func (s scopedSettings) SetViewportRestricted(on bool) {
	v := s.svc.Get(s.scope)
	v.ViewportRestricted = on
	s.svc.Set(s.scope, v)
}

func (s *SettingsService) configFile() string {
	return filepath.Join(s.dataDir, "settings.json")
}

func (s *SettingsService) loadFromDisk() {
	if s.dataDir == "" {
		return
	}
	data, err := os.ReadFile(s.configFile())
	if err != nil {
		return
	}
	var settings map[string]BrowserSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		s.log.Warn("ignoring unreadable settings", zap.Error(err))
		return
	}
	if settings != nil {
		s.settings = settings
	}
}

func (s *SettingsService) saveToDisk() error {
	if s.dataDir == "" {
		return nil
	}
	if err := os.MkdirAll(s.dataDir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s.settings, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.configFile(), data, 0644)
}
