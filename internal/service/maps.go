package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var (
	// ErrMapNotFound is returned for an unknown map id.
	ErrMapNotFound = errors.New("map not found")
	// ErrMapExists is returned when creating a map whose id is taken.
	ErrMapExists = errors.New("map already exists")
)

// MapService manages map configurations, persisted in maps.json.
type MapService struct {
	dataDir string
	log     *zap.Logger
	bus     *EventBus
	maps    map[string]MapConfig
	mu      sync.RWMutex
}

// NewMapService creates a map service and loads maps.json from dataDir.
// bus may be nil.
func NewMapService(dataDir string, bus *EventBus, log *zap.Logger) *MapService {
	if log == nil {
		log = zap.NewNop()
	}
	s := &MapService{
		dataDir: dataDir,
		log:     log,
		bus:     bus,
		maps:    make(map[string]MapConfig),
	}
	s.loadFromDisk()
	return s
}

// List returns every map, ordered by id.
func (s *MapService) List() []MapConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]MapConfig, 0, len(s.maps))
	for _, m := range s.maps {
		result = append(result, m)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Get returns a map by ID.
func (s *MapService) Get(id string) (MapConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.maps[id]
	if !ok {
		return MapConfig{}, fmt.Errorf("%w: %q", ErrMapNotFound, id)
	}
	return m, nil
}

// Create adds a map. The id is generated from the name when empty.
func (s *MapService) Create(m MapConfig) (MapConfig, error) {
	if err := Normalize(&m); err != nil {
		return MapConfig{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.maps[m.ID]; exists {
		return MapConfig{}, fmt.Errorf("%w: %q", ErrMapExists, m.ID)
	}

	s.maps[m.ID] = m
	if err := s.saveToDisk(); err != nil {
		delete(s.maps, m.ID)
		return MapConfig{}, err
	}
	s.publish("created", m.ID)
	return m, nil
}

// Update replaces a map by ID.
func (s *MapService) Update(id string, m MapConfig) (MapConfig, error) {
	m.ID = id
	if err := Normalize(&m); err != nil {
		return MapConfig{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old, exists := s.maps[id]
	if !exists {
		return MapConfig{}, fmt.Errorf("%w: %q", ErrMapNotFound, id)
	}

	s.maps[id] = m
	if err := s.saveToDisk(); err != nil {
		s.maps[id] = old
		return MapConfig{}, err
	}
	s.publish("updated", id)
	return m, nil
}

// Delete removes a map by ID.
func (s *MapService) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.maps[id]; !exists {
		return fmt.Errorf("%w: %q", ErrMapNotFound, id)
	}

	delete(s.maps, id)
	if err := s.saveToDisk(); err != nil {
		return err
	}
	s.publish("deleted", id)
	return nil
}

func (s *MapService) publish(action, id string) {
	if s.bus != nil {
		s.bus.Publish(Event{Resource: "maps", Action: action, ID: id})
	}
}

func (s *MapService) configFile() string {
	return filepath.Join(s.dataDir, "maps.json")
}

func (s *MapService) loadFromDisk() {
	data, err := os.ReadFile(s.configFile())
	if err != nil {
		return // first run
	}

	var maps map[string]MapConfig
	if err := json.Unmarshal(data, &maps); err != nil {
		s.log.Warn("ignoring unreadable map store", zap.String("path", s.configFile()), zap.Error(err))
		return
	}
	if maps != nil {
		s.maps = maps
	}
}

func (s *MapService) saveToDisk() error {
	if err := os.MkdirAll(s.dataDir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s.maps, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(s.configFile(), data, 0644)
}

// Normalize fills in generated ids and checks a map before it is stored or
// opened: the view must parse and layer ids must be unique.
func Normalize(m *MapConfig) error {
	if strings.TrimSpace(m.Name) == "" {
		return errors.New("map name is required")
	}
	if m.ID == "" {
		m.ID = generateID(m.Name)
	}
	if m.ID == "" {
		return fmt.Errorf("cannot derive an id from map name %q", m.Name)
	}
	if _, err := m.Camera(); err != nil {
		return err
	}

	seen := make(map[string]bool, len(m.Layers))
	for i := range m.Layers {
		l := &m.Layers[i]
		if l.ID == "" {
			l.ID = uniqueID(generateID(l.Name), seen)
		}
		if seen[l.ID] {
			return fmt.Errorf("duplicate layer id %q in map %q", l.ID, m.ID)
		}
		seen[l.ID] = true
	}
	return nil
}

func uniqueID(base string, seen map[string]bool) string {
	if base == "" {
		base = "layer"
	}
	id := base
	for n := 2; seen[id]; n++ {
		id = fmt.Sprintf("%s_%d", base, n)
	}
	return id
}

// LoadMapFile reads a YAML (or JSON) map file and normalizes it.
func LoadMapFile(path string) (MapConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return MapConfig{}, fmt.Errorf("read map file: %w", err)
	}
	m, err := ParseMapFile(data)
	if err != nil {
		return MapConfig{}, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// ParseMapFile decodes a YAML map document. Unknown keys are errors.
func ParseMapFile(data []byte) (MapConfig, error) {
	var m MapConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return MapConfig{}, fmt.Errorf("decode map: %w", err)
	}
	if err := Normalize(&m); err != nil {
		return MapConfig{}, err
	}
	return m, nil
}

// generateID creates a URL-safe ID from a name.
func generateID(name string) string {
	id := strings.ToLower(strings.TrimSpace(name))
	id = strings.ReplaceAll(id, " ", "_")
	var result strings.Builder
	for _, r := range id {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			result.WriteRune(r)
		}
	}
	return result.String()
}
