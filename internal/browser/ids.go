package browser

import (
	"fmt"
	"sync"
)

// idSpace records which layer owns each feature id, so that ids stay unique
// across every layer of a controller.
type idSpace struct {
	mu    sync.Mutex
	owner map[string]string
}

func newIDSpace() *idSpace {
	return &idSpace{owner: make(map[string]string)}
}

// takenByOther reports whether id belongs to a layer other than layer.
func (s *idSpace) takenByOther(id, layer string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	owner, ok := s.owner[id]
	return ok && owner != layer
}

func (s *idSpace) claim(id, layer string) {
	s.mu.Lock()
	s.owner[id] = layer
	s.mu.Unlock()
}

func (s *idSpace) release(ids ...string) {
	s.mu.Lock()
	for _, id := range ids {
		delete(s.owner, id)
	}
	s.mu.Unlock()
}

func (s *idSpace) releaseLayer(layer string) {
	s.mu.Lock()
	for id, owner := range s.owner {
		if owner == layer {
			delete(s.owner, id)
		}
	}
	s.mu.Unlock()
}

// qualifiedID derives the replacement for a colliding id: "layer:id", then
// "layer:id~2", "layer:id~3" and so on until taken reports a free one.
func qualifiedID(layer, id string, taken func(string) bool) string {
	candidate := layer + ":" + id
	for n := 2; taken(candidate); n++ {
		candidate = fmt.Sprintf("%s:%s~%d", layer, id, n)
	}
	return candidate
}
