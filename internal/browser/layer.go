package browser

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrFeatureNotFound is returned for an unknown feature id.
	ErrFeatureNotFound = errors.New("feature not found")
	// ErrLayerNotFound is returned for an unknown data layer id.
	ErrLayerNotFound = errors.New("layer not found")
)

// LayerSettings are the display settings carried by a data layer.
type LayerSettings struct {
	Name          string
	DisplayOnLoad bool
	Browsable     bool
	// LabelKey and Color override the map rules when set.
	LabelKey string
	Color    string
}

// ChangeKind says what happened to a layer's features.
type ChangeKind int

const (
	FeatureAdded ChangeKind = iota
	FeatureRemoved
	FeatureRestored
	EditsSaved
	LayerReset
)

func (k ChangeKind) String() string {
	switch k {
	case FeatureAdded:
		return "added"
	case FeatureRemoved:
		return "removed"
	case FeatureRestored:
		return "restored"
	case EditsSaved:
		return "saved"
	case LayerReset:
		return "reset"
	}
	return "unknown"
}

// Change is delivered to layer observers after every mutation.
type Change struct {
	Layer     string
	Kind      ChangeKind
	FeatureID string
}

// Entry is a feature with its derived label and colour.
type Entry struct {
	Layer   string
	Feature *Feature
	Label   string
	Color   Swatch
}

type removal struct {
	feature *Feature
	pos     int
}

// DataLayer is the feature index for one data layer. It keeps insertion
// order, remembers pending deletes so they can be cancelled, and notifies
// observers synchronously after each mutation.
//
// Feature ids are unique within the layer and, once the layer is browsed by a
// Controller, across all of that controller's layers. A loaded feature whose
// id is already taken is stored under "layer:id" (or "layer:id~N").
type DataLayer struct {
	ID       string
	Settings LayerSettings

	mu        sync.RWMutex
	order     []*Feature
	byID      map[string]*Feature
	pending   []removal
	space     *idSpace
	observers map[int]func(Change)
	nextObs   int
}

// NewDataLayer creates an empty layer.
func NewDataLayer(id string, settings LayerSettings) *DataLayer {
	return &DataLayer{
		ID:        id,
		Settings:  settings,
		byID:      make(map[string]*Feature),
		observers: make(map[int]func(Change)),
	}
}

// Add appends a feature. Adding an id that already exists in this layer is
// an error; an id owned by another layer of the same controller is
// qualified with the layer id.
func (l *DataLayer) Add(f *Feature) error {
	l.mu.Lock()
	if l.ownsLocked(f.ID) {
		l.mu.Unlock()
		return fmt.Errorf("feature %q already in layer %q", f.ID, l.ID)
	}
	f = l.claimLocked(f)
	l.order = append(l.order, f)
	l.mu.Unlock()

	l.notify(Change{Layer: l.ID, Kind: FeatureAdded, FeatureID: f.ID})
	return nil
}

// Remove deletes a feature and records it as a pending edit.
func (l *DataLayer) Remove(id string) error {
	l.mu.Lock()
	f, ok := l.byID[id]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrFeatureNotFound, id)
	}
	pos := l.indexOf(id)
	l.order = append(l.order[:pos], l.order[pos+1:]...)
	delete(l.byID, id)
	l.pending = append(l.pending, removal{feature: f, pos: pos})
	l.mu.Unlock()

	l.notify(Change{Layer: l.ID, Kind: FeatureRemoved, FeatureID: id})
	return nil
}

// CancelEdits restores every pending delete at its original position and
// returns how many features came back.
func (l *DataLayer) CancelEdits() int {
	l.mu.Lock()
	restored := make([]string, 0, len(l.pending))
	for i := len(l.pending) - 1; i >= 0; i-- {
		r := l.pending[i]
		pos := min(r.pos, len(l.order))
		l.order = append(l.order, nil)
		copy(l.order[pos+1:], l.order[pos:])
		l.order[pos] = r.feature
		l.byID[r.feature.ID] = r.feature
		restored = append(restored, r.feature.ID)
	}
	l.pending = nil
	l.mu.Unlock()

	for _, id := range restored {
		l.notify(Change{Layer: l.ID, Kind: FeatureRestored, FeatureID: id})
	}
	return len(restored)
}

// SaveEdits forgets pending deletes; they can no longer be cancelled.
func (l *DataLayer) SaveEdits() int {
	l.mu.Lock()
	n := len(l.pending)
	if l.space != nil {
		for _, r := range l.pending {
			l.space.release(r.feature.ID)
		}
	}
	l.pending = nil
	l.mu.Unlock()

	if n > 0 {
		l.notify(Change{Layer: l.ID, Kind: EditsSaved})
	}
	return n
}

// Pending returns the number of deletes that CancelEdits would restore.
func (l *DataLayer) Pending() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.pending)
}

// Reset replaces every feature, dropping pending edits. Repeated ids are
// kept under a qualified id rather than dropped.
func (l *DataLayer) Reset(features []*Feature) {
	l.mu.Lock()
	if l.space != nil {
		l.space.releaseLayer(l.ID)
	}
	l.order = make([]*Feature, 0, len(features))
	l.byID = make(map[string]*Feature, len(features))
	l.pending = nil
	for _, f := range features {
		l.order = append(l.order, l.claimLocked(f))
	}
	l.mu.Unlock()

	l.notify(Change{Layer: l.ID, Kind: LayerReset})
}

// Get returns a feature by id.
func (l *DataLayer) Get(id string) (*Feature, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	f, ok := l.byID[id]
	return f, ok
}

// Len returns the number of features.
func (l *DataLayer) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.order)
}

// Features returns the features in insertion order.
func (l *DataLayer) Features() []*Feature {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Feature, len(l.order))
	copy(out, l.order)
	return out
}

// Entries derives labels and colours with the given map rules (layer
// overrides applied) and returns them in natural label order.
func (l *DataLayer) Entries(rules Rules) []Entry {
	rules = rules.merge(l.Settings)
	features := l.Features()

	entries := make([]Entry, len(features))
	for i, f := range features {
		entries[i] = Entry{
			Layer:   l.ID,
			Feature: f,
			Label:   rules.Label.Label(f),
			Color:   rules.Color.Color(f),
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if c := naturalCompare(entries[i].Label, entries[j].Label); c != 0 {
			return c < 0
		}
		return entries[i].Feature.ID < entries[j].Feature.ID
	})
	return entries
}

// Observe registers fn for every future change and returns a function that
// removes it. fn runs on the mutating goroutine after the layer is unlocked.
func (l *DataLayer) Observe(fn func(Change)) (cancel func()) {
	l.mu.Lock()
	id := l.nextObs
	l.nextObs++
	l.observers[id] = fn
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.observers, id)
		l.mu.Unlock()
	}
}

func (l *DataLayer) notify(c Change) {
	l.mu.RLock()
	ids := make([]int, 0, len(l.observers))
	for id := range l.observers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Change), len(ids))
	for i, id := range ids {
		fns[i] = l.observers[id]
	}
	l.mu.RUnlock()

	for _, fn := range fns {
		fn(c)
	}
}

// join moves the layer into a controller's id space, qualifying the ids
// that another layer already owns.
func (l *DataLayer) join(space *idSpace) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.space == space {
		return
	}
	if l.space != nil {
		l.space.releaseLayer(l.ID)
	}
	l.space = space

	features := l.order
	pending := l.pending
	l.byID = make(map[string]*Feature, len(features))
	l.order = make([]*Feature, 0, len(features))
	l.pending = nil
	for _, f := range features {
		l.order = append(l.order, l.claimLocked(f))
	}
	for _, r := range pending {
		f := l.claimLocked(r.feature)
		delete(l.byID, f.ID)
		l.pending = append(l.pending, removal{feature: f, pos: r.pos})
	}
}

func (l *DataLayer) leave(space *idSpace) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.space == space {
		space.releaseLayer(l.ID)
		l.space = nil
	}
}

// ownsLocked reports whether id is indexed or pending in this layer.
func (l *DataLayer) ownsLocked(id string) bool {
	if _, ok := l.byID[id]; ok {
		return true
	}
	for _, r := range l.pending {
		if r.feature.ID == id {
			return true
		}
	}
	return false
}

func (l *DataLayer) takenLocked(id string) bool {
	return l.ownsLocked(id) || (l.space != nil && l.space.takenByOther(id, l.ID))
}

// claimLocked indexes f under a free id, copying it when the id changes.
func (l *DataLayer) claimLocked(f *Feature) *Feature {
	if l.takenLocked(f.ID) {
		f = f.withID(qualifiedID(l.ID, f.SourceID(), l.takenLocked))
	}
	l.byID[f.ID] = f
	if l.space != nil {
		l.space.claim(f.ID, l.ID)
	}
	return f
}

func (l *DataLayer) indexOf(id string) int {
	for i, f := range l.order {
		if f.ID == id {
			return i
		}
	}
	return -1
}
