package browser

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"go.uber.org/zap"
)

// MapView is the map rendering collaborator.
type MapView interface {
	// Bound returns the current viewport.
	Bound() orb.Bound
	// SetVisible shows or hides the marker or shape drawn for f.
	SetVisible(layerID string, f *Feature, visible bool)
	// OpenPopup selects f and opens its info popup.
	OpenPopup(layerID string, f *Feature)
}

// SettingsStore persists the viewport restriction across panel close and
// reopen.
type SettingsStore interface {
	ViewportRestricted() bool
	SetViewportRestricted(bool)
}

// Row is one rendered list entry.
type Row struct {
	Layer string `json:"layer" doc:"Data layer id"`
	ID    string `json:"id" doc:"Feature id"`
	Label string `json:"label" doc:"Derived label"`
	Color string `json:"color" doc:"Resolved colour name" example:"DarkRed"`
	CSS   string `json:"css" doc:"Resolved colour as CSS" example:"rgb(139, 0, 0)"`
}

// Section is a data layer header and its visible rows.
type Section struct {
	Layer     string `json:"layer" doc:"Data layer id"`
	Name      string `json:"name" doc:"Data layer name"`
	Displayed bool   `json:"displayed" doc:"Whether the layer is drawn on the map"`
	Total     int    `json:"total" doc:"Features in the layer"`
	Visible   int    `json:"visible" doc:"Features passing the filters"`
	Count     string `json:"count" doc:"Count indicator" example:"1/3"`
	Rows      []Row  `json:"rows" doc:"Visible features in natural order"`
}

// Title is the tooltip of the count indicator.
func (s Section) Title() string {
	return "Features in this layer: " + s.Count
}

// View is the rendered state of the panel.
type View struct {
	Open     bool        `json:"open" doc:"Whether the panel is open"`
	Filter   FilterState `json:"filter"`
	Bound    orb.Bound   `json:"bound" doc:"Viewport the list was computed against"`
	Sections []Section   `json:"sections" doc:"One section per browsable layer"`
}

// Rows flattens every section.
func (v View) Rows() []Row {
	var rows []Row
	for _, s := range v.Sections {
		rows = append(rows, s.Rows...)
	}
	return rows
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Controller) { c.log = log }
}

// WithSettings sets where the viewport restriction is kept.
func WithSettings(s SettingsStore) Option {
	return func(c *Controller) { c.settings = s }
}

// WithRules sets the map label and colour rules.
func WithRules(r Rules) Option {
	return func(c *Controller) { c.rules = r }
}

// WithSettleDelay debounces viewport moves by d.
func WithSettleDelay(d time.Duration) Option {
	return func(c *Controller) { c.settleDelay = d }
}

type shapeKey struct {
	layer string
	id    string
}

type shape struct {
	feature *Feature
	visible bool
}

type layerCount struct {
	visible, total int
}

// Controller keeps the browser list and the map in sync. Every input
// (query, viewport, toggle, layer mutation) triggers a full recomputation;
// the map only receives the decisions that changed.
type Controller struct {
	engine      Engine
	view        MapView
	settings    SettingsStore
	log         *zap.Logger
	settleDelay time.Duration
	settler     *Settler

	ids *idSpace

	mu        sync.Mutex
	rules     Rules
	layers    []*DataLayer
	displayed map[string]bool
	cancels   map[string]func()
	open      bool
	state     FilterState
	bound     orb.Bound
	shapes    map[shapeKey]*shape
	counts    map[string]layerCount
	current   View
	renders   map[int]func(View)
	nextRend  int
}

// NewController creates a controller drawing onto view.
func NewController(view MapView, opts ...Option) *Controller {
	c := &Controller{
		view:      view,
		ids:       newIDSpace(),
		log:       zap.NewNop(),
		displayed: make(map[string]bool),
		cancels:   make(map[string]func()),
		shapes:    make(map[shapeKey]*shape),
		counts:    make(map[string]layerCount),
		renders:   make(map[int]func(View)),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.settings == nil {
		c.settings = &MemorySettings{}
	}
	c.rules.Color.Default = firstNonEmpty(c.rules.Color.Default, DefaultColor)
	c.bound = view.Bound()
	c.settler = NewSettler(c.settleDelay, c.ViewportSettled)
	return c
}

// AddLayer starts browsing l. Its features are drawn when DisplayOnLoad is set.
// Feature ids that an earlier layer already uses are qualified as "layer:id".
func (c *Controller) AddLayer(l *DataLayer) {
	c.mu.Lock()
	if _, exists := c.cancels[l.ID]; exists {
		c.mu.Unlock()
		return
	}
	l.join(c.ids)
	c.layers = append(c.layers, l)
	c.displayed[l.ID] = l.Settings.DisplayOnLoad
	c.cancels[l.ID] = func() {}
	c.mu.Unlock()

	cancel := l.Observe(func(Change) { c.refresh() })

	c.mu.Lock()
	c.cancels[l.ID] = cancel
	c.mu.Unlock()

	c.refresh()
}

// RemoveLayer stops browsing a layer and hides its shapes.
func (c *Controller) RemoveLayer(id string) error {
	c.mu.Lock()
	idx := -1
	for i, l := range c.layers {
		if l.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrLayerNotFound, id)
	}
	removed := c.layers[idx]
	c.layers = append(c.layers[:idx], c.layers[idx+1:]...)
	removed.leave(c.ids)
	cancel := c.cancels[id]
	delete(c.cancels, id)
	delete(c.displayed, id)
	delete(c.counts, id)
	c.mu.Unlock()

	cancel()
	c.refresh()
	return nil
}

// Layer returns a browsed layer.
func (c *Controller) Layer(id string) (*DataLayer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, l := range c.layers {
		if l.ID == id {
			return l, true
		}
	}
	return nil, false
}

// Layers returns the browsed layers in the order they were added.
func (c *Controller) Layers() []*DataLayer {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*DataLayer, len(c.layers))
	copy(out, c.layers)
	return out
}

// ShowLayer draws a layer that was not displayed on load.
func (c *Controller) ShowLayer(id string) error {
	return c.setDisplayed(id, true)
}

// HideLayer stops drawing a layer. It keeps its header in the list.
func (c *Controller) HideLayer(id string) error {
	return c.setDisplayed(id, false)
}

func (c *Controller) setDisplayed(id string, on bool) error {
	c.mu.Lock()
	if _, ok := c.displayed[id]; !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrLayerNotFound, id)
	}
	c.displayed[id] = on
	c.mu.Unlock()

	c.refresh()
	return nil
}

// Open opens the panel. The viewport restriction is restored from the
// settings store; the text query always starts empty.
func (c *Controller) Open() {
	c.mu.Lock()
	c.open = true
	c.state = FilterState{ViewportRestricted: c.settings.ViewportRestricted()}
	c.mu.Unlock()

	c.refresh()
}

// Close closes the panel. While closed no filter applies to the map.
func (c *Controller) Close() {
	c.mu.Lock()
	c.open = false
	c.state.TextQuery = ""
	c.mu.Unlock()

	c.refresh()
}

// IsOpen reports whether the panel is open.
func (c *Controller) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// State returns the current filter state.
func (c *Controller) State() FilterState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetQuery sets the text filter.
func (c *Controller) SetQuery(q string) {
	c.mu.Lock()
	c.state.TextQuery = q
	c.mu.Unlock()

	c.refresh()
}

// SetViewportRestricted turns the "current map view" filter on or off and
// persists the choice.
func (c *Controller) SetViewportRestricted(on bool) {
	c.mu.Lock()
	c.state.ViewportRestricted = on
	c.settings.SetViewportRestricted(on)
	c.mu.Unlock()

	c.refresh()
}

// ToggleViewportRestricted flips the viewport filter and returns the new value.
func (c *Controller) ToggleViewportRestricted() bool {
	on := !c.State().ViewportRestricted
	c.SetViewportRestricted(on)
	return on
}

// ViewportMoved reports a viewport change in progress. The list follows
// once the map settles.
func (c *Controller) ViewportMoved(b orb.Bound) {
	c.settler.Moved(b)
}

// ViewportSettled applies a final viewport immediately.
func (c *Controller) ViewportSettled(b orb.Bound) {
	c.mu.Lock()
	c.bound = b
	c.mu.Unlock()

	c.log.Debug("viewport settled", zap.Any("bound", b))
	c.refresh()
}

// SetRules replaces the label and colour rules.
func (c *Controller) SetRules(r Rules) {
	r.Color.Default = firstNonEmpty(r.Color.Default, DefaultColor)
	c.mu.Lock()
	c.rules = r
	c.mu.Unlock()

	c.refresh()
}

// Rules returns the label and colour rules.
func (c *Controller) Rules() Rules {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rules
}

// Select opens the popup of a feature.
func (c *Controller) Select(featureID string) error {
	l, f, err := c.find(featureID)
	if err != nil {
		return err
	}
	c.view.OpenPopup(l.ID, f)
	return nil
}

// Delete removes a feature from its layer. The list is redrawn through the
// layer observer, as for any other edit.
func (c *Controller) Delete(featureID string) error {
	l, _, err := c.find(featureID)
	if err != nil {
		return err
	}
	return l.Remove(featureID)
}

// CancelEdits restores pending deletes in every layer.
func (c *Controller) CancelEdits() int {
	n := 0
	for _, l := range c.Layers() {
		n += l.CancelEdits()
	}
	return n
}

// SaveEdits commits pending deletes in every layer.
func (c *Controller) SaveEdits() int {
	n := 0
	for _, l := range c.Layers() {
		n += l.SaveEdits()
	}
	return n
}

// Pending returns the number of deletes that can still be cancelled.
func (c *Controller) Pending() int {
	n := 0
	for _, l := range c.Layers() {
		n += l.Pending()
	}
	return n
}

// IsVisible reports the last decision for a feature.
func (c *Controller) IsVisible(featureID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, s := range c.shapes {
		if key.id == featureID {
			return s.visible
		}
	}
	return false
}

// Counts returns the visible and total feature counts of a layer.
func (c *Controller) Counts(layerID string) (visible, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	lc := c.counts[layerID]
	return lc.visible, lc.total
}

// View returns the latest rendered state.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// OnRender calls fn with every new view and returns a function that
// unregisters it.
func (c *Controller) OnRender(fn func(View)) (cancel func()) {
	c.mu.Lock()
	id := c.nextRend
	c.nextRend++
	c.renders[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.renders, id)
		c.mu.Unlock()
	}
}

// Stop detaches from every layer and drops pending viewport moves.
func (c *Controller) Stop() {
	c.settler.Stop()

	c.mu.Lock()
	cancels := make([]func(), 0, len(c.cancels))
	for _, cancel := range c.cancels {
		cancels = append(cancels, cancel)
	}
	c.cancels = make(map[string]func())
	c.renders = make(map[int]func(View))
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

func (c *Controller) find(featureID string) (*DataLayer, *Feature, error) {
	for _, l := range c.Layers() {
		if f, ok := l.Get(featureID); ok {
			return l, f, nil
		}
	}
	return nil, nil, fmt.Errorf("%w: %q", ErrFeatureNotFound, featureID)
}

func (c *Controller) refresh() {
	c.mu.Lock()
	view := c.recomputeLocked()
	c.current = view
	ids := make([]int, 0, len(c.renders))
	for id := range c.renders {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(View), len(ids))
	for i, id := range ids {
		fns[i] = c.renders[id]
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(view)
	}
}

// recomputeLocked decides every feature of every layer from scratch and
// pushes changed decisions to the map.
func (c *Controller) recomputeLocked() View {
	effective := FilterState{}
	if c.open {
		effective = c.state
	}
	filtered := effective.Active()

	view := View{Open: c.open, Filter: c.state, Bound: c.bound}
	seen := make(map[shapeKey]bool)
	shown := 0

	for _, l := range c.layers {
		entries := l.Entries(c.rules)
		displayed := c.displayed[l.ID]
		browsable := l.Settings.Browsable

		var decisions []bool
		if browsable {
			decisions = c.engine.Evaluate(entries, effective, c.bound)
		}

		sec := Section{
			Layer:     l.ID,
			Name:      l.Settings.Name,
			Displayed: displayed,
			Total:     len(entries),
			Rows:      []Row{},
		}
		visibleCount := 0
		for i, e := range entries {
			visible := displayed && (!browsable || decisions[i])
			key := shapeKey{layer: l.ID, id: e.Feature.ID}
			seen[key] = true
			c.push(key, e.Feature, visible)
			if !visible {
				continue
			}
			shown++
			visibleCount++
			if browsable {
				sec.Rows = append(sec.Rows, Row{
					Layer: l.ID,
					ID:    e.Feature.ID,
					Label: e.Label,
					Color: e.Color.Name,
					CSS:   e.Color.CSS(),
				})
			}
		}
		sec.Visible = visibleCount
		sec.Count = CountIndicator(visibleCount, sec.Total, filtered && displayed && browsable)
		c.counts[l.ID] = layerCount{visible: visibleCount, total: sec.Total}

		if browsable && c.open {
			view.Sections = append(view.Sections, sec)
		}
	}

	for key, s := range c.shapes {
		if seen[key] {
			continue
		}
		if s.visible {
			c.view.SetVisible(key.layer, s.feature, false)
		}
		delete(c.shapes, key)
	}

	c.log.Debug("browser recomputed",
		zap.Bool("open", c.open),
		zap.String("query", effective.TextQuery),
		zap.Bool("viewportRestricted", effective.ViewportRestricted),
		zap.Int("shown", shown),
	)
	return view
}

func (c *Controller) push(key shapeKey, f *Feature, visible bool) {
	s, ok := c.shapes[key]
	if ok && s.visible == visible && s.feature == f {
		return
	}
	if !ok {
		s = &shape{}
		c.shapes[key] = s
	}
	s.feature = f
	s.visible = visible
	c.view.SetVisible(key.layer, f, visible)
}

// MemorySettings is a SettingsStore kept for the life of the controller.
type MemorySettings struct {
	mu         sync.Mutex
	restricted bool
}

// ViewportRestricted returns the last value set, false initially.
func (m *MemorySettings) ViewportRestricted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.restricted
}

// SetViewportRestricted stores on for the life of the value.
func (m *MemorySettings) SetViewportRestricted(on bool) {
	m.mu.Lock()
	m.restricted = on
	m.mu.Unlock()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
