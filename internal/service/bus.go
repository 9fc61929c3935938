package service

import "sync"

// Resources published on the bus.
const (
	ResourceMaps     = "maps"
	ResourceSessions = "sessions"
	ResourceSources  = "sources"
)

// Event is a change notification.
type Event struct {
	Resource string // ResourceMaps, ResourceSessions, ResourceSources
	Action   string // e.g. "created", "rendered", "reloaded"
	ID       string
}

// Subscription receives the events it asked for on C.
type Subscription struct {
	C       <-chan Event
	ch      chan Event
	filter  map[string]bool
	session string
}

func (s *Subscription) wants(e Event) bool {
	if len(s.filter) > 0 && !s.filter[e.Resource] {
		return false
	}
	return s.session == "" || e.Resource != ResourceSessions || e.ID == s.session
}

// EventBus is a fan-out pub/sub. Slow subscribers miss events rather than
// blocking publishers.
type EventBus struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

// NewEventBus creates an event bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[*Subscription]struct{})}
}

// Publish sends an event to all interested subscribers without blocking.
func (b *EventBus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		if !sub.wants(e) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
		}
	}
}

// Subscribe returns a subscription to the given resources (all when none).
func (b *EventBus) Subscribe(resources ...string) *Subscription {
	return b.subscribe("", resources)
}

// SubscribeSession returns a subscription to one session's events.
func (b *EventBus) SubscribeSession(id string) *Subscription {
	return b.subscribe(id, []string{ResourceSessions})
}

func (b *EventBus) subscribe(session string, resources []string) *Subscription {
	ch := make(chan Event, 16)
	sub := &Subscription{C: ch, ch: ch, session: session}
	if len(resources) > 0 {
		sub.filter = make(map[string]bool, len(resources))
		for _, r := range resources {
			sub.filter[r] = true
		}
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *EventBus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	close(sub.ch)
}
