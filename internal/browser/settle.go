package browser

import (
	"sync"
	"time"

	"github.com/paulmach/orb"
)

// Settler debounces viewport moves. Each Moved call supersedes the previous
// one; fn only ever sees the bound of the last move once the map has been
// still for the delay. With a zero delay fn runs synchronously.
type Settler struct {
	delay time.Duration
	fn    func(orb.Bound)

	mu      sync.Mutex
	gen     uint64
	timer   *time.Timer
	stopped bool
}

// NewSettler creates a settler that calls fn with settled bounds.
// fn must not call Moved.
func NewSettler(delay time.Duration, fn func(orb.Bound)) *Settler {
	return &Settler{delay: delay, fn: fn}
}

// Moved records a new viewport.
func (s *Settler) Moved(b orb.Bound) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.delay <= 0 {
		s.fn(b)
		return
	}

	gen := s.gen
	s.timer = time.AfterFunc(s.delay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.stopped || gen != s.gen {
			return
		}
		s.timer = nil
		s.fn(b)
	})
}

// Pending reports whether a move is waiting to settle.
func (s *Settler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

// Stop cancels any pending move. Later moves are ignored.
func (s *Settler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
