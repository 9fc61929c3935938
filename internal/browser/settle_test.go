package browser

import (
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestSettlerKeepsOnlyLastMove(t *testing.T) {
	defer goleak.VerifyNone(t)

	var mu sync.Mutex
	var got []orb.Bound
	done := make(chan struct{}, 4)
	s := NewSettler(20*time.Millisecond, func(b orb.Bound) {
		mu.Lock()
		got = append(got, b)
		mu.Unlock()
		done <- struct{}{}
	})
	defer s.Stop()

	for i := 1; i <= 3; i++ {
		s.Moved(orb.Bound{Max: orb.Point{float64(i), float64(i)}})
	}
	assert.True(t, s.Pending())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("settler never fired")
	}
	time.Sleep(60 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, orb.Point{3, 3}, got[0].Max)
	assert.False(t, s.Pending())
}

func TestSettlerZeroDelayIsSynchronous(t *testing.T) {
	var got orb.Bound
	s := NewSettler(0, func(b orb.Bound) { got = b })
	b := orb.Bound{Max: orb.Point{1, 2}}
	s.Moved(b)
	assert.Equal(t, b, got)
}

func TestSettlerStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	fired := make(chan struct{}, 1)
	s := NewSettler(10*time.Millisecond, func(orb.Bound) { fired <- struct{}{} })
	s.Moved(orb.Bound{})
	s.Stop()
	s.Moved(orb.Bound{})

	select {
	case <-fired:
		t.Fatal("stopped settler fired")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestControllerFastZoomEndsOnLastBound(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := newFakeMap(europe)
	c := NewController(m, WithSettleDelay(15*time.Millisecond))
	defer c.Stop()
	c.AddLayer(testLayer(t))
	c.Open()
	c.SetViewportRestricted(true)
	require.Equal(t, []string{"one point in france"}, labels(c.View()))

	rendered := make(chan View, 8)
	cancel := c.OnRender(func(v View) { rendered <- v })
	defer cancel()

	c.ViewportMoved(world)
	c.ViewportMoved(northWest)
	c.ViewportMoved(europe)
	c.ViewportMoved(northWest)

	select {
	case v := <-rendered:
		assert.Equal(t, northWest, v.Bound)
		assert.Equal(t, []string{"one point in france", "one polygon in greenland"}, labels(v))
	case <-time.After(2 * time.Second):
		t.Fatal("viewport never settled")
	}

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, rendered, "superseded moves must not render")
}
