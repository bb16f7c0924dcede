package mapview

import (
	"sync"
	"testing"
	"time"

	"github.com/trailmark/backend/internal/cluster"
)

// fakeClock hands out timers that only fire when the test advances time.
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	deadline time.Duration
	fn       func()
	stopped  bool
}

func (t *fakeTimer) Stop() bool {
	stopped := t.stopped
	t.stopped = true
	return !stopped
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{deadline: d, fn: fn}
	c.timers = append(c.timers, t)
	return t
}

// fire runs every unstopped timer, simulating the debounce window elapsing.
func (c *fakeClock) fire() {
	c.mu.Lock()
	pending := c.timers
	c.timers = nil
	c.mu.Unlock()
	for _, t := range pending {
		if !t.stopped {
			t.fn()
		}
	}
}

func testViewport(zoom float64) Viewport {
	return Viewport{
		Bounds: cluster.Bounds{MinLng: -123, MinLat: 37, MaxLng: -122, MaxLat: 38},
		Zoom:   zoom,
	}
}

func TestTracker_CoalescesBurstIntoOnePublish(t *testing.T) {
	clock := &fakeClock{}
	current := testViewport(1)
	var published []Viewport

	tracker := NewTracker(DebounceWindow, clock,
		func() (Viewport, bool) { return current, true },
		func(vp Viewport) { published = append(published, vp) },
	)

	// A gesture: ten camera events in quick succession, camera state moving
	// the whole time.
	for i := 1; i <= 10; i++ {
		current = testViewport(float64(i))
		tracker.Observe()
	}
	clock.fire()

	if len(published) != 1 {
		t.Fatalf("published %d times, want 1", len(published))
	}
	if published[0].Zoom != 10 {
		t.Errorf("published zoom %v, want the final camera state 10", published[0].Zoom)
	}
}

func TestTracker_EachQuietWindowPublishes(t *testing.T) {
	clock := &fakeClock{}
	current := testViewport(3)
	var published []Viewport

	tracker := NewTracker(DebounceWindow, clock,
		func() (Viewport, bool) { return current, true },
		func(vp Viewport) { published = append(published, vp) },
	)

	tracker.Observe()
	clock.fire()
	current = testViewport(7)
	tracker.Observe()
	clock.fire()

	if len(published) != 2 {
		t.Fatalf("published %d times, want 2", len(published))
	}
	if published[0].Zoom != 3 || published[1].Zoom != 7 {
		t.Errorf("published zooms %v and %v, want 3 and 7", published[0].Zoom, published[1].Zoom)
	}
}

func TestTracker_SkipsUnreadyCamera(t *testing.T) {
	clock := &fakeClock{}
	ready := false
	var published int

	tracker := NewTracker(DebounceWindow, clock,
		func() (Viewport, bool) { return testViewport(5), ready },
		func(Viewport) { published++ },
	)

	tracker.Observe()
	clock.fire()
	if published != 0 {
		t.Fatalf("published %d times before the camera was ready", published)
	}

	ready = true
	tracker.Observe()
	clock.fire()
	if published != 1 {
		t.Errorf("published %d times after the camera became ready, want 1", published)
	}
}

func TestTracker_StopCancelsPending(t *testing.T) {
	clock := &fakeClock{}
	var published int

	tracker := NewTracker(DebounceWindow, clock,
		func() (Viewport, bool) { return testViewport(5), true },
		func(Viewport) { published++ },
	)

	tracker.Observe()
	tracker.Stop()
	clock.fire()

	if published != 0 {
		t.Errorf("published %d times after Stop, want 0", published)
	}

	// Observes after Stop are ignored.
	tracker.Observe()
	clock.fire()
	if published != 0 {
		t.Errorf("published %d times after post-Stop Observe, want 0", published)
	}
}

func TestViewport_Valid(t *testing.T) {
	if !testViewport(5).Valid() {
		t.Error("ordinary viewport reported invalid")
	}

	bad := testViewport(5)
	bad.Bounds.MinLng = bad.Bounds.MaxLng + 1
	if bad.Valid() {
		t.Error("inverted bounds reported valid")
	}
}
