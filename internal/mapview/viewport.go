package mapview

import (
	"math"
	"sync"
	"time"

	"github.com/trailmark/backend/internal/cluster"
)

// DebounceWindow is how long the camera must stay quiet before the tracker
// publishes. Map cameras emit events every frame during gestures; partitions
// recomputed at that rate would be wasted work.
const DebounceWindow = 100 * time.Millisecond

// Viewport is the stable (bounds, zoom) pair the pipeline consumes.
type Viewport struct {
	Bounds cluster.Bounds
	Zoom   float64
}

// Valid reports whether the viewport is publishable: finite zoom, ordered
// finite bounds.
func (v Viewport) Valid() bool {
	return v.Bounds.Valid() && !math.IsNaN(v.Zoom) && !math.IsInf(v.Zoom, 0)
}

// Clock abstracts timer creation so the debounce window is testable without
// real time.
type Clock interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

type Timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// SystemClock is the production Clock.
var SystemClock Clock = realClock{}

// BoundsReader reads the current camera state. ok is false while the map is
// not laid out yet; that is expected during mount and is skipped silently.
type BoundsReader func() (Viewport, bool)

// Tracker coalesces high-frequency camera events into low-frequency viewport
// publishes. Each Observe call restarts the debounce window; only after the
// window elapses untouched is the camera read and published. The tracker
// moves between three states: idle, pending (a timer is armed) and fired;
// a new Observe while pending cancels and re-arms.
type Tracker struct {
	mu      sync.Mutex
	clock   Clock
	window  time.Duration
	read    BoundsReader
	publish func(Viewport)
	pending Timer
	stopped bool
}

// NewTracker wires a tracker to a camera reader and a publish target.
// A nil clock uses real time.
func NewTracker(window time.Duration, clock Clock, read BoundsReader, publish func(Viewport)) *Tracker {
	if window <= 0 {
		window = DebounceWindow
	}
	if clock == nil {
		clock = SystemClock
	}
	return &Tracker{
		clock:   clock,
		window:  window,
		read:    read,
		publish: publish,
	}
}

// Observe records one raw camera event and restarts the debounce window.
func (t *Tracker) Observe() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	if t.pending != nil {
		t.pending.Stop()
	}
	t.pending = t.clock.AfterFunc(t.window, t.fire)
}

func (t *Tracker) fire() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.pending = nil
	t.mu.Unlock()

	// Read outside the lock: readers may call back into the map surface.
	vp, ok := t.read()
	if !ok || !vp.Valid() {
		// Map not ready or partial bounds; retry on the next event.
		return
	}
	t.publish(vp)
}

// Stop cancels any pending publish. The tracker cannot be reused.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	if t.pending != nil {
		t.pending.Stop()
		t.pending = nil
	}
}
