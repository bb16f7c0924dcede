package mapview

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/trailmark/backend/internal/cluster"
	"github.com/trailmark/backend/internal/models"
)

// Pipeline owns the latest (pins, relations, stories, viewport) tuple and
// recomputes the render list whenever any of them changes. Recomputes are
// synchronous, idempotent and history-free: the output depends only on the
// latest tuple, never on which input changed or in what order. Pin, relation
// and story updates recompute immediately; viewport updates are expected to
// arrive pre-debounced through a Tracker.
type Pipeline struct {
	mu   sync.Mutex
	log  *zap.SugaredLogger
	opts cluster.Options
	now  func() time.Time

	pins    []models.Pin
	rel     Relations
	stories StoryIndex

	vp           Viewport
	haveViewport bool

	idx   *cluster.Index
	nodes []cluster.Node

	subs    map[int]chan []cluster.Node
	nextSub int
}

func NewPipeline(opts cluster.Options, log *zap.SugaredLogger) *Pipeline {
	if log == nil {
		log = zap.S()
	}
	return &Pipeline{
		log:     log,
		opts:    opts,
		now:     time.Now,
		stories: StoryIndex{},
		subs:    make(map[int]chan []cluster.Node),
	}
}

// SetPins replaces the pin snapshot. Snapshots may overlap or supersede each
// other; only the latest one matters.
func (p *Pipeline) SetPins(pins []models.Pin) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pins = pins
	p.recomputeLocked()
}

// SetRelations replaces the viewer's relation state.
func (p *Pipeline) SetRelations(rel Relations) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rel = rel
	p.recomputeLocked()
}

// SetStories replaces the story snapshot and rederives the pin-to-story map.
func (p *Pipeline) SetStories(stories []models.Story) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stories = BuildStoryIndex(stories)
	p.recomputeLocked()
}

// SetViewport installs a debounced viewport and recomputes against it.
// Invalid viewports are ignored; the last good one stays in effect.
func (p *Pipeline) SetViewport(vp Viewport) {
	if !vp.Valid() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.vp = vp
	p.haveViewport = true
	p.recomputeLocked()
}

// recomputeLocked rebuilds the spatial index and render list from the latest
// tuple. Callers hold p.mu, which makes concurrent recomputes last-write-wins
// without any cancellation machinery.
func (p *Pipeline) recomputeLocked() {
	visible := FilterVisible(p.pins, p.rel, p.stories, p.now())
	points := ToPoints(visible, p.log)

	idx := cluster.NewIndex(p.opts, p.log)
	idx.Load(points)
	p.idx = idx

	if p.haveViewport {
		p.nodes = idx.ClustersIn(p.vp.Bounds, int(math.Floor(p.vp.Zoom)))
	} else {
		p.nodes = nil
	}
	p.broadcastLocked()
}

func (p *Pipeline) broadcastLocked() {
	nodes := p.nodes
	for _, ch := range p.subs {
		// Latest-wins delivery: a slow consumer gets the newest snapshot,
		// not a backlog.
		select {
		case ch <- nodes:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- nodes:
			default:
			}
		}
	}
}

// Subscription is a cancelable handle on the render-list feed.
type Subscription struct {
	C    <-chan []cluster.Node
	stop func()
}

func (s *Subscription) Stop() { s.stop() }

// Subscribe registers a render-list consumer. The channel carries the newest
// snapshot after every recompute; Stop releases it.
func (p *Pipeline) Subscribe() *Subscription {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSub
	p.nextSub++
	ch := make(chan []cluster.Node, 1)
	p.subs[id] = ch
	return &Subscription{
		C: ch,
		stop: func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			delete(p.subs, id)
		},
	}
}

// Snapshot returns the current render list.
func (p *Pipeline) Snapshot() []cluster.Node {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nodes
}

// Leaves expands a cluster from the current index. Must stay synchronous and
// prompt: it answers tap-to-expand directly.
func (p *Pipeline) Leaves(clusterID int64, limit int) []cluster.Point {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.idx == nil {
		return nil
	}
	return p.idx.Leaves(clusterID, limit, 0)
}

// ExpansionZoom reports the zoom at which a cluster splits apart.
func (p *Pipeline) ExpansionZoom(clusterID int64) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.idx == nil {
		return 0
	}
	return p.idx.ExpansionZoom(clusterID)
}
