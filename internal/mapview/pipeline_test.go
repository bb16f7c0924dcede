package mapview

import (
	"testing"

	"go.uber.org/zap"

	"github.com/trailmark/backend/internal/cluster"
	"github.com/trailmark/backend/internal/models"
)

func testPipeline() *Pipeline {
	return NewPipeline(cluster.DefaultOptions(), zap.NewNop().Sugar())
}

func pipelinePins() []models.Pin {
	return []models.Pin{
		{ID: "p1", CreatorID: "me", Location: [2]float64{-122.4194, 37.7749}},
		{ID: "p2", CreatorID: "alice", Location: [2]float64{-122.4190, 37.7751}},
		{ID: "p3", CreatorID: "bob", Location: [2]float64{-100.0, 40.0}},
	}
}

// wideViewport covers the whole world at a zoom where nothing in
// pipelinePins clusters, so tests can assert on individual leaves.
func wideViewport() Viewport {
	return Viewport{
		Bounds: cluster.Bounds{MinLng: -180, MinLat: -85, MaxLng: 180, MaxLat: 85},
		Zoom:   16,
	}
}

func renderIDs(nodes []cluster.Node) map[string]bool {
	ids := make(map[string]bool)
	for _, n := range nodes {
		if leaf, ok := n.(cluster.Leaf); ok {
			ids[leaf.Point.ID] = true
		}
	}
	return ids
}

func TestPipeline_RecomputesOnEveryInput(t *testing.T) {
	p := testPipeline()
	p.SetViewport(wideViewport())
	p.SetRelations(Relations{ViewerID: "me", FriendIDs: []string{"alice"}})
	p.SetPins(pipelinePins())

	got := renderIDs(p.Snapshot())
	if !got["p1"] || !got["p2"] {
		t.Errorf("own and friend pins missing from render list: %v", got)
	}
	if got["p3"] {
		t.Errorf("stranger pin rendered: %v", got)
	}

	// Relations change alone must recompute.
	p.SetRelations(Relations{ViewerID: "me"})
	got = renderIDs(p.Snapshot())
	if got["p2"] {
		t.Errorf("unfriended creator's pin still rendered: %v", got)
	}
}

func TestPipeline_OutputDependsOnlyOnLatestInputs(t *testing.T) {
	pins := pipelinePins()
	rel := Relations{ViewerID: "me", FriendIDs: []string{"alice", "bob"}}

	a := testPipeline()
	a.SetPins(pins)
	a.SetRelations(rel)
	a.SetViewport(wideViewport())

	b := testPipeline()
	b.SetViewport(wideViewport())
	b.SetRelations(Relations{ViewerID: "carol"}) // superseded
	b.SetRelations(rel)
	b.SetPins(pins[:1]) // superseded
	b.SetPins(pins)

	gotA := renderIDs(a.Snapshot())
	gotB := renderIDs(b.Snapshot())
	if len(gotA) != len(gotB) {
		t.Fatalf("render lists differ: %v vs %v", gotA, gotB)
	}
	for id := range gotA {
		if !gotB[id] {
			t.Errorf("pin %s present in one order but not the other", id)
		}
	}
}

func TestPipeline_NoViewportNoRender(t *testing.T) {
	p := testPipeline()
	p.SetPins(pipelinePins())
	p.SetRelations(Relations{ViewerID: "me"})

	if nodes := p.Snapshot(); len(nodes) != 0 {
		t.Errorf("render list produced before any viewport: %d nodes", len(nodes))
	}

	p.SetViewport(Viewport{Bounds: cluster.Bounds{MinLng: 1, MaxLng: -1}, Zoom: 2})
	if nodes := p.Snapshot(); len(nodes) != 0 {
		t.Errorf("invalid viewport produced a render list: %d nodes", len(nodes))
	}
}

func TestPipeline_SubscriptionDeliversLatest(t *testing.T) {
	p := testPipeline()
	p.SetViewport(wideViewport())
	p.SetRelations(Relations{ViewerID: "me"})

	sub := p.Subscribe()
	defer sub.Stop()

	// Two quick updates without the consumer reading: the channel must hold
	// the newest snapshot, not the first. The first update carries no pin
	// visible to the viewer, so receiving p1 proves the newer one won.
	p.SetPins(pipelinePins()[1:])
	p.SetPins(pipelinePins())

	nodes := <-sub.C
	got := renderIDs(nodes)
	if !got["p1"] {
		t.Errorf("latest snapshot missing p1: %v", got)
	}
	if len(got) != 1 {
		t.Errorf("render list = %v, want only the viewer's own pin", got)
	}
}

func TestPipeline_StoryCollapseFlowsThrough(t *testing.T) {
	p := testPipeline()
	p.SetViewport(wideViewport())
	p.SetRelations(Relations{ViewerID: "me"})
	p.SetPins([]models.Pin{
		{ID: "a", CreatorID: "me", Location: [2]float64{-122.0, 37.0}},
		{ID: "b", CreatorID: "me", Location: [2]float64{-100.0, 40.0}},
	})
	p.SetStories([]models.Story{{
		ID:         "s1",
		CreatorID:  "me",
		PinIDs:     []string{"a", "b"},
		CoverPinID: "b",
	}})

	got := renderIDs(p.Snapshot())
	if got["a"] || !got["b"] {
		t.Errorf("story must collapse to its cover pin, got %v", got)
	}
}

func TestPipeline_LeavesAndExpansionZoom(t *testing.T) {
	p := testPipeline()
	p.SetViewport(Viewport{
		Bounds: cluster.Bounds{MinLng: -180, MinLat: -85, MaxLng: 180, MaxLat: 85},
		Zoom:   0,
	})
	p.SetRelations(Relations{ViewerID: "me"})
	p.SetPins([]models.Pin{
		{ID: "a", CreatorID: "me", Location: [2]float64{-122.4194, 37.7749}},
		{ID: "b", CreatorID: "me", Location: [2]float64{-122.4190, 37.7751}},
	})

	nodes := p.Snapshot()
	if len(nodes) != 1 {
		t.Fatalf("got %d nodes at zoom 0, want 1 cluster", len(nodes))
	}
	c, ok := nodes[0].(cluster.Cluster)
	if !ok {
		t.Fatalf("got %T, want Cluster", nodes[0])
	}

	leaves := p.Leaves(c.ID, 10)
	if len(leaves) != 2 {
		t.Errorf("cluster leaves = %d, want 2", len(leaves))
	}
	if ez := p.ExpansionZoom(c.ID); ez <= 0 {
		t.Errorf("expansion zoom = %d, want positive", ez)
	}
}
