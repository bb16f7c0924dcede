package cluster

import (
	"fmt"
	"math"
	"testing"

	"go.uber.org/zap"

	"github.com/trailmark/backend/internal/models"
)

var worldBounds = Bounds{MinLng: -180, MinLat: -85, MaxLng: 180, MaxLat: 85}

func testPoint(id string, lng, lat float64) Point {
	return Point{
		ID:        id,
		CreatorID: "creator-" + id,
		Lng:       lng,
		Lat:       lat,
		Pin:       models.Pin{ID: id, Location: [2]float64{lng, lat}},
	}
}

func loadedIndex(t *testing.T, opts Options, points []Point) *Index {
	t.Helper()
	idx := NewIndex(opts, zap.NewNop().Sugar())
	idx.Load(points)
	return idx
}

// gridPoints lays n points on a regular grid over a small area so some of
// them merge at low zooms and all separate at high zooms.
func gridPoints(n int) []Point {
	points := make([]Point, 0, n)
	for i := 0; i < n; i++ {
		lng := -122.40 + 0.01*float64(i%10)
		lat := 37.70 + 0.01*float64(i/10)
		points = append(points, testPoint(fmt.Sprintf("p%d", i), lng, lat))
	}
	return points
}

func totalCount(nodes []Node) int {
	total := 0
	for _, n := range nodes {
		switch v := n.(type) {
		case Cluster:
			total += v.Count
		case Leaf:
			total++
		}
	}
	return total
}

func TestClustersIn_ConservesCardinality(t *testing.T) {
	points := gridPoints(40)
	idx := loadedIndex(t, DefaultOptions(), points)

	for zoom := 0; zoom <= 19; zoom++ {
		nodes := idx.ClustersIn(worldBounds, zoom)
		if got := totalCount(nodes); got != len(points) {
			t.Errorf("zoom %d: total point count = %d, want %d", zoom, got, len(points))
		}
	}
}

func TestClustersIn_NoDuplicatePins(t *testing.T) {
	points := gridPoints(40)
	idx := loadedIndex(t, DefaultOptions(), points)

	for zoom := 0; zoom <= 19; zoom++ {
		seen := make(map[string]bool)
		for _, n := range idx.ClustersIn(worldBounds, zoom) {
			switch v := n.(type) {
			case Cluster:
				for _, leaf := range idx.Leaves(v.ID, 0, 0) {
					if seen[leaf.ID] {
						t.Fatalf("zoom %d: pin %s appears twice", zoom, leaf.ID)
					}
					seen[leaf.ID] = true
				}
			case Leaf:
				if seen[v.Point.ID] {
					t.Fatalf("zoom %d: pin %s appears twice", zoom, v.Point.ID)
				}
				seen[v.Point.ID] = true
			}
		}
		if len(seen) != len(points) {
			t.Errorf("zoom %d: saw %d distinct pins, want %d", zoom, len(seen), len(points))
		}
	}
}

func TestLoad_Deterministic(t *testing.T) {
	points := gridPoints(25)

	a := loadedIndex(t, DefaultOptions(), points)
	b := loadedIndex(t, DefaultOptions(), points)

	for zoom := 0; zoom <= 19; zoom++ {
		nodesA := a.ClustersIn(worldBounds, zoom)
		nodesB := b.ClustersIn(worldBounds, zoom)
		if len(nodesA) != len(nodesB) {
			t.Fatalf("zoom %d: node counts differ (%d vs %d)", zoom, len(nodesA), len(nodesB))
		}
		for i := range nodesA {
			ca, aIsCluster := nodesA[i].(Cluster)
			cb, bIsCluster := nodesB[i].(Cluster)
			if aIsCluster != bIsCluster {
				t.Fatalf("zoom %d node %d: kinds differ", zoom, i)
			}
			if aIsCluster && (ca.ID != cb.ID || ca.Count != cb.Count) {
				t.Fatalf("zoom %d node %d: clusters differ (%+v vs %+v)", zoom, i, ca, cb)
			}
		}
	}
}

func TestClustersIn_TwoNearbyPins(t *testing.T) {
	points := []Point{
		testPoint("a", -122.4194, 37.7749),
		testPoint("b", -122.4190, 37.7751),
	}
	idx := loadedIndex(t, DefaultOptions(), points)

	// Far out the pair merges into one cluster of two.
	low := idx.ClustersIn(worldBounds, 1)
	if len(low) != 1 {
		t.Fatalf("zoom 1: got %d nodes, want 1", len(low))
	}
	c, ok := low[0].(Cluster)
	if !ok {
		t.Fatalf("zoom 1: got %T, want Cluster", low[0])
	}
	if c.Count != 2 {
		t.Errorf("zoom 1: cluster count = %d, want 2", c.Count)
	}

	// Past max zoom both pins stand alone.
	high := idx.ClustersIn(worldBounds, 20)
	if len(high) != 2 {
		t.Fatalf("zoom 20: got %d nodes, want 2", len(high))
	}
	for _, n := range high {
		if _, ok := n.(Leaf); !ok {
			t.Errorf("zoom 20: got %T, want Leaf", n)
		}
	}
}

func TestLeaves_LimitAndOffset(t *testing.T) {
	points := gridPoints(30)
	idx := loadedIndex(t, DefaultOptions(), points)

	var clusterID int64
	found := false
	for _, n := range idx.ClustersIn(worldBounds, 0) {
		if c, ok := n.(Cluster); ok && c.Count >= 5 {
			clusterID = c.ID
			found = true
			break
		}
	}
	if !found {
		t.Fatal("no cluster with at least 5 points at zoom 0")
	}

	all := idx.Leaves(clusterID, 0, 0)
	first2 := idx.Leaves(clusterID, 2, 0)
	next2 := idx.Leaves(clusterID, 2, 2)

	if len(first2) != 2 || len(next2) != 2 {
		t.Fatalf("paging sizes: got %d and %d, want 2 and 2", len(first2), len(next2))
	}
	if first2[0].ID != all[0].ID || first2[1].ID != all[1].ID {
		t.Errorf("first page does not match the front of the full listing")
	}
	if next2[0].ID != all[2].ID || next2[1].ID != all[3].ID {
		t.Errorf("offset page does not continue where the first left off")
	}
}

func TestExpansionZoom_SplitsCluster(t *testing.T) {
	points := []Point{
		testPoint("a", -122.4194, 37.7749),
		testPoint("b", -122.4190, 37.7751),
	}
	idx := loadedIndex(t, DefaultOptions(), points)

	nodes := idx.ClustersIn(worldBounds, 0)
	if len(nodes) != 1 {
		t.Fatalf("zoom 0: got %d nodes, want 1", len(nodes))
	}
	c := nodes[0].(Cluster)

	ez := idx.ExpansionZoom(c.ID)
	if ez <= 0 || ez > DefaultOptions().MaxZoom+1 {
		t.Fatalf("expansion zoom %d out of range", ez)
	}

	split := idx.ClustersIn(worldBounds, ez)
	if totalCount(split) != 2 {
		t.Fatalf("zoom %d: total count = %d, want 2", ez, totalCount(split))
	}
	if len(split) < 2 {
		t.Errorf("zoom %d: cluster did not split (%d nodes)", ez, len(split))
	}
}

func TestLoad_EmptyAndMalformed(t *testing.T) {
	idx := loadedIndex(t, DefaultOptions(), nil)
	if nodes := idx.ClustersIn(worldBounds, 5); len(nodes) != 0 {
		t.Errorf("empty index: got %d nodes, want 0", len(nodes))
	}

	points := []Point{
		testPoint("ok", -0.1, 51.5),
		testPoint("nan", math.NaN(), 51.5),
		testPoint("inf", -0.1, math.Inf(1)),
	}
	idx = loadedIndex(t, DefaultOptions(), points)
	nodes := idx.ClustersIn(worldBounds, 5)
	if len(nodes) != 1 {
		t.Fatalf("got %d nodes, want only the valid point", len(nodes))
	}
	leaf, ok := nodes[0].(Leaf)
	if !ok || leaf.Point.ID != "ok" {
		t.Errorf("surviving node = %+v, want leaf %q", nodes[0], "ok")
	}
}

func TestClustersIn_BoundsFilter(t *testing.T) {
	points := []Point{
		testPoint("sf", -122.4194, 37.7749),
		testPoint("nyc", -74.0060, 40.7128),
	}
	idx := loadedIndex(t, DefaultOptions(), points)

	west := Bounds{MinLng: -130, MinLat: 30, MaxLng: -110, MaxLat: 45}
	nodes := idx.ClustersIn(west, 10)
	if len(nodes) != 1 {
		t.Fatalf("got %d nodes in west box, want 1", len(nodes))
	}
	leaf, ok := nodes[0].(Leaf)
	if !ok || leaf.Point.ID != "sf" {
		t.Errorf("node in west box = %+v, want sf", nodes[0])
	}

	if nodes := idx.ClustersIn(Bounds{MinLng: math.NaN()}, 10); nodes != nil {
		t.Errorf("invalid bounds returned %d nodes, want none", len(nodes))
	}
}
