// Package cluster groups map points into zoom-dependent clusters.
//
// The index is rebuilt from scratch on every load: it is a static snapshot
// structure, not an incremental one. A ladder of kd-trees is built, one per
// integer zoom, by greedily merging points that fall within a pixel radius
// at that zoom. Cluster ids are stable within one loaded index only.
package cluster

import (
	"math"

	"go.uber.org/zap"

	"github.com/trailmark/backend/internal/models"
)

// Point is a projected map point carrying its source pin.
type Point struct {
	ID        string
	CreatorID string
	Lng, Lat  float64
	Pin       models.Pin
}

// Node is the tagged cluster-or-leaf variant emitted for rendering.
// The two implementations are Cluster and Leaf; handling both covers all
// cases.
type Node interface {
	Coordinates() (lng, lat float64)
	node()
}

// Cluster is an aggregate of Count underlying points at the queried zoom.
// ID is only meaningful against the index that produced it.
type Cluster struct {
	ID    int64 `json:"cluster_id"`
	Count int   `json:"point_count"`
	Lng   float64
	Lat   float64
}

func (c Cluster) Coordinates() (float64, float64) { return c.Lng, c.Lat }
func (Cluster) node()                             {}

// Leaf is a single point that did not merge into any cluster.
type Leaf struct {
	Point Point
}

func (l Leaf) Coordinates() (float64, float64) { return l.Point.Lng, l.Point.Lat }
func (Leaf) node()                             {}

// Bounds is a [minLng, minLat, maxLng, maxLat] viewport box.
type Bounds struct {
	MinLng, MinLat, MaxLng, MaxLat float64
}

// Valid reports whether all four edges are finite and ordered.
func (b Bounds) Valid() bool {
	for _, v := range []float64{b.MinLng, b.MinLat, b.MaxLng, b.MaxLat} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b.MinLng <= b.MaxLng && b.MinLat <= b.MaxLat
}

type Options struct {
	// Radius is the cluster radius in pixels at Extent tile size.
	Radius float64
	// Extent is the tile extent the radius is measured against.
	Extent float64
	// MinZoom and MaxZoom bound the zoom ladder. Above MaxZoom every point
	// is a leaf.
	MinZoom int
	MaxZoom int
	// MinPoints is the minimum number of points required to form a cluster.
	MinPoints int
	// NodeSize tunes the kd-tree leaf size.
	NodeSize int
}

// DefaultOptions matches the tight grouping the mobile map uses: only pins
// that visually overlap merge.
func DefaultOptions() Options {
	return Options{
		Radius:    12,
		Extent:    512,
		MinZoom:   0,
		MaxZoom:   18,
		MinPoints: 2,
		NodeSize:  64,
	}
}

// entry is one node in the zoom ladder: either a source point or a cluster
// centroid. x and y are spherical-mercator coordinates in [0,1].
type entry struct {
	x, y float64
	// zoom is the lowest zoom this entry has been processed at. Entries
	// start unprocessed (above MaxZoom) and are claimed as the ladder is
	// built downward.
	zoom      int
	index     int // source point index for leaves; tree slot of first child for clusters
	id        int64
	parentID  int64
	numPoints int
}

type Index struct {
	opts   Options
	log    *zap.SugaredLogger
	points []Point
	// trees[z] indexes the entries present at zoom z; slot MaxZoom+1 holds
	// the raw points.
	trees   []*kdbush
	entries [][]*entry
}

// NewIndex builds an empty index. Call Load before querying.
func NewIndex(opts Options, log *zap.SugaredLogger) *Index {
	if opts.Extent <= 0 {
		opts = DefaultOptions()
	}
	if opts.MinPoints < 2 {
		opts.MinPoints = 2
	}
	if log == nil {
		log = zap.S()
	}
	return &Index{
		opts:    opts,
		log:     log,
		trees:   make([]*kdbush, opts.MaxZoom+2),
		entries: make([][]*entry, opts.MaxZoom+2),
	}
}

// Load replaces the index contents with the given points. Points with
// non-finite coordinates are dropped with a warning; they never abort the
// load. Loading an empty slice yields a valid, empty index.
func (idx *Index) Load(points []Point) {
	valid := points[:0:0]
	for _, p := range points {
		if math.IsNaN(p.Lng) || math.IsInf(p.Lng, 0) || math.IsNaN(p.Lat) || math.IsInf(p.Lat, 0) {
			idx.log.Warnf("[cluster] dropping point %s: malformed coordinates [%v, %v]", p.ID, p.Lng, p.Lat)
			continue
		}
		valid = append(valid, p)
	}
	idx.points = valid

	maxZoom := idx.opts.MaxZoom
	leaves := make([]*entry, len(valid))
	for i, p := range valid {
		leaves[i] = &entry{
			x:         lngX(p.Lng),
			y:         latY(p.Lat),
			zoom:      maxZoom + 2, // unprocessed
			index:     i,
			id:        int64(i),
			parentID:  -1,
			numPoints: 1,
		}
	}
	idx.entries[maxZoom+1] = leaves
	idx.trees[maxZoom+1] = newKDBush(leaves, idx.opts.NodeSize)

	for z := maxZoom; z >= idx.opts.MinZoom; z-- {
		idx.entries[z] = idx.clusterize(z)
		idx.trees[z] = newKDBush(idx.entries[z], idx.opts.NodeSize)
	}
}

// clusterize merges the entries of zoom z+1 into the entry set for zoom z.
func (idx *Index) clusterize(zoom int) []*entry {
	parents := idx.entries[zoom+1]
	tree := idx.trees[zoom+1]
	r := idx.opts.Radius / (idx.opts.Extent * math.Pow(2, float64(zoom)))

	var next []*entry
	for i, p := range parents {
		if p.zoom <= zoom {
			continue // already absorbed into a cluster this pass
		}
		p.zoom = zoom

		neighborIDs := tree.within(p.x, p.y, r)
		numPoints := p.numPoints
		for _, nid := range neighborIDs {
			b := parents[nid]
			if b.zoom > zoom {
				numPoints += b.numPoints
			}
		}

		if numPoints > p.numPoints && numPoints >= idx.opts.MinPoints {
			wx := p.x * float64(p.numPoints)
			wy := p.y * float64(p.numPoints)
			// Encoded so the origin zoom and tree slot are recoverable in
			// Leaves; offset by len(points) to avoid colliding with leaf ids.
			id := int64(i)<<5 + int64(zoom+1) + int64(len(idx.points))

			for _, nid := range neighborIDs {
				b := parents[nid]
				if b.zoom <= zoom {
					continue
				}
				b.zoom = zoom
				b.parentID = id
				wx += b.x * float64(b.numPoints)
				wy += b.y * float64(b.numPoints)
			}
			p.parentID = id

			next = append(next, &entry{
				x:         wx / float64(numPoints),
				y:         wy / float64(numPoints),
				zoom:      idx.opts.MaxZoom + 2,
				index:     i,
				id:        id,
				parentID:  -1,
				numPoints: numPoints,
			})
		} else {
			next = append(next, p)
			if numPoints > 1 {
				for _, nid := range neighborIDs {
					b := parents[nid]
					if b.zoom <= zoom {
						continue
					}
					b.zoom = zoom
					next = append(next, b)
				}
			}
		}
	}
	return next
}

// ClustersIn returns the cluster-or-leaf nodes inside bounds at the given
// zoom. An unloaded or empty index returns no nodes.
func (idx *Index) ClustersIn(bounds Bounds, zoom int) []Node {
	z := idx.limitZoom(zoom)
	tree := idx.trees[z]
	if tree == nil || !bounds.Valid() {
		return nil
	}

	minX := lngX(math.Max(bounds.MinLng, -180))
	maxX := lngX(math.Min(bounds.MaxLng, 180))
	// y axis is inverted in mercator space
	minY := latY(bounds.MaxLat)
	maxY := latY(bounds.MinLat)

	ids := tree.rangeIDs(minX, minY, maxX, maxY)
	nodes := make([]Node, 0, len(ids))
	for _, i := range ids {
		nodes = append(nodes, idx.toNode(idx.entries[z][i]))
	}
	return nodes
}

// Leaves expands a cluster into its underlying points. Results follow index
// order. limit <= 0 means all; offset skips from the front.
func (idx *Index) Leaves(clusterID int64, limit, offset int) []Point {
	if limit <= 0 {
		limit = len(idx.points)
	}
	var leaves []Point
	idx.appendLeaves(&leaves, clusterID, limit, offset, 0)
	return leaves
}

func (idx *Index) appendLeaves(out *[]Point, clusterID int64, limit, offset, skipped int) int {
	for _, child := range idx.children(clusterID) {
		if len(*out) >= limit {
			break
		}
		switch c := child.(type) {
		case Cluster:
			if skipped+c.Count <= offset {
				skipped += c.Count // whole cluster below the offset window
			} else {
				skipped = idx.appendLeaves(out, c.ID, limit, offset, skipped)
			}
		case Leaf:
			if skipped < offset {
				skipped++
			} else {
				*out = append(*out, c.Point)
			}
		}
	}
	return skipped
}

// ExpansionZoom returns the lowest zoom at which the cluster breaks apart.
func (idx *Index) ExpansionZoom(clusterID int64) int {
	expansionZoom := idx.originZoom(clusterID) - 1
	for expansionZoom <= idx.opts.MaxZoom {
		children := idx.children(clusterID)
		expansionZoom++
		if len(children) != 1 {
			break
		}
		c, ok := children[0].(Cluster)
		if !ok {
			break
		}
		clusterID = c.ID
	}
	return expansionZoom
}

// children returns the immediate child nodes of a cluster.
func (idx *Index) children(clusterID int64) []Node {
	originZoom := idx.originZoom(clusterID)
	if originZoom < 0 || originZoom >= len(idx.trees) || idx.trees[originZoom] == nil {
		return nil
	}
	originIdx := int((clusterID - int64(len(idx.points))) >> 5)
	parents := idx.entries[originZoom]
	if originIdx < 0 || originIdx >= len(parents) {
		return nil
	}
	origin := parents[originIdx]
	r := idx.opts.Radius / (idx.opts.Extent * math.Pow(2, float64(originZoom-1)))

	var children []Node
	for _, i := range idx.trees[originZoom].within(origin.x, origin.y, r) {
		if parents[i].parentID == clusterID {
			children = append(children, idx.toNode(parents[i]))
		}
	}
	return children
}

func (idx *Index) toNode(e *entry) Node {
	if e.numPoints > 1 {
		return Cluster{
			ID:    e.id,
			Count: e.numPoints,
			Lng:   xLng(e.x),
			Lat:   yLat(e.y),
		}
	}
	return Leaf{Point: idx.points[e.index]}
}

func (idx *Index) originZoom(clusterID int64) int {
	return int((clusterID - int64(len(idx.points))) % 32)
}

func (idx *Index) limitZoom(zoom int) int {
	if zoom < idx.opts.MinZoom {
		return idx.opts.MinZoom
	}
	if zoom > idx.opts.MaxZoom+1 {
		return idx.opts.MaxZoom + 1
	}
	return zoom
}

// Spherical mercator projection between lon/lat and [0,1] tile space.

func lngX(lng float64) float64 {
	return lng/360 + 0.5
}

func latY(lat float64) float64 {
	sin := math.Sin(lat * math.Pi / 180)
	y := 0.5 - 0.25*math.Log((1+sin)/(1-sin))/math.Pi
	if y < 0 {
		return 0
	}
	if y > 1 {
		return 1
	}
	return y
}

func xLng(x float64) float64 {
	return (x - 0.5) * 360
}

func yLat(y float64) float64 {
	y2 := (180 - y*360) * math.Pi / 180
	return 360*math.Atan(math.Exp(y2))/math.Pi - 90
}
