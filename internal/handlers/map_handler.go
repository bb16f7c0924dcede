package handlers

import (
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/trailmark/backend/internal/cluster"
	"github.com/trailmark/backend/internal/mapview"
	"github.com/trailmark/backend/internal/middleware"
	"github.com/trailmark/backend/internal/models"
	"github.com/trailmark/backend/internal/services"
)

// RelationSource resolves a viewer's map visibility relations. Both the
// in-memory profile store and the Mongo-backed adapter satisfy it.
type RelationSource interface {
	VisibilityFor(viewerID string) mapview.Relations
}

// MapHandler serves the clustered map view over plain HTTP. Each request
// rebuilds the viewer's index from the live snapshots, so cluster ids are
// stable across requests as long as the underlying data has not changed.
type MapHandler struct {
	pins     *services.PinService
	stories  *services.StoryService
	profiles RelationSource
	opts     cluster.Options
	log      *zap.SugaredLogger
}

func NewMapHandler(pins *services.PinService, stories *services.StoryService, profiles RelationSource, opts cluster.Options) *MapHandler {
	return &MapHandler{
		pins:     pins,
		stories:  stories,
		profiles: profiles,
		opts:     opts,
		log:      zap.S(),
	}
}

// MapNode is the wire shape for one render-list entry.
type MapNode struct {
	Type      string  `json:"type"` // "cluster" or "pin"
	Lng       float64 `json:"lng"`
	Lat       float64 `json:"lat"`
	ClusterID int64   `json:"cluster_id,omitempty"`
	Count     int     `json:"point_count,omitempty"`
	// ExpansionZoom is the zoom at which a cluster breaks apart.
	ExpansionZoom int         `json:"expansion_zoom,omitempty"`
	Pin           *models.Pin `json:"pin,omitempty"`
}

func toMapNodes(nodes []cluster.Node, idx interface{ ExpansionZoom(int64) int }) []MapNode {
	out := make([]MapNode, 0, len(nodes))
	for _, n := range nodes {
		lng, lat := n.Coordinates()
		switch v := n.(type) {
		case cluster.Cluster:
			out = append(out, MapNode{
				Type:          "cluster",
				Lng:           lng,
				Lat:           lat,
				ClusterID:     v.ID,
				Count:         v.Count,
				ExpansionZoom: idx.ExpansionZoom(v.ID),
			})
		case cluster.Leaf:
			pin := v.Point.Pin
			out = append(out, MapNode{
				Type: "pin",
				Lng:  lng,
				Lat:  lat,
				Pin:  &pin,
			})
		}
	}
	return out
}

// buildIndex assembles the viewer's clustered index from the current
// snapshots. The build is deterministic: identical data yields identical
// cluster ids.
func (h *MapHandler) buildIndex(viewerID, focusID string) *cluster.Index {
	rel := h.profiles.VisibilityFor(viewerID)
	rel.FocusCreatorID = focusID

	pins := h.pins.Snapshot()
	stories := mapview.BuildStoryIndex(h.stories.Snapshot())
	visible := mapview.FilterVisible(pins, rel, stories, timeNow())
	points := mapview.ToPoints(visible, h.log)

	idx := cluster.NewIndex(h.opts, h.log)
	idx.Load(points)
	return idx
}

// GetView returns the viewer's render list for an explicit viewport.
func (h *MapHandler) GetView(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, models.NewErrorResponse("Unauthorized"))
		return
	}

	minLng, ok1 := queryFloat(r, "minLng")
	minLat, ok2 := queryFloat(r, "minLat")
	maxLng, ok3 := queryFloat(r, "maxLng")
	maxLat, ok4 := queryFloat(r, "maxLat")
	zoom, ok5 := queryFloat(r, "zoom")

	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		writeJSON(w, http.StatusBadRequest, models.NewErrorResponse("Missing or invalid parameters (minLng, minLat, maxLng, maxLat, zoom)"))
		return
	}

	bounds := cluster.Bounds{MinLng: minLng, MinLat: minLat, MaxLng: maxLng, MaxLat: maxLat}
	if !bounds.Valid() {
		writeJSON(w, http.StatusBadRequest, models.NewErrorResponse("Invalid bounding box"))
		return
	}

	idx := h.buildIndex(userID, r.URL.Query().Get("focus"))
	nodes := idx.ClustersIn(bounds, int(math.Floor(zoom)))

	writeJSON(w, http.StatusOK, models.NewSuccessResponse(toMapNodes(nodes, idx)))
}

// GetClusterLeaves expands a cluster into the pins it contains.
func (h *MapHandler) GetClusterLeaves(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, models.NewErrorResponse("Unauthorized"))
		return
	}

	clusterID, err := strconv.ParseInt(chi.URLParam(r, "clusterId"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, models.NewErrorResponse("Invalid cluster id"))
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			offset = v
		}
	}

	idx := h.buildIndex(userID, r.URL.Query().Get("focus"))
	leaves := idx.Leaves(clusterID, limit, offset)

	pins := make([]models.Pin, 0, len(leaves))
	for _, p := range leaves {
		pins = append(pins, p.Pin)
	}
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(pins))
}
