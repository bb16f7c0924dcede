package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/trailmark/backend/internal/cluster"
	"github.com/trailmark/backend/internal/middleware"
	"github.com/trailmark/backend/internal/models"
	"github.com/trailmark/backend/internal/services"
)

func newTestMapHandler(t *testing.T) (*MapHandler, *services.PinService, *services.ProfileService) {
	t.Helper()
	log := zap.NewNop().Sugar()
	pins := services.NewPinService(nil, log)
	stories := services.NewStoryService(pins, log)
	profiles := services.NewProfileService(log)
	h := NewMapHandler(pins, stories, profiles, cluster.DefaultOptions())
	h.log = log
	return h, pins, profiles
}

func authedRequest(t *testing.T, userID, target string) *http.Request {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, target, nil)
	return r.WithContext(context.WithValue(r.Context(), middleware.UserIDKey, userID))
}

func decodeNodes(t *testing.T, body []byte) []MapNode {
	t.Helper()
	var resp struct {
		Success bool      `json:"success"`
		Data    []MapNode `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Success {
		t.Fatalf("response not successful: %s", body)
	}
	return resp.Data
}

func addPin(t *testing.T, pins *services.PinService, userID string, lng, lat float64) *models.Pin {
	t.Helper()
	pin, err := pins.Create(userID, &models.CreatePinRequest{
		Title:    "spot",
		Date:     "2026-08-30",
		Location: [2]float64{lng, lat},
	})
	if err != nil {
		t.Fatalf("Create pin failed: %v", err)
	}
	return pin
}

func TestGetView_RequiresAuth(t *testing.T) {
	h, _, _ := newTestMapHandler(t)

	r := httptest.NewRequest(http.MethodGet, "/map/view?minLng=-180&minLat=-85&maxLng=180&maxLat=85&zoom=2", nil)
	w := httptest.NewRecorder()
	h.GetView(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestGetView_RejectsMissingParams(t *testing.T) {
	h, _, _ := newTestMapHandler(t)

	r := authedRequest(t, "alice", "/map/view?minLng=-180&zoom=2")
	w := httptest.NewRecorder()
	h.GetView(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestGetView_FiltersByFriendship(t *testing.T) {
	h, pins, profiles := newTestMapHandler(t)

	mine := addPin(t, pins, "alice", -122.4194, 37.7749)
	addPin(t, pins, "stranger", -122.4000, 37.7800)

	r := authedRequest(t, "alice", "/map/view?minLng=-180&minLat=-85&maxLng=180&maxLat=85&zoom=18")
	w := httptest.NewRecorder()
	h.GetView(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	nodes := decodeNodes(t, w.Body.Bytes())
	if len(nodes) != 1 || nodes[0].Type != "pin" || nodes[0].Pin.ID != mine.ID {
		t.Fatalf("nodes = %+v, want only alice's own pin", nodes)
	}

	// After friending the stranger, their pin appears too.
	if err := profiles.AddFriend("alice", "stranger"); err != nil {
		t.Fatalf("AddFriend failed: %v", err)
	}
	w = httptest.NewRecorder()
	h.GetView(w, authedRequest(t, "alice", "/map/view?minLng=-180&minLat=-85&maxLng=180&maxLat=85&zoom=18"))
	if got := len(decodeNodes(t, w.Body.Bytes())); got != 2 {
		t.Errorf("node count after friending = %d, want 2", got)
	}
}

func TestGetView_ClustersNearbyPins(t *testing.T) {
	h, pins, _ := newTestMapHandler(t)

	addPin(t, pins, "alice", -122.4194, 37.7749)
	addPin(t, pins, "alice", -122.4190, 37.7751)

	r := authedRequest(t, "alice", "/map/view?minLng=-180&minLat=-85&maxLng=180&maxLat=85&zoom=1")
	w := httptest.NewRecorder()
	h.GetView(w, r)

	nodes := decodeNodes(t, w.Body.Bytes())
	if len(nodes) != 1 || nodes[0].Type != "cluster" {
		t.Fatalf("nodes = %+v, want one cluster", nodes)
	}
	if nodes[0].Count != 2 {
		t.Errorf("cluster count = %d, want 2", nodes[0].Count)
	}
	if nodes[0].ExpansionZoom <= 1 {
		t.Errorf("expansion zoom = %d, want beyond the request zoom", nodes[0].ExpansionZoom)
	}
}

func TestGetClusterLeaves(t *testing.T) {
	h, pins, _ := newTestMapHandler(t)

	p1 := addPin(t, pins, "alice", -122.4194, 37.7749)
	p2 := addPin(t, pins, "alice", -122.4190, 37.7751)

	// Fetch the cluster id from the view first.
	w := httptest.NewRecorder()
	h.GetView(w, authedRequest(t, "alice", "/map/view?minLng=-180&minLat=-85&maxLng=180&maxLat=85&zoom=1"))
	nodes := decodeNodes(t, w.Body.Bytes())
	if len(nodes) != 1 || nodes[0].Type != "cluster" {
		t.Fatalf("nodes = %+v, want one cluster", nodes)
	}

	target := fmt.Sprintf("/map/clusters/%d/leaves", nodes[0].ClusterID)
	r := authedRequest(t, "alice", target)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("clusterId", fmt.Sprintf("%d", nodes[0].ClusterID))
	r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))

	w = httptest.NewRecorder()
	h.GetClusterLeaves(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp struct {
		Data []models.Pin `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode leaves: %v", err)
	}
	if len(resp.Data) != 2 {
		t.Fatalf("leaves = %+v, want both pins", resp.Data)
	}
	got := map[string]bool{resp.Data[0].ID: true, resp.Data[1].ID: true}
	if !got[p1.ID] || !got[p2.ID] {
		t.Errorf("leaf ids = %v, want %s and %s", got, p1.ID, p2.ID)
	}
}

func TestGetClusterLeaves_BadID(t *testing.T) {
	h, _, _ := newTestMapHandler(t)

	r := authedRequest(t, "alice", "/map/clusters/abc/leaves")
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("clusterId", "abc")
	r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))

	w := httptest.NewRecorder()
	h.GetClusterLeaves(w, r)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}
