package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/trailmark/backend/internal/models"
	"github.com/trailmark/backend/internal/services"
)

func newTestPinHandler(t *testing.T) (*PinHandler, *services.PinService, *services.StoryService, *services.ProfileService) {
	t.Helper()
	log := zap.NewNop().Sugar()
	pins := services.NewPinService(nil, log)
	stories := services.NewStoryService(pins, log)
	profiles := services.NewProfileService(log)
	h := NewPinHandler(pins, stories, profiles, nil)
	h.log = log
	return h, pins, stories, profiles
}

func pinIDParam(r *http.Request, pinID string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("pinId", pinID)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func decodePins(t *testing.T, body []byte) []models.Pin {
	t.Helper()
	var resp struct {
		Success bool         `json:"success"`
		Data    []models.Pin `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp.Data
}

func TestListPinsByBounds_AppliesVisibilityRules(t *testing.T) {
	h, pins, _, profiles := newTestPinHandler(t)

	mine := addPin(t, pins, "viewer", -122.4194, 37.7749)
	strangers := addPin(t, pins, "stranger", -122.4000, 37.7800)

	target := "/pins/bounds?minLng=-123&minLat=37&maxLng=-122&maxLat=38"
	w := httptest.NewRecorder()
	h.ListPinsByBounds(w, authedRequest(t, "viewer", target))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	got := decodePins(t, w.Body.Bytes())
	if len(got) != 1 || got[0].ID != mine.ID {
		t.Fatalf("pins = %+v, want only the viewer's own pin", got)
	}

	// Friendship opens the stranger's pin up.
	if err := profiles.AddFriend("viewer", "stranger"); err != nil {
		t.Fatalf("AddFriend failed: %v", err)
	}
	w = httptest.NewRecorder()
	h.ListPinsByBounds(w, authedRequest(t, "viewer", target))
	got = decodePins(t, w.Body.Bytes())
	if len(got) != 2 {
		t.Fatalf("pins after friending = %+v, want both", got)
	}

	// A friend who hides their pins disappears again.
	profiles.SetHidePinsFrom("stranger", "viewer", true)
	w = httptest.NewRecorder()
	h.ListPinsByBounds(w, authedRequest(t, "viewer", target))
	got = decodePins(t, w.Body.Bytes())
	if len(got) != 1 || got[0].ID != mine.ID {
		t.Fatalf("pins after hide = %+v, want only the viewer's own; leaked %s", got, strangers.ID)
	}
}

func TestListPinsByBounds_RequiresAuth(t *testing.T) {
	h, _, _, _ := newTestPinHandler(t)

	r := httptest.NewRequest(http.MethodGet, "/pins/bounds?minLng=-123&minLat=37&maxLng=-122&maxLat=38", nil)
	w := httptest.NewRecorder()
	h.ListPinsByBounds(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestGetPin_EnforcesFriendAndHideRules(t *testing.T) {
	h, pins, _, profiles := newTestPinHandler(t)

	strangers := addPin(t, pins, "stranger", -122.4194, 37.7749)

	r := pinIDParam(authedRequest(t, "viewer", "/pins/"+strangers.ID), strangers.ID)
	w := httptest.NewRecorder()
	h.GetPin(w, r)
	if w.Code != http.StatusNotFound {
		t.Errorf("stranger's pin by id: status = %d, want 404", w.Code)
	}

	if err := profiles.AddFriend("viewer", "stranger"); err != nil {
		t.Fatalf("AddFriend failed: %v", err)
	}
	w = httptest.NewRecorder()
	h.GetPin(w, pinIDParam(authedRequest(t, "viewer", "/pins/"+strangers.ID), strangers.ID))
	if w.Code != http.StatusOK {
		t.Errorf("friend's pin by id: status = %d, want 200", w.Code)
	}

	profiles.SetFriendHidden("viewer", "stranger", true)
	w = httptest.NewRecorder()
	h.GetPin(w, pinIDParam(authedRequest(t, "viewer", "/pins/"+strangers.ID), strangers.ID))
	if w.Code != http.StatusNotFound {
		t.Errorf("hidden friend's pin by id: status = %d, want 404", w.Code)
	}
}

func TestGetPin_StoryPinsStayFetchableByID(t *testing.T) {
	h, pins, stories, profiles := newTestPinHandler(t)

	cover := addPin(t, pins, "friend", -122.4194, 37.7749)
	inside := addPin(t, pins, "friend", -122.4190, 37.7751)
	if _, err := stories.Create("friend", &models.CreateStoryRequest{
		Title:      "Weekend",
		PinIDs:     []string{cover.ID, inside.ID},
		CoverPinID: cover.ID,
	}); err != nil {
		t.Fatalf("story Create failed: %v", err)
	}
	if err := profiles.AddFriend("viewer", "friend"); err != nil {
		t.Fatalf("AddFriend failed: %v", err)
	}

	// The map collapses the story to its cover, but expanding the story
	// fetches member pins directly, so the id route must serve them.
	w := httptest.NewRecorder()
	h.GetPin(w, pinIDParam(authedRequest(t, "viewer", "/pins/"+inside.ID), inside.ID))
	if w.Code != http.StatusOK {
		t.Errorf("non-cover story pin by id: status = %d, want 200", w.Code)
	}
}
