package mapview

import (
	"testing"
	"time"

	"github.com/trailmark/backend/internal/models"
)

func pin(id, creatorID string) models.Pin {
	return models.Pin{
		ID:        id,
		CreatorID: creatorID,
		Location:  [2]float64{-122.4, 37.7},
	}
}

func visibleIDs(pins []models.Pin) map[string]bool {
	ids := make(map[string]bool, len(pins))
	for _, p := range pins {
		ids[p.ID] = true
	}
	return ids
}

func TestFilterVisible_FriendsOnly(t *testing.T) {
	pins := []models.Pin{
		pin("mine", "me"),
		pin("friends", "alice"),
		pin("strangers", "bob"),
	}
	rel := Relations{ViewerID: "me", FriendIDs: []string{"alice"}}

	got := visibleIDs(FilterVisible(pins, rel, StoryIndex{}, time.Now()))
	if !got["mine"] || !got["friends"] {
		t.Errorf("own and friend pins must be visible, got %v", got)
	}
	if got["strangers"] {
		t.Errorf("stranger pin leaked through: %v", got)
	}
}

func TestFilterVisible_HiddenByCreator(t *testing.T) {
	pins := []models.Pin{pin("p1", "alice")}
	rel := Relations{
		ViewerID:         "me",
		FriendIDs:        []string{"alice"},
		HiddenByCreators: []string{"alice"},
	}

	if got := FilterVisible(pins, rel, StoryIndex{}, time.Now()); len(got) != 0 {
		t.Errorf("pins hidden by their creator must not be visible, got %v", got)
	}
}

func TestFilterVisible_HiddenPin(t *testing.T) {
	pins := []models.Pin{pin("p1", "alice"), pin("p2", "alice")}
	rel := Relations{
		ViewerID:     "me",
		FriendIDs:    []string{"alice"},
		HiddenPinIDs: []string{"p1"},
	}

	got := visibleIDs(FilterVisible(pins, rel, StoryIndex{}, time.Now()))
	if got["p1"] || !got["p2"] {
		t.Errorf("individually hidden pin filtering wrong: %v", got)
	}
}

func TestFilterVisible_OwnPinsIgnoreHideLists(t *testing.T) {
	pins := []models.Pin{pin("p1", "me")}
	rel := Relations{
		ViewerID:         "me",
		HiddenByCreators: []string{"me"},
		HiddenPinIDs:     []string{"p1"},
	}

	if got := FilterVisible(pins, rel, StoryIndex{}, time.Now()); len(got) != 1 {
		t.Errorf("viewers must always see their own pins, got %v", got)
	}
}

func TestFilterVisible_ExpiredPins(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour).UnixMilli()
	future := now.Add(time.Hour).UnixMilli()

	expired := pin("old", "me")
	expired.ExpiresAt = &past
	live := pin("new", "me")
	live.ExpiresAt = &future

	got := visibleIDs(FilterVisible([]models.Pin{expired, live}, Relations{ViewerID: "me"}, StoryIndex{}, now))
	if got["old"] || !got["new"] {
		t.Errorf("expiry filtering wrong: %v", got)
	}
}

func TestFilterVisible_FocusCreator(t *testing.T) {
	pins := []models.Pin{
		pin("mine", "me"),
		pin("alices", "alice"),
		pin("carols", "carol"),
	}
	rel := Relations{
		ViewerID:       "me",
		FriendIDs:      []string{"alice", "carol"},
		FocusCreatorID: "alice",
	}

	got := visibleIDs(FilterVisible(pins, rel, StoryIndex{}, time.Now()))
	if len(got) != 1 || !got["alices"] {
		t.Errorf("focus mode must show only the focused creator's pins, got %v", got)
	}
}

func TestFilterVisible_StoryCollapsesToCover(t *testing.T) {
	pins := []models.Pin{pin("a", "me"), pin("b", "me"), pin("c", "me")}
	stories := BuildStoryIndex([]models.Story{{
		ID:         "s1",
		CreatorID:  "me",
		PinIDs:     []string{"a", "b"},
		CoverPinID: "b",
	}})

	got := visibleIDs(FilterVisible(pins, Relations{ViewerID: "me"}, stories, time.Now()))
	if got["a"] {
		t.Errorf("non-cover story pin visible: %v", got)
	}
	if !got["b"] || !got["c"] {
		t.Errorf("cover pin and free pin must be visible: %v", got)
	}
}

func TestFilterVisible_StaleCoverFallsBackToFirstPin(t *testing.T) {
	pins := []models.Pin{pin("a", "me"), pin("b", "me")}
	stories := BuildStoryIndex([]models.Story{{
		ID:         "s1",
		CreatorID:  "me",
		PinIDs:     []string{"a", "b"},
		CoverPinID: "gone",
	}})

	got := visibleIDs(FilterVisible(pins, Relations{ViewerID: "me"}, stories, time.Now()))
	if !got["a"] || got["b"] {
		t.Errorf("stale cover must fall back to the first pin, got %v", got)
	}
}

func TestBuildStoryIndex_FirstStoryWins(t *testing.T) {
	idx := BuildStoryIndex([]models.Story{
		{ID: "s1", PinIDs: []string{"a"}},
		{ID: "s2", PinIDs: []string{"a", "b"}},
	})

	if idx["a"].ID != "s1" {
		t.Errorf("pin a mapped to %s, want s1", idx["a"].ID)
	}
	if idx["b"].ID != "s2" {
		t.Errorf("pin b mapped to %s, want s2", idx["b"].ID)
	}
}
