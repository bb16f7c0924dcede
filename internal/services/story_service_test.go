package services

import (
	"fmt"
	"testing"

	"go.uber.org/zap"

	"github.com/trailmark/backend/internal/models"
)

func newTestStoryService(t *testing.T) (*StoryService, *PinService) {
	t.Helper()
	pins := NewPinService(nil, zap.NewNop().Sugar())
	return NewStoryService(pins, zap.NewNop().Sugar()), pins
}

func TestStoryCreate_PinOwnership(t *testing.T) {
	stories, pins := newTestStoryService(t)

	mine := createPin(t, pins, "alice", "Twin Peaks")
	theirs := createPin(t, pins, "bob", "Marin Headlands")

	if _, err := stories.Create("alice", &models.CreateStoryRequest{
		Title:  "Weekend",
		PinIDs: []string{theirs.ID},
	}); err != ErrPinNotOwned {
		t.Errorf("story over someone else's pin: got %v, want ErrPinNotOwned", err)
	}

	if _, err := stories.Create("alice", &models.CreateStoryRequest{
		Title:  "Weekend",
		PinIDs: []string{"missing"},
	}); err != ErrPinNotFound {
		t.Errorf("story over missing pin: got %v, want ErrPinNotFound", err)
	}

	story, err := stories.Create("alice", &models.CreateStoryRequest{
		Title:      "Weekend",
		PinIDs:     []string{mine.ID},
		CoverPinID: mine.ID,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if story.Cover() != mine.ID {
		t.Errorf("Cover() = %q, want %q", story.Cover(), mine.ID)
	}
}

func TestStoryCreate_PerUserLimit(t *testing.T) {
	stories, _ := newTestStoryService(t)

	for i := 0; i < models.MaxStoriesPerUser; i++ {
		if _, err := stories.Create("alice", &models.CreateStoryRequest{
			Title: fmt.Sprintf("Trip %d", i),
		}); err != nil {
			t.Fatalf("Create %d failed: %v", i, err)
		}
	}

	if _, err := stories.Create("alice", &models.CreateStoryRequest{Title: "One too many"}); err != ErrTooManyStories {
		t.Errorf("over the limit: got %v, want ErrTooManyStories", err)
	}

	// The cap is per user, not global.
	if _, err := stories.Create("bob", &models.CreateStoryRequest{Title: "Bob's trip"}); err != nil {
		t.Errorf("another user's first story failed: %v", err)
	}
}

func TestStoryUpdate_Ownership(t *testing.T) {
	stories, _ := newTestStoryService(t)

	story, err := stories.Create("alice", &models.CreateStoryRequest{Title: "Weekend"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := stories.Update("mallory", story.ID, &models.UpdateStoryRequest{Title: "Hacked"}); err != ErrUnauthorized {
		t.Errorf("update by non-owner: got %v, want ErrUnauthorized", err)
	}

	updated, err := stories.Update("alice", story.ID, &models.UpdateStoryRequest{
		Title:       "Long weekend",
		Description: "three days",
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.Title != "Long weekend" || updated.Description != "three days" {
		t.Errorf("updated story = %+v", updated)
	}
}

func TestStoryDelete_CascadesToPins(t *testing.T) {
	stories, pins := newTestStoryService(t)

	p1 := createPin(t, pins, "alice", "Day one")
	p2 := createPin(t, pins, "alice", "Day two")
	keep := createPin(t, pins, "alice", "Unrelated")

	story, err := stories.Create("alice", &models.CreateStoryRequest{
		Title:  "Weekend",
		PinIDs: []string{p1.ID, p2.ID},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := stories.Delete("mallory", story.ID); err != ErrUnauthorized {
		t.Errorf("delete by non-owner: got %v, want ErrUnauthorized", err)
	}
	if err := stories.Delete("alice", story.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if _, err := stories.GetByID(story.ID); err != ErrStoryNotFound {
		t.Errorf("story still present after delete")
	}
	for _, id := range []string{p1.ID, p2.ID} {
		if _, err := pins.GetByID(id); err != ErrPinNotFound {
			t.Errorf("story pin %s survived the story's deletion", id)
		}
	}
	if _, err := pins.GetByID(keep.ID); err != nil {
		t.Errorf("pin outside the story was deleted: %v", err)
	}
}

func TestStoryCover_FallsBackWhenStale(t *testing.T) {
	story := models.Story{
		PinIDs:     []string{"a", "b"},
		CoverPinID: "gone",
	}
	if got := story.Cover(); got != "a" {
		t.Errorf("Cover() = %q, want fallback to first pin", got)
	}
}
