// Package mapview derives the render-ready map state from raw pin, relation
// and story snapshots: visibility filtering, GeoJSON point projection,
// debounced viewport tracking and the clustering pipeline that ties them
// together.
package mapview

import (
	"time"

	"github.com/trailmark/backend/internal/models"
)

// Relations is everything about the viewer that affects which pins they may
// see.
type Relations struct {
	ViewerID string
	// FriendIDs are the viewer's accepted friends. Pins from anyone else
	// (except the viewer) are never shown.
	FriendIDs []string
	// HiddenByCreators are creators who opted to hide their pins from this
	// viewer.
	HiddenByCreators []string
	// HiddenPinIDs are individual pins the viewer hid locally.
	HiddenPinIDs []string
	// FocusCreatorID, when set, restricts the map to a single creator's
	// pins (the "show only this friend" chip).
	FocusCreatorID string
}

// StoryIndex maps pin id to the story that contains it.
type StoryIndex map[string]*models.Story

// BuildStoryIndex derives the pin-to-story map from a story snapshot. If a
// pin somehow appears in two stories the first one in the snapshot wins.
func BuildStoryIndex(stories []models.Story) StoryIndex {
	idx := make(StoryIndex)
	for i := range stories {
		s := &stories[i]
		for _, pinID := range s.PinIDs {
			if _, taken := idx[pinID]; !taken {
				idx[pinID] = s
			}
		}
	}
	return idx
}

// FilterVisible reduces the full pin set to the pins the viewer may see on
// the standalone map. Pure: no side effects, deterministic for identical
// inputs, cheap enough to run on every state change.
//
// Rule order, first failure excludes:
//  1. expired pins are never visible
//  2. the viewer's own pins are always visible (hide lists cannot hide
//     them from their owner), except for the story rule
//  3. pins from non-friends are excluded
//  4. pins from creators who hide their pins from the viewer are excluded
//  5. pins the viewer hid individually are excluded
//  6. of a story's pins only its cover pin is shown
func FilterVisible(pins []models.Pin, rel Relations, stories StoryIndex, now time.Time) []models.Pin {
	friends := toSet(rel.FriendIDs)
	hiddenCreators := toSet(rel.HiddenByCreators)
	hiddenPins := toSet(rel.HiddenPinIDs)

	visible := make([]models.Pin, 0, len(pins))
	for _, p := range pins {
		if p.Expired(now) {
			continue
		}
		if rel.FocusCreatorID != "" && p.CreatorID != rel.FocusCreatorID {
			continue
		}
		if p.CreatorID != rel.ViewerID {
			if !friends[p.CreatorID] {
				continue
			}
			if hiddenCreators[p.CreatorID] {
				continue
			}
			if hiddenPins[p.ID] {
				continue
			}
		}
		if story := stories[p.ID]; story != nil && p.ID != story.Cover() {
			continue
		}
		visible = append(visible, p)
	}
	return visible
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
