package models

// Story limits. Enforced server-side on create and update.
const (
	MaxStoriesPerUser = 5
	MaxPinsPerStory   = 10
)

// Story is an ordered sequence of a user's own pins presented as a guided
// playback. Order in PinIDs is meaningful: it drives playback and the
// default cover pin.
type Story struct {
	ID          string   `json:"id"`
	CreatorID   string   `json:"creator_id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	PinIDs      []string `json:"pin_ids"`
	// CoverPinID optionally overrides which pin represents the story on the
	// map. When empty or stale, the first pin wins.
	CoverPinID string `json:"cover_pin_id,omitempty"`
	CreatedAt  int64  `json:"created_at"`
	UpdatedAt  int64  `json:"updated_at"`
}

// Cover resolves the pin that represents this story on the standalone map.
// A CoverPinID that no longer appears in PinIDs falls back to the first pin.
func (s *Story) Cover() string {
	if s.CoverPinID != "" {
		for _, id := range s.PinIDs {
			if id == s.CoverPinID {
				return s.CoverPinID
			}
		}
	}
	if len(s.PinIDs) > 0 {
		return s.PinIDs[0]
	}
	return ""
}

type CreateStoryRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	PinIDs      []string `json:"pin_ids"`
	CoverPinID  string   `json:"cover_pin_id"`
}

type UpdateStoryRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	PinIDs      []string `json:"pin_ids"`
	CoverPinID  string   `json:"cover_pin_id"`
}

func (r *CreateStoryRequest) Validate() map[string]string {
	errors := make(map[string]string)

	if r.Title == "" {
		errors["title"] = "Title is required"
	}
	validateStoryPins(errors, r.PinIDs, r.CoverPinID)

	return errors
}

func (r *UpdateStoryRequest) Validate() map[string]string {
	errors := make(map[string]string)

	validateStoryPins(errors, r.PinIDs, r.CoverPinID)

	return errors
}

func validateStoryPins(errors map[string]string, pinIDs []string, coverPinID string) {
	if len(pinIDs) == 0 {
		errors["pin_ids"] = "A story needs at least one pin"
		return
	}
	if len(pinIDs) > MaxPinsPerStory {
		errors["pin_ids"] = "A story can have at most 10 pins"
	}
	seen := make(map[string]bool, len(pinIDs))
	for _, id := range pinIDs {
		if id == "" {
			errors["pin_ids"] = "Pin ids must be non-empty"
			return
		}
		if seen[id] {
			errors["pin_ids"] = "Pin ids must be unique within a story"
			return
		}
		seen[id] = true
	}
	if coverPinID != "" && !seen[coverPinID] {
		errors["cover_pin_id"] = "Cover pin must be one of the story's pins"
	}
}
