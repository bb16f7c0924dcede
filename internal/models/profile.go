package models

import "time"

// Profile is the social profile stored in Mongo and keyed by the auth user id.
// The three hide lists drive map visibility:
//   - HiddenFriendIDs: friends whose pins this user has hidden from their own map
//   - HidePinsFrom: friends who can NOT see this user's pins (creator-side privacy)
//   - HiddenPinIDs: individual pins this user has hidden from their own map
type Profile struct {
	UserID          string    `json:"user_id" bson:"user_id"`
	Email           string    `json:"email" bson:"email,omitempty"`
	Username        string    `json:"username" bson:"username,omitempty"`
	Bio             string    `json:"bio" bson:"bio,omitempty"`
	AvatarURL       string    `json:"avatar_url" bson:"avatar_url,omitempty"`
	PinColor        string    `json:"pin_color" bson:"pin_color,omitempty"`
	FriendIDs       []string  `json:"friend_ids" bson:"friend_ids,omitempty"`
	HiddenFriendIDs []string  `json:"hidden_friend_ids" bson:"hidden_friend_ids,omitempty"`
	HidePinsFrom    []string  `json:"hide_pins_from" bson:"hide_pins_from,omitempty"`
	HiddenPinIDs    []string  `json:"hidden_pin_ids" bson:"hidden_pin_ids,omitempty"`
	UpdatedAt       time.Time `json:"updated_at" bson:"updated_at"`
}

// PublicProfile is safe to share with other authenticated users (no hide lists).
type PublicProfile struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	Bio       string `json:"bio"`
	AvatarURL string `json:"avatar_url"`
	PinColor  string `json:"pin_color"`
}

func (p *Profile) Public() PublicProfile {
	return PublicProfile{
		UserID:    p.UserID,
		Username:  p.Username,
		Bio:       p.Bio,
		AvatarURL: p.AvatarURL,
		PinColor:  p.PinColor,
	}
}

type UpsertProfileRequest struct {
	Username  *string `json:"username"`
	Bio       *string `json:"bio"`
	AvatarURL *string `json:"avatar_url"`
	PinColor  *string `json:"pin_color"`
}

// ToggleHideRequest flips one entry on one of the profile's hide lists.
type ToggleHideRequest struct {
	TargetID string `json:"target_id"`
	Hidden   bool   `json:"hidden"`
}

func (r *ToggleHideRequest) Validate() map[string]string {
	errors := make(map[string]string)

	if r.TargetID == "" {
		errors["target_id"] = "Target id is required"
	}

	return errors
}
