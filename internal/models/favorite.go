package models

import (
	"time"
)

// Favorite marks a pin the user saved to their bucket list.
type Favorite struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	PinID     string    `json:"pin_id"`
	CreatedAt time.Time `json:"created_at"`
}

type FavoriteWithPin struct {
	Favorite
	Pin Pin `json:"pin"`
}
