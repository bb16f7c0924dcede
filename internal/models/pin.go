package models

import (
	"math"
	"time"
)

// PinColors are the pin icon tags the clients know how to render.
var PinColors = []string{
	"magenta",
	"orange",
	"green",
	"blue",
	"cyan",
	"red",
	"black",
	"purple",
	"silver",
	"white",
}

// Pin is a single geo-tagged memory dropped by a user.
// Location is [longitude, latitude], matching GeoJSON ordering.
type Pin struct {
	ID           string     `json:"id"`
	CreatorID    string     `json:"creator_id"`
	Title        string     `json:"title"`
	Date         string     `json:"date"`
	Location     [2]float64 `json:"location"`
	LocationName string     `json:"location_name"`
	ImageURLs    []string   `json:"image_urls,omitempty"`
	PinColor     string     `json:"pin_color"`
	// ExpiresAt is a unix-millisecond timestamp. Nil means the pin is permanent.
	ExpiresAt *int64    `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Expired reports whether the pin's expiry timestamp has passed.
func (p *Pin) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && *p.ExpiresAt < now.UnixMilli()
}

// HasValidLocation reports whether both coordinates are finite numbers.
func (p *Pin) HasValidLocation() bool {
	return validCoord(p.Location[0]) && validCoord(p.Location[1])
}

func validCoord(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

type CreatePinRequest struct {
	Title        string     `json:"title"`
	Date         string     `json:"date"`
	Location     [2]float64 `json:"location"`
	LocationName string     `json:"location_name"`
	ImageURLs    []string   `json:"image_urls"`
	PinColor     string     `json:"pin_color"`
	ExpiresAt    *int64     `json:"expires_at"`
}

// UpdatePinRequest patches a pin. Zero-valued fields are left alone, except
// ExpiresAt, which carries the pin's full expiry state on every update:
// omitting expires_at clears the expiry and makes the pin permanent.
type UpdatePinRequest struct {
	Title        string      `json:"title"`
	Date         string      `json:"date"`
	Location     *[2]float64 `json:"location"`
	LocationName string      `json:"location_name"`
	PinColor     string      `json:"pin_color"`
	ExpiresAt    *int64      `json:"expires_at"`
}

type AddPhotoRequest struct {
	URL string `json:"url"`
}

func (r *CreatePinRequest) Validate() map[string]string {
	errors := make(map[string]string)

	if r.Title == "" {
		errors["title"] = "Title is required"
	}
	if !validCoord(r.Location[0]) || !validCoord(r.Location[1]) {
		errors["location"] = "Location coordinates must be finite numbers"
	}
	if r.Location[0] < -180 || r.Location[0] > 180 {
		errors["location"] = "Longitude must be between -180 and 180"
	}
	if r.Location[1] < -90 || r.Location[1] > 90 {
		errors["location"] = "Latitude must be between -90 and 90"
	}
	if r.PinColor != "" && !validPinColor(r.PinColor) {
		errors["pin_color"] = "Unknown pin color"
	}
	if r.ExpiresAt != nil && *r.ExpiresAt <= 0 {
		errors["expires_at"] = "Expiry must be a positive unix-millisecond timestamp"
	}

	return errors
}

func (r *UpdatePinRequest) Validate() map[string]string {
	errors := make(map[string]string)

	if r.Location != nil {
		if !validCoord(r.Location[0]) || !validCoord(r.Location[1]) {
			errors["location"] = "Location coordinates must be finite numbers"
		}
	}
	if r.PinColor != "" && !validPinColor(r.PinColor) {
		errors["pin_color"] = "Unknown pin color"
	}

	return errors
}

func validPinColor(color string) bool {
	for _, c := range PinColors {
		if c == color {
			return true
		}
	}
	return false
}
