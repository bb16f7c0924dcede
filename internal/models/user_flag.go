package models

import "time"

// UserFlag tracks moderation outcomes for a user. Strikes accumulate when
// uploaded pin photos are rejected or reports against the user are upheld.
type UserFlag struct {
	UserID       string    `json:"user_id" bson:"user_id"`
	Strikes      int       `json:"strikes" bson:"strikes"`
	LastStrikeAt time.Time `json:"last_strike_at" bson:"last_strike_at"`
	UpdatedAt    time.Time `json:"updated_at" bson:"updated_at"`
}

// PinReport is a user-filed report against a pin.
type PinReport struct {
	ID         string    `json:"id" bson:"_id"`
	PinID      string    `json:"pin_id" bson:"pin_id"`
	ReporterID string    `json:"reporter_id" bson:"reporter_id"`
	Reason     string    `json:"reason" bson:"reason"`
	Details    string    `json:"details,omitempty" bson:"details,omitempty"`
	CreatedAt  time.Time `json:"created_at" bson:"created_at"`
}

type CreateReportRequest struct {
	PinID   string `json:"pin_id"`
	Reason  string `json:"reason"`
	Details string `json:"details"`
}

func (r *CreateReportRequest) Validate() map[string]string {
	errors := make(map[string]string)

	if r.PinID == "" {
		errors["pin_id"] = "Pin id is required"
	}
	if r.Reason == "" {
		errors["reason"] = "Reason is required"
	}

	return errors
}
