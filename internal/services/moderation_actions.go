package services

import (
	"context"

	"github.com/trailmark/backend/internal/models"
)

type ModerationActions struct {
	Pins     *MongoPinService
	Profiles *MongoProfileService
	Flags    *MongoUserFlagService
}

// StrikeAndClear clears references for a rejected image and records a strike.
// url is expected to be the final approved-path download URL stored in Mongo.
func (m *ModerationActions) StrikeAndClear(ctx context.Context, userID string, pinID string, url string, typ string) error {
	if m.Flags != nil && userID != "" {
		_, _ = m.Flags.AddStrike(ctx, userID)
	}

	switch typ {
	case "pin_photo":
		if m.Pins != nil {
			return m.Pins.RemovePhotoIfMatches(ctx, pinID, url)
		}
	case "avatar":
		if m.Profiles != nil {
			// Avatars are always user-owned; clear it regardless of whether it
			// currently matches the URL (best-effort safety).
			empty := ""
			_, err := m.Profiles.Upsert(ctx, userID, "", &models.UpsertProfileRequest{AvatarURL: &empty})
			return err
		}
	}
	return nil
}

// RejectPending handles an unsafe client-direct upload: record a strike and
// drop the pending path from whatever references it.
func (m *ModerationActions) RejectPending(ctx context.Context, userID string, typ string, pendingPath string) error {
	if m.Flags != nil && userID != "" {
		_, _ = m.Flags.AddStrike(ctx, userID)
	}

	switch typ {
	case "pin_photo":
		if m.Pins != nil {
			return m.Pins.RejectPendingPhoto(ctx, pendingPath)
		}
	case "avatar":
		if m.Profiles != nil {
			return m.Profiles.RejectPendingAvatar(ctx, pendingPath)
		}
	}
	return nil
}

// ApprovePending swaps a pending path for its approved download URL.
func (m *ModerationActions) ApprovePending(ctx context.Context, typ string, pendingPath string, approvedURL string) error {
	switch typ {
	case "pin_photo":
		if m.Pins != nil {
			return m.Pins.ApprovePendingPhoto(ctx, pendingPath, approvedURL)
		}
	case "avatar":
		if m.Profiles != nil {
			return m.Profiles.ApprovePendingAvatar(ctx, pendingPath, approvedURL)
		}
	}
	return nil
}
