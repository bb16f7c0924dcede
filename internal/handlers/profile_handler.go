package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	fbauth "firebase.google.com/go/v4/auth"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/trailmark/backend/internal/middleware"
	"github.com/trailmark/backend/internal/models"
	"github.com/trailmark/backend/internal/services"
)

type ProfileHandler struct {
	profiles   *services.MongoProfileService
	authClient *fbauth.Client
	log        *zap.SugaredLogger

	// OnRelationChange, when set, is called after a friend or hide mutation
	// with each affected user id. The live map feed hooks this to refresh
	// open sessions.
	OnRelationChange func(userID string)
}

func NewProfileHandler(profiles *services.MongoProfileService, authClient *fbauth.Client) *ProfileHandler {
	return &ProfileHandler{profiles: profiles, authClient: authClient, log: zap.S()}
}

func (h *ProfileHandler) notifyRelationChange(userIDs ...string) {
	if h.OnRelationChange == nil {
		return
	}
	for _, id := range userIDs {
		if id != "" {
			h.OnRelationChange(id)
		}
	}
}

func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, models.NewErrorResponse("Unauthorized"))
		return
	}
	email := middleware.GetEmail(r.Context())

	ctx, cancel := contextWithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	prof, err := h.profiles.GetOrCreate(ctx, userID, email)
	if err != nil {
		h.log.Errorf("[GetProfile] user=%s error=%v", userID, err)
		writeJSON(w, http.StatusInternalServerError, models.NewErrorResponse("Failed to load profile"))
		return
	}
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(prof))
}

func (h *ProfileHandler) UpsertProfile(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, models.NewErrorResponse("Unauthorized"))
		return
	}
	email := middleware.GetEmail(r.Context())

	var req models.UpsertProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.NewErrorResponse("Invalid request body"))
		return
	}

	ctx, cancel := contextWithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	prof, err := h.profiles.Upsert(ctx, userID, email, &req)
	if err != nil {
		h.log.Errorf("[UpsertProfile] user=%s error=%v", userID, err)
		writeJSON(w, http.StatusInternalServerError, models.NewErrorResponse("Failed to update profile"))
		return
	}
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(prof))
}

// GetPublicProfileByUserID returns a public-safe profile for the requested
// userId (no hide lists, no email).
func (h *ProfileHandler) GetPublicProfileByUserID(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, models.NewErrorResponse("Unauthorized"))
		return
	}

	targetID := chi.URLParam(r, "userId")
	if targetID == "" {
		writeJSON(w, http.StatusBadRequest, models.NewErrorResponse("Missing userId"))
		return
	}

	ctx, cancel := contextWithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	prof, err := h.profiles.GetByUserID(ctx, targetID)
	if err != nil {
		// Fallback: if no Mongo profile exists yet, try Firebase Auth user record.
		pub, ok := h.publicFromFirebase(ctx, targetID)
		if !ok {
			writeJSON(w, http.StatusNotFound, models.NewErrorResponse("Profile not found"))
			return
		}
		writeJSON(w, http.StatusOK, models.NewSuccessResponse(pub))
		return
	}

	pub := prof.Public()

	// Best-effort fill missing fields from Firebase Auth.
	if h.authClient != nil && (pub.Username == "" || pub.AvatarURL == "") {
		if u, err2 := h.authClient.GetUser(ctx, targetID); err2 == nil {
			if pub.Username == "" {
				pub.Username = u.DisplayName
			}
			if pub.AvatarURL == "" {
				pub.AvatarURL = u.PhotoURL
			}
		}
	}
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(pub))
}

func (h *ProfileHandler) publicFromFirebase(ctx context.Context, targetID string) (models.PublicProfile, bool) {
	if h.authClient == nil {
		return models.PublicProfile{}, false
	}
	u, err := h.authClient.GetUser(ctx, targetID)
	if err != nil {
		return models.PublicProfile{}, false
	}
	return models.PublicProfile{
		UserID:    targetID,
		Username:  u.DisplayName,
		AvatarURL: u.PhotoURL,
	}, true
}

// SearchProfiles finds users by username prefix for the add-friend flow.
func (h *ProfileHandler) SearchProfiles(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, models.NewErrorResponse("Unauthorized"))
		return
	}

	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, models.NewErrorResponse("Missing required parameter: q"))
		return
	}

	ctx, cancel := contextWithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	profiles, err := h.profiles.SearchByUsername(ctx, q, 20)
	if err != nil {
		h.log.Errorf("[SearchProfiles] user=%s error=%v", userID, err)
		writeJSON(w, http.StatusInternalServerError, models.NewErrorResponse("Failed to search profiles"))
		return
	}
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(profiles))
}

func (h *ProfileHandler) AddFriend(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, models.NewErrorResponse("Unauthorized"))
		return
	}
	friendID := chi.URLParam(r, "userId")

	ctx, cancel := contextWithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := h.profiles.AddFriend(ctx, userID, friendID); err != nil {
		if err == services.ErrSelfFriend {
			writeJSON(w, http.StatusBadRequest, models.NewErrorResponse("Cannot friend yourself"))
			return
		}
		h.log.Errorf("[AddFriend] user=%s friend=%s error=%v", userID, friendID, err)
		writeJSON(w, http.StatusInternalServerError, models.NewErrorResponse("Failed to add friend"))
		return
	}
	h.notifyRelationChange(userID, friendID)
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(map[string]string{"message": "Friend added"}))
}

func (h *ProfileHandler) RemoveFriend(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, models.NewErrorResponse("Unauthorized"))
		return
	}
	friendID := chi.URLParam(r, "userId")

	ctx, cancel := contextWithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := h.profiles.RemoveFriend(ctx, userID, friendID); err != nil {
		h.log.Errorf("[RemoveFriend] user=%s friend=%s error=%v", userID, friendID, err)
		writeJSON(w, http.StatusInternalServerError, models.NewErrorResponse("Failed to remove friend"))
		return
	}
	h.notifyRelationChange(userID, friendID)
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(map[string]string{"message": "Friend removed"}))
}

// SetFriendHidden toggles whether the target friend's pins appear on the
// caller's map.
func (h *ProfileHandler) SetFriendHidden(w http.ResponseWriter, r *http.Request) {
	h.toggleHide(w, r, h.profiles.SetFriendHidden)
}

// SetHidePinsFrom toggles whether the target friend can see the caller's pins.
func (h *ProfileHandler) SetHidePinsFrom(w http.ResponseWriter, r *http.Request) {
	h.toggleHide(w, r, h.profiles.SetHidePinsFrom)
}

// SetPinHidden toggles a single pin on the caller's hidden-pin list.
func (h *ProfileHandler) SetPinHidden(w http.ResponseWriter, r *http.Request) {
	h.toggleHide(w, r, h.profiles.SetPinHidden)
}

func (h *ProfileHandler) toggleHide(w http.ResponseWriter, r *http.Request, apply func(context.Context, string, string, bool) error) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, models.NewErrorResponse("Unauthorized"))
		return
	}

	var req models.ToggleHideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.NewErrorResponse("Invalid request body"))
		return
	}
	if errors := req.Validate(); len(errors) > 0 {
		writeJSON(w, http.StatusBadRequest, models.NewValidationErrorResponse(errors))
		return
	}

	ctx, cancel := contextWithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := apply(ctx, userID, req.TargetID, req.Hidden); err != nil {
		if err == services.ErrProfileNotFound {
			writeJSON(w, http.StatusNotFound, models.NewErrorResponse("Profile not found"))
			return
		}
		h.log.Errorf("[toggleHide] user=%s target=%s error=%v", userID, req.TargetID, err)
		writeJSON(w, http.StatusInternalServerError, models.NewErrorResponse("Failed to update visibility"))
		return
	}
	// Hide toggles can change what either side sees.
	h.notifyRelationChange(userID, req.TargetID)
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(map[string]string{"message": "Visibility updated"}))
}
