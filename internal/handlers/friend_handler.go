package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/trailmark/backend/internal/middleware"
	"github.com/trailmark/backend/internal/models"
	"github.com/trailmark/backend/internal/services"
)

// FriendHandler serves profile and relation routes from the in-memory
// profile store. Deployments with Mongo use ProfileHandler instead; this one
// backs local development.
type FriendHandler struct {
	profiles *services.ProfileService
	log      *zap.SugaredLogger
}

func NewFriendHandler(profiles *services.ProfileService) *FriendHandler {
	return &FriendHandler{profiles: profiles, log: zap.S()}
}

func (h *FriendHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, models.NewErrorResponse("Unauthorized"))
		return
	}
	prof := h.profiles.GetOrCreate(userID, middleware.GetEmail(r.Context()))
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(prof))
}

func (h *FriendHandler) UpsertProfile(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, models.NewErrorResponse("Unauthorized"))
		return
	}

	var req models.UpsertProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.NewErrorResponse("Invalid request body"))
		return
	}
	prof := h.profiles.Upsert(userID, &req)
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(prof))
}

func (h *FriendHandler) AddFriend(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, models.NewErrorResponse("Unauthorized"))
		return
	}
	friendID := chi.URLParam(r, "userId")

	if err := h.profiles.AddFriend(userID, friendID); err != nil {
		if err == services.ErrSelfFriend {
			writeJSON(w, http.StatusBadRequest, models.NewErrorResponse("Cannot friend yourself"))
			return
		}
		h.log.Errorf("[AddFriend] user=%s friend=%s error=%v", userID, friendID, err)
		writeJSON(w, http.StatusInternalServerError, models.NewErrorResponse("Failed to add friend"))
		return
	}
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(map[string]string{"message": "Friend added"}))
}

func (h *FriendHandler) RemoveFriend(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, models.NewErrorResponse("Unauthorized"))
		return
	}
	friendID := chi.URLParam(r, "userId")

	if err := h.profiles.RemoveFriend(userID, friendID); err != nil {
		h.log.Errorf("[RemoveFriend] user=%s friend=%s error=%v", userID, friendID, err)
		writeJSON(w, http.StatusInternalServerError, models.NewErrorResponse("Failed to remove friend"))
		return
	}
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(map[string]string{"message": "Friend removed"}))
}

func (h *FriendHandler) SetFriendHidden(w http.ResponseWriter, r *http.Request) {
	h.toggleHide(w, r, h.profiles.SetFriendHidden)
}

func (h *FriendHandler) SetHidePinsFrom(w http.ResponseWriter, r *http.Request) {
	h.toggleHide(w, r, h.profiles.SetHidePinsFrom)
}

func (h *FriendHandler) SetPinHidden(w http.ResponseWriter, r *http.Request) {
	h.toggleHide(w, r, h.profiles.SetPinHidden)
}

func (h *FriendHandler) toggleHide(w http.ResponseWriter, r *http.Request, apply func(string, string, bool)) {
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

	apply(userID, req.TargetID, req.Hidden)
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(map[string]string{"message": "Visibility updated"}))
}
