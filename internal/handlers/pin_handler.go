package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/trailmark/backend/internal/mapview"
	"github.com/trailmark/backend/internal/middleware"
	"github.com/trailmark/backend/internal/models"
	"github.com/trailmark/backend/internal/services"
)

type PinHandler struct {
	pinService        *services.PinService
	storyService      *services.StoryService
	profiles          RelationSource
	moderationService *services.ModerationService
	log               *zap.SugaredLogger
}

func NewPinHandler(pinService *services.PinService, storyService *services.StoryService, profiles RelationSource, moderationService *services.ModerationService) *PinHandler {
	return &PinHandler{
		pinService:        pinService,
		storyService:      storyService,
		profiles:          profiles,
		moderationService: moderationService,
		log:               zap.S(),
	}
}

func (h *PinHandler) CreatePin(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		h.log.Warn("[CreatePin] Unauthorized - no user ID in context")
		writeJSON(w, http.StatusUnauthorized, models.NewErrorResponse("Unauthorized"))
		return
	}

	var req models.CreatePinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.NewErrorResponse("Invalid request body"))
		return
	}

	if errors := req.Validate(); len(errors) > 0 {
		h.log.Infof("[CreatePin] Validation errors: %v", errors)
		writeJSON(w, http.StatusBadRequest, models.NewValidationErrorResponse(errors))
		return
	}

	if h.moderationService != nil && len(req.ImageURLs) > 0 {
		approved, err := h.moderationService.ModeratePinPhotos(r.Context(), req.ImageURLs, userID)
		if err != nil {
			if err == services.ErrImageRejected {
				writeJSON(w, http.StatusUnprocessableEntity, models.NewErrorResponse("Photo rejected — violates community guidelines"))
				return
			}
			h.log.Errorf("[CreatePin] moderation error: %v", err)
			writeJSON(w, http.StatusInternalServerError, models.NewErrorResponse("Failed to process image"))
			return
		}
		req.ImageURLs = approved
	}

	pin, err := h.pinService.Create(userID, &req)
	if err != nil {
		h.log.Errorf("[CreatePin] Service error: %v", err)
		writeJSON(w, http.StatusInternalServerError, models.NewErrorResponse("Failed to create pin"))
		return
	}

	writeJSON(w, http.StatusCreated, models.NewSuccessResponse(pin))
}

func (h *PinHandler) GetPin(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, models.NewErrorResponse("Unauthorized"))
		return
	}
	pinID := chi.URLParam(r, "pinId")

	pin, err := h.pinService.GetByID(pinID)
	if err != nil {
		if err == services.ErrPinNotFound {
			writeJSON(w, http.StatusNotFound, models.NewErrorResponse("Pin not found"))
			return
		}
		writeJSON(w, http.StatusInternalServerError, models.NewErrorResponse("Failed to get pin"))
		return
	}

	// Same creator/friend/hide rules as the map. A nil story index keeps
	// non-cover story pins fetchable by id so story detail views work.
	rel := h.profiles.VisibilityFor(userID)
	if len(mapview.FilterVisible([]models.Pin{*pin}, rel, nil, timeNow())) == 0 {
		writeJSON(w, http.StatusNotFound, models.NewErrorResponse("Pin not found"))
		return
	}

	writeJSON(w, http.StatusOK, models.NewSuccessResponse(pin))
}

func (h *PinHandler) UpdatePin(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	pinID := chi.URLParam(r, "pinId")

	var req models.UpdatePinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.NewErrorResponse("Invalid request body"))
		return
	}

	if errors := req.Validate(); len(errors) > 0 {
		writeJSON(w, http.StatusBadRequest, models.NewValidationErrorResponse(errors))
		return
	}

	pin, err := h.pinService.Update(userID, pinID, &req)
	if err != nil {
		if err == services.ErrPinNotFound {
			writeJSON(w, http.StatusNotFound, models.NewErrorResponse("Pin not found"))
			return
		}
		if err == services.ErrUnauthorized {
			writeJSON(w, http.StatusForbidden, models.NewErrorResponse("Not authorized to update this pin"))
			return
		}
		writeJSON(w, http.StatusInternalServerError, models.NewErrorResponse("Failed to update pin"))
		return
	}

	writeJSON(w, http.StatusOK, models.NewSuccessResponse(pin))
}

func (h *PinHandler) DeletePin(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	pinID := chi.URLParam(r, "pinId")

	err := h.pinService.Delete(userID, pinID)
	if err != nil {
		if err == services.ErrPinNotFound {
			writeJSON(w, http.StatusNotFound, models.NewErrorResponse("Pin not found"))
			return
		}
		if err == services.ErrUnauthorized {
			writeJSON(w, http.StatusForbidden, models.NewErrorResponse("Not authorized to delete this pin"))
			return
		}
		writeJSON(w, http.StatusInternalServerError, models.NewErrorResponse("Failed to delete pin"))
		return
	}

	writeJSON(w, http.StatusOK, models.NewSuccessResponse(map[string]string{"message": "Pin deleted successfully"}))
}

func (h *PinHandler) AddPhoto(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	pinID := chi.URLParam(r, "pinId")

	var req models.AddPhotoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.NewErrorResponse("Invalid request body"))
		return
	}
	if req.URL == "" {
		writeJSON(w, http.StatusBadRequest, models.NewValidationErrorResponse(map[string]string{"url": "URL is required"}))
		return
	}

	url := req.URL
	if h.moderationService != nil {
		approved, err := h.moderationService.ModeratePinPhotos(r.Context(), []string{url}, userID)
		if err != nil {
			if err == services.ErrImageRejected {
				writeJSON(w, http.StatusUnprocessableEntity, models.NewErrorResponse("Photo rejected — violates community guidelines"))
				return
			}
			h.log.Errorf("[AddPhoto] moderation error: %v", err)
			writeJSON(w, http.StatusInternalServerError, models.NewErrorResponse("Failed to process image"))
			return
		}
		if len(approved) > 0 {
			url = approved[0]
		}
	}

	pin, err := h.pinService.AddPhoto(userID, pinID, url)
	if err != nil {
		if err == services.ErrPinNotFound {
			writeJSON(w, http.StatusNotFound, models.NewErrorResponse("Pin not found"))
			return
		}
		if err == services.ErrUnauthorized {
			writeJSON(w, http.StatusForbidden, models.NewErrorResponse("Not authorized to update this pin"))
			return
		}
		writeJSON(w, http.StatusInternalServerError, models.NewErrorResponse("Failed to add photo"))
		return
	}

	writeJSON(w, http.StatusOK, models.NewSuccessResponse(pin))
}

func (h *PinHandler) RemovePhoto(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	pinID := chi.URLParam(r, "pinId")

	var req models.AddPhotoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.NewErrorResponse("Invalid request body"))
		return
	}

	pin, err := h.pinService.RemovePhoto(userID, pinID, req.URL)
	if err != nil {
		if err == services.ErrPinNotFound {
			writeJSON(w, http.StatusNotFound, models.NewErrorResponse("Pin not found"))
			return
		}
		if err == services.ErrUnauthorized {
			writeJSON(w, http.StatusForbidden, models.NewErrorResponse("Not authorized to update this pin"))
			return
		}
		writeJSON(w, http.StatusInternalServerError, models.NewErrorResponse("Failed to remove photo"))
		return
	}

	writeJSON(w, http.StatusOK, models.NewSuccessResponse(pin))
}

func (h *PinHandler) ListMyPins(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, models.NewErrorResponse("Unauthorized"))
		return
	}

	pins := h.pinService.ListByCreator(userID)
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(pins))
}

func (h *PinHandler) ListPinsByBounds(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, models.NewErrorResponse("Unauthorized"))
		return
	}

	minLng, ok1 := queryFloat(r, "minLng")
	minLat, ok2 := queryFloat(r, "minLat")
	maxLng, ok3 := queryFloat(r, "maxLng")
	maxLat, ok4 := queryFloat(r, "maxLat")

	if !ok1 || !ok2 || !ok3 || !ok4 {
		writeJSON(w, http.StatusBadRequest, models.NewErrorResponse("Missing or invalid bounding box parameters (minLng, minLat, maxLng, maxLat)"))
		return
	}

	// Bounds queries obey the same visibility rules as the rendered map.
	rel := h.profiles.VisibilityFor(userID)
	stories := mapview.BuildStoryIndex(h.storyService.Snapshot())
	pins := mapview.FilterVisible(
		h.pinService.ListByBounds(minLng, minLat, maxLng, maxLat),
		rel, stories, timeNow(),
	)
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(pins))
}
