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

type StoryHandler struct {
	storyService *services.StoryService
	log          *zap.SugaredLogger
}

func NewStoryHandler(storyService *services.StoryService) *StoryHandler {
	return &StoryHandler{storyService: storyService, log: zap.S()}
}

func (h *StoryHandler) CreateStory(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, models.NewErrorResponse("Unauthorized"))
		return
	}

	var req models.CreateStoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.NewErrorResponse("Invalid request body"))
		return
	}

	if errors := req.Validate(); len(errors) > 0 {
		writeJSON(w, http.StatusBadRequest, models.NewValidationErrorResponse(errors))
		return
	}

	story, err := h.storyService.Create(userID, &req)
	if err != nil {
		switch err {
		case services.ErrTooManyStories:
			writeJSON(w, http.StatusConflict, models.NewErrorResponse("Story limit reached"))
		case services.ErrPinNotFound:
			writeJSON(w, http.StatusBadRequest, models.NewErrorResponse("Story references a pin that does not exist"))
		case services.ErrPinNotOwned:
			writeJSON(w, http.StatusForbidden, models.NewErrorResponse("Stories can only contain your own pins"))
		default:
			h.log.Errorf("[CreateStory] Service error: %v", err)
			writeJSON(w, http.StatusInternalServerError, models.NewErrorResponse("Failed to create story"))
		}
		return
	}

	writeJSON(w, http.StatusCreated, models.NewSuccessResponse(story))
}

func (h *StoryHandler) GetStory(w http.ResponseWriter, r *http.Request) {
	storyID := chi.URLParam(r, "storyId")

	story, err := h.storyService.GetByID(storyID)
	if err != nil {
		if err == services.ErrStoryNotFound {
			writeJSON(w, http.StatusNotFound, models.NewErrorResponse("Story not found"))
			return
		}
		writeJSON(w, http.StatusInternalServerError, models.NewErrorResponse("Failed to get story"))
		return
	}

	writeJSON(w, http.StatusOK, models.NewSuccessResponse(story))
}

func (h *StoryHandler) UpdateStory(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	storyID := chi.URLParam(r, "storyId")

	var req models.UpdateStoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.NewErrorResponse("Invalid request body"))
		return
	}

	if errors := req.Validate(); len(errors) > 0 {
		writeJSON(w, http.StatusBadRequest, models.NewValidationErrorResponse(errors))
		return
	}

	story, err := h.storyService.Update(userID, storyID, &req)
	if err != nil {
		switch err {
		case services.ErrStoryNotFound:
			writeJSON(w, http.StatusNotFound, models.NewErrorResponse("Story not found"))
		case services.ErrUnauthorized:
			writeJSON(w, http.StatusForbidden, models.NewErrorResponse("Not authorized to update this story"))
		case services.ErrPinNotFound:
			writeJSON(w, http.StatusBadRequest, models.NewErrorResponse("Story references a pin that does not exist"))
		case services.ErrPinNotOwned:
			writeJSON(w, http.StatusForbidden, models.NewErrorResponse("Stories can only contain your own pins"))
		default:
			h.log.Errorf("[UpdateStory] Service error: %v", err)
			writeJSON(w, http.StatusInternalServerError, models.NewErrorResponse("Failed to update story"))
		}
		return
	}

	writeJSON(w, http.StatusOK, models.NewSuccessResponse(story))
}

func (h *StoryHandler) DeleteStory(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	storyID := chi.URLParam(r, "storyId")

	err := h.storyService.Delete(userID, storyID)
	if err != nil {
		if err == services.ErrStoryNotFound {
			writeJSON(w, http.StatusNotFound, models.NewErrorResponse("Story not found"))
			return
		}
		if err == services.ErrUnauthorized {
			writeJSON(w, http.StatusForbidden, models.NewErrorResponse("Not authorized to delete this story"))
			return
		}
		writeJSON(w, http.StatusInternalServerError, models.NewErrorResponse("Failed to delete story"))
		return
	}

	writeJSON(w, http.StatusOK, models.NewSuccessResponse(map[string]string{"message": "Story deleted successfully"}))
}

func (h *StoryHandler) ListMyStories(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, models.NewErrorResponse("Unauthorized"))
		return
	}

	stories := h.storyService.ListByCreator(userID)
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(stories))
}
