package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/trailmark/backend/internal/middleware"
	"github.com/trailmark/backend/internal/models"
	"github.com/trailmark/backend/internal/services"
)

// FavoriteStore is the bucket-list surface both the in-memory and Mongo
// favorite services satisfy.
type FavoriteStore interface {
	AddFavorite(userID, pinID string) (*models.Favorite, error)
	RemoveFavorite(userID, pinID string) error
	ListUserFavorites(userID string) ([]models.FavoriteWithPin, error)
	IsFavorited(userID, pinID string) bool
}

type FavoriteHandler struct {
	favoriteService FavoriteStore
}

func NewFavoriteHandler(favoriteService FavoriteStore) *FavoriteHandler {
	return &FavoriteHandler{
		favoriteService: favoriteService,
	}
}

func (h *FavoriteHandler) AddFavorite(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, models.NewErrorResponse("Unauthorized"))
		return
	}

	pinID := chi.URLParam(r, "pinId")

	favorite, err := h.favoriteService.AddFavorite(userID, pinID)
	if err != nil {
		if err == services.ErrAlreadyFavorited {
			writeJSON(w, http.StatusConflict, models.NewErrorResponse("Pin already favorited"))
			return
		}
		if err == services.ErrPinNotFound {
			writeJSON(w, http.StatusNotFound, models.NewErrorResponse("Pin not found"))
			return
		}
		writeJSON(w, http.StatusInternalServerError, models.NewErrorResponse("Failed to add favorite"))
		return
	}

	writeJSON(w, http.StatusCreated, models.NewSuccessResponse(favorite))
}

func (h *FavoriteHandler) RemoveFavorite(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, models.NewErrorResponse("Unauthorized"))
		return
	}

	pinID := chi.URLParam(r, "pinId")

	err := h.favoriteService.RemoveFavorite(userID, pinID)
	if err != nil {
		if err == services.ErrFavoriteNotFound {
			writeJSON(w, http.StatusNotFound, models.NewErrorResponse("Favorite not found"))
			return
		}
		writeJSON(w, http.StatusInternalServerError, models.NewErrorResponse("Failed to remove favorite"))
		return
	}

	writeJSON(w, http.StatusOK, models.NewSuccessResponse(map[string]string{"message": "Favorite removed successfully"}))
}

func (h *FavoriteHandler) ListFavorites(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, models.NewErrorResponse("Unauthorized"))
		return
	}

	favorites, err := h.favoriteService.ListUserFavorites(userID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, models.NewErrorResponse("Failed to list favorites"))
		return
	}

	writeJSON(w, http.StatusOK, models.NewSuccessResponse(favorites))
}
