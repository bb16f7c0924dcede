package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/trailmark/backend/internal/middleware"
	"github.com/trailmark/backend/internal/models"
	"github.com/trailmark/backend/internal/services"
)

type AccountHandler struct {
	accounts *services.MongoAccountService
	log      *zap.SugaredLogger
}

func NewAccountHandler(accounts *services.MongoAccountService) *AccountHandler {
	return &AccountHandler{accounts: accounts, log: zap.S()}
}

// DeleteAccount deletes all backend data for the authenticated user: pins,
// stories, favorites, reports, the profile, plus friend-list references held
// by other users. Returns image URLs to delete from Firebase Storage
// client-side (best effort).
func (h *AccountHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, models.NewErrorResponse("Unauthorized"))
		return
	}

	ctx, cancel := contextWithTimeout(r.Context(), services.DefaultAccountTimeout())
	defer cancel()

	result, err := h.accounts.DeleteAccount(ctx, userID)
	if err != nil {
		h.log.Errorf("[DeleteAccount] user=%s error=%v", userID, err)
		writeJSON(w, http.StatusInternalServerError, models.NewErrorResponse("Failed to delete account"))
		return
	}

	writeJSON(w, http.StatusOK, models.NewSuccessResponse(result))
}
