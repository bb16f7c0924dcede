package handlers

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/trailmark/backend/internal/middleware"
	"github.com/trailmark/backend/internal/models"
	"github.com/trailmark/backend/internal/services"
)

// ReportHandler files user reports against pins and forwards them to the
// moderation inbox.
type ReportHandler struct {
	flags  *services.MongoUserFlagService
	mailer *services.SendGridMailer
	log    *zap.SugaredLogger
}

func NewReportHandler(flags *services.MongoUserFlagService, mailer *services.SendGridMailer) *ReportHandler {
	return &ReportHandler{flags: flags, mailer: mailer, log: zap.S()}
}

func (h *ReportHandler) SubmitReport(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, models.NewErrorResponse("Unauthorized"))
		return
	}

	var req models.CreateReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.NewErrorResponse("Invalid request body"))
		return
	}

	req.Reason = strings.TrimSpace(req.Reason)
	req.Details = strings.TrimSpace(req.Details)
	if errors := req.Validate(); len(errors) > 0 {
		writeJSON(w, http.StatusBadRequest, models.NewValidationErrorResponse(errors))
		return
	}
	if len(req.Details) > 4000 {
		writeJSON(w, http.StatusBadRequest, models.NewValidationErrorResponse(map[string]string{
			"details": "Details are too long",
		}))
		return
	}

	ctx, cancel := contextWithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	report, err := h.flags.CreateReport(ctx, userID, &req)
	if err != nil {
		h.log.Errorf("[Report] user=%s pin=%s error=%v", userID, req.PinID, err)
		writeJSON(w, http.StatusInternalServerError, models.NewErrorResponse("Failed to file report"))
		return
	}

	// The report is filed even when the notification email fails.
	if h.mailer != nil {
		email := middleware.GetEmail(r.Context())
		if err := h.mailer.SendReportEmail(ctx, report.ID, report.PinID, email, report.Reason, report.Details); err != nil {
			h.log.Warnf("[Report] report=%s ip=%s sendgrid error=%v", report.ID, clientIP(r), err)
		}
	}

	writeJSON(w, http.StatusCreated, models.NewSuccessResponse(report))
}

func clientIP(r *http.Request) string {
	// Cloud Run typically provides X-Forwarded-For. Use first IP if present.
	xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if net.ParseIP(ip) != nil {
				return ip
			}
		}
	}

	// Fallback to RemoteAddr.
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && net.ParseIP(host) != nil {
		return host
	}
	if net.ParseIP(r.RemoteAddr) != nil {
		return r.RemoteAddr
	}
	return ""
}
