package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pysugar/chat-relay/internal/api/middleware"
	"github.com/pysugar/chat-relay/internal/db"
	"github.com/pysugar/chat-relay/internal/db/models"
	"gorm.io/gorm"
)

// StatusResponse is the caller-visible projection of a request.
type StatusResponse struct {
	ID                string               `json:"id"`
	Status            models.RequestStatus `json:"status"`
	ProviderRequested string               `json:"provider_requested,omitempty"`
	ProviderUsed      string               `json:"provider_used,omitempty"`
	Response          string               `json:"response,omitempty"`
	TokensUsed        int                  `json:"tokens_used"`
	LatencyMs         int64                `json:"latency_ms"`
	ErrorMessage      string               `json:"error_message,omitempty"`
	CreatedAt         time.Time            `json:"created_at"`
	CompletedAt       *time.Time           `json:"completed_at,omitempty"`
}

// StatusHandler handles GET /api/v1/status/{id}. Requests owned by another
// user are reported as not found.
func StatusHandler(database *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			writeError(w, http.StatusBadRequest, "Missing request ID")
			return
		}

		req, err := db.GetRequestForUser(r.Context(), database, id, middleware.UserID(r.Context()))
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "Request not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load request")
			return
		}

		writeJSON(w, http.StatusOK, StatusResponse{
			ID:                req.ID,
			Status:            req.Status,
			ProviderRequested: req.ProviderRequested,
			ProviderUsed:      req.ProviderUsed,
			Response:          req.Response,
			TokensUsed:        req.TokensUsed,
			LatencyMs:         req.LatencyMs,
			ErrorMessage:      req.ErrorMessage,
			CreatedAt:         req.CreatedAt,
			CompletedAt:       req.CompletedAt,
		})
	}
}
