package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/pysugar/chat-relay/internal/api/middleware"
	"github.com/pysugar/chat-relay/internal/db"
	"github.com/pysugar/chat-relay/internal/usage"
	"gorm.io/gorm"
)

const (
	defaultUsageDays = 30
	maxUsageDays     = 366
)

// UsageReporter aggregates the usage audit trail.
type UsageReporter interface {
	Since(ctx context.Context, accountIDs []string, since time.Time) ([]usage.ProviderUsage, error)
}

type UsageResponse struct {
	Since              time.Time             `json:"since"`
	Providers          []usage.ProviderUsage `json:"providers"`
	TotalRequests      int64                 `json:"total_requests"`
	TotalTokens        int64                 `json:"total_tokens"`
	TotalEstimatedCost float64               `json:"total_estimated_cost"`
}

// UsageHandler handles GET /api/v1/usage?days=N: successful jobs, estimated
// tokens and API-equivalent cost per provider over the last N days.
func UsageHandler(database *gorm.DB, reporter UsageReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		days := defaultUsageDays
		if raw := r.URL.Query().Get("days"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > maxUsageDays {
				writeError(w, http.StatusBadRequest, "days must be between 1 and 366")
				return
			}
			days = n
		}
		since := time.Now().AddDate(0, 0, -days)

		ids, err := db.AccountIDsForUser(r.Context(), database, middleware.UserID(r.Context()))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load accounts")
			return
		}
		rows, err := reporter.Since(r.Context(), ids, since)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to aggregate usage")
			return
		}

		resp := UsageResponse{Since: since, Providers: rows}
		for _, p := range rows {
			resp.TotalRequests += p.Requests
			resp.TotalTokens += p.Tokens
			resp.TotalEstimatedCost += p.EstimatedCost
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
