package handlers

import (
	"net/http"
	"time"

	"github.com/pysugar/chat-relay/internal/db/models"
	"github.com/pysugar/chat-relay/internal/version"
)

type HealthResponse struct {
	Status        string            `json:"status"`
	WorkerID      string            `json:"worker_id"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Jobs          models.UsageStats `json:"jobs"`
}

// HealthHandler handles GET /health. stats may be nil in processes that do
// not run jobs.
func HealthHandler(workerID string, started time.Time, stats func() models.UsageStats) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:        "healthy",
			WorkerID:      workerID,
			Version:       version.Version,
			UptimeSeconds: int64(time.Since(started).Seconds()),
		}
		if stats != nil {
			resp.Jobs = stats()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
