package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pysugar/chat-relay/internal/db"
	"github.com/pysugar/chat-relay/internal/db/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ResourceInvalidator discards the pooled browser of an account once no job
// is using it.
type ResourceInvalidator interface {
	Invalidate(ctx context.Context, accountID string) error
}

// InvalidateAccountHandler handles POST /api/v1/accounts/{id}/invalidate.
// It marks the account expired so it is no longer selected, then drops the
// account's pooled resource, if this process holds one, after the running
// job on it finishes.
func InvalidateAccountHandler(database *gorm.DB, pool ResourceInvalidator, logger *zap.Logger) http.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			writeError(w, http.StatusBadRequest, "Account ID required")
			return
		}

		if _, err := db.GetAccount(r.Context(), database, id); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				writeError(w, http.StatusNotFound, "Account not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "failed to load account")
			return
		}

		changed, err := db.SetAccountStatus(r.Context(), database, id, models.AccountExpired)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to update account")
			return
		}
		if pool != nil {
			if err := pool.Invalidate(r.Context(), id); err != nil {
				logger.Warn("browser still in use, not closed", zap.String("account_id", id), zap.Error(err))
				writeError(w, http.StatusServiceUnavailable, "Account is busy, retry later")
				return
			}
		}
		logger.Info("account invalidated", zap.String("account_id", id), zap.Bool("changed", changed))

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":     "ok",
			"account_id": id,
			"changed":    changed,
		})
	}
}
