package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/pysugar/chat-relay/internal/api/middleware"
	"github.com/pysugar/chat-relay/internal/db"
	"github.com/pysugar/chat-relay/internal/db/models"
	"github.com/pysugar/chat-relay/internal/logging"
	"github.com/pysugar/chat-relay/internal/providers"
	"github.com/pysugar/chat-relay/internal/queue"
	"github.com/pysugar/chat-relay/internal/selector"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DefaultMaxPromptChars bounds a prompt when ChatDeps leaves it unset.
const DefaultMaxPromptChars = 10000

// AccountSelector picks the account that will serve a request.
type AccountSelector interface {
	Select(ctx context.Context, userID, provider string) (selector.Selection, error)
}

// RateLimiter counts intake requests per credential.
type RateLimiter interface {
	Allow(ctx context.Context, credential string) (selector.Decision, error)
}

// Enqueuer hands an accepted request to the dispatcher.
type Enqueuer interface {
	Enqueue(ctx context.Context, m queue.Message) error
}

// ChatDeps wires ChatHandler. Limiter may be nil to disable rate limiting.
type ChatDeps struct {
	DB             *gorm.DB
	Selector       AccountSelector
	Limiter        RateLimiter
	Queue          Enqueuer
	MaxPromptChars int
	Logger         *zap.Logger
}

// ChatRequest is the body of POST /api/v1/chat.
type ChatRequest struct {
	Prompt   string `json:"prompt"`
	Provider string `json:"provider,omitempty"`
	Priority string `json:"priority,omitempty"`
}

// ChatResponse acknowledges an accepted request.
type ChatResponse struct {
	ID             string           `json:"id"`
	Status         string           `json:"status"`
	ProviderUsed   string           `json:"provider_used"`
	QuotaRemaining map[string]int64 `json:"quota_remaining"`
}

// ChatHandler handles POST /api/v1/chat: it validates the prompt, picks an
// account, records the request as queued and enqueues it.
func ChatHandler(deps ChatDeps) http.HandlerFunc {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("intake")
	maxChars := deps.MaxPromptChars
	if maxChars <= 0 {
		maxChars = DefaultMaxPromptChars
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := middleware.UserID(ctx)
		keyID := middleware.APIKeyID(ctx)

		if deps.Limiter != nil {
			decision, err := deps.Limiter.Allow(ctx, keyID)
			if err != nil && !errors.Is(err, selector.ErrRateLimitExceeded) {
				logger.Error("rate limiter unavailable", zap.Error(err))
				writeError(w, http.StatusServiceUnavailable, "rate limiter unavailable")
				return
			}
			setRateLimitHeaders(w, decision)
			if errors.Is(err, selector.ErrRateLimitExceeded) {
				writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
				return
			}
		}

		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if req.Prompt == "" {
			writeError(w, http.StatusBadRequest, "Missing prompt")
			return
		}
		if utf8.RuneCountInString(req.Prompt) > maxChars {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Prompt too long (max %d characters)", maxChars))
			return
		}
		priority, err := queue.ParsePriority(req.Priority)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		requested := req.Provider
		if requested == "" {
			requested = providers.Auto
		}
		if requested != providers.Auto {
			if _, err := providers.ParseKind(requested); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
		}

		sel, err := deps.Selector.Select(ctx, userID, requested)
		if errors.Is(err, selector.ErrNoAvailableAccount) {
			writeError(w, http.StatusServiceUnavailable, "No available accounts - all quotas exceeded or no accounts configured")
			return
		}
		if err != nil {
			logger.Error("account selection failed", zap.String("user_id", userID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "account selection failed")
			return
		}

		id := logging.GenerateRequestID()
		log := logger.With(zap.String("request_id", id), zap.String("account_id", sel.AccountID), zap.String("provider", sel.Provider.String()))
		row := models.Request{
			ID:        id,
			UserID:    userID,
			APIKeyID:  keyID,
			Prompt:    req.Prompt,
			AccountID: sel.AccountID,
			Priority:  priority,
			Status:    models.RequestQueued,
		}
		if requested != providers.Auto {
			row.ProviderRequested = requested
		}
		if err := deps.DB.WithContext(ctx).Create(&row).Error; err != nil {
			log.Error("failed to persist request", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to persist request")
			return
		}

		msg := queue.Message{
			RequestID: id,
			AccountID: sel.AccountID,
			Provider:  sel.Provider.String(),
			Prompt:    req.Prompt,
			Priority:  priority,
		}
		if err := deps.Queue.Enqueue(ctx, msg); err != nil {
			log.Error("failed to enqueue request", zap.Error(err))
			if markErr := db.MarkFailed(context.WithoutCancel(ctx), deps.DB, id, "enqueue failed", 0, time.Now()); markErr != nil {
				log.Error("failed to mark unqueued request", zap.Error(markErr))
			}
			writeError(w, http.StatusServiceUnavailable, "queue unavailable")
			return
		}
		log.Info("request queued", zap.Int("priority", priority))

		remaining, err := quotaRemaining(ctx, deps.DB, userID)
		if err != nil {
			log.Warn("failed to load remaining quota", zap.Error(err))
		}
		writeJSON(w, http.StatusAccepted, ChatResponse{
			ID:             id,
			Status:         string(models.RequestQueued),
			ProviderUsed:   sel.Provider.String(),
			QuotaRemaining: remaining,
		})
	}
}

func setRateLimitHeaders(w http.ResponseWriter, d selector.Decision) {
	if d.Limit == 0 {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", d.ResetAt.UTC().Format(time.RFC3339))
}

// quotaRemaining sums the daily headroom of userID's accounts per provider.
func quotaRemaining(ctx context.Context, database *gorm.DB, userID string) (map[string]int64, error) {
	out := map[string]int64{}
	quotas, err := db.QuotasForUser(ctx, database, userID)
	if err != nil {
		return out, err
	}
	for _, q := range quotas {
		out[q.Provider] += q.DailyRemaining()
	}
	return out, nil
}
