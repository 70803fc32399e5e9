// Package usage writes the per-job audit trail and keeps process-wide job
// counters for the health endpoint.
package usage

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pysugar/chat-relay/internal/db/models"
	"github.com/pysugar/chat-relay/internal/providers"
	"github.com/pysugar/chat-relay/internal/util"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CostEstimator prices a token count for a provider.
type CostEstimator interface {
	EstimateCost(k providers.Kind, tokens int64) float64
}

// Entry describes one finished job attempt.
type Entry struct {
	AccountID string
	Provider  string
	RequestID string
	Tokens    int64
	LatencyMs int64
	Err       error
}

// Recorder appends UsageLog rows and counts outcomes.
type Recorder struct {
	db     *gorm.DB
	costs  CostEstimator
	logger *zap.Logger
	now    func() time.Time

	processed atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
}

// NewRecorder returns a Recorder. costs may be nil, in which case every entry
// is priced at zero.
func NewRecorder(db *gorm.DB, costs CostEstimator, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{db: db, costs: costs, logger: logger.Named("usage"), now: time.Now}
}

// Record writes the audit row for e. The counters move even if the insert
// fails; the error is returned for the caller to log.
func (r *Recorder) Record(ctx context.Context, e Entry) error {
	r.processed.Add(1)
	row := models.UsageLog{
		ID:        uuid.New().String(),
		AccountID: e.AccountID,
		Provider:  e.Provider,
		RequestID: e.RequestID,
		LatencyMs: e.LatencyMs,
		CreatedAt: r.now(),
	}
	if e.Err != nil {
		r.failed.Add(1)
		row.Status = models.UsageError
		row.ErrorMessage = util.ErrorMessage(e.Err)
	} else {
		r.succeeded.Add(1)
		row.Status = models.UsageSuccess
		row.TokensUsed = int(e.Tokens)
		if r.costs != nil {
			row.EstimatedCost = r.costs.EstimateCost(providers.Kind(e.Provider), e.Tokens)
		}
	}

	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to save usage log: %w", err)
	}
	r.logger.Debug("usage recorded",
		zap.String("request_id", e.RequestID),
		zap.String("status", row.Status),
		zap.Int64("tokens", e.Tokens),
		zap.Float64("estimated_cost", row.EstimatedCost))
	return nil
}

// Stats returns the counters since process start.
func (r *Recorder) Stats() models.UsageStats {
	return models.UsageStats{
		Processed: r.processed.Load(),
		Succeeded: r.succeeded.Load(),
		Failed:    r.failed.Load(),
	}
}

// Since sums successful usage of the given accounts per provider from the
// audit trail.
func (r *Recorder) Since(ctx context.Context, accountIDs []string, since time.Time) ([]ProviderUsage, error) {
	out := []ProviderUsage{}
	if len(accountIDs) == 0 {
		return out, nil
	}
	err := r.db.WithContext(ctx).Model(&models.UsageLog{}).
		Select("provider, COUNT(*) AS requests, COALESCE(SUM(tokens_used), 0) AS tokens, COALESCE(SUM(estimated_cost), 0) AS estimated_cost").
		Where("account_id IN ? AND created_at >= ? AND status = ?", accountIDs, since, models.UsageSuccess).
		Group("provider").
		Order("provider").
		Scan(&out).Error
	return out, err
}

// ProviderUsage is an aggregate over successful usage rows.
type ProviderUsage struct {
	Provider      string  `json:"provider"`
	Requests      int64   `json:"requests"`
	Tokens        int64   `json:"tokens"`
	EstimatedCost float64 `json:"estimated_cost"`
}
