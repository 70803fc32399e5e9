package db

import (
	"context"
	"fmt"
	"time"

	"github.com/pysugar/chat-relay/internal/db/models"
	"gorm.io/gorm"
)

// MarkProcessing moves a queued request to processing. It reports false when the
// request was not in queued state (already picked up or terminal).
func MarkProcessing(ctx context.Context, db *gorm.DB, requestID string, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Model(&models.Request{}).
		Where("id = ? AND status = ?", requestID, models.RequestQueued).
		Updates(map[string]interface{}{"status": models.RequestProcessing, "started_at": at})
	if res.Error != nil {
		return false, fmt.Errorf("mark %s processing: %w", requestID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Completion carries the fields written on a successful run.
type Completion struct {
	Provider  string
	Response  string
	Tokens    int
	LatencyMs int64
}

// MarkCompleted writes the result of a successful run.
func MarkCompleted(ctx context.Context, db *gorm.DB, requestID string, c Completion, at time.Time) error {
	return finish(ctx, db, requestID, map[string]interface{}{
		"status":           models.RequestCompleted,
		"provider_used":    c.Provider,
		"response":         c.Response,
		"tokens_used":      c.Tokens,
		"tokens_estimated": true,
		"latency_ms":       c.LatencyMs,
		"completed_at":     at,
	})
}

// MarkFailed writes the terminal failure of a run.
func MarkFailed(ctx context.Context, db *gorm.DB, requestID, message string, latencyMs int64, at time.Time) error {
	return finish(ctx, db, requestID, map[string]interface{}{
		"status":        models.RequestFailed,
		"error_message": message,
		"latency_ms":    latencyMs,
		"completed_at":  at,
	})
}

// finish only applies to non-terminal rows so a finished request is never rewritten.
func finish(ctx context.Context, db *gorm.DB, requestID string, fields map[string]interface{}) error {
	res := db.WithContext(ctx).Model(&models.Request{}).
		Where("id = ? AND status IN ?", requestID, []models.RequestStatus{models.RequestQueued, models.RequestProcessing}).
		Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("finish %s: %w", requestID, res.Error)
	}
	return nil
}

// GetRequestForUser returns a request only if it belongs to userID.
func GetRequestForUser(ctx context.Context, db *gorm.DB, requestID, userID string) (*models.Request, error) {
	var req models.Request
	err := db.WithContext(ctx).Where("id = ? AND user_id = ?", requestID, userID).First(&req).Error
	if err != nil {
		return nil, err
	}
	return &req, nil
}
