package quota

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pysugar/chat-relay/internal/db/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DefaultAlertChannel is the pub/sub channel alerts are published on.
const DefaultAlertChannel = "quota_alerts"

// AlertEvent is the published form of an alert.
type AlertEvent struct {
	Type            models.AlertType `json:"type"`
	AccountID       string           `json:"account_id"`
	Provider        string           `json:"provider"`
	UsagePercentage float64          `json:"usage_percentage,omitempty"`
	Used            int64            `json:"used,omitempty"`
	Limit           int64            `json:"limit,omitempty"`
	Remaining       *int64           `json:"remaining,omitempty"`
	ExpiresAt       *time.Time       `json:"expires_at,omitempty"`
	Timestamp       time.Time        `json:"timestamp"`
}

// Alerter records alerts in the datastore and publishes them. Delivery is
// best effort and at least once; every failure is logged and dropped.
type Alerter struct {
	db      *gorm.DB
	rdb     *redis.Client
	channel string
	logger  *zap.Logger
}

// NewAlerter returns an Alerter. rdb may be nil to skip publishing.
func NewAlerter(db *gorm.DB, rdb *redis.Client, channel string, logger *zap.Logger) *Alerter {
	if channel == "" {
		channel = DefaultAlertChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Alerter{db: db, rdb: rdb, channel: channel, logger: logger.Named("alerts")}
}

func (a *Alerter) Emit(ctx context.Context, ev AlertEvent) {
	log := a.logger.With(
		zap.String("type", string(ev.Type)),
		zap.String("account_id", ev.AccountID),
		zap.String("provider", ev.Provider))
	log.Warn("sending alert", zap.Float64("usage_percentage", ev.UsagePercentage))

	data, err := json.Marshal(ev)
	if err != nil {
		log.Error("failed to encode alert", zap.Error(err))
		return
	}

	if a.rdb != nil {
		if err := a.rdb.Publish(ctx, a.channel, data).Err(); err != nil {
			log.Error("failed to publish alert", zap.Error(err))
		}
	}

	row := models.Alert{
		ID:        uuid.New().String(),
		Type:      ev.Type,
		AccountID: ev.AccountID,
		Provider:  ev.Provider,
		Data:      string(data),
		CreatedAt: ev.Timestamp,
	}
	if err := a.db.WithContext(ctx).Create(&row).Error; err != nil {
		log.Error("failed to store alert", zap.Error(fmt.Errorf("insert alert: %w", err)))
	}
}
