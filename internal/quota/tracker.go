// Package quota keeps per-account usage budgets: it counts usage as jobs
// complete, resets windows, flips account status at the limits and raises
// alerts.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/pysugar/chat-relay/internal/db"
	"github.com/pysugar/chat-relay/internal/db/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Options configures a Tracker. Zero values take the defaults below.
type Options struct {
	CheckInterval       time.Duration // default 60s
	SessionScanInterval time.Duration // default 24h
	SessionLookahead    time.Duration // default 7 days
	AlertThreshold      float64       // default 0.9
	DefaultDailyLimit   int64         // default 100
	DefaultMonthlyLimit int64         // 0 disables the monthly cap
	Logger              *zap.Logger
	Now                 func() time.Time
}

type Tracker struct {
	db       *gorm.DB
	sessions *db.SessionStore
	alerts   *Alerter
	opts     Options
	logger   *zap.Logger
	now      func() time.Time
}

func NewTracker(database *gorm.DB, alerts *Alerter, opts Options) *Tracker {
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = time.Minute
	}
	if opts.SessionScanInterval <= 0 {
		opts.SessionScanInterval = 24 * time.Hour
	}
	if opts.SessionLookahead <= 0 {
		opts.SessionLookahead = 7 * 24 * time.Hour
	}
	if opts.AlertThreshold <= 0 || opts.AlertThreshold > 1 {
		opts.AlertThreshold = 0.9
	}
	if opts.DefaultDailyLimit <= 0 {
		opts.DefaultDailyLimit = 100
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Tracker{
		db:       database,
		sessions: db.NewSessionStore(database),
		alerts:   alerts,
		opts:     opts,
		logger:   opts.Logger.Named("quota"),
		now:      opts.Now,
	}
}

// Run checks quotas and sessions immediately and then on their intervals
// until ctx ends. Check failures are logged and do not stop the loop.
func (t *Tracker) Run(ctx context.Context) error {
	t.logger.Info("starting quota tracker",
		zap.Duration("check_interval", t.opts.CheckInterval),
		zap.Float64("alert_threshold", t.opts.AlertThreshold))

	t.runQuotaCheck(ctx)
	t.runSessionScan(ctx)

	quotaTicker := time.NewTicker(t.opts.CheckInterval)
	defer quotaTicker.Stop()
	sessionTicker := time.NewTicker(t.opts.SessionScanInterval)
	defer sessionTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("quota tracker stopped")
			return nil
		case <-quotaTicker.C:
			t.runQuotaCheck(ctx)
		case <-sessionTicker.C:
			t.runSessionScan(ctx)
		}
	}
}

func (t *Tracker) runQuotaCheck(ctx context.Context) {
	if err := t.CheckQuotas(ctx); err != nil && ctx.Err() == nil {
		t.logger.Error("error checking quotas", zap.Error(err))
	}
}

func (t *Tracker) runSessionScan(ctx context.Context) {
	if err := t.CheckExpiringSessions(ctx); err != nil && ctx.Err() == nil {
		t.logger.Error("error checking expiring sessions", zap.Error(err))
	}
}

type quotaRow struct {
	models.Quota
	AccountStatus models.AccountStatus
}

// CheckQuotas resets elapsed windows and applies the threshold rules to every
// quota of an active or quota_exceeded account.
func (t *Tracker) CheckQuotas(ctx context.Context) error {
	var rows []quotaRow
	err := t.db.WithContext(ctx).
		Table("quotas AS q").
		Select("q.*, a.status AS account_status").
		Joins("JOIN accounts AS a ON a.id = q.account_id").
		Where("a.status IN ?", []models.AccountStatus{models.AccountActive, models.AccountQuotaExceeded}).
		Scan(&rows).Error
	if err != nil {
		return fmt.Errorf("failed to load quotas: %w", err)
	}
	if len(rows) == 0 {
		t.logger.Debug("no active accounts to check")
		return nil
	}

	t.logger.Debug("checking quotas", zap.Int("count", len(rows)))
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := t.checkQuota(ctx, row); err != nil {
			t.logger.Error("quota check failed",
				zap.String("account_id", row.AccountID),
				zap.String("provider", row.Provider),
				zap.Error(err))
		}
	}
	return nil
}

func (t *Tracker) checkQuota(ctx context.Context, row quotaRow) error {
	now := t.now()
	q := row.Quota
	log := t.logger.With(zap.String("account_id", q.AccountID), zap.String("provider", q.Provider))

	if !q.ResetDailyAt.After(now) {
		log.Info("resetting daily quota", zap.Int64("previous_usage", q.DailyUsed))
		q.DailyUsed = 0
		q.ResetDailyAt = now.Add(24 * time.Hour)
		if err := t.saveWindow(ctx, q.ID, "daily_used", "reset_daily_at", q.ResetDailyAt); err != nil {
			return err
		}
	}
	if !q.ResetMonthlyAt.After(now) {
		log.Info("resetting monthly quota", zap.Int64("previous_usage", q.MonthlyUsed))
		q.MonthlyUsed = 0
		q.ResetMonthlyAt = NextMonth(now)
		if err := t.saveWindow(ctx, q.ID, "monthly_used", "reset_monthly_at", q.ResetMonthlyAt); err != nil {
			return err
		}
	}

	daily := q.DailyRatio()
	monthly := q.MonthlyRatio()

	if row.AccountStatus == models.AccountQuotaExceeded && daily < 1 && monthly < 1 {
		changed, err := db.CompareAndSetStatus(ctx, t.db, q.AccountID, models.AccountQuotaExceeded, models.AccountActive)
		if err != nil {
			return fmt.Errorf("reactivate account: %w", err)
		}
		if changed {
			log.Info("account reactivated after quota reset")
		}
	}

	if daily >= t.opts.AlertThreshold && daily < 1 {
		t.alerts.Emit(ctx, t.event(models.AlertQuotaWarning, q, daily, q.DailyUsed, q.DailyLimit, true))
	}
	if daily >= 1 {
		log.Warn("daily quota exceeded", zap.Int64("used", q.DailyUsed), zap.Int64("limit", q.DailyLimit))
		t.alerts.Emit(ctx, t.event(models.AlertQuotaExceeded, q, daily, q.DailyUsed, q.DailyLimit, false))
		if err := t.markExceeded(ctx, q.AccountID); err != nil {
			return err
		}
	}
	if q.MonthlyLimit > 0 && monthly >= 1 {
		log.Warn("monthly quota exceeded", zap.Int64("used", q.MonthlyUsed), zap.Int64("limit", q.MonthlyLimit))
		t.alerts.Emit(ctx, t.event(models.AlertMonthlyQuotaExceeded, q, monthly, q.MonthlyUsed, q.MonthlyLimit, false))
		if err := t.markExceeded(ctx, q.AccountID); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tracker) saveWindow(ctx context.Context, quotaID uint, usedCol, resetCol string, resetAt time.Time) error {
	err := t.db.WithContext(ctx).Model(&models.Quota{}).
		Where("id = ?", quotaID).
		Updates(map[string]interface{}{usedCol: 0, resetCol: resetAt, "updated_at": t.now()}).Error
	if err != nil {
		return fmt.Errorf("reset %s: %w", usedCol, err)
	}
	return nil
}

// markExceeded moves an active account to quota_exceeded. Accounts in any
// other state keep it.
func (t *Tracker) markExceeded(ctx context.Context, accountID string) error {
	_, err := db.CompareAndSetStatus(ctx, t.db, accountID, models.AccountActive, models.AccountQuotaExceeded)
	if err != nil {
		return fmt.Errorf("mark quota exceeded: %w", err)
	}
	return nil
}

func (t *Tracker) event(typ models.AlertType, q models.Quota, ratio float64, used, limit int64, withRemaining bool) AlertEvent {
	ev := AlertEvent{
		Type:            typ,
		AccountID:       q.AccountID,
		Provider:        q.Provider,
		UsagePercentage: ratio,
		Used:            used,
		Limit:           limit,
		Timestamp:       t.now(),
	}
	if withRemaining {
		remaining := max(0, limit-used)
		ev.Remaining = &remaining
	}
	return ev
}

// CheckExpiringSessions raises a session_expiring alert for every active
// account whose session expires within the look-ahead window. Status is not
// changed.
func (t *Tracker) CheckExpiringSessions(ctx context.Context) error {
	now := t.now()
	expiring, err := t.sessions.ExpiringSessions(ctx, now.Add(t.opts.SessionLookahead))
	if err != nil {
		return fmt.Errorf("failed to load expiring sessions: %w", err)
	}
	if len(expiring) == 0 {
		t.logger.Debug("no expiring sessions found")
		return nil
	}

	t.logger.Warn("sessions expiring soon", zap.Int("count", len(expiring)))
	for _, s := range expiring {
		expiresAt := s.ExpiresAt
		t.alerts.Emit(ctx, AlertEvent{
			Type:      models.AlertSessionExpiring,
			AccountID: s.AccountID,
			Provider:  s.Provider,
			ExpiresAt: &expiresAt,
			Timestamp: now,
		})
	}
	return nil
}

// RecordUsage adds units to the daily and monthly counters of the account's
// quota, creating the row with default limits when missing. When the increment
// reaches a limit the account is moved to quota_exceeded and an alert is
// recorded right away instead of waiting for the next check.
func (t *Tracker) RecordUsage(ctx context.Context, accountID, provider string, units int64) (models.Quota, error) {
	if units < 0 {
		units = 0
	}
	now := t.now()
	row := models.Quota{
		AccountID:      accountID,
		Provider:       provider,
		DailyUsed:      units,
		DailyLimit:     t.opts.DefaultDailyLimit,
		MonthlyUsed:    units,
		MonthlyLimit:   t.opts.DefaultMonthlyLimit,
		ResetDailyAt:   now.Add(24 * time.Hour),
		ResetMonthlyAt: NextMonth(now),
	}
	err := t.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "account_id"}, {Name: "provider"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"daily_used":   gorm.Expr("daily_used + ?", units),
			"monthly_used": gorm.Expr("monthly_used + ?", units),
			"updated_at":   now,
		}),
	}).Create(&row).Error
	if err != nil {
		return models.Quota{}, fmt.Errorf("failed to record usage: %w", err)
	}

	var q models.Quota
	if err := t.db.WithContext(ctx).
		Where("account_id = ? AND provider = ?", accountID, provider).
		First(&q).Error; err != nil {
		return models.Quota{}, fmt.Errorf("failed to reload quota: %w", err)
	}

	dailyHit := q.DailyLimit > 0 && q.DailyUsed >= q.DailyLimit
	monthlyHit := q.MonthlyLimit > 0 && q.MonthlyUsed >= q.MonthlyLimit
	if !dailyHit && !monthlyHit {
		return q, nil
	}

	changed, err := db.CompareAndSetStatus(ctx, t.db, accountID, models.AccountActive, models.AccountQuotaExceeded)
	if err != nil {
		return q, fmt.Errorf("mark quota exceeded: %w", err)
	}
	if changed {
		t.logger.Warn("quota reached, account suspended",
			zap.String("account_id", accountID),
			zap.String("provider", provider),
			zap.Int64("daily_used", q.DailyUsed),
			zap.Int64("monthly_used", q.MonthlyUsed))
	}
	if dailyHit {
		t.alerts.Emit(ctx, t.event(models.AlertQuotaExceeded, q, q.DailyRatio(), q.DailyUsed, q.DailyLimit, false))
	} else {
		t.alerts.Emit(ctx, t.event(models.AlertMonthlyQuotaExceeded, q, q.MonthlyRatio(), q.MonthlyUsed, q.MonthlyLimit, false))
	}
	return q, nil
}

// NextMonth returns the first instant of the calendar month after t, in UTC.
func NextMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}
