package db

import (
	"context"
	"time"

	"github.com/pysugar/chat-relay/internal/db/models"
	"gorm.io/gorm"
)

// QuotasForUser returns the quota rows of every account owned by userID.
func QuotasForUser(ctx context.Context, db *gorm.DB, userID string) ([]models.Quota, error) {
	var quotas []models.Quota
	err := db.WithContext(ctx).
		Joins("JOIN accounts ON accounts.id = quotas.account_id").
		Where("accounts.user_id = ?", userID).
		Order("quotas.provider, quotas.account_id").
		Find(&quotas).Error
	return quotas, err
}

// AccountStatusCounts counts userID's accounts per status.
func AccountStatusCounts(ctx context.Context, db *gorm.DB, userID string) (map[models.AccountStatus]int64, error) {
	var rows []struct {
		Status models.AccountStatus
		Count  int64
	}
	err := db.WithContext(ctx).Model(&models.Account{}).
		Select("status, COUNT(*) AS count").
		Where("user_id = ?", userID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[models.AccountStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

// TouchAPIKey records when a key last authenticated a request.
func TouchAPIKey(ctx context.Context, db *gorm.DB, keyID string, at time.Time) error {
	return db.WithContext(ctx).Model(&models.APIKey{}).
		Where("id = ?", keyID).
		Update("last_used_at", at).Error
}
