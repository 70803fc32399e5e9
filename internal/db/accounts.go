package db

import (
	"context"
	"time"

	"github.com/pysugar/chat-relay/internal/db/models"
	"gorm.io/gorm"
)

// SetAccountStatus moves an account to status unless it is already there.
// It reports whether a row changed, so repeated calls are observable no-ops.
func SetAccountStatus(ctx context.Context, db *gorm.DB, accountID string, status models.AccountStatus) (bool, error) {
	res := db.WithContext(ctx).Model(&models.Account{}).
		Where("id = ? AND status <> ?", accountID, status).
		Updates(map[string]interface{}{"status": status, "updated_at": time.Now()})
	return res.RowsAffected > 0, res.Error
}

// CompareAndSetStatus moves an account to status only when its current status is from.
func CompareAndSetStatus(ctx context.Context, db *gorm.DB, accountID string, from, to models.AccountStatus) (bool, error) {
	res := db.WithContext(ctx).Model(&models.Account{}).
		Where("id = ? AND status = ?", accountID, from).
		Updates(map[string]interface{}{"status": to, "updated_at": time.Now()})
	return res.RowsAffected > 0, res.Error
}

// TouchAccount records the last time an account served a job. Status is not touched.
func TouchAccount(ctx context.Context, db *gorm.DB, accountID string, at time.Time) error {
	return db.WithContext(ctx).Model(&models.Account{}).
		Where("id = ?", accountID).
		Update("last_used_at", at).Error
}

// GetAccount loads one account by id.
func GetAccount(ctx context.Context, db *gorm.DB, accountID string) (*models.Account, error) {
	var account models.Account
	if err := db.WithContext(ctx).First(&account, "id = ?", accountID).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

// AccountIDsForUser lists every account id owned by userID.
func AccountIDsForUser(ctx context.Context, db *gorm.DB, userID string) ([]string, error) {
	var ids []string
	err := db.WithContext(ctx).Model(&models.Account{}).Where("user_id = ?", userID).Pluck("id", &ids).Error
	return ids, err
}
