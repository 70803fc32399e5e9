package models

import "time"

// Quota tracks the rolling usage budget of one account on one provider.
// MonthlyLimit of 0 means the account has no monthly cap.
type Quota struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	AccountID      string    `gorm:"uniqueIndex:idx_quota_account_provider;not null" json:"account_id"`
	Provider       string    `gorm:"uniqueIndex:idx_quota_account_provider;not null" json:"provider"`
	DailyUsed      int64     `gorm:"not null;default:0" json:"daily_used"`
	DailyLimit     int64     `gorm:"not null" json:"daily_limit"`
	MonthlyUsed    int64     `gorm:"not null;default:0" json:"monthly_used"`
	MonthlyLimit   int64     `gorm:"not null;default:0" json:"monthly_limit"`
	ResetDailyAt   time.Time `gorm:"index" json:"reset_daily_at"`
	ResetMonthlyAt time.Time `gorm:"index" json:"reset_monthly_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// DailyRatio returns used/limit for the daily window. A non-positive limit counts
// as exhausted.
func (q Quota) DailyRatio() float64 {
	if q.DailyLimit <= 0 {
		return 1
	}
	return float64(q.DailyUsed) / float64(q.DailyLimit)
}

// MonthlyRatio returns used/limit for the monthly window, or 0 when no monthly cap is set.
func (q Quota) MonthlyRatio() float64 {
	if q.MonthlyLimit <= 0 {
		return 0
	}
	return float64(q.MonthlyUsed) / float64(q.MonthlyLimit)
}

// DailyRemaining never goes below zero.
func (q Quota) DailyRemaining() int64 {
	return max(0, q.DailyLimit-q.DailyUsed)
}
