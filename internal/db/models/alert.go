package models

import "time"

type AlertType string

const (
	AlertQuotaWarning         AlertType = "quota_warning"
	AlertQuotaExceeded        AlertType = "quota_exceeded"
	AlertMonthlyQuotaExceeded AlertType = "monthly_quota_exceeded"
	AlertSessionExpiring      AlertType = "session_expiring"
)

// Alert is an append-only record of a quota threshold or session expiry event.
// Duplicates across tracker runs are expected; consumers deduplicate.
type Alert struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	Type      AlertType `gorm:"index;not null" json:"type"`
	AccountID string    `gorm:"index;not null" json:"account_id"`
	Provider  string    `json:"provider"`
	Data      string    `gorm:"type:text" json:"data"` // JSON payload as published
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}
