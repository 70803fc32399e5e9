package models

import "time"

// AccountStatus is the single source of truth for whether an account may be handed
// to new jobs.
type AccountStatus string

const (
	AccountPending       AccountStatus = "pending"
	AccountActive        AccountStatus = "active"
	AccountExpired       AccountStatus = "expired"
	AccountQuotaExceeded AccountStatus = "quota_exceeded"
	AccountError         AccountStatus = "error"
)

// Account is one logged-in identity on a third-party chat site.
type Account struct {
	ID         string        `gorm:"primaryKey" json:"id"` // UUID
	UserID     string        `gorm:"index;not null" json:"user_id"`
	Provider   string        `gorm:"index;not null" json:"provider"` // e.g., "chatgpt", "claude"
	Email      string        `json:"email"`
	Status     AccountStatus `gorm:"index;not null;default:'pending'" json:"status"`
	LastUsedAt *time.Time    `json:"last_used_at"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// Eligible reports whether the account may be offered to the selector at all.
func (a Account) Eligible() bool {
	return a.Status == AccountActive
}
