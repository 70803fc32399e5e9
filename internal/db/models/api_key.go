package models

import "time"

// APIKey is a caller credential. Only the SHA-256 hex digest of the key is stored.
type APIKey struct {
	ID         string     `gorm:"primaryKey" json:"id"`
	UserID     string     `gorm:"index;not null" json:"user_id"`
	Name       string     `json:"name"`
	KeyHash    string     `gorm:"uniqueIndex;not null" json:"-"`
	Revoked    bool       `gorm:"not null;default:false" json:"revoked"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (APIKey) TableName() string { return "api_keys" }
