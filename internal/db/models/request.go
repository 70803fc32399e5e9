package models

import "time"

// RequestStatus is the lifecycle state of a chat job.
type RequestStatus string

const (
	RequestQueued     RequestStatus = "queued"
	RequestProcessing RequestStatus = "processing"
	RequestCompleted  RequestStatus = "completed"
	RequestFailed     RequestStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s RequestStatus) Terminal() bool {
	return s == RequestCompleted || s == RequestFailed
}

// Request is one queued prompt bound to an account. Created by intake,
// mutated only by the dispatcher afterwards.
type Request struct {
	ID                string        `gorm:"primaryKey" json:"id"` // req_<16 hex>
	UserID            string        `gorm:"index;not null" json:"user_id"`
	APIKeyID          string        `gorm:"index" json:"api_key_id,omitempty"`
	Prompt            string        `gorm:"type:text;not null" json:"prompt"`
	ProviderRequested string        `json:"provider_requested,omitempty"` // empty for auto
	ProviderUsed      string        `json:"provider_used,omitempty"`
	AccountID         string        `gorm:"index" json:"account_id"`
	Priority          int           `gorm:"not null;default:5" json:"priority"`
	Status            RequestStatus `gorm:"index;not null;default:'queued'" json:"status"`
	Response          string        `gorm:"type:text" json:"response,omitempty"`
	TokensUsed        int           `json:"tokens_used"`
	TokensEstimated   bool          `gorm:"not null;default:true" json:"tokens_estimated"`
	LatencyMs         int64         `json:"latency_ms"`
	ErrorMessage      string        `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	StartedAt         *time.Time    `json:"started_at,omitempty"`
	CompletedAt       *time.Time    `json:"completed_at,omitempty"`
	UpdatedAt         time.Time     `json:"updated_at"`
}
