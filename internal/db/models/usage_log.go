package models

import "time"

const (
	UsageSuccess = "success"
	UsageError   = "error"
)

// UsageLog is an append-only audit row written once per job attempt.
type UsageLog struct {
	ID            string    `gorm:"primaryKey" json:"id"`
	AccountID     string    `gorm:"index;not null" json:"account_id"`
	Provider      string    `gorm:"index;not null" json:"provider"`
	RequestID     string    `gorm:"index" json:"request_id"`
	TokensUsed    int       `json:"tokens_used"`
	EstimatedCost float64   `json:"estimated_cost"` // USD, API-equivalent
	LatencyMs     int64     `json:"latency_ms"`
	Status        string    `gorm:"index" json:"status"`
	ErrorMessage  string    `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt     time.Time `gorm:"index" json:"created_at"`
}

// UsageStats holds aggregated counters for the health endpoint.
type UsageStats struct {
	Processed int64 `json:"processed"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
}
