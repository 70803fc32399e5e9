package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pysugar/chat-relay/internal/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SessionStore persists browser authentication state per account.
type SessionStore struct {
	db *gorm.DB
}

// NewSessionStore creates a SessionStore backed by db.
func NewSessionStore(db *gorm.DB) *SessionStore {
	return &SessionStore{db: db}
}

// LoadSession returns the stored session for accountID, or nil when none exists.
func (s *SessionStore) LoadSession(ctx context.Context, accountID string) (*models.BrowserSession, error) {
	var session models.BrowserSession
	err := s.db.WithContext(ctx).Where("account_id = ?", accountID).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", accountID, err)
	}
	return &session, nil
}

// SaveSession upserts the cookie set and storage snapshot for accountID.
func (s *SessionStore) SaveSession(ctx context.Context, accountID string, cookies []models.Cookie, storage map[string]string, expiresAt time.Time) error {
	row := models.BrowserSession{
		AccountID: accountID,
		ExpiresAt: expiresAt,
	}
	if err := row.EncodeSnapshot(cookies, storage); err != nil {
		return fmt.Errorf("encode session %s: %w", accountID, err)
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"cookies", "local_storage", "expires_at", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("save session %s: %w", accountID, err)
	}
	return nil
}

// ExpiringSessions returns sessions of active accounts expiring before cutoff,
// joined with the account's provider.
func (s *SessionStore) ExpiringSessions(ctx context.Context, cutoff time.Time) ([]ExpiringSession, error) {
	var rows []ExpiringSession
	err := s.db.WithContext(ctx).
		Table("browser_sessions").
		Select("browser_sessions.account_id, browser_sessions.expires_at, accounts.provider").
		Joins("JOIN accounts ON accounts.id = browser_sessions.account_id").
		Where("browser_sessions.expires_at < ? AND accounts.status = ?", cutoff, models.AccountActive).
		Scan(&rows).Error
	return rows, err
}

// ExpiringSession is a projection used by the session expiry scan.
type ExpiringSession struct {
	AccountID string
	Provider  string
	ExpiresAt time.Time
}
