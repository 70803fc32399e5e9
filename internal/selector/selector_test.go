package selector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pysugar/chat-relay/internal/db/dbtest"
	"github.com/pysugar/chat-relay/internal/db/models"
	"github.com/pysugar/chat-relay/internal/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func seedAccount(t *testing.T, db *gorm.DB, id, provider string, status models.AccountStatus, lastUsed *time.Time) {
	t.Helper()
	require.NoError(t, db.Create(&models.Account{
		ID: id, UserID: "user-1", Provider: provider, Email: id + "@example.com",
		Status: status, LastUsedAt: lastUsed,
	}).Error)
}

func seedQuota(t *testing.T, db *gorm.DB, accountID, provider string, used, limit, monthlyUsed, monthlyLimit int64) {
	t.Helper()
	require.NoError(t, db.Create(&models.Quota{
		AccountID: accountID, Provider: provider,
		DailyUsed: used, DailyLimit: limit,
		MonthlyUsed: monthlyUsed, MonthlyLimit: monthlyLimit,
		ResetDailyAt: time.Now().Add(time.Hour), ResetMonthlyAt: time.Now().Add(24 * time.Hour),
	}).Error)
}

func TestSelect_ExplicitProviderPrefersLeastRecentlyUsed(t *testing.T) {
	db := dbtest.Open(t)
	earlier := time.Now().Add(-2 * time.Hour)
	later := time.Now().Add(-time.Hour)
	seedAccount(t, db, "gpt-recent", "chatgpt", models.AccountActive, &later)
	seedAccount(t, db, "gpt-old", "chatgpt", models.AccountActive, &earlier)
	seedAccount(t, db, "gpt-expired", "chatgpt", models.AccountExpired, nil)

	sel, err := New(db, nil, nil).Select(context.Background(), "user-1", "chatgpt")
	require.NoError(t, err)
	assert.Equal(t, Selection{AccountID: "gpt-old", Provider: providers.ChatGPT}, sel)

	seedAccount(t, db, "gpt-never", "chatgpt", models.AccountActive, nil)
	sel, err = New(db, nil, nil).Select(context.Background(), "user-1", "chatgpt")
	require.NoError(t, err)
	assert.Equal(t, "gpt-never", sel.AccountID, "never-used accounts come first")
}

func TestSelect_SkipsExhaustedQuota(t *testing.T) {
	db := dbtest.Open(t)
	seedAccount(t, db, "claude-full", "claude", models.AccountActive, nil)
	seedQuota(t, db, "claude-full", "claude", 50, 50, 0, 0)
	seedAccount(t, db, "claude-month", "claude", models.AccountActive, nil)
	seedQuota(t, db, "claude-month", "claude", 1, 50, 500, 500)

	_, err := New(db, nil, nil).Select(context.Background(), "user-1", "claude")
	assert.ErrorIs(t, err, ErrNoAvailableAccount)

	seedAccount(t, db, "claude-ok", "claude", models.AccountActive, nil)
	seedQuota(t, db, "claude-ok", "claude", 49, 50, 10, 500)
	sel, err := New(db, nil, nil).Select(context.Background(), "user-1", "claude")
	require.NoError(t, err)
	assert.Equal(t, "claude-ok", sel.AccountID)
}

func TestSelect_AutoFollowsOrder(t *testing.T) {
	db := dbtest.Open(t)
	seedAccount(t, db, "gpt", "chatgpt", models.AccountActive, nil)
	seedAccount(t, db, "gem", "gemini", models.AccountActive, nil)
	seedAccount(t, db, "ds", "deepseek", models.AccountQuotaExceeded, nil)

	sel, err := New(db, nil, nil).Select(context.Background(), "user-1", providers.Auto)
	require.NoError(t, err)
	assert.Equal(t, Selection{AccountID: "gem", Provider: providers.Gemini}, sel)

	noGemini := func(k providers.Kind) bool { return k != providers.Gemini }
	sel, err = New(db, nil, noGemini).Select(context.Background(), "user-1", "")
	require.NoError(t, err)
	assert.Equal(t, providers.ChatGPT, sel.Provider)
}

func TestSelect_Errors(t *testing.T) {
	db := dbtest.Open(t)
	s := New(db, nil, nil)

	_, err := s.Select(context.Background(), "user-1", "auto")
	assert.True(t, errors.Is(err, ErrNoAvailableAccount))

	_, err = s.Select(context.Background(), "user-1", "bard")
	assert.ErrorIs(t, err, providers.ErrUnknownProvider)

	seedAccount(t, db, "other-user", "chatgpt", models.AccountActive, nil)
	require.NoError(t, db.Model(&models.Account{}).Where("id = ?", "other-user").Update("user_id", "user-2").Error)
	_, err = s.Select(context.Background(), "user-1", "chatgpt")
	assert.ErrorIs(t, err, ErrNoAvailableAccount)
}
