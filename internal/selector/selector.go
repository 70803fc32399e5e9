// Package selector picks the account that serves a new chat request and
// enforces the per-credential intake rate limit.
package selector

import (
	"context"
	"errors"
	"fmt"

	"github.com/pysugar/chat-relay/internal/db/models"
	"github.com/pysugar/chat-relay/internal/providers"
	"gorm.io/gorm"
)

var ErrNoAvailableAccount = errors.New("no available accounts: all quotas exceeded or no accounts configured")

// DefaultOrder is the auto-mode preference, cheapest first.
var DefaultOrder = []providers.Kind{providers.DeepSeek, providers.Gemini, providers.ChatGPT, providers.Claude}

// Selection is the account chosen for a request.
type Selection struct {
	AccountID string
	Provider  providers.Kind
}

type Selector struct {
	db      *gorm.DB
	order   []providers.Kind
	enabled func(providers.Kind) bool
}

// New returns a Selector that tries order in auto mode. enabled may be nil;
// otherwise providers it rejects are never selected.
func New(db *gorm.DB, order []providers.Kind, enabled func(providers.Kind) bool) *Selector {
	if len(order) == 0 {
		order = DefaultOrder
	}
	if enabled == nil {
		enabled = func(providers.Kind) bool { return true }
	}
	return &Selector{db: db, order: order, enabled: enabled}
}

// Select resolves provider ("auto" or a provider tag) to one of userID's
// eligible accounts. Eligible means active and under both daily and monthly
// limits; the least recently used account wins.
func (s *Selector) Select(ctx context.Context, userID, provider string) (Selection, error) {
	if provider == "" || provider == providers.Auto {
		for _, k := range s.order {
			if !s.enabled(k) {
				continue
			}
			id, err := s.pick(ctx, userID, k)
			if err != nil {
				return Selection{}, err
			}
			if id != "" {
				return Selection{AccountID: id, Provider: k}, nil
			}
		}
		return Selection{}, ErrNoAvailableAccount
	}

	k, err := providers.ParseKind(provider)
	if err != nil {
		return Selection{}, err
	}
	if !s.enabled(k) {
		return Selection{}, fmt.Errorf("%w: %s is disabled", ErrNoAvailableAccount, k)
	}
	id, err := s.pick(ctx, userID, k)
	if err != nil {
		return Selection{}, err
	}
	if id == "" {
		return Selection{}, ErrNoAvailableAccount
	}
	return Selection{AccountID: id, Provider: k}, nil
}

func (s *Selector) pick(ctx context.Context, userID string, k providers.Kind) (string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Table("accounts AS a").
		Select("a.id").
		Joins("LEFT JOIN quotas AS q ON q.account_id = a.id AND q.provider = a.provider").
		Where("a.user_id = ? AND a.provider = ? AND a.status = ?", userID, string(k), models.AccountActive).
		Where("q.id IS NULL OR (q.daily_used < q.daily_limit AND (q.monthly_limit = 0 OR q.monthly_used < q.monthly_limit))").
		Order("a.last_used_at IS NOT NULL, a.last_used_at ASC, a.id ASC").
		Limit(1).
		Pluck("a.id", &ids).Error
	if err != nil {
		return "", fmt.Errorf("failed to select %s account: %w", k, err)
	}
	if len(ids) == 0 {
		return "", nil
	}
	return ids[0], nil
}
