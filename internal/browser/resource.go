// Package browser owns the long-lived browser contexts used to drive provider
// web interfaces, one per account, and their persisted login state.
package browser

import (
	"context"
	"time"

	"github.com/pysugar/chat-relay/internal/db/models"
)

// Snapshot is the login state captured from a live browser context.
type Snapshot struct {
	Cookies      []models.Cookie
	LocalStorage map[string]string
}

// Resource is a browser context with a single working page.
type Resource interface {
	Navigate(url string, timeout time.Duration) error
	WaitVisible(selector string, timeout time.Duration) error
	WaitHidden(selector string, timeout time.Duration) error
	Fill(selector, text string) error
	Press(selector, key string) error
	LastText(selector string) (string, error)
	Screenshot() ([]byte, error)

	Snapshot() (Snapshot, error)
	Restore(Snapshot) error
	Close() error
}

// Launcher starts a fresh browser context for an account.
type Launcher interface {
	Launch(ctx context.Context, accountID string) (Resource, error)
}

// SessionStore loads and saves persisted login state.
type SessionStore interface {
	LoadSession(ctx context.Context, accountID string) (*models.BrowserSession, error)
	SaveSession(ctx context.Context, accountID string, cookies []models.Cookie, storage map[string]string, expiresAt time.Time) error
}
