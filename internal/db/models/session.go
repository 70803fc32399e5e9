package models

import (
	"encoding/json"
	"time"
)

// Cookie mirrors a browser cookie as captured from an automation context.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"` // unix seconds, -1 for session cookies
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"` // "Strict", "Lax" or "None"
}

// BrowserSession stores the durable authentication state of one account.
// Cookies and LocalStorage are JSON documents so the row survives schema changes
// in the automation library.
type BrowserSession struct {
	AccountID    string    `gorm:"primaryKey" json:"account_id"`
	Cookies      string    `gorm:"type:text" json:"-"`
	LocalStorage string    `gorm:"type:text" json:"-"`
	ExpiresAt    time.Time `gorm:"index" json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Usable reports whether the session may be injected into a new resource.
func (s BrowserSession) Usable(now time.Time) bool {
	return s.ExpiresAt.After(now)
}

// DecodeCookies parses the stored cookie set.
func (s BrowserSession) DecodeCookies() ([]Cookie, error) {
	if s.Cookies == "" {
		return nil, nil
	}
	var cookies []Cookie
	if err := json.Unmarshal([]byte(s.Cookies), &cookies); err != nil {
		return nil, err
	}
	return cookies, nil
}

// DecodeLocalStorage parses the stored client-storage snapshot.
func (s BrowserSession) DecodeLocalStorage() (map[string]string, error) {
	if s.LocalStorage == "" {
		return map[string]string{}, nil
	}
	storage := make(map[string]string)
	if err := json.Unmarshal([]byte(s.LocalStorage), &storage); err != nil {
		return nil, err
	}
	return storage, nil
}

// EncodeSnapshot serializes cookies and storage into the row.
func (s *BrowserSession) EncodeSnapshot(cookies []Cookie, storage map[string]string) error {
	if cookies == nil {
		cookies = []Cookie{}
	}
	if storage == nil {
		storage = map[string]string{}
	}
	c, err := json.Marshal(cookies)
	if err != nil {
		return err
	}
	ls, err := json.Marshal(storage)
	if err != nil {
		return err
	}
	s.Cookies = string(c)
	s.LocalStorage = string(ls)
	return nil
}
