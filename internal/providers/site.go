package providers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pysugar/chat-relay/internal/browser"
	"github.com/pysugar/chat-relay/internal/util"
	"go.uber.org/zap"
)

// Windows bounds each phase of a site exchange.
type Windows struct {
	Navigation     time.Duration
	Login          time.Duration // how long the input may take to show up before the page counts as logged out
	ResponseAppear time.Duration
	Generation     time.Duration
}

var DefaultWindows = Windows{
	Navigation:     60 * time.Second,
	Login:          5 * time.Second,
	ResponseAppear: 90 * time.Second,
	Generation:     120 * time.Second,
}

// Site describes one provider's chat page in terms of CSS selectors.
//
// Generation is complete when DoneSelector reaches the visible state if
// DoneVisible is set, hidden otherwise.
type Site struct {
	Kind             Kind
	URL              string
	Model            string
	InputSelector    string
	ResponseSelector string
	DoneSelector     string
	DoneVisible      bool
	SubmitKey        string
}

// SiteAdapter runs the navigate, probe, submit, wait and extract sequence
// shared by every provider.
type SiteAdapter struct {
	site    Site
	windows Windows
	logger  *zap.Logger
}

func NewSiteAdapter(site Site, windows Windows, logger *zap.Logger) *SiteAdapter {
	if site.SubmitKey == "" {
		site.SubmitKey = "Enter"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SiteAdapter{
		site:    site,
		windows: windows,
		logger:  logger.Named("adapter").With(zap.String("provider", string(site.Kind))),
	}
}

func (a *SiteAdapter) Kind() Kind { return a.site.Kind }

// Site returns the adapter's page description.
func (a *SiteAdapter) Site() Site { return a.site }

func (a *SiteAdapter) Run(ctx context.Context, res browser.Resource, prompt string) (Result, error) {
	s := a.site

	a.logger.Debug("navigating", zap.String("url", s.URL))
	if err := res.Navigate(s.URL, bound(ctx, a.windows.Navigation)); err != nil {
		return Result{}, a.fail(ctx, ErrTimeout, "navigation", err)
	}

	if err := res.WaitVisible(s.InputSelector, bound(ctx, a.windows.Login)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, a.fail(ctx, ErrTimeout, "login probe", ctxErr)
		}
		return Result{}, fmt.Errorf("%w: %s input not visible", ErrAuthenticationLost, s.Kind)
	}

	if err := res.Fill(s.InputSelector, prompt); err != nil {
		return Result{}, a.fail(ctx, ErrExtractionFailed, "fill prompt", err)
	}
	if err := res.Press(s.InputSelector, s.SubmitKey); err != nil {
		return Result{}, a.fail(ctx, ErrExtractionFailed, "submit prompt", err)
	}

	if err := res.WaitVisible(s.ResponseSelector, bound(ctx, a.windows.ResponseAppear)); err != nil {
		return Result{}, a.fail(ctx, ErrExtractionFailed, "waiting for response", err)
	}

	wait := res.WaitHidden
	if s.DoneVisible {
		wait = res.WaitVisible
	}
	if err := wait(s.DoneSelector, bound(ctx, a.windows.Generation)); err != nil {
		return Result{}, a.fail(ctx, ErrTimeout, "waiting for generation", err)
	}

	raw, err := res.LastText(s.ResponseSelector)
	if err != nil {
		return Result{}, a.fail(ctx, ErrExtractionFailed, "read response", err)
	}
	text := strings.TrimSpace(raw)
	if text == "" {
		return Result{}, fmt.Errorf("%w: %s returned an empty response", ErrExtractionFailed, s.Kind)
	}

	a.logger.Info("response received", zap.Int("response_len", len(text)))
	a.logger.Debug("response text", zap.String("text", util.TruncateLog(text, util.DefaultLogMaxLen)))
	return Result{
		Text:   text,
		Tokens: EstimateTokens(prompt, text),
		Model:  s.Model,
	}, nil
}

// fail wraps cause under kind. Page errors that mention a logged-out state
// are reported as authentication loss whatever the phase.
func (a *SiteAdapter) fail(ctx context.Context, kind error, phase string, cause error) error {
	if LooksLoggedOut(cause) {
		kind = ErrAuthenticationLost
	}
	if ctx.Err() != nil {
		cause = ctx.Err()
	}
	return fmt.Errorf("%w: %s %s: %v", kind, a.site.Kind, phase, cause)
}

// LooksLoggedOut matches the markers sites and drivers use for an expired login.
func LooksLoggedOut(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	loggedOutMarkers := []string{
		"session expired",
		"not logged in",
	}
	for _, marker := range loggedOutMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// bound caps window by the time left on ctx.
func bound(ctx context.Context, window time.Duration) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return window
	}
	if left := time.Until(deadline); left < window {
		if left < time.Millisecond {
			return time.Millisecond
		}
		return left
	}
	return window
}
