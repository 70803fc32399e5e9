package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/pysugar/chat-relay/internal/db/models"
)

// Fixed browser fingerprint applied to every context.
const (
	UserAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	ViewportWidth  = 1920
	ViewportHeight = 1080
)

var launchArgs = []string{
	"--disable-blink-features=AutomationControlled",
	"--no-sandbox",
	"--disable-setuid-sandbox",
	"--disable-dev-shm-usage",
}

// PlaywrightOptions configures the Chromium launcher.
type PlaywrightOptions struct {
	SessionsDir string // per-account profile directories live below this
	VideosDir   string
	Headless    bool
	RecordVideo bool
	Install     bool // download the driver and browsers before starting
}

// PlaywrightLauncher launches one persistent Chromium context per account.
type PlaywrightLauncher struct {
	opts PlaywrightOptions

	mu sync.Mutex
	pw *playwright.Playwright
}

func NewPlaywrightLauncher(opts PlaywrightOptions) *PlaywrightLauncher {
	return &PlaywrightLauncher{opts: opts}
}

// Start boots the playwright driver. It is safe to call more than once.
func (l *PlaywrightLauncher) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pw != nil {
		return nil
	}

	runOpts := &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}
	if l.opts.Install {
		if err := playwright.Install(runOpts); err != nil {
			return fmt.Errorf("failed to install playwright: %w", err)
		}
	}
	pw, err := playwright.Run(runOpts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}
	l.pw = pw
	return nil
}

// Stop shuts the driver down. Contexts must be closed first.
func (l *PlaywrightLauncher) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pw == nil {
		return nil
	}
	err := l.pw.Stop()
	l.pw = nil
	return err
}

func (l *PlaywrightLauncher) Launch(ctx context.Context, accountID string) (Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	pw := l.pw
	l.mu.Unlock()
	if pw == nil {
		return nil, fmt.Errorf("playwright not started")
	}

	profileDir := filepath.Join(l.opts.SessionsDir, accountID)
	if err := os.MkdirAll(profileDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create profile dir: %w", err)
	}

	opts := playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless:  playwright.Bool(l.opts.Headless),
		Args:      launchArgs,
		Viewport:  &playwright.Size{Width: ViewportWidth, Height: ViewportHeight},
		UserAgent: playwright.String(UserAgent),
	}
	if l.opts.RecordVideo {
		opts.RecordVideo = &playwright.RecordVideo{
			Dir:  filepath.Join(l.opts.VideosDir, accountID),
			Size: &playwright.Size{Width: 1280, Height: 720},
		}
	}

	bctx, err := pw.Chromium.LaunchPersistentContext(profileDir, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	var page playwright.Page
	if pages := bctx.Pages(); len(pages) > 0 {
		page = pages[0]
	} else if page, err = bctx.NewPage(); err != nil {
		bctx.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	return &playwrightResource{ctx: bctx, page: page}, nil
}

type playwrightResource struct {
	ctx  playwright.BrowserContext
	page playwright.Page
}

func millis(d time.Duration) *float64 {
	return playwright.Float(float64(d.Milliseconds()))
}

func (r *playwrightResource) Navigate(url string, timeout time.Duration) error {
	_, err := r.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
		Timeout:   millis(timeout),
	})
	return err
}

// WaitVisible waits on the last match so completion markers on earlier
// messages in the thread do not satisfy it.
func (r *playwrightResource) WaitVisible(selector string, timeout time.Duration) error {
	return r.page.Locator(selector).Last().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: millis(timeout),
	})
}

func (r *playwrightResource) WaitHidden(selector string, timeout time.Duration) error {
	_, err := r.page.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{
		State:   playwright.WaitForSelectorStateHidden,
		Timeout: millis(timeout),
	})
	return err
}

func (r *playwrightResource) Fill(selector, text string) error {
	return r.page.Locator(selector).First().Fill(text)
}

func (r *playwrightResource) Press(selector, key string) error {
	return r.page.Locator(selector).First().Press(key)
}

func (r *playwrightResource) LastText(selector string) (string, error) {
	return r.page.Locator(selector).Last().TextContent()
}

func (r *playwrightResource) Screenshot() ([]byte, error) {
	return r.page.Screenshot(playwright.PageScreenshotOptions{FullPage: playwright.Bool(true)})
}

func (r *playwrightResource) Snapshot() (Snapshot, error) {
	raw, err := r.ctx.Cookies()
	if err != nil {
		return Snapshot{}, fmt.Errorf("read cookies: %w", err)
	}
	cookies := make([]models.Cookie, 0, len(raw))
	for _, c := range raw {
		mc := models.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HttpOnly,
			Secure:   c.Secure,
		}
		if c.SameSite != nil {
			mc.SameSite = string(*c.SameSite)
		}
		cookies = append(cookies, mc)
	}

	v, err := r.page.Evaluate(`() => JSON.stringify(window.localStorage)`)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read local storage: %w", err)
	}
	storage := map[string]string{}
	if s, ok := v.(string); ok && s != "" {
		if err := json.Unmarshal([]byte(s), &storage); err != nil {
			return Snapshot{}, fmt.Errorf("decode local storage: %w", err)
		}
	}
	return Snapshot{Cookies: cookies, LocalStorage: storage}, nil
}

func (r *playwrightResource) Restore(snap Snapshot) error {
	if len(snap.Cookies) > 0 {
		cookies := make([]playwright.OptionalCookie, 0, len(snap.Cookies))
		for _, c := range snap.Cookies {
			oc := playwright.OptionalCookie{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   playwright.String(c.Domain),
				Path:     playwright.String(c.Path),
				Expires:  playwright.Float(c.Expires),
				HttpOnly: playwright.Bool(c.HTTPOnly),
				Secure:   playwright.Bool(c.Secure),
			}
			if c.SameSite != "" {
				ss := playwright.SameSiteAttribute(c.SameSite)
				oc.SameSite = &ss
			}
			cookies = append(cookies, oc)
		}
		if err := r.ctx.AddCookies(cookies); err != nil {
			return fmt.Errorf("add cookies: %w", err)
		}
	}

	if len(snap.LocalStorage) > 0 {
		data, err := json.Marshal(snap.LocalStorage)
		if err != nil {
			return err
		}
		// Runs before any page script on every navigation; opaque origins throw.
		script := fmt.Sprintf(`(() => { try { const s = %s; for (const k in s) window.localStorage.setItem(k, s[k]); } catch (e) {} })();`, data)
		if err := r.ctx.AddInitScript(playwright.Script{Content: playwright.String(script)}); err != nil {
			return fmt.Errorf("add init script: %w", err)
		}
	}
	return nil
}

func (r *playwrightResource) Close() error {
	return r.ctx.Close()
}
