// Package config builds the relay's runtime configuration once at startup.
//
// Values come from (lowest to highest precedence) built-in defaults, an optional
// config file, RELAY_* environment variables and bound command-line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "RELAY"

// Quota units.
const (
	QuotaUnitRequests = "requests"
	QuotaUnitTokens   = "tokens"
)

// knownProviders mirrors providers.AllKinds; config cannot import providers
// without creating a cycle through the catalog.
var knownProviders = map[string]bool{"chatgpt": true, "claude": true, "gemini": true, "deepseek": true}

// Config is the validated runtime configuration shared by every component.
type Config struct {
	WorkerID string
	LogLevel string

	DatabasePath string
	RedisURL     string
	QueueName    string

	Concurrency       int
	JobsPerSecond     float64
	QueuePollInterval time.Duration

	Headless          bool
	InstallBrowsers   bool
	ScreenshotOnError bool
	VideoRecording    bool
	SessionsDir       string
	ScreenshotsDir    string
	VideosDir         string
	SessionTTL        time.Duration

	CheckInterval       time.Duration
	SessionScanInterval time.Duration
	SessionLookahead    time.Duration
	AlertThreshold      float64
	AlertChannel        string
	DefaultDailyLimit   int64
	DefaultMonthlyLimit int64
	QuotaUnit           string

	RateLimit      int64
	RateWindow     time.Duration
	ProviderOrder  []string
	MaxPromptChars int
	CatalogPath    string
	HTTPAddr       string
	AdminPassword  string
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("worker_id", "browser-worker-1")
	v.SetDefault("log_level", "info")
	v.SetDefault("database_path", "relay.db")
	v.SetDefault("redis_url", "redis://localhost:6379")
	v.SetDefault("queue_name", "chat-requests")
	v.SetDefault("concurrency", 2)
	v.SetDefault("jobs_per_second", 10.0)
	v.SetDefault("queue_poll_interval", time.Second)
	v.SetDefault("headless", true)
	v.SetDefault("install_browsers", false)
	v.SetDefault("screenshot_on_error", true)
	v.SetDefault("video_recording", false)
	v.SetDefault("sessions_dir", "/app/sessions")
	v.SetDefault("screenshots_dir", "/app/screenshots")
	v.SetDefault("videos_dir", "/app/videos")
	v.SetDefault("session_ttl", 28*24*time.Hour)
	v.SetDefault("check_interval", 60*time.Second)
	v.SetDefault("session_scan_interval", 24*time.Hour)
	v.SetDefault("session_lookahead", 7*24*time.Hour)
	v.SetDefault("alert_threshold", 0.9)
	v.SetDefault("alert_channel", "quota_alerts")
	v.SetDefault("default_daily_limit", 100)
	v.SetDefault("default_monthly_limit", 0)
	v.SetDefault("quota_unit", QuotaUnitRequests)
	v.SetDefault("rate_limit", 100)
	v.SetDefault("rate_window", 60*time.Second)
	v.SetDefault("provider_order", []string{"deepseek", "gemini", "chatgpt", "claude"})
	v.SetDefault("max_prompt_chars", 10000)
	v.SetDefault("catalog_path", "")
	v.SetDefault("http_addr", "127.0.0.1:8080")
	v.SetDefault("admin_password", "")
}

// Load reads v (defaults, file, env) into a validated Config.
// A nil v uses a fresh viper instance.
func Load(v *viper.Viper) (Config, error) {
	if v == nil {
		v = viper.New()
	}
	SetDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := Config{
		WorkerID:            v.GetString("worker_id"),
		LogLevel:            v.GetString("log_level"),
		DatabasePath:        v.GetString("database_path"),
		RedisURL:            v.GetString("redis_url"),
		QueueName:           v.GetString("queue_name"),
		Concurrency:         v.GetInt("concurrency"),
		JobsPerSecond:       v.GetFloat64("jobs_per_second"),
		QueuePollInterval:   v.GetDuration("queue_poll_interval"),
		Headless:            v.GetBool("headless"),
		InstallBrowsers:     v.GetBool("install_browsers"),
		ScreenshotOnError:   v.GetBool("screenshot_on_error"),
		VideoRecording:      v.GetBool("video_recording"),
		SessionsDir:         v.GetString("sessions_dir"),
		ScreenshotsDir:      v.GetString("screenshots_dir"),
		VideosDir:           v.GetString("videos_dir"),
		SessionTTL:          v.GetDuration("session_ttl"),
		CheckInterval:       v.GetDuration("check_interval"),
		SessionScanInterval: v.GetDuration("session_scan_interval"),
		SessionLookahead:    v.GetDuration("session_lookahead"),
		AlertThreshold:      v.GetFloat64("alert_threshold"),
		AlertChannel:        v.GetString("alert_channel"),
		DefaultDailyLimit:   v.GetInt64("default_daily_limit"),
		DefaultMonthlyLimit: v.GetInt64("default_monthly_limit"),
		QuotaUnit:           strings.ToLower(v.GetString("quota_unit")),
		RateLimit:           v.GetInt64("rate_limit"),
		RateWindow:          v.GetDuration("rate_window"),
		ProviderOrder:       normalizeList(v.GetStringSlice("provider_order")),
		MaxPromptChars:      v.GetInt("max_prompt_chars"),
		CatalogPath:         v.GetString("catalog_path"),
		HTTPAddr:            v.GetString("http_addr"),
		AdminPassword:       v.GetString("admin_password"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if c.DatabasePath == "" {
		errs = append(errs, errors.New("database_path is required"))
	}
	if c.RedisURL == "" {
		errs = append(errs, errors.New("redis_url is required"))
	}
	if c.QueueName == "" {
		errs = append(errs, errors.New("queue_name is required"))
	}
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be >= 1, got %d", c.Concurrency))
	}
	if c.JobsPerSecond <= 0 {
		errs = append(errs, fmt.Errorf("jobs_per_second must be > 0, got %v", c.JobsPerSecond))
	}
	if c.AlertThreshold <= 0 || c.AlertThreshold > 1 {
		errs = append(errs, fmt.Errorf("alert_threshold must be in (0, 1], got %v", c.AlertThreshold))
	}
	for name, d := range map[string]time.Duration{
		"queue_poll_interval":   c.QueuePollInterval,
		"session_ttl":           c.SessionTTL,
		"check_interval":        c.CheckInterval,
		"session_scan_interval": c.SessionScanInterval,
		"session_lookahead":     c.SessionLookahead,
		"rate_window":           c.RateWindow,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.RateLimit < 1 {
		errs = append(errs, fmt.Errorf("rate_limit must be >= 1, got %d", c.RateLimit))
	}
	if c.DefaultDailyLimit < 1 {
		errs = append(errs, fmt.Errorf("default_daily_limit must be >= 1, got %d", c.DefaultDailyLimit))
	}
	if c.QuotaUnit != QuotaUnitRequests && c.QuotaUnit != QuotaUnitTokens {
		errs = append(errs, fmt.Errorf("quota_unit must be %q or %q, got %q", QuotaUnitRequests, QuotaUnitTokens, c.QuotaUnit))
	}
	if len(c.ProviderOrder) == 0 {
		errs = append(errs, errors.New("provider_order must list at least one provider"))
	}
	for _, p := range c.ProviderOrder {
		if !knownProviders[p] {
			errs = append(errs, fmt.Errorf("provider_order: unknown provider %q", p))
		}
	}
	if c.MaxPromptChars < 1 {
		errs = append(errs, fmt.Errorf("max_prompt_chars must be >= 1, got %d", c.MaxPromptChars))
	}
	return errors.Join(errs...)
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		// Env values arrive as one comma separated string.
		for _, part := range strings.Split(item, ",") {
			if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
