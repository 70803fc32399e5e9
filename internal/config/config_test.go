package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Concurrency)
	assert.Equal(t, 28*24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 60*time.Second, cfg.CheckInterval)
	assert.Equal(t, 7*24*time.Hour, cfg.SessionLookahead)
	assert.InDelta(t, 0.9, cfg.AlertThreshold, 1e-9)
	assert.Equal(t, []string{"deepseek", "gemini", "chatgpt", "claude"}, cfg.ProviderOrder)
	assert.Equal(t, int64(100), cfg.RateLimit)
	assert.Equal(t, QuotaUnitRequests, cfg.QuotaUnit)
	assert.True(t, cfg.Headless)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("RELAY_CONCURRENCY", "4")
	t.Setenv("RELAY_HEADLESS", "false")
	t.Setenv("RELAY_PROVIDER_ORDER", "claude, ChatGPT")

	cfg, err := Load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Concurrency)
	assert.False(t, cfg.Headless)
	assert.Equal(t, []string{"claude", "chatgpt"}, cfg.ProviderOrder)
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("concurrency: 3\nalert_threshold: 0.75\nquota_unit: tokens\n"), 0o600))

	v := viper.New()
	v.Set("config", path)
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Concurrency)
	assert.InDelta(t, 0.75, cfg.AlertThreshold, 1e-9)
	assert.Equal(t, QuotaUnitTokens, cfg.QuotaUnit)
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	v := viper.New()
	v.Set("concurrency", 0)
	v.Set("alert_threshold", 1.5)
	v.Set("provider_order", []string{"chatgpt", "bard"})

	_, err := Load(v)
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{"concurrency", "alert_threshold", `unknown provider "bard"`} {
		assert.True(t, strings.Contains(msg, want), "expected %q in %q", want, msg)
	}
}
