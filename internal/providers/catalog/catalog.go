// Package catalog loads per-provider overrides (page URL, model label, cost
// and enabled flag) from an optional YAML file and the environment.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pysugar/chat-relay/internal/providers"
	"gopkg.in/yaml.v3"
)

// Default cost in USD per 1k tokens.
var defaultCostPer1K = map[providers.Kind]float64{
	providers.ChatGPT:  0.0015,
	providers.Claude:   0.003,
	providers.Gemini:   0,
	providers.DeepSeek: 0.00027,
}

type fileConfig struct {
	Providers []ProviderConfig `yaml:"providers"`
}

// ProviderConfig is one entry of the catalog file. Unset fields keep the
// built-in value.
type ProviderConfig struct {
	ID        string   `yaml:"id"`
	Enabled   *bool    `yaml:"enabled"`
	URL       string   `yaml:"url"`
	Model     string   `yaml:"model"`
	CostPer1K *float64 `yaml:"cost_per_1k"`
}

// Entry is the resolved description of a provider.
type Entry struct {
	Kind      providers.Kind `json:"provider"`
	Enabled   bool           `json:"enabled"`
	URL       string         `json:"url"`
	Model     string         `json:"model"`
	CostPer1K float64        `json:"cost_per_1k"`
}

// Catalog is an immutable set of entries, one per supported provider.
type Catalog struct {
	entries map[providers.Kind]Entry
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c := &Catalog{entries: make(map[providers.Kind]Entry)}
	for _, k := range providers.AllKinds() {
		site, _ := providers.DefaultSite(k)
		c.entries[k] = Entry{
			Kind:      k,
			Enabled:   true,
			URL:       site.URL,
			Model:     site.Model,
			CostPer1K: defaultCostPer1K[k],
		}
	}
	return c
}

// Load builds the catalog from the built-in values, the file at path (or the
// first standard location found when path is empty) and RELAY_<ID>_*
// environment overrides. The built-in catalog is returned alongside any file
// error so callers may continue.
func Load(path string) (*Catalog, error) {
	c := Default()

	cfgs, err := loadConfigProviders(path)
	if err != nil {
		c.applyEnv()
		return c, err
	}
	for _, cfg := range cfgs {
		if err := c.apply(cfg); err != nil {
			c = Default()
			c.applyEnv()
			return c, err
		}
	}
	c.applyEnv()
	return c, nil
}

func (c *Catalog) apply(cfg ProviderConfig) error {
	k, err := providers.ParseKind(cfg.ID)
	if err != nil {
		return fmt.Errorf("catalog entry: %w", err)
	}
	e := c.entries[k]
	if cfg.Enabled != nil {
		e.Enabled = *cfg.Enabled
	}
	if v := strings.TrimSpace(cfg.URL); v != "" {
		e.URL = v
	}
	if v := strings.TrimSpace(cfg.Model); v != "" {
		e.Model = v
	}
	if cfg.CostPer1K != nil {
		if *cfg.CostPer1K < 0 {
			return fmt.Errorf("catalog entry %s: negative cost", k)
		}
		e.CostPer1K = *cfg.CostPer1K
	}
	c.entries[k] = e
	return nil
}

func (c *Catalog) applyEnv() {
	for k, e := range c.entries {
		if v := strings.TrimSpace(os.Getenv(providerEnvName(k, "URL"))); v != "" {
			e.URL = v
		}
		if v := strings.TrimSpace(os.Getenv(providerEnvName(k, "ENABLED"))); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				e.Enabled = b
			}
		}
		c.entries[k] = e
	}
}

// Get returns the entry for k.
func (c *Catalog) Get(k providers.Kind) (Entry, bool) {
	e, ok := c.entries[k]
	return e, ok
}

// Entries lists every provider in name order.
func (c *Catalog) Entries() []Entry {
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

// Enabled reports whether k is enabled.
func (c *Catalog) Enabled(k providers.Kind) bool {
	e, ok := c.entries[k]
	return ok && e.Enabled
}

// EstimateCost prices tokens for provider k. Unknown providers cost nothing.
func (c *Catalog) EstimateCost(k providers.Kind, tokens int64) float64 {
	e, ok := c.entries[k]
	if !ok || tokens <= 0 {
		return 0
	}
	return float64(tokens) / 1000 * e.CostPer1K
}

// Site returns the built-in site for k with the catalog's URL and model applied.
func (c *Catalog) Site(k providers.Kind) (providers.Site, bool) {
	site, ok := providers.DefaultSite(k)
	if !ok {
		return providers.Site{}, false
	}
	if e, ok := c.entries[k]; ok {
		site.URL = e.URL
		site.Model = e.Model
	}
	return site, true
}

func loadConfigProviders(path string) ([]ProviderConfig, error) {
	path, err := resolveConfigPath(path)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read provider catalog %q: %w", path, err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse provider catalog %q: %w", path, err)
	}
	return cfg.Providers, nil
}

func resolveConfigPath(explicit string) (string, error) {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", err
		}
		return explicit, nil
	}

	candidates := []string{
		"config/providers.yaml",
		"/etc/chat-relay/providers.yaml",
	}
	if homeDir, err := os.UserHomeDir(); err == nil && homeDir != "" {
		candidates = append(candidates, filepath.Join(homeDir, ".config", "chat-relay", "providers.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", nil
}

func providerEnvName(k providers.Kind, suffix string) string {
	return "RELAY_" + strings.ToUpper(string(k)) + "_" + suffix
}
