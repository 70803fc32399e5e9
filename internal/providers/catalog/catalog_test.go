package catalog

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/pysugar/chat-relay/internal/providers"
)

func writeCatalog(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "providers.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	return path
}

func TestDefaultCatalog(t *testing.T) {
	c := Default()
	for _, k := range providers.AllKinds() {
		if !c.Enabled(k) {
			t.Fatalf("%s disabled by default", k)
		}
	}
	if got := c.EstimateCost(providers.Claude, 2000); math.Abs(got-0.006) > 1e-12 {
		t.Fatalf("claude cost for 2000 tokens = %v", got)
	}
	if got := c.EstimateCost(providers.Gemini, 5000); got != 0 {
		t.Fatalf("gemini cost = %v, want 0", got)
	}
	if got := c.EstimateCost("unknown", 1000); got != 0 {
		t.Fatalf("unknown provider cost = %v", got)
	}
}

func TestLoadAppliesFileAndEnv(t *testing.T) {
	path := writeCatalog(t, `providers:
  - id: claude
    enabled: false
  - id: deepseek
    url: https://chat.deepseek.example/
    model: deepseek-v3-web
    cost_per_1k: 0.001
`)
	t.Setenv("RELAY_CHATGPT_URL", "https://chatgpt.com/")

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Enabled(providers.Claude) {
		t.Fatal("claude should be disabled by the file")
	}

	ds, _ := c.Get(providers.DeepSeek)
	if ds.URL != "https://chat.deepseek.example/" || ds.Model != "deepseek-v3-web" || ds.CostPer1K != 0.001 {
		t.Fatalf("deepseek entry = %+v", ds)
	}

	site, ok := c.Site(providers.ChatGPT)
	if !ok || site.URL != "https://chatgpt.com/" {
		t.Fatalf("chatgpt site = %+v", site)
	}
	if site.InputSelector == "" {
		t.Fatal("site lost its selectors")
	}
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	path := writeCatalog(t, `providers:
  - id: claude
    enabled: false
  - id: bard
`)
	c, err := Load(path)
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}
	if !c.Enabled(providers.Claude) {
		t.Fatal("a rejected file must not be partially applied")
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if len(c.Entries()) != len(providers.AllKinds()) {
		t.Fatalf("fallback catalog has %d entries", len(c.Entries()))
	}
}
