// Package diagnostics captures failure artifacts from browser resources.
package diagnostics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pysugar/chat-relay/internal/browser"
	"go.uber.org/zap"
)

// ScreenshotSink writes full-page screenshots to <dir>/<account>/<name>.png,
// replacing any earlier file with the same key.
type ScreenshotSink struct {
	dir     string
	enabled bool
	logger  *zap.Logger
}

func NewScreenshotSink(dir string, enabled bool, logger *zap.Logger) *ScreenshotSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScreenshotSink{dir: dir, enabled: enabled, logger: logger.Named("diagnostics")}
}

// Capture takes a screenshot of res. Failures are logged and swallowed; the
// returned path is empty when nothing was written.
func (s *ScreenshotSink) Capture(ctx context.Context, res browser.Resource, accountID, name string) string {
	if s == nil || !s.enabled || res == nil {
		return ""
	}
	log := s.logger.With(zap.String("account_id", accountID), zap.String("name", name))
	if ctx.Err() != nil {
		log.Debug("skipping screenshot, context done")
		return ""
	}

	path, err := s.capture(res, accountID, name)
	if err != nil {
		log.Warn("failed to capture screenshot", zap.Error(err))
		return ""
	}
	log.Info("screenshot saved", zap.String("path", path))
	return path
}

func (s *ScreenshotSink) capture(res browser.Resource, accountID, name string) (string, error) {
	data, err := res.Screenshot()
	if err != nil {
		return "", fmt.Errorf("take screenshot: %w", err)
	}

	dir := filepath.Join(s.dir, safeSegment(accountID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create screenshot dir: %w", err)
	}
	path := filepath.Join(dir, safeSegment(name)+".png")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("write screenshot: %w", err)
	}
	return path, nil
}

// safeSegment keeps a key from escaping its directory.
func safeSegment(s string) string {
	s = strings.NewReplacer("/", "_", `\`, "_", "..", "_").Replace(s)
	if s == "" {
		return "_"
	}
	return s
}
