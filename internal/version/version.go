package version

import "fmt"

// Set at build time, e.g.
// go build -ldflags "-X github.com/pysugar/chat-relay/internal/version.Version=v0.3.0"
var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

// String renders the build identity for `relay version`.
func String() string {
	return fmt.Sprintf("chat-relay %s (commit %s, built %s)", Version, Commit, BuildTime)
}
