// Package version reports build metadata for the approvals binary.
package version

import "fmt"

// Set at build time via -ldflags "-X github.com/example/approvals/internal/version.Commit=..."
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// String returns the human-readable version line.
func String() string {
	return fmt.Sprintf("approvals %s (commit: %s, built: %s)", Version, shortCommit(), BuildTime)
}

func shortCommit() string {
	if len(Commit) > 7 {
		return Commit[:7]
	}
	return Commit
}
