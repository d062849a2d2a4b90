// Package version carries build information injected with ldflags.
package version

import "fmt"

// Example: go build -ldflags "-X sgi/pkg/version.Version=v1.2.3 -X sgi/pkg/version.Commit=$(git rev-parse --short HEAD)".
//
//nolint:gochecknoglobals // These must be package-level vars for ldflags injection.
var (
	// Version is the semantic version ("dev" for local builds).
	Version = "dev"

	// Commit is the git commit SHA of the build.
	Commit = "none"

	// Date is the build date in ISO format.
	Date = "unknown"
)

// String is the one-line version banner printed by the CLI.
func String() string {
	return fmt.Sprintf("sgi %s (commit %s, built %s)", Version, Commit, Date)
}
