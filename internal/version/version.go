// Package version holds build metadata set through -ldflags.
package version

import "fmt"

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Full returns the version line printed by `convtrack version`.
func Full() string {
	return fmt.Sprintf("convtrack %s, commit %s, built at %s", Version, Commit, Date)
}
