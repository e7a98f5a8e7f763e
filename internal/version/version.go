// Package version carries build metadata injected with -ldflags, e.g.
//
//	-X github.com/eternallovelin/dvs-tracking/internal/version.Version=v0.3.0
package version

import "fmt"

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// Info is the build metadata as served on /api/version.
type Info struct {
	Version   string `json:"version"`
	GitSHA    string `json:"git_sha"`
	BuildTime string `json:"build_time"`
}

// Get returns the current build metadata.
func Get() Info {
	return Info{Version: Version, GitSHA: GitSHA, BuildTime: BuildTime}
}

// String formats the metadata for -version output.
func String(program string) string {
	return fmt.Sprintf("%s %s (%s, built %s)", program, Version, GitSHA, BuildTime)
}
