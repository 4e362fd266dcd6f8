// Package version carries build information injected with -ldflags, e.g.
//
//	go build -ldflags "-X github.com/banshee-data/agentsim/internal/version.Version=v0.3.0"
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

// String formats the build information for -version output and logs.
func String() string {
	return fmt.Sprintf("agentsim %s (git %s, built %s)", Version, GitSHA, BuildTime)
}

// Info returns the build information as a map for JSON endpoints.
func Info() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_sha":    GitSHA,
		"build_time": BuildTime,
	}
}
