package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

// Service is the name reported by health and metrics endpoints
const Service = "pma-rules"

// Build information that can be set via ldflags during build
var (
	// Version is the release version
	Version = "dev"

	// GitCommit is the git commit hash this binary was built from
	GitCommit = ""

	// BuildDate is the date this binary was built
	BuildDate = ""
)

// BuildInfo contains all build-related information
type BuildInfo struct {
	Service   string `json:"service"`
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Modified  bool   `json:"modified,omitempty"`
}

var (
	once sync.Once
	info BuildInfo
)

// Get returns the build information. Values not set via ldflags are taken
// from the VCS stamp the Go toolchain embeds.
func Get() BuildInfo {
	once.Do(func() {
		info = BuildInfo{
			Service:   Service,
			Version:   Version,
			GitCommit: GitCommit,
			BuildDate: BuildDate,
			GoVersion: runtime.Version(),
		}
		if bi, ok := debug.ReadBuildInfo(); ok {
			applyVCS(&info, bi.Settings)
		}
		if info.GitCommit == "" {
			info.GitCommit = "unknown"
		}
		if info.BuildDate == "" {
			info.BuildDate = "unknown"
		}
		if info.Version == "dev" && info.GitCommit != "unknown" {
			info.Version = "dev-" + shortCommit(info.GitCommit)
		}
	})
	return info
}

func applyVCS(b *BuildInfo, settings []debug.BuildSetting) {
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			if b.GitCommit == "" {
				b.GitCommit = s.Value
			}
		case "vcs.time":
			if b.BuildDate == "" {
				b.BuildDate = s.Value
			}
		case "vcs.modified":
			b.Modified = s.Value == "true"
		}
	}
}

func shortCommit(commit string) string {
	if len(commit) > 8 {
		return commit[:8]
	}
	return commit
}

// String returns a one line description for startup logs
func (b BuildInfo) String() string {
	return fmt.Sprintf("%s %s (commit: %s, built: %s, go: %s)",
		b.Service, b.Version, shortCommit(b.GitCommit), b.BuildDate, b.GoVersion)
}
