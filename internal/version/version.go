// Package version carries build metadata injected with -ldflags -X.
package version

import (
	"fmt"
	"runtime"
)

// Set at build time.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info is reported by the version command and the status API.
type Info struct {
	Version   string `json:"version" example:"1.2.0" doc:"camkeeper version"`
	GitCommit string `json:"git_commit" doc:"Source revision"`
	BuildDate string `json:"build_date" doc:"Build timestamp"`
	GoVersion string `json:"go_version" doc:"Go toolchain"`
	Platform  string `json:"platform" example:"linux/arm64" doc:"Target platform"`
}

// Get returns the build information.
func Get() Info {
	return Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}
