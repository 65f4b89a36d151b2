package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is the semantic version or git describe result.
	Version = "dev"
	// GitCommit is the short git commit hash for this build.
	GitCommit = "unknown"
	// BuildDate is the RFC3339 timestamp when the binary was built.
	BuildDate = "unknown"
)

// Info is the build metadata reported by the CLI and the gateway.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"gitCommit"`
	BuildDate string `json:"buildDate"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

func Get() Info {
	return Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// String returns a human readable version summary.
func String() string {
	return fmt.Sprintf("gencad %s (commit %s, built %s, %s)", Version, GitCommit, BuildDate, runtime.GOOS+"/"+runtime.GOARCH)
}
