// Package build holds build information set at link time, e.g.
// go build -ldflags "-X github.com/G-Research/fluxbench/internal/common/build.GitCommit=$(git rev-parse HEAD)".
package build

import "runtime"

var (
	ReleaseVersion = "UNKNOWN"
	GitCommit      = "UNKNOWN"
	GoVersion      = runtime.Version()
	BuildTime      = "UNKNOWN"
)
