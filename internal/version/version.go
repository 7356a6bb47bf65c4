// Package version holds build metadata, set through -ldflags at release time:
//
//	go build -ldflags "-X github.com/banshee-data/seisbench/internal/version.Version=1.2.0"
package version

var (
	// Version is the seisbench release
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)
