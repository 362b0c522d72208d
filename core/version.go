package core

// Build metadata, injected at link time:
//
//	go build -ldflags "-X comfyclient/core.Version=$(git describe --tags --always) -X comfyclient/core.GitCommit=$(git rev-parse --short HEAD)" .
var (
	Version   = "dev"
	GitCommit = "unknown"
)

// VersionInfo returns the version line printed by "comfyclient --version".
func VersionInfo() string {
	return Version + " (commit " + GitCommit + ")"
}
