// Package version carries build metadata injected at link time.
package version

var (
	// Version is the semantic release version, set via ldflags.
	Version = "dev"
	// Commit is the git revision the binary was built from.
	Commit = ""
	// BuildDate is the build timestamp.
	BuildDate = ""
)
