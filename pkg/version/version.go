// Package version exposes the build metadata the command-line tools report. The values are
// overridden at link time, e.g.
//
//	go build -ldflags "-X github.com/bgrewell/isoforge/pkg/version.version=v1.2.3"
package version

var (
	version  = "dev"
	branch   = "unknown"
	date     = "unknown"
	revision = "unknown"
)

// Version returns the semantic version of this build.
func Version() string { return version }

// Branch returns the VCS branch this build was produced from.
func Branch() string { return branch }

// Date returns the build date.
func Date() string { return date }

// Revision returns the VCS commit hash of this build.
func Revision() string { return revision }
