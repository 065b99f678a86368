// Package version carries build metadata stamped in via -ldflags.
package version

import "runtime"

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// String returns "figaro <version> (<commit>)".
func String() string {
	return "figaro " + Version + " (" + GitCommit + ")"
}

// GoVersion returns the Go runtime version string.
func GoVersion() string { return runtime.Version() }
