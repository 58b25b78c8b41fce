// Package version provides build-time version information for flexpool.
//
// Version is set at build time using ldflags:
//
//	go build -ldflags "-X github.com/go-i2p/flexpool/version.Version=1.0.0"
//
// When GitCommit is not set, the VCS revision recorded by the Go toolchain
// is used if available.
package version

import (
	"runtime"
	"runtime/debug"
)

// Version is the software version, set at build time via ldflags.
var Version = "dev"

// GitCommit is the git commit hash, set at build time via ldflags.
var GitCommit = ""

// BuildTime is when the binary was built, set at build time via ldflags.
var BuildTime = ""

// readBuildInfo is replaced in tests.
var readBuildInfo = debug.ReadBuildInfo

// Commit returns GitCommit, falling back to the short VCS revision embedded
// in the binary.
func Commit() string {
	if GitCommit != "" {
		return GitCommit
	}
	info, ok := readBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			if len(s.Value) > 7 {
				return s.Value[:7]
			}
			return s.Value
		}
	}
	return ""
}

// Full returns the full version string including commit and build time if available.
func Full() string {
	v := Version
	if c := Commit(); c != "" {
		v += "-" + c
	}
	if BuildTime != "" {
		v += " (" + BuildTime + ")"
	}
	return v + " " + runtime.Version()
}
