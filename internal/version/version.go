// Package version resolves the binary's version string from build metadata.
package version

import (
	"runtime/debug"
	"strings"
)

// Populated at build time via -ldflags, e.g.
//
//	-X github.com/tis24dev/homesave/internal/version.Version=v0.9.0
//	-X github.com/tis24dev/homesave/internal/version.Commit=abcdef123
//	-X github.com/tis24dev/homesave/internal/version.Date=2026-01-01T12:34:56Z
var (
	// Version is the semantic version of the binary. Left at the development
	// placeholder when the build system does not inject one.
	Version = "0.0.0-dev"

	// Commit is the VCS commit hash of the build, when injected.
	Commit = ""

	// Date is the build timestamp, when injected.
	Date = ""
)

// Swappable for tests.
var readBuildInfo = debug.ReadBuildInfo

// String returns the effective version, without any leading "v". An injected
// Version wins; otherwise the main module version from the embedded build
// info is used, and failing that the development placeholder.
func String() string {
	v := strings.TrimSpace(Version)
	if v == "" {
		v = moduleVersion()
	}
	if v == "" {
		v = "0.0.0-dev"
	}
	return strings.TrimPrefix(v, "v")
}

// moduleVersion reads the main module version stamped by the Go toolchain.
// Plain "go build" in a working tree stamps "(devel)", which is useless for
// display, so it is treated as absent.
func moduleVersion() string {
	info, ok := readBuildInfo()
	if !ok {
		return ""
	}
	mv := strings.TrimSpace(info.Main.Version)
	if mv == "(devel)" {
		return ""
	}
	return mv
}
