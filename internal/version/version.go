// Package version carries build identification, stamped at build time via
// -ldflags "-X github.com/beaconhq/beacon/internal/version.Version=...".
package version

// Version is the semantic version of the binary.
var Version = "0.0.0"

// GitCommit is the short hash of the commit the binary was built from.
var GitCommit = "unknown"

// BuildDate is the UTC timestamp of the build.
var BuildDate = "unknown"
