package buildinfo

// These variables are intended to be set via -ldflags at build time:
//
//	-X 'github.com/Nemu-x/botlab/core/buildinfo.Version=v0.4.0'
//	-X 'github.com/Nemu-x/botlab/core/buildinfo.Commit=3f9c2e1'
//	-X 'github.com/Nemu-x/botlab/core/buildinfo.Date=2026-10-01T09:30:00Z'
//
// Default values are useful for local dev.
var (
	// Version reports the semantic version or tag of the build.
	Version = "dev"
	// Commit reports the source control commit used for the build.
	Commit = "local"
	// Date reports the build timestamp in RFC3339 format.
	Date = ""
)
