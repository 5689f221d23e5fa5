package version

var (
	// Version is the current application version.
	// It can be set by the build system via ldflags; otherwise the literal
	// fallback below is used.
	Version = "v0.1.0"

	// Commit is the git short hash of the build.
	Commit = "unknown"

	// Date is the build timestamp.
	Date = "unknown"
)
