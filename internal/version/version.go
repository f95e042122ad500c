// Package version holds build metadata, set with -ldflags "-X".
package version

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// Info returns e.g. "1.2.0 (abc1234, built 2024-03-02)".
func Info() string {
	return Version + " (" + Commit + ", built " + BuildDate + ")"
}

// UserAgent identifies the tool in provider API calls.
func UserAgent() string {
	return "spare/" + Version
}
