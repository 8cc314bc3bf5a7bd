// Package buildinfo stores build-time metadata shared across packages.
package buildinfo

// Version is set via ldflags during build. Defaults to "dev".
var Version = "dev"

// Commit is the git commit the binary was built from.
var Commit = "none"

// UserAgent returns the User-Agent sent on outbound API calls.
func UserAgent() string {
	return "adoc/" + Version
}
