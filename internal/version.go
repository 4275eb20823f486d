package internal

import "fmt"

// Set at build time with -ldflags "-X github.com/mudler/genstudio/internal.Version=..."
var Version = ""
var Commit = ""

func PrintableVersion() string {
	if Version == "" {
		return "dev"
	}
	if Commit == "" {
		return Version
	}
	return fmt.Sprintf("%s (%s)", Version, Commit)
}
