package cli

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/mudler/xlog"
)

// EnvFiles lists the .env files read at startup, most specific first. Values
// already in the environment, or set by an earlier file, are kept.
func EnvFiles() []string {
	files := []string{".env", "genstudio.env"}
	if home, err := os.UserHomeDir(); err == nil {
		files = append(files,
			filepath.Join(home, "genstudio.env"),
			filepath.Join(home, ".config", "genstudio.env"))
	}
	return append(files, "/etc/genstudio.env")
}

// LoadEnvFiles loads the files that exist and returns the ones it read.
// A file that cannot be parsed is logged and skipped.
func LoadEnvFiles(files ...string) []string {
	var loaded []string
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			xlog.Error("Cannot load environment file", "file", f, "error", err)
			continue
		}
		xlog.Debug("Loaded environment file", "file", f)
		loaded = append(loaded, f)
	}
	return loaded
}
