package logging

import (
	"os"
	"path/filepath"

	"github.com/AnshuML/Aipl/internal/errors"
)

const logFileName = "aipl.log"

// DefaultLogDir returns ~/.aipl/logs, or a temp directory when the home
// directory is unavailable.
func DefaultLogDir() string {
	base := os.TempDir()
	if home, err := os.UserHomeDir(); err == nil {
		base = home
	}
	return filepath.Join(base, ".aipl", "logs")
}

// DefaultLogPath returns the default log file.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), logFileName)
}

// FindLogFile resolves the file `aipl logs` reads: explicit when given,
// otherwise the default log file. Either must already exist.
func FindLogFile(explicit string) (string, error) {
	path := explicit
	if path == "" {
		path = DefaultLogPath()
	}
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		return path, nil
	}

	if explicit != "" {
		return "", errors.New(errors.ErrCodeFileNotFound, "log file not found: "+explicit, nil)
	}
	return "", errors.New(errors.ErrCodeFileNotFound, "no log file found at "+path, nil).
		WithSuggestion("Run any aipl command first, or pass --debug for verbose logs")
}
