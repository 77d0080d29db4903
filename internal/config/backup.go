package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/AnshuML/Aipl/internal/errors"
)

const (
	// MaxBackups is the maximum number of config backups kept per file.
	MaxBackups = 3

	// BackupSuffix marks backup files: <config>.bak.<timestamp>.
	BackupSuffix = ".bak"
)

// InitUserConfig writes the default configuration to the user config path.
// An existing file is left alone unless force is set, in which case it is
// backed up first. Returns the written path and the backup path, if any.
func InitUserConfig(force bool) (path, backup string, err error) {
	path = GetUserConfigPath()
	if fileExists(path) {
		if !force {
			return path, "", errors.New(errors.ErrCodeConfigInvalid, "user config already exists", nil).
				WithDetail("path", path).
				WithSuggestion("Re-run with --force to overwrite it (a backup is kept)")
		}
		if backup, err = BackupFile(path, time.Now()); err != nil {
			return path, "", err
		}
	}
	if err := NewConfig().WriteYAML(path); err != nil {
		return path, backup, err
	}
	return path, backup, nil
}

// BackupFile copies path to a timestamped sibling and prunes older backups
// beyond MaxBackups. A missing file yields an empty path and no error.
func BackupFile(path string, now time.Time) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", errors.ConfigError("failed to read config for backup", err).WithDetail("path", path)
	}

	backupPath := fmt.Sprintf("%s%s.%s", path, BackupSuffix, now.Format("20060102-150405.000"))
	if err := os.WriteFile(backupPath, data, 0600); err != nil {
		return "", errors.New(errors.ErrCodeFilePermission, "failed to write config backup", err).
			WithDetail("path", backupPath)
	}

	// Pruning is best-effort; the backup itself succeeded.
	_ = pruneBackups(path)
	return backupPath, nil
}

// ListBackups returns backups of path, newest first.
func ListBackups(path string) ([]string, error) {
	dir := filepath.Dir(path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.ConfigError("failed to list config directory", err).WithDetail("path", dir)
	}

	prefix := filepath.Base(path) + BackupSuffix + "."
	var backups []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), prefix) {
			backups = append(backups, filepath.Join(dir, entry.Name()))
		}
	}

	// Timestamps sort lexically; newest first.
	sort.Sort(sort.Reverse(sort.StringSlice(backups)))
	return backups, nil
}

func pruneBackups(path string) error {
	backups, err := ListBackups(path)
	if err != nil {
		return err
	}
	if len(backups) <= MaxBackups {
		return nil
	}
	for _, old := range backups[MaxBackups:] {
		_ = os.Remove(old)
	}
	return nil
}
