package storyboard

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

func isProjectFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// FindLatestProject returns the newest YAML project in dir. Entries that
// vanish or cannot be resolved while scanning are skipped.
func FindLatestProject(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read projects directory: %w", err)
	}

	var (
		latest   string
		latestAt time.Time
	)
	for _, entry := range entries {
		if entry.IsDir() || !isProjectFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		info, err := entry.Info()
		if err == nil && info.Mode()&os.ModeSymlink != 0 {
			info, err = os.Stat(path)
		}
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if latest == "" || info.ModTime().After(latestAt) {
			latest, latestAt = path, info.ModTime()
		}
	}

	if latest == "" {
		return "", fmt.Errorf("no project files found in %s", dir)
	}
	return latest, nil
}
