package fileutil

import (
	"os"

	log "github.com/sirupsen/logrus"
)

// FileExists returns true if a file or directory with the given path exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// IsDir returns true if a directory with the given path exists.
func IsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// RemoveFiles deletes the given files, continuing past individual failures.
// It returns the number of files actually removed.
func RemoveFiles(paths []string) int {
	removed := 0
	for _, p := range paths {
		err := os.Remove(p)
		if err != nil {
			log.WithError(err).Warnf("failed to delete file: %s", p)
			continue
		}
		removed++
	}
	return removed
}
