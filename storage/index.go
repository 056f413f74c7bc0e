package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Index records committed media files so that external applications can
// discover them. It stands in for the platform's media scanner; registration
// failures never fail a download.
type Index interface {
	Register(path string) error
}

// FileIndex appends committed paths to a catalog file in the data directory.
type FileIndex struct {
	path string
	mtx  sync.Mutex
}

func NewFileIndex(dataDir string) *FileIndex {
	return &FileIndex{
		path: filepath.Join(dataDir, ".media-index"),
	}
}

// Register appends a single catalog line for the given media file.
func (x *FileIndex) Register(path string) error {
	x.mtx.Lock()
	defer x.mtx.Unlock()

	f, err := os.OpenFile(x.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = fmt.Fprintf(f, "%s\t%s\n", time.Now().UTC().Format(time.RFC3339), path)
	return err
}
