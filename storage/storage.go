package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ccollins476ad/instafetch/fileutil"
	log "github.com/sirupsen/logrus"
)

// ErrUnavailable indicates that a granted destination directory is invalid or
// its permission has been revoked. The affected item is abandoned; siblings in
// a batch continue independently.
var ErrUnavailable = errors.New("storage destination unavailable")

// MediaType distinguishes images from videos. Storage destinations and file
// extensions are decided per type.
type MediaType string

const (
	Image MediaType = "image"
	Video MediaType = "video"
)

// ParseMediaType normalizes a resolver-reported type string. Anything that is
// not explicitly a video is treated as an image.
func ParseMediaType(s string) MediaType {
	if s == string(Video) {
		return Video
	}
	return Image
}

// Ext returns the fixed file extension for the media type.
func (t MediaType) Ext() string {
	if t == Video {
		return ".mp4"
	}
	return ".jpg"
}

// subdir returns the type-specific directory name under the default data
// root, mirroring the platform's public media layout.
func (t MediaType) subdir() string {
	if t == Video {
		return filepath.Join("Movies", "instafetch")
	}
	return filepath.Join("Pictures", "instafetch")
}

// Target is a resolved storage destination capable of producing writable
// files. There are exactly two variants: a user-granted directory, and the
// app-managed default directory for the media type.
type Target interface {
	// Create opens a new destination file with the given name.
	Create(filename string) (*Dest, error)
}

// UserDir is a destination inside a directory the user granted beforehand.
type UserDir struct {
	Path string
}

func (d *UserDir) Create(filename string) (*Dest, error) {
	return createDest(filepath.Join(d.Path, filename), nil)
}

// DefaultDir is the app-managed, type-specific destination. Files written
// here are registered with the media index on commit so other applications
// can discover them.
type DefaultDir struct {
	Path  string
	Index Index
}

func (d *DefaultDir) Create(filename string) (*Dest, error) {
	return createDest(filepath.Join(d.Path, filename), d.Index)
}

// Resolver decides, per media type, whether downloads land in a user-granted
// directory or in the default app-managed one. The two types are resolved
// independently; images and videos may use different modes simultaneously.
type Resolver struct {
	ImageGrant string // user-granted image directory, or "" if never granted
	VideoGrant string // user-granted video directory, or "" if never granted
	DataDir    string // root for default-mode media directories
	Index      Index  // media index for default-mode files; may be nil
}

// Resolve returns the destination for the given media type. A present but
// unusable grant yields ErrUnavailable rather than a silent fallback: the
// grant exists, so writing elsewhere would violate the user's choice.
func (r *Resolver) Resolve(t MediaType) (Target, error) {
	grant := r.ImageGrant
	if t == Video {
		grant = r.VideoGrant
	}

	if grant != "" {
		if !fileutil.IsDir(grant) {
			return nil, fmt.Errorf("%w: granted directory invalid: %s", ErrUnavailable, grant)
		}
		return &UserDir{Path: grant}, nil
	}

	dir := filepath.Join(r.DataDir, t.subdir())
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return &DefaultDir{Path: dir, Index: r.Index}, nil
}

// Dest is an open destination file. The caller either Commits it after a
// complete write or Discards it, which removes the partial file.
type Dest struct {
	Path string

	f     *os.File
	index Index
}

func createDest(path string, index Index) (*Dest, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return &Dest{
		Path:  path,
		f:     f,
		index: index,
	}, nil
}

func (d *Dest) Write(p []byte) (int, error) {
	return d.f.Write(p)
}

// Commit closes the destination file and registers it with the media index.
// Registration is best-effort: a failure is logged and does not fail the
// download.
func (d *Dest) Commit() error {
	err := d.f.Close()
	if err != nil {
		return err
	}

	if d.index != nil {
		err := d.index.Register(d.Path)
		if err != nil {
			log.WithError(err).Warnf("failed to register file with media index: %s", d.Path)
		}
	}

	return nil
}

// Discard closes and removes the destination file. Partial writes must never
// surface as downloaded media.
func (d *Dest) Discard() {
	d.f.Close()

	err := os.Remove(d.Path)
	if err != nil {
		log.WithError(err).Warnf("failed to remove partial file: %s", d.Path)
	}
}
