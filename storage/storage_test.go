package storage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestResolveDefaultMode(t *testing.T) {
	dataDir := t.TempDir()
	r := &Resolver{DataDir: dataDir}

	// No grant present: a video download must land in the default video
	// directory, not fail.
	tgt, err := r.Resolve(Video)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	dd, ok := tgt.(*DefaultDir)
	if !ok {
		t.Fatalf("wrong target type: %T", tgt)
	}
	wantDir := filepath.Join(dataDir, "Movies", "instafetch")
	if dd.Path != wantDir {
		t.Errorf("wrong directory: have=%s want=%s", dd.Path, wantDir)
	}
	if !dirExists(wantDir) {
		t.Error("default directory not created")
	}
}

func TestResolveUserMode(t *testing.T) {
	grant := t.TempDir()
	r := &Resolver{ImageGrant: grant, DataDir: t.TempDir()}

	tgt, err := r.Resolve(Image)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	ud, ok := tgt.(*UserDir)
	if !ok {
		t.Fatalf("wrong target type: %T", tgt)
	}
	if ud.Path != grant {
		t.Errorf("wrong directory: %s", ud.Path)
	}
}

func TestResolveInvalidGrant(t *testing.T) {
	r := &Resolver{
		ImageGrant: filepath.Join(t.TempDir(), "revoked"),
		DataDir:    t.TempDir(),
	}

	_, err := r.Resolve(Image)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, have: %v", err)
	}
}

func TestResolveTypeScoped(t *testing.T) {
	// Images granted, videos not: the two types use different modes
	// simultaneously.
	r := &Resolver{ImageGrant: t.TempDir(), DataDir: t.TempDir()}

	img, err := r.Resolve(Image)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := img.(*UserDir); !ok {
		t.Errorf("wrong image target: %T", img)
	}

	vid, err := r.Resolve(Video)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := vid.(*DefaultDir); !ok {
		t.Errorf("wrong video target: %T", vid)
	}
}

func TestDestCommitRegistersIndex(t *testing.T) {
	dataDir := t.TempDir()
	idx := NewFileIndex(dataDir)
	r := &Resolver{DataDir: dataDir, Index: idx}

	tgt, err := r.Resolve(Image)
	if err != nil {
		t.Fatal(err)
	}

	dest, err := tgt.Create("pic.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := dest.Write([]byte("imagedata")); err != nil {
		t.Fatal(err)
	}
	if err := dest.Commit(); err != nil {
		t.Fatal(err)
	}

	b, err := os.ReadFile(dest.Path)
	if err != nil || string(b) != "imagedata" {
		t.Errorf("file content wrong: %q err=%v", b, err)
	}

	cat, err := os.ReadFile(filepath.Join(dataDir, ".media-index"))
	if err != nil {
		t.Fatalf("index catalog missing: %v", err)
	}
	if !strings.Contains(string(cat), dest.Path) {
		t.Errorf("committed file not registered: %s", cat)
	}
}

func TestDestDiscardRemovesFile(t *testing.T) {
	r := &Resolver{DataDir: t.TempDir()}
	tgt, err := r.Resolve(Image)
	if err != nil {
		t.Fatal(err)
	}

	dest, err := tgt.Create("partial.jpg")
	if err != nil {
		t.Fatal(err)
	}
	dest.Write([]byte("part"))
	dest.Discard()

	if _, err := os.Stat(dest.Path); !os.IsNotExist(err) {
		t.Error("partial file not removed")
	}
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
