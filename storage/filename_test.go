package storage

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func TestFilenameExtension(t *testing.T) {
	now := time.Now()

	name := Filename("someuser", Image, now)
	if !strings.HasSuffix(name, ".jpg") {
		t.Errorf("wrong image extension: %s", name)
	}
	if !strings.HasPrefix(name, "someuser_") {
		t.Errorf("missing username prefix: %s", name)
	}

	name = Filename("someuser", Video, now)
	if !strings.HasSuffix(name, ".mp4") {
		t.Errorf("wrong video extension: %s", name)
	}
}

func TestFilenameSanitizesUsername(t *testing.T) {
	name := Filename("bad/user:name", Image, time.Now())
	if strings.ContainsAny(name, "/:") {
		t.Errorf("unsafe characters in filename: %s", name)
	}

	name = Filename("", Image, time.Now())
	if !strings.HasPrefix(name, "unknown_") {
		t.Errorf("empty username not defaulted: %s", name)
	}
}

func TestFilenameUniqueUnderConcurrency(t *testing.T) {
	// Same user, same type, same instant from many goroutines: every name
	// must still be distinct.
	now := time.Now()

	const n = 200
	names := make([]string, n)

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			names[i] = Filename("someuser", Image, now)
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, name := range names {
		if seen[name] {
			t.Fatalf("duplicate filename: %s", name)
		}
		seen[name] = true
	}
}
