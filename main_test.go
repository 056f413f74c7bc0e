package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/ccollins476ad/instafetch/store"
)

func TestRunLinksPersistsFailureRecords(t *testing.T) {
	// Media server that rejects everything, so the download fails.
	media := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer media.Close()

	rsv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{
			"status": "success",
			"username": "someuser",
			"shortcode": "CxYz123",
			"media": [{"url": "%s/1.jpg", "type": "image", "index": 1}]
		}`, media.URL)
	}))
	defer rsv.Close()

	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	posts := store.NewPostStore(db)
	notes := store.NewNotificationStore(db)

	cfg := &Config{
		DataDir:     filepath.Join(dir, "media"),
		ResolverURL: rsv.URL,
		Jobs:        2,
		Links:       []string{"https://www.instagram.com/p/CxYz123/"},
	}

	failed := runLinks(context.Background(), cfg, posts, notes)
	if failed != 1 {
		t.Fatalf("wrong failure count: have=%d want=1", failed)
	}

	// The failure notification must be durable by the time runLinks returns,
	// regardless of how the caller exits afterwards.
	feed, err := notes.Feed(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	hasFailed := false
	for _, rec := range feed {
		if rec.Type == store.NoteFailed {
			hasFailed = true
		}
	}
	if !hasFailed {
		t.Errorf("failure record not persisted; feed: %+v", feed)
	}
}
