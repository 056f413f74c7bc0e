package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ccollins476ad/instafetch/download"
	"github.com/ccollins476ad/instafetch/fetch"
	"github.com/ccollins476ad/instafetch/notify"
	"github.com/ccollins476ad/instafetch/resolver"
	"github.com/ccollins476ad/instafetch/storage"
	"github.com/ccollins476ad/instafetch/store"
	log "github.com/sirupsen/logrus"
)

// notificationMaxAge bounds how long notification log entries are kept.
const notificationMaxAge = 30 * 24 * time.Hour

func printFatalError(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
}

func main() {
	cfg, err := parseArgs()
	if err != nil {
		printFatalError(err)
		flag.Usage()
		os.Exit(1)
	}

	if cfg.Verbose {
		log.SetLevel(log.DebugLevel)
	}

	ctx := context.Background()

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		printFatalError(err)
		os.Exit(2)
	}
	defer db.Close()

	posts := store.NewPostStore(db)
	notes := store.NewNotificationStore(db)

	// Startup housekeeping: age out old notification log entries.
	pruned, err := notes.PruneOlderThan(ctx, notificationMaxAge)
	if err != nil {
		log.WithError(err).Warnf("failed to prune notification log")
	} else if pruned > 0 {
		log.Debugf("pruned %d old notifications", pruned)
	}

	if cfg.List {
		err := listPosts(ctx, posts, notes)
		if err != nil {
			printFatalError(err)
			os.Exit(2)
		}
		return
	}

	if cfg.Remove != "" {
		err := removePost(ctx, posts, cfg.Remove)
		if err != nil {
			printFatalError(err)
			os.Exit(2)
		}
		return
	}

	failed := runLinks(ctx, cfg, posts, notes)
	if failed > 0 {
		printFatalError(fmt.Errorf("%d of %d links failed", failed, len(cfg.Links)))
		os.Exit(3)
	}
}

// runLinks processes each input link and returns the number of failures. The
// notifier is closed (and its queue drained) before returning, so failure
// records reach the durable log even when the process then exits nonzero.
func runLinks(ctx context.Context, cfg *Config, posts *store.PostStore, notes *store.NotificationStore) int {
	notifier := notify.New(notes)
	defer notifier.Close()

	sr := &storage.Resolver{
		ImageGrant: cfg.ImageGrant,
		VideoGrant: cfg.VideoGrant,
		DataDir:    cfg.DataDir,
		Index:      storage.NewFileIndex(cfg.DataDir),
	}

	mgr := download.NewManager(fetch.New(), sr, notifier, posts, cfg.Jobs)
	rsv := resolver.NewClient(cfg.ResolverURL)

	failed := 0
	for _, link := range cfg.Links {
		err := processLink(ctx, cfg, rsv, mgr, link)
		if err != nil {
			log.WithError(err).Errorf("failed to process link: %s", link)
			failed++
		}
	}

	return failed
}

// listPosts prints the recorded posts, newest first, plus the unread
// notification count.
func listPosts(ctx context.Context, posts *store.PostStore, notes *store.NotificationStore) error {
	recs, err := posts.List(ctx)
	if err != nil {
		return err
	}

	for _, rec := range recs {
		marker := ""
		if rec.HasVideo {
			marker = " [video]"
		}
		fmt.Printf("%s  %s  %s  %d file(s)%s\n",
			rec.DownloadDate.Format("2006-01-02 15:04"),
			rec.PostID, rec.Username, rec.TotalImages, marker)
		for _, p := range rec.MediaPaths {
			fmt.Printf("    %s\n", p)
		}
	}

	unread, err := notes.UnreadCount(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%d post(s), %d unread notification(s)\n", len(recs), unread)

	return nil
}

// removePost deletes a post record and its files.
func removePost(ctx context.Context, posts *store.PostStore, postID string) error {
	rec, err := posts.Get(ctx, postID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("no record for post: %s", postID)
	}

	deleted, err := posts.Delete(ctx, postID)
	if err != nil {
		return err
	}

	fmt.Printf("deleted post %s (%d of %d files removed)\n", postID, deleted, len(rec.MediaPaths))
	return nil
}
