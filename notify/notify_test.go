package notify

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ccollins476ad/instafetch/store"
	log "github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

func testNotifier(t *testing.T) (*Notifier, *store.NotificationStore) {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	notes := store.NewNotificationStore(db)
	return New(notes), notes
}

func TestNotifierPersistsLifecycle(t *testing.T) {
	n, notes := testNotifier(t)

	tok := n.StartFor("someuser_1.jpg", "ABC")
	n.Progress(tok, 40)
	n.Progress(tok, 80)
	n.Complete(tok, 1)

	tok = n.StartFor("someuser_2.jpg", "ABC")
	n.Error(tok, "error status: 403 Forbidden")

	n.Close()

	feed, err := notes.Feed(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	// Two starts, one completion, one failure. Progress events are not
	// persisted.
	counts := map[store.NotificationType]int{}
	for _, rec := range feed {
		counts[rec.Type]++
		if rec.PostID != "ABC" {
			t.Errorf("wrong post id: %+v", rec)
		}
	}
	if counts[store.NoteStarted] != 2 || counts[store.NoteCompleted] != 1 || counts[store.NoteFailed] != 1 {
		t.Errorf("wrong record mix: %v", counts)
	}
	if counts[store.NoteProgress] != 0 {
		t.Errorf("progress events must not be persisted: %v", counts)
	}
}

func TestNotifierProgressMonotonic(t *testing.T) {
	n, _ := testNotifier(t)
	defer n.Close()

	hook := logtest.NewGlobal()
	defer hook.Reset()
	log.SetLevel(log.DebugLevel)
	defer log.SetLevel(log.InfoLevel)

	tok := n.Start("file.jpg")
	n.Progress(tok, 10)
	n.Progress(tok, 5)  // stale, ignored
	n.Progress(tok, 10) // repeat, ignored
	n.Progress(tok, 20)

	displayed := 0
	for _, e := range hook.AllEntries() {
		if e.Level == log.DebugLevel {
			displayed++
		}
	}
	if displayed != 2 {
		t.Errorf("expected 2 displayed progress events, have %d", displayed)
	}
}

func TestNotifierQueueFullDrops(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	notes := store.NewNotificationStore(db)

	// Consumer deliberately not started, so the queue backs up to capacity.
	n := &Notifier{
		notes: notes,
		queue: make(chan store.NotificationRecord, queueDepth),
		done:  make(chan struct{}),
		jobs:  map[Token]*job{},
	}
	for i := 0; i < queueDepth; i++ {
		n.enqueue(store.NotificationRecord{Title: "fill", Type: store.NoteInfo})
	}

	hook := logtest.NewGlobal()
	defer hook.Reset()

	// With the queue full, the next event must return promptly and be dropped
	// with a warning rather than blocking the caller.
	n.Info("overflow", "one too many")

	warned := false
	for _, e := range hook.AllEntries() {
		if e.Level == log.WarnLevel {
			warned = true
		}
	}
	if !warned {
		t.Error("dropped record not logged")
	}

	go n.consume()
	n.Close()

	feed, err := notes.Feed(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(feed) != queueDepth {
		t.Errorf("wrong record count after drop: have=%d want=%d", len(feed), queueDepth)
	}
}

func TestNotifierUnknownToken(t *testing.T) {
	n, notes := testNotifier(t)

	// Events for unknown tokens are dropped, not persisted.
	n.Progress(Token(999), 50)
	n.Complete(Token(999), 1)
	n.Error(Token(999), "boom")

	n.Close()

	feed, err := notes.Feed(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(feed) != 0 {
		t.Errorf("unexpected records: %+v", feed)
	}
}

func TestNotifierInfo(t *testing.T) {
	n, notes := testNotifier(t)

	n.Info("Housekeeping", "pruned 3 notifications")
	n.Close()

	feed, _ := notes.Feed(context.Background())
	if len(feed) != 1 || feed[0].Type != store.NoteInfo {
		t.Errorf("wrong feed: %+v", feed)
	}
}
