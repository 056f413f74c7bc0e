package notify

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ccollins476ad/instafetch/store"
	log "github.com/sirupsen/logrus"
)

// queueDepth bounds the pending-persistence queue. The download path never
// blocks on the notification log; if the queue is full, the record is dropped
// with a loud log and the download outcome is unaffected.
const queueDepth = 64

// Token identifies one in-progress download for progress reporting.
type Token int64

// Sink receives start/progress/complete/error events from the download path
// and surfaces them to the user and to the durable notification log.
type Sink interface {
	Start(label string) Token
	Progress(tok Token, percent int)
	Complete(tok Token, itemCount int)
	Error(tok Token, message string)
}

type job struct {
	label   string
	lastPct int
	postID  string
}

// Notifier implements Sink. Each event logs synchronously; durable records
// are appended by a single consumer goroutine fed from a bounded queue.
type Notifier struct {
	notes *store.NotificationStore

	queue chan store.NotificationRecord
	done  chan struct{}

	seq  atomic.Int64
	mtx  sync.Mutex
	jobs map[Token]*job
}

func New(notes *store.NotificationStore) *Notifier {
	n := &Notifier{
		notes: notes,
		queue: make(chan store.NotificationRecord, queueDepth),
		done:  make(chan struct{}),
		jobs:  map[Token]*job{},
	}

	go n.consume()
	return n
}

// StartFor begins tracking a download associated with a post id.
func (n *Notifier) StartFor(label string, postID string) Token {
	tok := Token(n.seq.Add(1))

	n.mtx.Lock()
	n.jobs[tok] = &job{label: label, lastPct: -1, postID: postID}
	n.mtx.Unlock()

	log.Infof("downloading %s", label)
	n.enqueue(store.NotificationRecord{
		Title:   "Download started",
		Message: label,
		Type:    store.NoteStarted,
		PostID:  postID,
	})

	return tok
}

func (n *Notifier) Start(label string) Token {
	return n.StartFor(label, "")
}

// Progress reports the displayed percentage for a token. Displayed progress
// is monotonically non-decreasing; stale or repeated percentages are ignored.
// Progress events are user-visible only and are not persisted.
func (n *Notifier) Progress(tok Token, percent int) {
	n.mtx.Lock()
	j := n.jobs[tok]
	if j == nil || percent <= j.lastPct {
		n.mtx.Unlock()
		return
	}
	j.lastPct = percent
	label := j.label
	n.mtx.Unlock()

	log.Debugf("downloading %s: %d%%", label, percent)
}

// Complete finishes a token with the number of items downloaded.
func (n *Notifier) Complete(tok Token, itemCount int) {
	j := n.finish(tok)
	if j == nil {
		return
	}

	log.Infof("downloaded %d file(s): %s", itemCount, j.label)
	n.enqueue(store.NotificationRecord{
		Title:   "Download completed",
		Message: j.label,
		Type:    store.NoteCompleted,
		PostID:  j.postID,
	})
}

// Error finishes a token with a failure message.
func (n *Notifier) Error(tok Token, message string) {
	j := n.finish(tok)
	if j == nil {
		return
	}

	log.Errorf("download failed: %s: %s", j.label, message)
	n.enqueue(store.NotificationRecord{
		Title:   "Download failed",
		Message: j.label + ": " + message,
		Type:    store.NoteFailed,
		PostID:  j.postID,
	})
}

// Info surfaces a one-off informational message outside any download token.
func (n *Notifier) Info(title string, message string) {
	log.Infof("%s: %s", title, message)
	n.enqueue(store.NotificationRecord{
		Title:   title,
		Message: message,
		Type:    store.NoteInfo,
	})
}

// Close stops accepting events and waits for the consumer to drain the queue.
func (n *Notifier) Close() {
	close(n.queue)
	<-n.done
}

func (n *Notifier) finish(tok Token) *job {
	n.mtx.Lock()
	defer n.mtx.Unlock()

	j := n.jobs[tok]
	delete(n.jobs, tok)
	return j
}

func (n *Notifier) enqueue(rec store.NotificationRecord) {
	select {
	case n.queue <- rec:
	default:
		log.Warnf("notification queue full, dropping record: %s", rec.Title)
	}
}

func (n *Notifier) consume() {
	defer close(n.done)

	for rec := range n.queue {
		_, err := n.notes.Append(context.Background(), rec)
		if err != nil {
			log.WithError(err).Errorf("failed to persist notification: %s", rec.Title)
		}
	}
}
