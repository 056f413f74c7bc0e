package download

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ccollins476ad/instafetch/fetch"
	"github.com/ccollins476ad/instafetch/notify"
	"github.com/ccollins476ad/instafetch/resolver"
	"github.com/ccollins476ad/instafetch/storage"
	"github.com/ccollins476ad/instafetch/store"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrInFlight indicates that the same media url is already being downloaded.
// Duplicate triggers are rejected per item rather than queued.
var ErrInFlight = errors.New("download already in progress")

// Outcome reports the result of one fetch attempt. Only successful outcomes'
// paths flow into the post record.
type Outcome struct {
	SourceURL string
	Path      string
	Err       error
}

func (o Outcome) OK() bool {
	return o.Err == nil
}

// Manager coordinates fetch and storage for single-item and multi-item
// requests. It is the concurrency control point, and the only component that
// invokes the post record reconciliation for a request. It never raises to
// its caller; outcomes are always returned.
type Manager struct {
	fetcher *fetch.Fetcher
	storage *storage.Resolver
	sink    *notify.Notifier
	posts   *store.PostStore
	jobs    int

	mtx      sync.Mutex
	inFlight map[string]struct{} // media urls currently downloading
}

func NewManager(f *fetch.Fetcher, sr *storage.Resolver, sink *notify.Notifier, posts *store.PostStore, jobs int) *Manager {
	if jobs < 1 {
		jobs = 1
	}
	return &Manager{
		fetcher:  f,
		storage:  sr,
		sink:     sink,
		posts:    posts,
		jobs:     jobs,
		inFlight: map[string]struct{}{},
	}
}

// Single downloads one media item and records it. This is the fast path for
// single-asset posts.
func (m *Manager) Single(ctx context.Context, item resolver.MediaRef, meta store.PostMeta) Outcome {
	out := m.fetchOne(ctx, item, meta)
	if out.OK() {
		m.reconcile(ctx, meta, []string{out.Path})
	}
	return out
}

// Batch downloads the given media items belonging to one post concurrently.
// Each item's success or failure is independent of its siblings; the batch
// never aborts partway. After all items settle, the successful paths are
// reconciled into the post record in one call and a single summary
// notification is emitted.
func (m *Manager) Batch(ctx context.Context, items []resolver.MediaRef, meta store.PostMeta) []Outcome {
	outcomes := make([]Outcome, len(items))
	for i, item := range items {
		// Items never dispatched (context cancelled) stay in this state.
		outcomes[i] = Outcome{SourceURL: item.URL, Err: context.Canceled}
	}

	batchTok := m.sink.StartFor(fmt.Sprintf("post %s (%d items)", meta.PostID, len(items)), meta.PostID)

	g := &errgroup.Group{}
	idxChan := make(chan int)

	jobs := m.jobs
	if jobs > len(items) {
		jobs = len(items)
	}
	for i := 0; i < jobs; i++ {
		g.Go(func() error {
			// Item failures are contained in their outcome; workers never
			// fail the group.
			for idx := range idxChan {
				outcomes[idx] = m.fetchOne(ctx, items[idx], meta)
			}
			return nil
		})
	}

dispatch:
	for i := range items {
		select {
		case <-ctx.Done():
			// Operation aborted. Stop feeding workers; settled items keep
			// their outcomes.
			break dispatch
		case idxChan <- i:
		}
	}
	close(idxChan)
	g.Wait()

	var paths []string
	for _, out := range outcomes {
		if out.OK() {
			paths = append(paths, out.Path)
		}
	}

	m.reconcile(ctx, meta, paths)

	if len(paths) > 0 {
		m.sink.Complete(batchTok, len(paths))
	} else {
		m.sink.Error(batchTok, "no files downloaded")
	}
	log.Infof("downloaded %d / %d files: post=%s", len(paths), len(items), meta.PostID)

	return outcomes
}

// fetchOne performs the full per-item sequence: resolve storage, generate a
// filename, fetch with progress reporting, and commit or discard the
// destination file.
func (m *Manager) fetchOne(ctx context.Context, item resolver.MediaRef, meta store.PostMeta) Outcome {
	fail := func(err error) Outcome {
		return Outcome{SourceURL: item.URL, Err: err}
	}

	if !m.claim(item.URL) {
		return fail(ErrInFlight)
	}
	defer m.release(item.URL)

	mt := storage.ParseMediaType(item.Type)

	tgt, err := m.storage.Resolve(mt)
	if err != nil {
		log.WithError(err).Errorf("failed to resolve storage: url=%s", item.URL)
		return fail(err)
	}

	name := storage.Filename(meta.Username, mt, time.Now())
	dest, err := tgt.Create(name)
	if err != nil {
		log.WithError(err).Errorf("failed to create destination: name=%s", name)
		return fail(err)
	}

	tok := m.sink.StartFor(name, meta.PostID)

	_, err = m.fetcher.Fetch(ctx, item.URL, dest, func(written, total int64) {
		if total > 0 {
			m.sink.Progress(tok, int(written*100/total))
		}
	})
	if err != nil {
		dest.Discard()
		m.sink.Error(tok, err.Error())
		return fail(fmt.Errorf("fetch failed: %w", err))
	}

	if err := dest.Commit(); err != nil {
		m.sink.Error(tok, err.Error())
		return fail(fmt.Errorf("failed to finalize file: %w", err))
	}

	m.sink.Complete(tok, 1)
	return Outcome{SourceURL: item.URL, Path: dest.Path}
}

// reconcile hands the downloaded paths to the post store. A persistence
// failure does not roll back written files and does not fail the download;
// the files exist on disk even though the record didn't save, which breaks
// the "downloaded implies recorded" expectation and is therefore logged
// loudly.
func (m *Manager) reconcile(ctx context.Context, meta store.PostMeta, paths []string) {
	err := m.posts.Reconcile(ctx, meta, paths)
	if err != nil {
		log.WithError(err).Errorf("failed to record downloaded files: post=%s paths=%d", meta.PostID, len(paths))
	}
}

// claim marks a media url as in flight. It returns false if the url is
// already being downloaded.
func (m *Manager) claim(u string) bool {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	if _, ok := m.inFlight[u]; ok {
		log.Debugf("skipping %s: already in progress", u)
		return false
	}
	m.inFlight[u] = struct{}{}
	return true
}

func (m *Manager) release(u string) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	delete(m.inFlight, u)
}
