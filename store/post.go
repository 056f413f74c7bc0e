package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ccollins476ad/instafetch/fileutil"
	log "github.com/sirupsen/logrus"
)

// PostRecord is the durable record of a downloaded post: the system of
// record. MediaPaths keeps insertion order and contains no duplicates;
// ThumbnailPath is the first path ever recorded and never changes afterwards.
type PostRecord struct {
	PostID        string
	PostURL       string
	Username      string
	Caption       string
	ThumbnailPath string
	TotalImages   int
	MediaPaths    []string
	HasVideo      bool
	DownloadDate  time.Time
}

// PostMeta carries the post metadata that accompanies a reconciliation.
type PostMeta struct {
	PostID   string
	PostURL  string
	Username string
	Caption  string
	HasVideo bool
}

// PostStore persists post records. All mutation of a given post goes through
// a per-post critical section, so concurrent reconciliations for the same
// post merge instead of clobbering each other.
type PostStore struct {
	db *DB

	mtx  sync.Mutex
	keys map[string]*sync.Mutex
}

func NewPostStore(db *DB) *PostStore {
	return &PostStore{
		db:   db,
		keys: map[string]*sync.Mutex{},
	}
}

// lockPost acquires the critical section for the given post id and returns
// the release function.
func (s *PostStore) lockPost(postID string) func() {
	s.mtx.Lock()
	km := s.keys[postID]
	if km == nil {
		km = &sync.Mutex{}
		s.keys[postID] = km
	}
	s.mtx.Unlock()

	km.Lock()
	return km.Unlock
}

// Reconcile folds newly downloaded file paths into the post's record as a
// single atomic insert-or-merge:
//
//   - No paths: no-op. A post with zero successful downloads produces no
//     record and an existing record is left untouched.
//   - No record: a new one is created; the first path becomes the thumbnail.
//   - Record exists: paths are merged with an order-preserving set union,
//     genuinely new paths appended at the end. The thumbnail never changes
//     once set. An existing record with empty media paths is a recovery case
//     and is replaced wholesale.
//
// The recorded count always reflects the files actually recorded, not the
// resolver's reported item count.
func (s *PostStore) Reconcile(ctx context.Context, meta PostMeta, newPaths []string) error {
	if len(newPaths) == 0 {
		return nil
	}

	unlock := s.lockPost(meta.PostID)
	defer unlock()

	tx, err := s.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reconcile: %w", err)
	}
	defer tx.Rollback()

	var pathsJSON, thumb string
	var hasVideo bool
	err = tx.QueryRowContext(ctx,
		`SELECT media_paths, thumbnail_path, has_video FROM posts WHERE post_id = ?`,
		meta.PostID,
	).Scan(&pathsJSON, &thumb, &hasVideo)

	switch {
	case err == sql.ErrNoRows:
		paths := dedupe(newPaths)
		b, _ := json.Marshal(paths)
		_, err = tx.ExecContext(ctx, `
			INSERT INTO posts (post_id, post_url, username, caption, thumbnail_path,
			                   total_images, media_paths, has_video, download_date)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			meta.PostID, meta.PostURL, meta.Username, meta.Caption, paths[0],
			len(paths), string(b), meta.HasVideo, time.Now().UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("insert post %s: %w", meta.PostID, err)
		}

	case err != nil:
		return fmt.Errorf("read post %s: %w", meta.PostID, err)

	default:
		var existing []string
		if err := json.Unmarshal([]byte(pathsJSON), &existing); err != nil {
			log.WithError(err).Errorf("corrupt media paths for post %s, replacing", meta.PostID)
			existing = nil
		}

		merged := union(existing, newPaths)
		if len(existing) == 0 || thumb == "" {
			// Recovery rows may carry a stale thumbnail pointing at media
			// that was never recorded; reset it to the first recorded path.
			thumb = merged[0]
		}
		b, _ := json.Marshal(merged)

		if len(existing) == 0 {
			// Recovery case: the row exists but carries no media. Take over
			// its metadata as well as its paths.
			_, err = tx.ExecContext(ctx, `
				UPDATE posts
				SET post_url = ?, username = ?, caption = ?, thumbnail_path = ?,
				    total_images = ?, media_paths = ?, has_video = ?
				WHERE post_id = ?`,
				meta.PostURL, meta.Username, meta.Caption, thumb,
				len(merged), string(b), hasVideo || meta.HasVideo, meta.PostID,
			)
		} else {
			_, err = tx.ExecContext(ctx, `
				UPDATE posts
				SET thumbnail_path = ?, total_images = ?, media_paths = ?, has_video = ?
				WHERE post_id = ?`,
				thumb, len(merged), string(b), hasVideo || meta.HasVideo, meta.PostID,
			)
		}
		if err != nil {
			return fmt.Errorf("merge post %s: %w", meta.PostID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reconcile for post %s: %w", meta.PostID, err)
	}

	return nil
}

// Get returns the record for the given post id, or nil if no record exists.
func (s *PostStore) Get(ctx context.Context, postID string) (*PostRecord, error) {
	row := s.db.sql.QueryRowContext(ctx, `
		SELECT post_id, post_url, username, caption, thumbnail_path,
		       total_images, media_paths, has_video, download_date
		FROM posts WHERE post_id = ?`, postID)

	rec, err := scanPost(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// List returns all post records ordered by download date, newest first.
func (s *PostStore) List(ctx context.Context) ([]PostRecord, error) {
	rows, err := s.db.sql.QueryContext(ctx, `
		SELECT post_id, post_url, username, caption, thumbnail_path,
		       total_images, media_paths, has_video, download_date
		FROM posts ORDER BY download_date DESC`)
	if err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}
	defer rows.Close()

	var recs []PostRecord
	for rows.Next() {
		rec, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		recs = append(recs, *rec)
	}

	return recs, rows.Err()
}

// Count returns the number of recorded posts.
func (s *PostStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts`).Scan(&n)
	return n, err
}

// Delete removes a post record along with its downloaded files. File deletion
// is best-effort and continues past individual failures; the record itself is
// always removed. It returns the number of files actually deleted.
func (s *PostStore) Delete(ctx context.Context, postID string) (int, error) {
	unlock := s.lockPost(postID)
	defer unlock()

	rec, err := s.Get(ctx, postID)
	if err != nil {
		return 0, err
	}
	if rec == nil {
		return 0, nil
	}

	removed := fileutil.RemoveFiles(rec.MediaPaths)

	_, err = s.db.sql.ExecContext(ctx, `DELETE FROM posts WHERE post_id = ?`, postID)
	if err != nil {
		return removed, fmt.Errorf("delete post %s: %w", postID, err)
	}

	return removed, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (*PostRecord, error) {
	var rec PostRecord
	var pathsJSON string
	var date int64

	err := row.Scan(
		&rec.PostID,
		&rec.PostURL,
		&rec.Username,
		&rec.Caption,
		&rec.ThumbnailPath,
		&rec.TotalImages,
		&pathsJSON,
		&rec.HasVideo,
		&date,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(pathsJSON), &rec.MediaPaths); err != nil {
		return nil, fmt.Errorf("decode media paths for post %s: %w", rec.PostID, err)
	}
	rec.DownloadDate = time.UnixMilli(date)

	return &rec, nil
}

// dedupe removes duplicate paths, keeping the first occurrence of each.
func dedupe(paths []string) []string {
	return union(nil, paths)
}

// union merges add into existing as an order-preserving set union: existing
// keeps its order, genuinely new paths are appended at the end.
func union(existing []string, add []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(add))
	merged := make([]string, 0, len(existing)+len(add))

	for _, p := range existing {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		merged = append(merged, p)
	}
	for _, p := range add {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		merged = append(merged, p)
	}

	return merged
}
