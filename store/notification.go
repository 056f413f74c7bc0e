package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// NotificationType classifies a notification record.
type NotificationType string

const (
	NoteStarted   NotificationType = "started"
	NoteProgress  NotificationType = "progress"
	NoteCompleted NotificationType = "completed"
	NoteFailed    NotificationType = "failed"
	NoteInfo      NotificationType = "info"
)

// NotificationRecord is one entry in the durable, append-only notification
// log. Records are mutated only by marking them read, and pruned by age.
type NotificationRecord struct {
	ID        int64
	Title     string
	Message   string
	Type      NotificationType
	Timestamp time.Time
	IsRead    bool
	PostID    string
	FilePaths []string
}

// NotificationStore persists the notification log.
type NotificationStore struct {
	db *DB
}

func NewNotificationStore(db *DB) *NotificationStore {
	return &NotificationStore{db: db}
}

// Append adds a record to the log and returns its id.
func (s *NotificationStore) Append(ctx context.Context, rec NotificationRecord) (int64, error) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	paths, _ := json.Marshal(rec.FilePaths)

	res, err := s.db.sql.ExecContext(ctx, `
		INSERT INTO notifications (title, message, type, timestamp, is_read, post_id, file_paths)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.Title, rec.Message, string(rec.Type), rec.Timestamp.UnixMilli(),
		rec.IsRead, rec.PostID, string(paths),
	)
	if err != nil {
		return 0, fmt.Errorf("append notification: %w", err)
	}

	return res.LastInsertId()
}

// Feed returns the notification log ordered newest first.
func (s *NotificationStore) Feed(ctx context.Context) ([]NotificationRecord, error) {
	rows, err := s.db.sql.QueryContext(ctx, `
		SELECT id, title, message, type, timestamp, is_read, post_id, file_paths
		FROM notifications ORDER BY timestamp DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var recs []NotificationRecord
	for rows.Next() {
		var rec NotificationRecord
		var typ, paths string
		var ts int64

		err := rows.Scan(&rec.ID, &rec.Title, &rec.Message, &typ, &ts,
			&rec.IsRead, &rec.PostID, &paths)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}

		rec.Type = NotificationType(typ)
		rec.Timestamp = time.UnixMilli(ts)
		json.Unmarshal([]byte(paths), &rec.FilePaths)

		recs = append(recs, rec)
	}

	return recs, rows.Err()
}

// UnreadCount returns the number of unread records.
func (s *NotificationStore) UnreadCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.sql.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE is_read = 0`).Scan(&n)
	return n, err
}

// MarkRead marks a single record as read.
func (s *NotificationStore) MarkRead(ctx context.Context, id int64) error {
	_, err := s.db.sql.ExecContext(ctx,
		`UPDATE notifications SET is_read = 1 WHERE id = ?`, id)
	return err
}

// MarkAllRead marks every record as read.
func (s *NotificationStore) MarkAllRead(ctx context.Context) error {
	_, err := s.db.sql.ExecContext(ctx, `UPDATE notifications SET is_read = 1`)
	return err
}

// PruneOlderThan removes records older than the given age and returns the
// number deleted.
func (s *NotificationStore) PruneOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().Add(-age).UnixMilli()
	res, err := s.db.sql.ExecContext(ctx,
		`DELETE FROM notifications WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune notifications: %w", err)
	}
	return res.RowsAffected()
}
