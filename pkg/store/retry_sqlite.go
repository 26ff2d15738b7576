package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/marquee-labs/marquee/pkg/push"
)

// SQLRetryStore persists retry items in a sqlite table so queued
// notifications survive a process restart. Redelivery remains at-least-once:
// a crash between Send and Remove re-sends on the next drain.
type SQLRetryStore struct {
	db *sql.DB
}

// NewSQLRetryStore wraps db and creates the retry_items table if missing.
func NewSQLRetryStore(db *sql.DB) (*SQLRetryStore, error) {
	s := &SQLRetryStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenSQLRetryStore opens (or creates) the sqlite database at path.
func OpenSQLRetryStore(path string) (*SQLRetryStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open retry db: %w", err)
	}
	return NewSQLRetryStore(db)
}

func (s *SQLRetryStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS retry_items (
		id TEXT PRIMARY KEY,
		recipients TEXT NOT NULL,
		title TEXT NOT NULL,
		body TEXT NOT NULL,
		data TEXT,
		first_enqueued_at TEXT NOT NULL,
		last_attempt_at TEXT
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLRetryStore) Append(ctx context.Context, item push.Item) error {
	recipients, err := json.Marshal(item.Recipients)
	if err != nil {
		return fmt.Errorf("encode recipients: %w", err)
	}
	data, err := json.Marshal(item.Notification.Data)
	if err != nil {
		return fmt.Errorf("encode data: %w", err)
	}

	query := `
	INSERT INTO retry_items (id, recipients, title, body, data, first_enqueued_at, last_attempt_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO NOTHING`

	_, err = s.db.ExecContext(ctx, query,
		item.ID, string(recipients), item.Notification.Title, item.Notification.Body,
		string(data), item.FirstEnqueuedAt.UTC().Format(time.RFC3339Nano), formatNullableTime(item.LastAttemptAt),
	)
	if err != nil {
		return fmt.Errorf("insert retry item: %w", err)
	}
	return nil
}

func (s *SQLRetryStore) List(ctx context.Context) ([]push.Item, error) {
	query := `
	SELECT id, recipients, title, body, data, first_enqueued_at, last_attempt_at
	FROM retry_items
	ORDER BY first_enqueued_at ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []push.Item
	for rows.Next() {
		var (
			id, recipientsJSON, title, body string
			dataJSON, lastAttempt           sql.NullString
			firstEnqueued                   string
		)
		if err := rows.Scan(&id, &recipientsJSON, &title, &body, &dataJSON, &firstEnqueued, &lastAttempt); err != nil {
			return nil, err
		}

		var recipients []string
		if err := json.Unmarshal([]byte(recipientsJSON), &recipients); err != nil {
			return nil, fmt.Errorf("corrupt recipients in retry item %s: %w", id, err)
		}
		var data map[string]string
		if dataJSON.Valid && dataJSON.String != "" {
			_ = json.Unmarshal([]byte(dataJSON.String), &data)
		}

		items = append(items, push.Item{
			ID:         id,
			Recipients: recipients,
			Notification: push.Notification{
				Title: title,
				Body:  body,
				Data:  data,
			},
			FirstEnqueuedAt: parseTime(firstEnqueued),
			LastAttemptAt:   parseTime(lastAttempt.String),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *SQLRetryStore) Remove(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM retry_items WHERE id = ?`, id)
	return err
}

func (s *SQLRetryStore) Touch(ctx context.Context, id string, attemptAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE retry_items SET last_attempt_at = ? WHERE id = ?`,
		attemptAt.UTC().Format(time.RFC3339Nano), id)
	return err
}

func (s *SQLRetryStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM retry_items`).Scan(&n)
	return n, err
}

// Close closes the underlying database handle.
func (s *SQLRetryStore) Close() error {
	return s.db.Close()
}

func formatNullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}
