// Package libsql stores tasks in a shared libSQL (Turso) database.
//
// Each user's tasks live in the user_tasks table keyed by (user_id,
// remote_id). The store works on any *sql.DB speaking SQLite's dialect; the
// binary opens it through the go-libsql driver, tests through local SQLite.
package libsql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/todosync/todosync/internal/remote"
	"github.com/todosync/todosync/internal/syncerr"
	"github.com/todosync/todosync/internal/task"
)

// DriverName is registered by github.com/tursodatabase/go-libsql.
const DriverName = "libsql"

// Config holds libSQL store settings.
type Config struct {
	// PageSize bounds each FetchAll query. Defaults to remote.DefaultPageSize.
	PageSize int
	Logger   *log.Logger
}

// Store is a remote.Store backed by a libSQL database.
type Store struct {
	conn     *sql.DB
	pageSize int
	logger   *log.Logger
}

var (
	_ remote.Store        = (*Store)(nil)
	_ remote.ProfileStore = (*Store)(nil)
)

// Open connects with the named driver and prepares the schema. For Turso the
// DSN looks like "libsql://db-org.turso.io?authToken=...".
func Open(ctx context.Context, driver, dsn string, cfg Config) (*Store, error) {
	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open libsql database: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping libsql database: %w", err)
	}

	s, err := New(ctx, conn, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open connection and creates the tables if needed.
func New(ctx context.Context, conn *sql.DB, cfg Config) (*Store, error) {
	if cfg.PageSize <= 0 {
		cfg.PageSize = remote.DefaultPageSize
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[libsql] ", log.LstdFlags)
	}

	s := &Store{conn: conn, pageSize: cfg.PageSize, logger: cfg.Logger}
	if err := s.initSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Close closes the connection.
func (s *Store) Close() error {
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close libsql database: %w", err)
	}
	return nil
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS user_tasks (
		user_id TEXT NOT NULL,
		remote_id TEXT NOT NULL,
		body TEXT NOT NULL,  -- JSON task content
		device_id TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL,
		written_at TEXT NOT NULL,
		PRIMARY KEY (user_id, remote_id)
	);

	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		email TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT ''
	);
	`
	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize libsql schema: %w", err)
	}
	return nil
}

// FetchAll reads the user's documents in pages, using the last remote id of
// each page as the cursor for the next.
func (s *Store) FetchAll(ctx context.Context, userID string) ([]remote.Document, error) {
	if userID == "" {
		return nil, syncerr.Permanent(remote.MethodFetchAll, 0, syncerr.ErrUnauthenticated)
	}

	var out []remote.Document
	cursor := ""
	for {
		page, last, n, err := s.fetchPage(ctx, userID, cursor)
		if err != nil {
			return nil, classify(remote.MethodFetchAll, 0, err)
		}
		out = append(out, page...)
		if n < s.pageSize {
			return out, nil
		}
		cursor = last
	}
}

// fetchPage returns the valid documents of one page, the last remote id seen
// and the number of rows read.
func (s *Store) fetchPage(ctx context.Context, userID, after string) ([]remote.Document, string, int, error) {
	rows, err := s.conn.QueryContext(ctx, `
	SELECT remote_id, body, device_id, updated_at
	FROM user_tasks
	WHERE user_id = ? AND remote_id > ?
	ORDER BY remote_id ASC
	LIMIT ?
	`, userID, after, s.pageSize)
	if err != nil {
		return nil, "", 0, fmt.Errorf("failed to query user tasks: %w", err)
	}
	defer rows.Close()

	var page []remote.Document
	last := after
	n := 0
	for rows.Next() {
		var remoteID, body, deviceID string
		var updatedAt int64
		if err := rows.Scan(&remoteID, &body, &deviceID, &updatedAt); err != nil {
			return nil, "", 0, fmt.Errorf("failed to scan user task: %w", err)
		}
		n++
		last = remoteID

		var t task.Task
		if err := json.Unmarshal([]byte(body), &t); err != nil {
			s.logger.Printf("skipping %s: %v", remoteID, err)
			continue
		}
		t.RemoteID = remoteID
		t.UpdatedAt = updatedAt
		if err := t.Validate(); err != nil {
			s.logger.Printf("skipping %s: %v", remoteID, err)
			continue
		}
		page = append(page, remote.Document{Task: t, DeviceID: deviceID})
	}
	if err := rows.Err(); err != nil {
		return nil, "", 0, fmt.Errorf("error iterating user tasks: %w", err)
	}
	return page, last, n, nil
}

// Push upserts the document.
func (s *Store) Push(ctx context.Context, userID string, doc remote.Document) error {
	id := doc.Task.ID
	if userID == "" {
		return syncerr.Permanent(remote.MethodPush, id, syncerr.ErrUnauthenticated)
	}
	if doc.Task.RemoteID == "" {
		return syncerr.Permanent(remote.MethodPush, id, fmt.Errorf("%w: remote id is required", syncerr.ErrInvalid))
	}

	body, err := json.Marshal(remote.Strip(doc.Task))
	if err != nil {
		return syncerr.Permanent(remote.MethodPush, id, fmt.Errorf("failed to marshal task: %w", err))
	}

	_, err = s.conn.ExecContext(ctx, `
	INSERT INTO user_tasks (user_id, remote_id, body, device_id, updated_at, written_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id, remote_id) DO UPDATE SET
		body = excluded.body,
		device_id = excluded.device_id,
		updated_at = excluded.updated_at,
		written_at = excluded.written_at
	`, userID, doc.Task.RemoteID, string(body), doc.DeviceID, doc.Task.UpdatedAt,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return classify(remote.MethodPush, id, fmt.Errorf("failed to upsert user task: %w", err))
	}
	return nil
}

// Delete removes the document if present.
func (s *Store) Delete(ctx context.Context, userID, remoteID string) error {
	if userID == "" {
		return syncerr.Permanent(remote.MethodDelete, 0, syncerr.ErrUnauthenticated)
	}
	_, err := s.conn.ExecContext(ctx,
		`DELETE FROM user_tasks WHERE user_id = ? AND remote_id = ?`, userID, remoteID)
	if err != nil {
		return classify(remote.MethodDelete, 0, fmt.Errorf("failed to delete user task: %w", err))
	}
	return nil
}

// SaveProfile upserts the user's profile row.
func (s *Store) SaveProfile(ctx context.Context, p remote.Profile) error {
	if p.UserID == "" {
		return syncerr.Permanent("SaveProfile", 0, syncerr.ErrUnauthenticated)
	}
	_, err := s.conn.ExecContext(ctx, `
	INSERT INTO users (user_id, email, display_name) VALUES (?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		email = excluded.email,
		display_name = excluded.display_name
	`, p.UserID, p.Email, p.DisplayName)
	if err != nil {
		return classify("SaveProfile", 0, fmt.Errorf("failed to save profile: %w", err))
	}
	return nil
}

// classify treats every database failure as transient: a remote libSQL
// server being unreachable is the common case.
func classify(op string, taskID int64, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return syncerr.NotFound(op, taskID, err)
	}
	return syncerr.Transient(op, taskID, err)
}
