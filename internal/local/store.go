// Package local provides the on-device task store.
//
// The store is a single SQLite file and the source of truth for every client
// on the device. Writes go through one serialized path; readers run
// concurrently thanks to WAL mode. Every mutation is published to subscribers
// so the sync coordinator and any observers can react to it.
//
// Layout:
//   - tasks:      one row per live task (id is AUTOINCREMENT, never reused)
//   - tombstones: deletes that still need to reach the remote collection
//   - sync_meta:  key/value bookkeeping (owner of the local data)
//
// Two drivers are supported: github.com/ncruces/go-sqlite3 (driver name
// "sqlite3", the default) and modernc.org/sqlite (driver name "sqlite").
package local

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	gosync "sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	_ "modernc.org/sqlite"
)

const (
	// DriverNcruces is the WebAssembly build of SQLite.
	DriverNcruces = "sqlite3"
	// DriverModernc is the transpiled pure-Go SQLite.
	DriverModernc = "sqlite"
)

// Options configures a Store.
type Options struct {
	// Driver selects the database/sql driver. Defaults to DriverNcruces.
	Driver string

	// BusyTimeout is how long a connection waits on a locked database.
	BusyTimeout time.Duration

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// Logger receives warnings. Defaults to stderr with a [local] prefix.
	Logger *log.Logger
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		Driver:      DriverNcruces,
		BusyTimeout: 5 * time.Second,
		Now:         time.Now,
		Logger:      log.New(os.Stderr, "[local] ", log.LstdFlags),
	}
}

// Store is the local task database.
type Store struct {
	conn   *sql.DB
	path   string
	now    func() time.Time
	logger *log.Logger

	// writeMu serializes every write path.
	writeMu gosync.Mutex

	subMu  gosync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

// Open opens (creating if needed) the store at path and initializes the schema.
//
// The caller MUST call Close() when done.
func Open(path string, opts Options) (*Store, error) {
	return OpenContext(context.Background(), path, opts)
}

// OpenContext opens the store with context support.
func OpenContext(ctx context.Context, path string, opts Options) (*Store, error) {
	def := DefaultOptions()
	if opts.Driver == "" {
		opts.Driver = def.Driver
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = def.BusyTimeout
	}
	if opts.Now == nil {
		opts.Now = def.Now
	}
	if opts.Logger == nil {
		opts.Logger = def.Logger
	}
	if opts.Driver != DriverNcruces && opts.Driver != DriverModernc {
		return nil, fmt.Errorf("unsupported sqlite driver %q", opts.Driver)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open(opts.Driver, dsn(path, opts.BusyTimeout))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(4)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{
		conn:   conn,
		path:   path,
		now:    opts.Now,
		logger: opts.Logger,
		subs:   make(map[*Subscription]struct{}),
	}

	if err := s.initSchema(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// dsn builds a connection string understood by both drivers. Pragmas go in
// the DSN so every pooled connection gets them.
func dsn(path string, busy time.Duration) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// RawDB returns the underlying sql.DB connection.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Close closes subscriptions and the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (s *Store) Close() error {
	s.subMu.Lock()
	if s.closed {
		s.subMu.Unlock()
		return nil
	}
	s.closed = true
	subs := make([]*Subscription, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.subMu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Printf("Warning: failed to checkpoint WAL: %v", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// initSchema creates the tables if they don't exist. Idempotent.
func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		remote_id TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		start_at TEXT,
		end_at TEXT,
		category TEXT,  -- JSON object
		is_complete INTEGER NOT NULL DEFAULT 0,
		completed_at TEXT,

		is_synced INTEGER NOT NULL DEFAULT 0,
		sync_state TEXT NOT NULL DEFAULT 'local_only',
		version INTEGER NOT NULL DEFAULT 1,
		updated_at INTEGER NOT NULL,
		remote_updated_at INTEGER NOT NULL DEFAULT 0,
		sync_error TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tombstones (
		task_id INTEGER PRIMARY KEY,
		remote_id TEXT NOT NULL UNIQUE,
		deleted_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sync_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_synced ON tasks(is_synced);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}
