package local

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/todosync/todosync/internal/syncerr"
	"github.com/todosync/todosync/internal/task"
)

const taskColumns = `id, remote_id, name, description, start_at, end_at, category,
	is_complete, completed_at, is_synced, sync_state, version, updated_at,
	remote_updated_at, sync_error, created_at`

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Counts summarizes the store for status displays.
type Counts struct {
	Total      int `json:"total"`
	Unsynced   int `json:"unsynced"`
	Complete   int `json:"complete"`
	Tombstones int `json:"tombstones"`
}

// Upsert inserts the task when its ID is zero, otherwise updates it by id.
//
// Every upsert leaves the record unsynced, bumps its version and advances its
// modification timestamp. The stored record is returned.
func (s *Store) Upsert(t task.Task) (task.Task, error) {
	return s.UpsertContext(context.Background(), t)
}

// UpsertContext inserts or updates a task with context support.
func (s *Store) UpsertContext(ctx context.Context, t task.Task) (task.Task, error) {
	if err := t.Validate(); err != nil {
		return task.Task{}, fmt.Errorf("%w: %w", syncerr.ErrInvalid, err)
	}

	if t.ID == 0 {
		return s.insert(ctx, t)
	}
	return s.mutate(ctx, t.ID, func(cur *task.Task) {
		cur.Name = t.Name
		cur.Description = t.Description
		cur.StartAt = t.StartAt
		cur.EndAt = t.EndAt
		cur.Category = t.Category
		cur.IsComplete = t.IsComplete
		cur.CompletedAt = t.CompletedAt
	})
}

// Complete marks the task complete at the given time (now when zero).
// Completing is a content change, so the task re-enters the sync pipeline.
func (s *Store) Complete(id int64, at time.Time) (task.Task, error) {
	return s.CompleteContext(context.Background(), id, at)
}

// CompleteContext marks a task complete with context support.
func (s *Store) CompleteContext(ctx context.Context, id int64, at time.Time) (task.Task, error) {
	if at.IsZero() {
		at = s.now()
	}
	at = at.UTC()
	return s.mutate(ctx, id, func(cur *task.Task) {
		cur.IsComplete = true
		cur.CompletedAt = &at
	})
}

func (s *Store) insert(ctx context.Context, t task.Task) (task.Task, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := s.now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now.UTC()
	}
	normalizeCompletion(&t, now)
	t.SetDefaults()
	t.SyncState = task.StateLocalOnly
	t.IsSynced = false
	t.Version = 1
	t.UpdatedAt = task.NextUpdatedAt(0, now)
	t.RemoteUpdatedAt = 0
	t.SyncError = ""

	id, err := insertRow(ctx, s.conn, t)
	if err != nil {
		return task.Task{}, fmt.Errorf("failed to insert task: %w", err)
	}
	t.ID = id

	s.publish(Change{Op: OpInsert, ID: id, Origin: OriginUser})
	return t, nil
}

// mutate applies fn to the stored task under the write lock and persists the
// result as a local user edit.
func (s *Store) mutate(ctx context.Context, id int64, fn func(*task.Task)) (task.Task, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return task.Task{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	cur, err := getTask(ctx, tx, id)
	if err != nil {
		return task.Task{}, err
	}
	prevState := cur.SyncState
	prevUpdated := cur.UpdatedAt

	fn(&cur)

	now := s.now()
	normalizeCompletion(&cur, now)
	if prevState == task.StateLocalOnly {
		cur.SyncState = task.StateLocalOnly
	} else {
		cur.SyncState = task.StatePendingPush
	}
	cur.IsSynced = false
	cur.SyncError = ""
	cur.Version++
	cur.UpdatedAt = task.NextUpdatedAt(prevUpdated, now)

	if err := cur.Validate(); err != nil {
		return task.Task{}, fmt.Errorf("%w: %w", syncerr.ErrInvalid, err)
	}
	if err := updateRow(ctx, tx, cur); err != nil {
		return task.Task{}, fmt.Errorf("failed to update task %d: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return task.Task{}, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.publish(Change{Op: OpUpdate, ID: id, Origin: OriginUser})
	return cur, nil
}

// Delete removes a task. Tasks that may already exist remotely leave a
// tombstone so the deletion can be propagated.
func (s *Store) Delete(id int64) error {
	return s.DeleteContext(context.Background(), id)
}

// DeleteContext removes a task with context support.
func (s *Store) DeleteContext(ctx context.Context, id int64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	cur, err := getTask(ctx, tx, id)
	if err != nil {
		return err
	}

	if cur.SyncState != task.StateLocalOnly {
		_, err := tx.ExecContext(ctx, `
		INSERT INTO tombstones (task_id, remote_id, deleted_at) VALUES (?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET deleted_at = excluded.deleted_at
		`, cur.ID, cur.RemoteID, task.NextUpdatedAt(cur.UpdatedAt, s.now()))
		if err != nil {
			return fmt.Errorf("failed to record tombstone for task %d: %w", id, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete task %d: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.publish(Change{Op: OpDelete, ID: id, Origin: OriginUser})
	return nil
}

// Clear removes every task, leaving tombstones for those that may exist remotely.
func (s *Store) Clear() error {
	return s.ClearContext(context.Background())
}

// ClearContext removes every task with context support.
func (s *Store) ClearContext(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
	INSERT INTO tombstones (task_id, remote_id, deleted_at)
	SELECT id, remote_id, ? FROM tasks WHERE sync_state != ?
	ON CONFLICT(task_id) DO UPDATE SET deleted_at = excluded.deleted_at
	`, s.now().UnixNano(), string(task.StateLocalOnly))
	if err != nil {
		return fmt.Errorf("failed to record tombstones: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks`); err != nil {
		return fmt.Errorf("failed to clear tasks: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.publish(Change{Op: OpClear, Origin: OriginUser})
	return nil
}

// Get retrieves a single task by id.
// Returns an error wrapping syncerr.ErrNotFound if the task doesn't exist.
func (s *Store) Get(id int64) (task.Task, error) {
	return s.GetContext(context.Background(), id)
}

// GetContext retrieves a task with context support.
func (s *Store) GetContext(ctx context.Context, id int64) (task.Task, error) {
	return getTask(ctx, s.conn, id)
}

// GetByRemoteID retrieves a task by its remote document key.
func (s *Store) GetByRemoteID(ctx context.Context, remoteID string) (task.Task, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE remote_id = ?`, remoteID)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return task.Task{}, fmt.Errorf("task with remote id %s: %w", remoteID, syncerr.ErrNotFound)
	}
	if err != nil {
		return task.Task{}, fmt.Errorf("failed to get task by remote id: %w", err)
	}
	return t, nil
}

// List returns every task ordered by id ascending.
func (s *Store) List() ([]task.Task, error) {
	return s.ListContext(context.Background())
}

// ListContext returns every task with context support.
func (s *Store) ListContext(ctx context.Context) ([]task.Task, error) {
	return queryTasks(ctx, s.conn, `SELECT `+taskColumns+` FROM tasks ORDER BY id ASC`)
}

// CountsContext returns summary counts.
func (s *Store) CountsContext(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.conn.QueryRowContext(ctx, `
	SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN is_synced = 0 THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(is_complete), 0),
		(SELECT COUNT(*) FROM tombstones)
	FROM tasks
	`).Scan(&c.Total, &c.Unsynced, &c.Complete, &c.Tombstones)
	if err != nil {
		return Counts{}, fmt.Errorf("failed to count tasks: %w", err)
	}
	return c, nil
}

func getTask(ctx context.Context, q querier, id int64) (task.Task, error) {
	row := q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return task.Task{}, fmt.Errorf("task %d: %w", id, syncerr.ErrNotFound)
	}
	if err != nil {
		return task.Task{}, fmt.Errorf("failed to get task %d: %w", id, err)
	}
	return t, nil
}

func queryTasks(ctx context.Context, q querier, query string, args ...any) ([]task.Task, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	tasks := []task.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}

func insertRow(ctx context.Context, q querier, t task.Task) (int64, error) {
	category, err := categoryToNull(t.Category)
	if err != nil {
		return 0, err
	}
	res, err := q.ExecContext(ctx, `
	INSERT INTO tasks (
		remote_id, name, description, start_at, end_at, category,
		is_complete, completed_at, is_synced, sync_state, version, updated_at,
		remote_updated_at, sync_error, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.RemoteID,
		t.Name,
		t.Description,
		timeToNull(t.StartAt),
		timeToNull(t.EndAt),
		category,
		boolToInt(t.IsComplete),
		timeToNull(t.CompletedAt),
		boolToInt(t.IsSynced),
		string(t.SyncState),
		t.Version,
		t.UpdatedAt,
		t.RemoteUpdatedAt,
		t.SyncError,
		t.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func updateRow(ctx context.Context, q querier, t task.Task) error {
	category, err := categoryToNull(t.Category)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
	UPDATE tasks SET
		name = ?, description = ?, start_at = ?, end_at = ?, category = ?,
		is_complete = ?, completed_at = ?, is_synced = ?, sync_state = ?,
		version = ?, updated_at = ?, remote_updated_at = ?, sync_error = ?
	WHERE id = ?
	`,
		t.Name,
		t.Description,
		timeToNull(t.StartAt),
		timeToNull(t.EndAt),
		category,
		boolToInt(t.IsComplete),
		timeToNull(t.CompletedAt),
		boolToInt(t.IsSynced),
		string(t.SyncState),
		t.Version,
		t.UpdatedAt,
		t.RemoteUpdatedAt,
		t.SyncError,
		t.ID,
	)
	return err
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner) (task.Task, error) {
	var t task.Task
	var startAt, endAt, category, completedAt sql.NullString
	var isComplete, isSynced int
	var state, createdAt string

	err := r.Scan(
		&t.ID,
		&t.RemoteID,
		&t.Name,
		&t.Description,
		&startAt,
		&endAt,
		&category,
		&isComplete,
		&completedAt,
		&isSynced,
		&state,
		&t.Version,
		&t.UpdatedAt,
		&t.RemoteUpdatedAt,
		&t.SyncError,
		&createdAt,
	)
	if err != nil {
		return task.Task{}, err
	}

	t.IsComplete = isComplete != 0
	t.IsSynced = isSynced != 0
	t.SyncState = task.State(state)

	if t.StartAt, err = nullToTime(startAt); err != nil {
		return task.Task{}, fmt.Errorf("invalid start_at: %w", err)
	}
	if t.EndAt, err = nullToTime(endAt); err != nil {
		return task.Task{}, fmt.Errorf("invalid end_at: %w", err)
	}
	if t.CompletedAt, err = nullToTime(completedAt); err != nil {
		return task.Task{}, fmt.Errorf("invalid completed_at: %w", err)
	}
	if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return task.Task{}, fmt.Errorf("invalid created_at: %w", err)
	}
	if category.Valid && category.String != "" {
		var c task.Category
		if err := json.Unmarshal([]byte(category.String), &c); err != nil {
			return task.Task{}, fmt.Errorf("invalid category: %w", err)
		}
		t.Category = &c
	}

	return t, nil
}

// normalizeCompletion keeps CompletedAt consistent with IsComplete.
func normalizeCompletion(t *task.Task, now time.Time) {
	if !t.IsComplete {
		t.CompletedAt = nil
		return
	}
	if t.CompletedAt == nil {
		at := now.UTC()
		t.CompletedAt = &at
	}
}

func timeToNull(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func nullToTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func categoryToNull(c *task.Category) (sql.NullString, error) {
	if c == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal category: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
