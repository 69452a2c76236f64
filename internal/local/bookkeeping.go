package local

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/todosync/todosync/internal/syncerr"
	"github.com/todosync/todosync/internal/task"
)

// Tombstone records a local delete that has not reached the remote collection.
type Tombstone struct {
	TaskID    int64  `json:"task_id"`
	RemoteID  string `json:"remote_id"`
	DeletedAt int64  `json:"deleted_at"` // unix nanos
}

const ownerKey = "owner"

// BeginPush moves the task to pending_push and returns its current content.
// The returned Version must be passed to MarkSynced once the push succeeds.
func (s *Store) BeginPush(ctx context.Context, id int64) (task.Task, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cur, err := getTask(ctx, s.conn, id)
	if err != nil {
		return task.Task{}, err
	}
	if cur.IsSynced || cur.SyncState == task.StatePendingPush {
		return cur, nil
	}

	_, err = s.conn.ExecContext(ctx,
		`UPDATE tasks SET sync_state = ? WHERE id = ? AND version = ?`,
		string(task.StatePendingPush), id, cur.Version)
	if err != nil {
		return task.Task{}, fmt.Errorf("failed to begin push for task %d: %w", id, err)
	}
	cur.SyncState = task.StatePendingPush

	s.publish(Change{Op: OpSync, ID: id, Origin: OriginSync})
	return cur, nil
}

// MarkSynced flags the task as synced, but only if it still has the given
// version. A write that raced the push bumps the version, so it always wins
// and the task stays unsynced. Reports whether the flag was set.
func (s *Store) MarkSynced(ctx context.Context, id, version int64) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.conn.ExecContext(ctx, `
	UPDATE tasks SET
		is_synced = 1,
		sync_state = ?,
		sync_error = '',
		remote_updated_at = updated_at
	WHERE id = ? AND version = ?
	`, string(task.StateSynced), id, version)
	if err != nil {
		return false, fmt.Errorf("failed to mark task %d synced: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to mark task %d synced: %w", id, err)
	}
	if n == 0 {
		return false, nil
	}

	s.publish(Change{Op: OpSync, ID: id, Origin: OriginSync})
	return true, nil
}

// SetSyncError records (or clears, with an empty message) the last sync error.
func (s *Store) SetSyncError(ctx context.Context, id int64, msg string) error {
	return s.setColumn(ctx, id, "sync_error", msg)
}

// SetState moves the task to the given sync state without touching content.
func (s *Store) SetState(ctx context.Context, id int64, state task.State) error {
	if !state.Valid() {
		return fmt.Errorf("%w: unknown sync state %q", syncerr.ErrInvalid, state)
	}
	return s.setColumn(ctx, id, "sync_state", string(state))
}

func (s *Store) setColumn(ctx context.Context, id int64, column, value string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.conn.ExecContext(ctx, `UPDATE tasks SET `+column+` = ? WHERE id = ?`, value, id)
	if err != nil {
		return fmt.Errorf("failed to set %s for task %d: %w", column, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %d: %w", id, syncerr.ErrNotFound)
	}

	s.publish(Change{Op: OpSync, ID: id, Origin: OriginSync})
	return nil
}

// Unsynced returns every task with is_synced unset, ordered by id.
func (s *Store) Unsynced(ctx context.Context) ([]task.Task, error) {
	return queryTasks(ctx, s.conn,
		`SELECT `+taskColumns+` FROM tasks WHERE is_synced = 0 ORDER BY id ASC`)
}

// Tombstones returns every pending remote delete, oldest first.
func (s *Store) Tombstones(ctx context.Context) ([]Tombstone, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT task_id, remote_id, deleted_at FROM tombstones ORDER BY deleted_at ASC, task_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tombstones: %w", err)
	}
	defer rows.Close()

	var out []Tombstone
	for rows.Next() {
		var ts Tombstone
		if err := rows.Scan(&ts.TaskID, &ts.RemoteID, &ts.DeletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tombstone: %w", err)
		}
		out = append(out, ts)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tombstones: %w", err)
	}
	return out, nil
}

// Tombstone returns the pending remote delete for a task id.
func (s *Store) Tombstone(ctx context.Context, taskID int64) (Tombstone, error) {
	var ts Tombstone
	err := s.conn.QueryRowContext(ctx,
		`SELECT task_id, remote_id, deleted_at FROM tombstones WHERE task_id = ?`, taskID,
	).Scan(&ts.TaskID, &ts.RemoteID, &ts.DeletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Tombstone{}, fmt.Errorf("tombstone for task %d: %w", taskID, syncerr.ErrNotFound)
	}
	if err != nil {
		return Tombstone{}, fmt.Errorf("failed to get tombstone: %w", err)
	}
	return ts, nil
}

// PurgeTombstone forgets a pending delete once the remote confirmed it.
func (s *Store) PurgeTombstone(ctx context.Context, taskID int64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.conn.ExecContext(ctx, `DELETE FROM tombstones WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("failed to purge tombstone for task %d: %w", taskID, err)
	}
	return nil
}

// InsertRemote stores a task that so far only existed remotely. The task is
// assigned a fresh local id and starts out synced. If a task with the same
// remote id already exists it is returned unchanged.
func (s *Store) InsertRemote(ctx context.Context, t task.Task) (task.Task, error) {
	if err := t.Validate(); err != nil {
		return task.Task{}, fmt.Errorf("%w: %w", syncerr.ErrInvalid, err)
	}
	if t.RemoteID == "" {
		return task.Task{}, fmt.Errorf("%w: remote id is required", syncerr.ErrInvalid)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return task.Task{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE remote_id = ?`, t.RemoteID)
	existing, err := scanTask(row)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return task.Task{}, fmt.Errorf("failed to look up remote id %s: %w", t.RemoteID, err)
	}

	now := s.now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now.UTC()
	}
	if t.UpdatedAt == 0 {
		t.UpdatedAt = now.UnixNano()
	}
	normalizeCompletion(&t, now)
	t.ID = 0
	t.IsSynced = true
	t.SyncState = task.StateSynced
	t.Version = 1
	t.RemoteUpdatedAt = t.UpdatedAt
	t.SyncError = ""

	id, err := insertRow(ctx, tx, t)
	if err != nil {
		return task.Task{}, fmt.Errorf("failed to insert remote task: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return task.Task{}, fmt.Errorf("failed to commit transaction: %w", err)
	}
	t.ID = id

	s.publish(Change{Op: OpInsert, ID: id, Origin: OriginSync})
	return t, nil
}

// ApplyRemote overwrites the task's content with the remote copy and marks it
// synced, provided the local version is still expectedVersion. Reports
// whether the remote copy was applied.
func (s *Store) ApplyRemote(ctx context.Context, id int64, remote task.Task, expectedVersion int64) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	cur, err := getTask(ctx, tx, id)
	if err != nil {
		return false, err
	}
	if cur.Version != expectedVersion {
		return false, nil
	}

	cur.Name = remote.Name
	cur.Description = remote.Description
	cur.StartAt = remote.StartAt
	cur.EndAt = remote.EndAt
	cur.Category = remote.Category
	cur.IsComplete = remote.IsComplete
	cur.CompletedAt = remote.CompletedAt
	normalizeCompletion(&cur, s.now())

	cur.IsSynced = true
	cur.SyncState = task.StateSynced
	cur.SyncError = ""
	cur.Version++
	if remote.UpdatedAt > cur.UpdatedAt {
		cur.UpdatedAt = remote.UpdatedAt
	}
	cur.RemoteUpdatedAt = remote.UpdatedAt

	if err := updateRow(ctx, tx, cur); err != nil {
		return false, fmt.Errorf("failed to apply remote copy to task %d: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.publish(Change{Op: OpUpdate, ID: id, Origin: OriginSync})
	return true, nil
}

// RemoveSynced deletes a task that was removed remotely. Only a synced task
// still at expectedVersion is removed, and no tombstone is left behind.
func (s *Store) RemoveSynced(ctx context.Context, id, expectedVersion int64) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.conn.ExecContext(ctx,
		`DELETE FROM tasks WHERE id = ? AND version = ? AND is_synced = 1`, id, expectedVersion)
	if err != nil {
		return false, fmt.Errorf("failed to remove task %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to remove task %d: %w", id, err)
	}
	if n == 0 {
		return false, nil
	}

	s.publish(Change{Op: OpDelete, ID: id, Origin: OriginSync})
	return true, nil
}

// Owner returns the user id the local data was last synced for, or "".
func (s *Store) Owner(ctx context.Context) (string, error) {
	var owner string
	err := s.conn.QueryRowContext(ctx, `SELECT value FROM sync_meta WHERE key = ?`, ownerKey).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read owner: %w", err)
	}
	return owner, nil
}

// ResetOwner records a new owner for the local data and resets all sync
// bookkeeping, so every task is pushed to the new account. Pending deletes
// belong to the previous account and are dropped.
func (s *Store) ResetOwner(ctx context.Context, owner string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
	UPDATE tasks SET
		is_synced = 0,
		sync_state = ?,
		sync_error = '',
		remote_updated_at = 0,
		version = version + 1
	`, string(task.StateLocalOnly)); err != nil {
		return fmt.Errorf("failed to reset sync state: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tombstones`); err != nil {
		return fmt.Errorf("failed to drop tombstones: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
	INSERT INTO sync_meta (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, ownerKey, owner); err != nil {
		return fmt.Errorf("failed to record owner: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.publish(Change{Op: OpSync, Origin: OriginSync})
	return nil
}
