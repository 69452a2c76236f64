package sync

import (
	"context"
	"errors"
	"time"

	"github.com/todosync/todosync/internal/remote"
	"github.com/todosync/todosync/internal/syncerr"
	"github.com/todosync/todosync/internal/task"
)

// Reconcile implements Coordinator.
func (c *coordinator) Reconcile(ctx context.Context) error {
	c.pullMu.Lock()
	defer c.pullMu.Unlock()

	userID, err := c.gate(ctx, 0)
	if err != nil {
		return err
	}

	// The local snapshot predates the fetch, so a task that was synced in
	// it and is missing remotely really was deleted there.
	tombs, err := c.local.Tombstones(ctx)
	if err != nil {
		return c.localFailure(ctx, "Tombstones", 0, err)
	}
	deleted := make(map[string]bool, len(tombs))
	for _, ts := range tombs {
		deleted[ts.RemoteID] = true
	}

	locals, err := c.local.ListContext(ctx)
	if err != nil {
		return c.localFailure(ctx, "List", 0, err)
	}
	byRemote := make(map[string]task.Task, len(locals))
	for _, t := range locals {
		byRemote[t.RemoteID] = t
	}

	docs, err := c.remote.FetchAll(ctx, userID)
	if err != nil {
		return err
	}

	seen := make(map[string]bool, len(docs))
	for _, d := range docs {
		rid := d.Task.RemoteID
		seen[rid] = true

		// A pending local delete beats any remote edit.
		if deleted[rid] {
			continue
		}

		l, ok := byRemote[rid]
		if !ok {
			if _, err := c.local.InsertRemote(ctx, d.Task); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				c.logger.Printf("Warning: failed to insert remote task %s: %v", rid, err)
				continue
			}
			c.stats.pulled.Add(1)
			continue
		}

		if err := c.merge(ctx, l, d); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Printf("Warning: failed to merge task %d: %v", l.ID, err)
		}
	}

	// Synced tasks that vanished remotely were deleted on another device.
	for _, l := range locals {
		if seen[l.RemoteID] || !l.IsSynced || l.RemoteUpdatedAt == 0 {
			continue
		}
		if err := c.removeDeleted(ctx, l); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Printf("Warning: failed to remove task %d: %v", l.ID, err)
		}
	}

	c.stats.lastPull.Store(time.Now().UnixNano())
	return c.queuePending(ctx)
}

// merge folds one remote document into its local counterpart.
func (c *coordinator) merge(ctx context.Context, l task.Task, d remote.Document) error {
	r := d.Task
	if r.UpdatedAt <= l.RemoteUpdatedAt {
		return nil
	}
	if !c.claim(l.ID) {
		// Busy; the next pull looks again.
		return nil
	}
	push := false
	defer func() { c.release(l.ID, push) }()

	cur, err := c.local.GetContext(ctx, l.ID)
	if errors.Is(err, syncerr.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if r.UpdatedAt <= cur.RemoteUpdatedAt {
		return nil
	}

	// Our own push whose confirmation never got recorded.
	if r.UpdatedAt == cur.UpdatedAt && task.SameContent(cur, r) {
		if !cur.IsSynced {
			_, err := c.local.MarkSynced(ctx, cur.ID, cur.Version)
			return err
		}
		return nil
	}

	if cur.IsSynced {
		ok, err := c.local.ApplyRemote(ctx, cur.ID, r, cur.Version)
		if ok {
			c.stats.pulled.Add(1)
		}
		return err
	}

	// Both sides changed since the last sync.
	c.stats.conflicts.Add(1)
	if err := c.local.SetState(ctx, cur.ID, task.StateConflict); err != nil {
		return err
	}

	if remoteWins(cur, d, c.config.DeviceID) {
		c.logger.Printf("Conflict on task %d: remote copy from %q wins", cur.ID, d.DeviceID)
		ok, err := c.local.ApplyRemote(ctx, cur.ID, r, cur.Version)
		if err != nil {
			return err
		}
		if ok {
			c.stats.pulled.Add(1)
		}
		return nil
	}

	c.logger.Printf("Conflict on task %d: local copy wins", cur.ID)
	if err := c.local.SetState(ctx, cur.ID, task.StatePendingPush); err != nil {
		return err
	}
	push = true
	return nil
}

func (c *coordinator) removeDeleted(ctx context.Context, l task.Task) error {
	if !c.claim(l.ID) {
		return nil
	}
	defer c.release(l.ID, false)

	ok, err := c.local.RemoveSynced(ctx, l.ID, l.Version)
	if err != nil {
		return err
	}
	if ok {
		c.stats.removed.Add(1)
		c.logger.Printf("Task %d (%s) was deleted remotely", l.ID, l.RemoteID)
	}
	return nil
}

// remoteWins resolves a conflict by last writer wins on UpdatedAt. Equal
// timestamps go to the larger device id.
func remoteWins(local task.Task, doc remote.Document, deviceID string) bool {
	if doc.Task.UpdatedAt != local.UpdatedAt {
		return doc.Task.UpdatedAt > local.UpdatedAt
	}
	return doc.DeviceID > deviceID
}
