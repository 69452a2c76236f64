package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/todosync/todosync/internal/local"
	"github.com/todosync/todosync/internal/remote"
	"github.com/todosync/todosync/internal/syncerr"
)

// process runs one pass for a task: the remote delete if it has a
// tombstone, otherwise a push of its current content.
func (c *coordinator) process(ctx context.Context, id int64) error {
	userID, err := c.gate(ctx, id)
	if err != nil {
		return err
	}

	ts, err := c.local.Tombstone(ctx, id)
	switch {
	case err == nil:
		return c.pushDelete(ctx, userID, ts)
	case !errors.Is(err, syncerr.ErrNotFound):
		return c.localFailure(ctx, "Tombstone", id, err)
	}

	t, err := c.local.BeginPush(ctx, id)
	if errors.Is(err, syncerr.ErrNotFound) {
		// Deleted before it was ever pushed.
		return nil
	}
	if err != nil {
		return c.localFailure(ctx, "BeginPush", id, err)
	}
	if t.IsSynced {
		return nil
	}

	doc := remote.Document{Task: t, DeviceID: c.config.DeviceID}
	if err := c.remote.Push(ctx, userID, doc); err != nil && !syncerr.IsNotFound(err) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !syncerr.IsRetryable(err) {
			if serr := c.local.SetSyncError(ctx, id, err.Error()); serr != nil {
				c.logger.Printf("Warning: failed to record sync error for task %d: %v", id, serr)
			}
		}
		return err
	}

	ok, err := c.local.MarkSynced(ctx, id, t.Version)
	if err != nil {
		return c.localFailure(ctx, "MarkSynced", id, err)
	}
	c.stats.pushed.Add(1)
	if ok {
		c.logger.Printf("Pushed task %d (%s)", id, t.RemoteID)
	} else {
		c.logger.Printf("Task %d changed during push", id)
	}
	return nil
}

// pushDelete removes the remote copy and then the tombstone. A missing
// remote document counts as deleted.
func (c *coordinator) pushDelete(ctx context.Context, userID string, ts local.Tombstone) error {
	err := c.remote.Delete(ctx, userID, ts.RemoteID)
	if err != nil && !syncerr.IsNotFound(err) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}

	if err := c.local.PurgeTombstone(ctx, ts.TaskID); err != nil {
		return c.localFailure(ctx, "PurgeTombstone", ts.TaskID, err)
	}
	c.stats.deleted.Add(1)
	c.logger.Printf("Deleted task %d (%s) remotely", ts.TaskID, ts.RemoteID)
	return nil
}

// gate returns the signed-in user, or ErrPaused while signed out or offline.
// self is the task whose flight is calling, zero for a pull.
func (c *coordinator) gate(ctx context.Context, self int64) (string, error) {
	userID := c.identity.UserID()
	if userID == "" {
		return "", fmt.Errorf("%w: %w", ErrPaused, syncerr.ErrUnauthenticated)
	}
	if !c.network.Online() {
		return "", fmt.Errorf("%w: %w", ErrPaused, syncerr.ErrOffline)
	}
	if err := c.ensureOwner(ctx, userID, self); err != nil {
		return "", err
	}
	return userID, nil
}

// ensureOwner resets the local sync bookkeeping when the signed-in user
// differs from the one the data was last synced for. The calling flight, self,
// pushes after the reset anyway and is not queued again.
func (c *coordinator) ensureOwner(ctx context.Context, userID string, self int64) error {
	c.ownerMu.Lock()
	defer c.ownerMu.Unlock()

	if c.ownerKnown && c.owner == userID {
		return nil
	}

	owner, err := c.local.Owner(ctx)
	if err != nil {
		return c.localFailure(ctx, "Owner", 0, err)
	}
	if owner == userID {
		c.owner, c.ownerKnown = userID, true
		return nil
	}

	if owner != "" {
		c.logger.Printf("Signed-in user changed (%s -> %s), resetting sync state", owner, userID)
	}
	if err := c.local.ResetOwner(ctx, userID); err != nil {
		return c.localFailure(ctx, "ResetOwner", 0, err)
	}
	c.owner, c.ownerKnown = userID, true

	// Tasks in flight for the previous user lost their version race with the
	// reset; queue them again for the new one.
	unsynced, err := c.local.Unsynced(ctx)
	if err != nil {
		return c.localFailure(ctx, "Unsynced", 0, err)
	}
	c.mu.Lock()
	for _, t := range unsynced {
		if t.ID == self {
			continue
		}
		c.scheduleLocked(t.ID, true)
	}
	c.mu.Unlock()
	return nil
}

// queuePending schedules every tombstone and every unsynced task that is not
// parked with an error.
func (c *coordinator) queuePending(ctx context.Context) error {
	tombs, err := c.local.Tombstones(ctx)
	if err != nil {
		return c.localFailure(ctx, "Tombstones", 0, err)
	}
	unsynced, err := c.local.Unsynced(ctx)
	if err != nil {
		return c.localFailure(ctx, "Unsynced", 0, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ts := range tombs {
		c.scheduleLocked(ts.TaskID, false)
	}
	for _, t := range unsynced {
		if t.SyncError != "" {
			continue
		}
		c.scheduleLocked(t.ID, false)
	}
	return nil
}

// localFailure classifies a local store error. Storage failures are fatal;
// a cancelled context is passed through.
func (c *coordinator) localFailure(ctx context.Context, op string, id int64, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return syncerr.Fatal(op, id, err)
}
