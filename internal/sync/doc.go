// Package sync keeps the local task store and the remote collection in step.
//
// Overview
//
// The coordinator watches the local store for user writes and mirrors each
// changed task to the remote store. Periodic pulls bring changes made on
// other devices back into the local store.
//
//	user write ──▶ local.Store ──change──▶ Coordinator ──push/delete──▶ remote.Store
//	                    ▲                       │
//	                    └──── MarkSynced ◀──────┘
//	                    ▲                       │
//	                    └──── merge ◀── pull ◀──┘ (timer, connectivity, login)
//
// Per-task state machine
//
// Each task carries a sync state persisted by the local store:
//
//	local_only ─▶ pending_push ─▶ synced ─(edit)─▶ pending_push
//	delete ─▶ pending_delete (tombstone) ─▶ gone
//	pull finds both sides changed ─▶ conflict ─▶ synced | pending_push
//
// Concurrency
//
// At most one operation per task runs at a time. A trigger that arrives
// while an operation is in flight marks the task dirty, and exactly one
// follow-up pass runs when the flight ends, carrying the latest content.
// Different tasks proceed in parallel up to Config.Workers. A local delete
// cancels the task's in-flight push; the follow-up pass deletes the remote
// copy so a stale push cannot resurrect it.
//
// Failures
//
// Transient failures are retried with exponential backoff (2s doubling to a
// 60s cap by default, forever). Permanent failures park the task with its
// error recorded until the user edits it again or calls Retry. Local
// storage failures are never retried automatically. While signed out or
// offline, work is paused and picked up again by Resume.
//
// Conflicts
//
// When a pull finds a remote copy newer than the last synced one while the
// local task also has unsynced edits, the copy with the larger UpdatedAt
// wins. Ties go to the larger device id. A winning remote copy overwrites
// the local task; a winning local copy is pushed again.
//
// Usage
//
//	c, err := sync.New(store, backend, identity, network, nil)
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	// Background mode
//	go c.Run(ctx)
//
//	// One-shot mode
//	if err := c.SyncOnce(ctx); err != nil {
//	    return err
//	}
package sync
