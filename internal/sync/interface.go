package sync

import (
	"context"
	"time"
)

// Coordinator reconciles the local task store with the remote collection.
type Coordinator interface {
	// Run reacts to local changes, periodic pulls and Resume calls until ctx
	// is cancelled.
	Run(ctx context.Context) error

	// Schedule queues the task for a push, or a remote delete if it has been
	// deleted locally. Calls made while the task is in flight coalesce into a
	// single follow-up pass.
	Schedule(id int64)

	// Reconcile pulls the remote collection, merges it into the local store
	// and queues every pending local change.
	Reconcile(ctx context.Context) error

	// SyncOnce reconciles and waits for the resulting pushes and deletes.
	// It returns an error if any task failed to sync.
	SyncOnce(ctx context.Context) error

	// Flush waits until no operation is in flight.
	Flush(ctx context.Context) error

	// Resume restarts work paused while offline or signed out and triggers
	// a pull. Call it when connectivity returns or the user signs in.
	Resume()

	// Retry clears a task's recorded error and schedules it again.
	Retry(ctx context.Context, id int64) error

	// Status reports the coordinator's view of one task.
	Status(id int64) Status

	// WatchStatus returns a channel that receives a signal whenever any
	// task's status changes, and a function to stop watching.
	WatchStatus() (<-chan struct{}, func())

	// Stats returns cumulative counters.
	Stats() Stats

	// Close cancels in-flight work and stops retry timers.
	Close() error
}

// Identity supplies the signed-in user. An empty id pauses sync.
type Identity interface {
	UserID() string
}

// Network reports whether the remote store is reachable.
type Network interface {
	Online() bool
}

// IdentityFunc adapts a function to Identity.
type IdentityFunc func() string

// UserID implements Identity.
func (f IdentityFunc) UserID() string { return f() }

// NetworkFunc adapts a function to Network.
type NetworkFunc func() bool

// Online implements Network.
func (f NetworkFunc) Online() bool { return f() }

// Status is the coordinator's view of one task.
type Status struct {
	// Syncing is set while an operation for the task is in flight.
	Syncing bool `json:"syncing"`
	// Waiting is set while a retry is scheduled or work is paused.
	Waiting bool `json:"waiting"`
	// Failed is set when a permanent failure parked the task.
	Failed  bool      `json:"failed"`
	RetryAt time.Time `json:"retry_at,omitempty"`
	Err     error     `json:"-"`
}

// Stats holds cumulative coordinator counters.
type Stats struct {
	Pushed    int64     `json:"pushed"`
	Pulled    int64     `json:"pulled"`
	Deleted   int64     `json:"deleted"`   // remote deletes confirmed
	Removed   int64     `json:"removed"`   // local tasks removed after a remote delete
	Conflicts int64     `json:"conflicts"`
	Failures  int64     `json:"failures"`
	Retries   int64     `json:"retries"`
	InFlight  int       `json:"in_flight"`
	Waiting   int       `json:"waiting"`
	Failed    int       `json:"failed"`
	LastPull  time.Time `json:"last_pull,omitempty"`
}
