// Package repository is the caller-facing task API.
//
// Every write lands in the local store and returns immediately; the sync
// coordinator picks it up from there. Reads merge the local snapshot with
// the coordinator's live status so callers can show which tasks are syncing.
package repository

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/todosync/todosync/internal/local"
	tsync "github.com/todosync/todosync/internal/sync"
	"github.com/todosync/todosync/internal/syncerr"
	"github.com/todosync/todosync/internal/task"
)

// TaskView is a task as presented to callers.
type TaskView struct {
	Task    task.Task  `json:"task"`
	State   task.State `json:"state"`
	Syncing bool       `json:"syncing"`
	Error   string     `json:"error,omitempty"`
}

// StatusSource reports per-task sync status. The sync coordinator
// implements it.
type StatusSource interface {
	Status(id int64) tsync.Status
	WatchStatus() (<-chan struct{}, func())
}

// Repository reads and writes tasks through the local store.
type Repository struct {
	store  *local.Store
	status StatusSource
	now    func() time.Time
	logger *log.Logger
}

// New creates a repository. A nil status source reports every task idle,
// which suits commands that run without a coordinator.
func New(store *local.Store, status StatusSource, logger *log.Logger) *Repository {
	if status == nil {
		status = idleStatus{}
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[repository] ", log.LstdFlags)
	}
	return &Repository{store: store, status: status, now: time.Now, logger: logger}
}

// ObserveTasks emits the task list with sync status, then again after every
// local change or status change. The channel is closed when ctx ends.
func (r *Repository) ObserveTasks(ctx context.Context) <-chan []TaskView {
	out := make(chan []TaskView)
	snaps := r.store.ObserveAll(ctx)
	signals, stop := r.status.WatchStatus()

	go func() {
		defer close(out)
		defer stop()

		var latest []task.Task
		have := false
		for {
			select {
			case <-ctx.Done():
				return
			case tasks, ok := <-snaps:
				if !ok {
					return
				}
				latest, have = tasks, true
			case <-signals:
				if !have {
					continue
				}
			}

			select {
			case out <- r.views(latest):
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// Save inserts the task when its ID is zero, otherwise updates it.
func (r *Repository) Save(ctx context.Context, t task.Task) (TaskView, error) {
	saved, err := r.store.UpsertContext(ctx, t)
	if err != nil {
		return TaskView{}, wrap("Save", t.ID, err)
	}
	return r.view(saved), nil
}

// Delete removes the task locally; the coordinator deletes the remote copy.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	if err := r.store.DeleteContext(ctx, id); err != nil {
		return wrap("Delete", id, err)
	}
	return nil
}

// Complete marks the task done. The date accepts anything task.ParseWhen
// understands; empty means now.
func (r *Repository) Complete(ctx context.Context, id int64, date string) (TaskView, error) {
	var at time.Time
	if date != "" {
		p, err := task.ParseWhen(date, r.now())
		if err != nil {
			return TaskView{}, syncerr.Permanent("Complete", id, fmt.Errorf("%w: %w", syncerr.ErrInvalid, err))
		}
		at = *p
	}

	done, err := r.store.CompleteContext(ctx, id, at)
	if err != nil {
		return TaskView{}, wrap("Complete", id, err)
	}
	return r.view(done), nil
}

// Get returns one task.
func (r *Repository) Get(ctx context.Context, id int64) (TaskView, error) {
	t, err := r.store.GetContext(ctx, id)
	if err != nil {
		return TaskView{}, wrap("Get", id, err)
	}
	return r.view(t), nil
}

// List returns every task ordered by id.
func (r *Repository) List(ctx context.Context) ([]TaskView, error) {
	tasks, err := r.store.ListContext(ctx)
	if err != nil {
		return nil, wrap("List", 0, err)
	}
	return r.views(tasks), nil
}

// Search returns the tasks whose name or description contains query,
// ignoring case. An empty query matches everything.
func (r *Repository) Search(ctx context.Context, query string) ([]TaskView, error) {
	tasks, err := r.store.ListContext(ctx)
	if err != nil {
		return nil, wrap("Search", 0, err)
	}
	var out []TaskView
	for _, t := range tasks {
		if t.Matches(query) {
			out = append(out, r.view(t))
		}
	}
	return out, nil
}

// Clear deletes every task.
func (r *Repository) Clear(ctx context.Context) error {
	if err := r.store.ClearContext(ctx); err != nil {
		return wrap("Clear", 0, err)
	}
	return nil
}

// Counts summarizes the local store.
func (r *Repository) Counts(ctx context.Context) (local.Counts, error) {
	c, err := r.store.CountsContext(ctx)
	if err != nil {
		return local.Counts{}, wrap("Counts", 0, err)
	}
	return c, nil
}

func (r *Repository) views(tasks []task.Task) []TaskView {
	out := make([]TaskView, len(tasks))
	for i, t := range tasks {
		out[i] = r.view(t)
	}
	return out
}

func (r *Repository) view(t task.Task) TaskView {
	st := r.status.Status(t.ID)
	v := TaskView{
		Task:    t,
		State:   t.SyncState,
		Syncing: st.Syncing,
		Error:   t.SyncError,
	}
	if v.Error == "" && st.Err != nil && !errors.Is(st.Err, tsync.ErrPaused) {
		v.Error = st.Err.Error()
	}
	return v
}

// wrap turns a local store error into a *syncerr.Error.
func wrap(op string, id int64, err error) error {
	var se *syncerr.Error
	if errors.As(err, &se) {
		return err
	}
	switch {
	case errors.Is(err, syncerr.ErrNotFound):
		return syncerr.NotFound(op, id, err)
	case errors.Is(err, syncerr.ErrInvalid):
		return syncerr.Permanent(op, id, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return syncerr.Transient(op, id, err)
	default:
		return syncerr.Fatal(op, id, err)
	}
}

type idleStatus struct{}

func (idleStatus) Status(int64) tsync.Status { return tsync.Status{} }

func (idleStatus) WatchStatus() (<-chan struct{}, func()) { return nil, func() {} }
