package local

import (
	"context"
	"errors"
	gosync "sync"

	"github.com/todosync/todosync/internal/syncerr"
	"github.com/todosync/todosync/internal/task"
)

// Op identifies the kind of mutation a Change reports.
type Op int

const (
	OpInsert Op = iota
	OpUpdate
	OpDelete
	OpClear
	// OpSync covers bookkeeping writes (marked synced, error recorded, state moved).
	OpSync
)

// String returns a human-readable representation of the op.
func (o Op) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	case OpClear:
		return "clear"
	case OpSync:
		return "sync"
	default:
		return "unknown"
	}
}

// Origin tells subscribers who caused a change.
type Origin int

const (
	// OriginUser is a write made on behalf of the user of this device.
	OriginUser Origin = iota
	// OriginSync is a write made by the sync coordinator.
	OriginSync
)

// Change is one committed mutation. ID is zero for OpClear.
type Change struct {
	Op     Op
	ID     int64
	Origin Origin
}

// Subscription delivers changes in commit order. The queue behind C is
// unbounded, so a slow reader never blocks writers.
type Subscription struct {
	// C receives changes. Closed after Close.
	C <-chan Change

	out    chan Change
	store  *Store
	mu     gosync.Mutex
	queue  []Change
	notify chan struct{}
	done   chan struct{}
	once   gosync.Once
}

// Subscribe registers for change notifications. Call Close when done.
func (s *Store) Subscribe() *Subscription {
	out := make(chan Change)
	sub := &Subscription{
		C:      out,
		out:    out,
		store:  s,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	s.subMu.Lock()
	if s.closed {
		s.subMu.Unlock()
		sub.once.Do(func() { close(sub.done) })
		close(out)
		return sub
	}
	s.subs[sub] = struct{}{}
	s.subMu.Unlock()

	go sub.pump()
	return sub
}

// Close unregisters the subscription and closes C.
func (sub *Subscription) Close() {
	sub.once.Do(func() {
		sub.store.subMu.Lock()
		delete(sub.store.subs, sub)
		sub.store.subMu.Unlock()
		close(sub.done)
	})
}

func (sub *Subscription) push(c Change) {
	sub.mu.Lock()
	sub.queue = append(sub.queue, c)
	sub.mu.Unlock()

	select {
	case sub.notify <- struct{}{}:
	default:
	}
}

func (sub *Subscription) pump() {
	defer close(sub.out)

	for {
		select {
		case <-sub.done:
			return
		case <-sub.notify:
		}

		for {
			sub.mu.Lock()
			if len(sub.queue) == 0 {
				sub.mu.Unlock()
				break
			}
			c := sub.queue[0]
			sub.queue = sub.queue[1:]
			sub.mu.Unlock()

			select {
			case sub.out <- c:
			case <-sub.done:
				return
			}
		}
	}
}

// publish fans a committed change out to every subscriber.
func (s *Store) publish(c Change) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for sub := range s.subs {
		sub.push(c)
	}
}

// ObserveAll emits the full task list ordered by id, then a fresh snapshot
// after every mutation. The channel is closed when ctx ends.
func (s *Store) ObserveAll(ctx context.Context) <-chan []task.Task {
	out := make(chan []task.Task)
	sub := s.Subscribe()

	go func() {
		defer close(out)
		defer sub.Close()

		emit := func() bool {
			tasks, err := s.ListContext(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Printf("observe all: %v", err)
				}
				return ctx.Err() == nil
			}
			select {
			case out <- tasks:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !emit() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-sub.C:
				if !ok {
					return
				}
				if !emit() {
					return
				}
			}
		}
	}()

	return out
}

// ObserveByID emits the task with the given id, then again whenever it
// changes. When the task is deleted (or never existed) the channel is closed
// without further emissions.
func (s *Store) ObserveByID(ctx context.Context, id int64) <-chan task.Task {
	out := make(chan task.Task)
	sub := s.Subscribe()

	go func() {
		defer close(out)
		defer sub.Close()

		emit := func() bool {
			t, err := s.GetContext(ctx, id)
			if err != nil {
				if !errors.Is(err, syncerr.ErrNotFound) && ctx.Err() == nil {
					s.logger.Printf("observe task %d: %v", id, err)
				}
				return false
			}
			select {
			case out <- t:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !emit() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case c, ok := <-sub.C:
				if !ok {
					return
				}
				// ID zero marks a bulk change.
				if c.ID != id && c.ID != 0 {
					continue
				}
				if !emit() {
					return
				}
			}
		}
	}()

	return out
}
