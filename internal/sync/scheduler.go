package sync

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/todosync/todosync/internal/syncerr"
)

// slot tracks the work for one task. It exists while the task has an
// operation in flight, a retry scheduled or a parked failure.
type slot struct {
	inflight bool
	dirty    bool // a trigger arrived during the flight
	cancel   context.CancelFunc

	backoff *backoff.ExponentialBackOff
	timer   *time.Timer
	timerID uint64
	retryAt time.Time

	paused  bool // offline or signed out
	failed  bool // permanent failure, waits for an edit or Retry
	lastErr error
}

// Schedule implements Coordinator.
func (c *coordinator) Schedule(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scheduleLocked(id, true)
}

// scheduleLocked queues the task. A forced schedule comes from a user write:
// it clears parked failures, preempts a pending retry and marks an in-flight
// task dirty. An unforced one leaves busy, failed and backing-off tasks alone.
func (c *coordinator) scheduleLocked(id int64, force bool) {
	if c.closed {
		return
	}

	s := c.slots[id]
	if s == nil {
		s = &slot{}
		c.slots[id] = s
	} else if !force && (s.inflight || s.failed || s.timer != nil) {
		return
	}

	s.failed = false
	s.paused = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
		s.retryAt = time.Time{}
	}
	if s.inflight {
		s.dirty = true
		return
	}
	c.startLocked(id, s)
}

func (c *coordinator) startLocked(id int64, s *slot) {
	ctx, cancel := context.WithCancel(c.ctx)
	s.inflight = true
	s.dirty = false
	s.cancel = cancel
	c.acquireLocked()

	c.wg.Add(1)
	go c.run(ctx, id)
	c.notifyWatchers()
}

func (c *coordinator) acquireLocked() {
	c.active++
	if c.active == 1 {
		c.idle = make(chan struct{})
	}
}

func (c *coordinator) releaseLocked() {
	c.active--
	if c.active == 0 {
		close(c.idle)
	}
}

func (c *coordinator) run(ctx context.Context, id int64) {
	defer c.wg.Done()

	var err error
	select {
	case c.sem <- struct{}{}:
		err = c.process(ctx, id)
		<-c.sem
	case <-ctx.Done():
		err = ctx.Err()
	}
	c.finish(id, err)
}

// finish settles a flight: it starts the follow-up pass for a dirty task,
// arms a retry timer after a transient failure, or parks the task.
func (c *coordinator) finish(id int64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.notifyWatchers()

	s := c.slots[id]
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.inflight = false
	c.releaseLocked()

	if c.closed {
		return
	}

	switch {
	case err == nil:
		s.lastErr = nil
		s.backoff = nil
		if s.dirty {
			c.startLocked(id, s)
			return
		}
		delete(c.slots, id)

	case errors.Is(err, context.Canceled):
		if s.dirty {
			c.startLocked(id, s)
			return
		}
		delete(c.slots, id)

	case errors.Is(err, ErrPaused):
		s.dirty = false
		s.paused = true
		s.lastErr = err

	case syncerr.IsRetryable(err):
		c.stats.failures.Add(1)
		s.dirty = false
		s.lastErr = err
		if s.backoff == nil {
			s.backoff = c.newBackoff()
		}
		d := s.backoff.NextBackOff()
		s.retryAt = time.Now().Add(d)

		s.timerID++
		gen := s.timerID
		s.timer = time.AfterFunc(d, func() { c.fireRetry(id, gen) })
		c.logger.Printf("Task %d: %v (retrying in %v)", id, err, d)

	default:
		c.stats.failures.Add(1)
		s.lastErr = err
		if s.dirty {
			c.startLocked(id, s)
			return
		}
		s.failed = true
		c.logger.Printf("Task %d: %v (giving up until next edit)", id, err)
	}
}

func (c *coordinator) fireRetry(id int64, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.slots[id]
	if c.closed || s == nil || s.timer == nil || s.timerID != gen {
		return
	}
	s.timer = nil
	s.retryAt = time.Time{}
	c.stats.retries.Add(1)

	if s.inflight {
		s.dirty = true
		return
	}
	c.startLocked(id, s)
}

func (c *coordinator) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.config.InitialBackoff
	b.MaxInterval = c.config.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = c.config.Jitter
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// supersede cancels the task's in-flight operation and queues a follow-up.
// Used after a local delete so a stale push cannot outlive it.
func (c *coordinator) supersede(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s := c.slots[id]; s != nil && s.inflight && s.cancel != nil {
		s.cancel()
	}
	c.scheduleLocked(id, true)
}

func (c *coordinator) supersedeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, s := range c.slots {
		if s.inflight && s.cancel != nil {
			s.cancel()
			s.dirty = true
		}
	}
}

// claim reserves the task for a reconcile step, so no push runs for it
// meanwhile. It fails if the task is busy.
func (c *coordinator) claim(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	s := c.slots[id]
	if s == nil {
		s = &slot{}
		c.slots[id] = s
	}
	if s.inflight {
		return false
	}
	s.inflight = true
	c.acquireLocked()
	return true
}

// release ends a claim. With push set, or if a trigger arrived during the
// claim, the task is queued at once.
func (c *coordinator) release(id int64, push bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.slots[id]
	s.inflight = false
	c.releaseLocked()

	if c.closed {
		return
	}
	if push || s.dirty {
		s.failed = false
		s.paused = false
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
			s.retryAt = time.Time{}
		}
		c.startLocked(id, s)
		return
	}
	if s.timer == nil && !s.failed && !s.paused && s.lastErr == nil {
		delete(c.slots, id)
	}
}

// Flush implements Coordinator.
func (c *coordinator) Flush(ctx context.Context) error {
	for {
		c.mu.Lock()
		if c.active == 0 {
			c.mu.Unlock()
			return nil
		}
		idle := c.idle
		c.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
