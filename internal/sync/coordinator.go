package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/todosync/todosync/internal/local"
	"github.com/todosync/todosync/internal/remote"
)

// ErrPaused is returned while no user is signed in or the network is down.
// It wraps syncerr.ErrUnauthenticated or syncerr.ErrOffline.
var ErrPaused = errors.New("sync paused")

// Config holds coordinator settings.
type Config struct {
	// DeviceID identifies this installation; it breaks UpdatedAt ties.
	DeviceID string

	// Workers bounds concurrent remote operations across tasks.
	Workers int

	// PullInterval is the period of background pulls in Run.
	PullInterval time.Duration

	// InitialBackoff and MaxBackoff shape transient-failure retries.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// Jitter is the backoff randomization factor, 0 for none.
	Jitter float64

	Logger *log.Logger
}

// DefaultConfig returns the default coordinator configuration.
func DefaultConfig() *Config {
	return &Config{
		Workers:        4,
		PullInterval:   15 * time.Minute,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     60 * time.Second,
		Logger:         log.New(os.Stderr, "[sync] ", log.LstdFlags),
	}
}

type coordinator struct {
	local    *local.Store
	remote   remote.Store
	identity Identity
	network  Network
	config   *Config
	logger   *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     gosync.WaitGroup
	sem    chan struct{}
	resume chan struct{}

	mu     gosync.Mutex
	slots  map[int64]*slot
	active int
	idle   chan struct{}
	closed bool

	ownerMu    gosync.Mutex
	owner      string
	ownerKnown bool

	pullMu      gosync.Mutex
	pulling     atomic.Bool
	pullPending atomic.Bool

	watchMu  gosync.Mutex
	watchers map[chan struct{}]struct{}

	stats counters
}

type counters struct {
	pushed    atomic.Int64
	pulled    atomic.Int64
	deleted   atomic.Int64
	removed   atomic.Int64
	conflicts atomic.Int64
	failures  atomic.Int64
	retries   atomic.Int64
	lastPull  atomic.Int64 // unix nanos
}

// New creates a coordinator. A nil config uses DefaultConfig.
func New(store *local.Store, rs remote.Store, identity Identity, network Network, config *Config) (Coordinator, error) {
	if store == nil || rs == nil {
		return nil, fmt.Errorf("local and remote stores are required")
	}
	if identity == nil || network == nil {
		return nil, fmt.Errorf("identity and network are required")
	}

	def := DefaultConfig()
	if config == nil {
		config = def
	}
	cfg := *config
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.PullInterval <= 0 {
		cfg.PullInterval = def.PullInterval
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)

	return &coordinator{
		local:    store,
		remote:   rs,
		identity: identity,
		network:  network,
		config:   &cfg,
		logger:   cfg.Logger,
		ctx:      ctx,
		cancel:   cancel,
		sem:      make(chan struct{}, cfg.Workers),
		resume:   make(chan struct{}, 1),
		slots:    make(map[int64]*slot),
		idle:     idle,
		watchers: make(map[chan struct{}]struct{}),
	}, nil
}

// Run implements Coordinator.
func (c *coordinator) Run(ctx context.Context) error {
	c.logger.Println("Starting sync coordinator")

	sub := c.local.Subscribe()
	defer sub.Close()

	ticker := time.NewTicker(c.config.PullInterval)
	defer ticker.Stop()

	c.pullAsync(ctx)

	for {
		select {
		case <-ctx.Done():
			c.logger.Println("Sync coordinator stopping")
			return nil
		case <-c.ctx.Done():
			return nil
		case ch, ok := <-sub.C:
			if !ok {
				return nil
			}
			c.handleChange(ctx, ch)
		case <-ticker.C:
			c.pullAsync(ctx)
		case <-c.resume:
			c.pullAsync(ctx)
		}
	}
}

// handleChange reacts to a local write. Writes made by the coordinator
// itself are ignored.
func (c *coordinator) handleChange(ctx context.Context, ch local.Change) {
	if ch.Origin != local.OriginUser {
		return
	}
	switch ch.Op {
	case local.OpInsert, local.OpUpdate:
		c.Schedule(ch.ID)
	case local.OpDelete:
		c.supersede(ch.ID)
	case local.OpClear:
		c.supersedeAll()
		if err := c.queuePending(ctx); err != nil {
			c.logger.Printf("Warning: failed to queue deletes after clear: %v", err)
		}
	}
}

// pullAsync starts a background Reconcile. A request made while one is
// running is folded into a single extra pass. The pull ends when either ctx
// or the coordinator is closed.
func (c *coordinator) pullAsync(parent context.Context) {
	c.pullPending.Store(true)
	if !c.pulling.CompareAndSwap(false, true) {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(c.ctx, cancel)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		defer stop()
		for {
			for c.pullPending.Swap(false) {
				if err := c.Reconcile(ctx); err != nil && !errors.Is(err, ErrPaused) && ctx.Err() == nil {
					c.logger.Printf("Pull failed: %v", err)
				}
			}
			c.pulling.Store(false)
			if !c.pullPending.Load() || !c.pulling.CompareAndSwap(false, true) {
				return
			}
		}
	}()
}

// Resume implements Coordinator.
func (c *coordinator) Resume() {
	c.mu.Lock()
	for id, s := range c.slots {
		if s.inflight || s.failed {
			continue
		}
		if s.paused || s.timer != nil {
			if s.timer != nil {
				s.timer.Stop()
				s.timer = nil
			}
			s.paused = false
			s.backoff = nil
			s.retryAt = time.Time{}
			c.startLocked(id, s)
		}
	}
	c.mu.Unlock()

	select {
	case c.resume <- struct{}{}:
	default:
	}
}

// SyncOnce implements Coordinator.
func (c *coordinator) SyncOnce(ctx context.Context) error {
	if err := c.Reconcile(ctx); err != nil {
		return err
	}
	if err := c.Flush(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	var first error
	n := 0
	for _, s := range c.slots {
		if s.lastErr == nil || errors.Is(s.lastErr, ErrPaused) {
			continue
		}
		n++
		if first == nil {
			first = s.lastErr
		}
	}
	if n > 0 {
		return fmt.Errorf("%d task(s) failed to sync: %w", n, first)
	}
	return nil
}

// Retry implements Coordinator.
func (c *coordinator) Retry(ctx context.Context, id int64) error {
	if err := c.local.SetSyncError(ctx, id, ""); err != nil {
		return err
	}
	c.mu.Lock()
	if s := c.slots[id]; s != nil {
		s.backoff = nil
	}
	c.mu.Unlock()
	c.Schedule(id)
	return nil
}

// Status implements Coordinator.
func (c *coordinator) Status(id int64) Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.slots[id]
	if s == nil {
		return Status{}
	}
	return Status{
		Syncing: s.inflight,
		Waiting: !s.inflight && (s.paused || s.timer != nil),
		Failed:  s.failed,
		RetryAt: s.retryAt,
		Err:     s.lastErr,
	}
}

// WatchStatus implements Coordinator.
func (c *coordinator) WatchStatus() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	c.watchMu.Lock()
	c.watchers[ch] = struct{}{}
	c.watchMu.Unlock()

	var once gosync.Once
	return ch, func() {
		once.Do(func() {
			c.watchMu.Lock()
			delete(c.watchers, ch)
			c.watchMu.Unlock()
		})
	}
}

func (c *coordinator) notifyWatchers() {
	c.watchMu.Lock()
	defer c.watchMu.Unlock()
	for ch := range c.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Stats implements Coordinator.
func (c *coordinator) Stats() Stats {
	st := Stats{
		Pushed:    c.stats.pushed.Load(),
		Pulled:    c.stats.pulled.Load(),
		Deleted:   c.stats.deleted.Load(),
		Removed:   c.stats.removed.Load(),
		Conflicts: c.stats.conflicts.Load(),
		Failures:  c.stats.failures.Load(),
		Retries:   c.stats.retries.Load(),
	}
	if ns := c.stats.lastPull.Load(); ns != 0 {
		st.LastPull = time.Unix(0, ns)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.slots {
		switch {
		case s.inflight:
			st.InFlight++
		case s.failed:
			st.Failed++
		case s.paused || s.timer != nil:
			st.Waiting++
		}
	}
	return st
}

// Close implements Coordinator.
func (c *coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	for _, s := range c.slots {
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
	}
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	return nil
}
