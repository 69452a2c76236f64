// Package daemon runs todosync in the background.
//
// The daemon:
//  1. Runs the sync coordinator, which follows local writes and pulls periodically
//  2. Watches the prefs file so sign-in and sign-out from another process take effect
//  3. Probes connectivity and resumes sync when the network comes back
//  4. Optionally serves the dashboard
//  5. Handles graceful shutdown
//
// Every loop runs under one errgroup; the first failure stops the rest.
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/todosync/todosync/internal/connectivity"
	"github.com/todosync/todosync/internal/dashboard"
	"github.com/todosync/todosync/internal/prefs"
	tsync "github.com/todosync/todosync/internal/sync"
)

// Config holds configuration for the daemon.
type Config struct {
	// DebounceInterval is how long to wait after a sign-in or network change
	// before resuming sync. Rapid changes are batched into one resume.
	DebounceInterval time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 250 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon supervises the background components.
type Daemon struct {
	coordinator tsync.Coordinator
	prefs       *prefs.Store
	monitor     *connectivity.Monitor
	config      *Config

	dashboard *dashboard.Server
	handler   *dashboard.Handler

	// resumeAt is when a resume was last requested; zero when none is pending.
	resumeAt     time.Time
	resumeReason string
	resumeMu     sync.Mutex
	resumes      int
}

// New creates a daemon. prefs and monitor may be nil, in which case sign-in
// changes or network transitions are not watched.
func New(coordinator tsync.Coordinator, p *prefs.Store, monitor *connectivity.Monitor, config *Config) (*Daemon, error) {
	if coordinator == nil {
		return nil, fmt.Errorf("coordinator cannot be nil")
	}
	def := DefaultConfig()
	if config == nil {
		config = def
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = def.DebounceInterval
	}
	if config.Logger == nil {
		config.Logger = def.Logger
	}

	return &Daemon{
		coordinator: coordinator,
		prefs:       p,
		monitor:     monitor,
		config:      config,
	}, nil
}

// WithDashboard serves srv while the daemon runs and feeds it through h.
func (d *Daemon) WithDashboard(srv *dashboard.Server, h *dashboard.Handler) *Daemon {
	d.dashboard = srv
	d.handler = h
	return d
}

// Run blocks until ctx is cancelled or a component fails.
func (d *Daemon) Run(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	var w *prefs.Watcher
	var user string
	if d.prefs != nil {
		var err error
		if w, err = prefs.NewWatcher(d.prefs); err != nil {
			return err
		}
		user = d.prefs.UserID()
		if err := w.Start(); err != nil {
			_ = w.Stop()
			return err
		}
		d.config.Logger.Printf("Watching: %s", d.prefs.Path())

		// The file may have changed between Open and the watch being added.
		if _, _, err := d.prefs.Reload(); err != nil {
			d.config.Logger.Printf("Warning: failed to reload prefs: %v", err)
		}
		if next := d.prefs.UserID(); next != user {
			d.logAccount(next)
			user = next
			d.queueResume("account changed")
		}
	}

	if d.dashboard != nil {
		if err := d.dashboard.Start(); err != nil {
			if w != nil {
				_ = w.Stop()
			}
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return d.coordinator.Run(gctx)
	})

	if w != nil {
		g.Go(func() error {
			return d.watchPrefs(gctx, w, user)
		})
	}

	if d.monitor != nil {
		g.Go(func() error {
			return d.monitor.Run(gctx)
		})
		g.Go(func() error {
			return d.watchNetwork(gctx)
		})
	}

	if d.dashboard != nil {
		g.Go(func() error {
			<-gctx.Done()
			return d.dashboard.Stop()
		})
		if d.handler != nil {
			g.Go(func() error {
				return d.handler.Run(gctx)
			})
		}
	}

	g.Go(func() error {
		d.processResumeQueue(gctx)
		return nil
	})

	err := g.Wait()
	d.config.Logger.Println("Daemon stopped")
	return err
}

// watchPrefs resumes sync whenever the signed-in user changes from user.
func (d *Daemon) watchPrefs(ctx context.Context, w *prefs.Watcher, user string) error {
	defer w.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case p, ok := <-w.Changes():
			if !ok {
				return nil
			}
			next := ""
			if p.LoggedIn {
				next = p.UserID
			}
			if next == user {
				continue
			}
			d.logAccount(next)
			user = next
			d.queueResume("account changed")

		case err, ok := <-w.Errors():
			if !ok {
				return nil
			}
			d.config.Logger.Printf("Prefs watcher error: %v", err)
		}
	}
}

func (d *Daemon) logAccount(user string) {
	if user == "" {
		d.config.Logger.Println("Signed out, sync paused")
	} else {
		d.config.Logger.Printf("Signed in as %s", user)
	}
}

// watchNetwork resumes sync when connectivity returns.
func (d *Daemon) watchNetwork(ctx context.Context) error {
	ch, cancel := d.monitor.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case online := <-ch:
			if online {
				d.queueResume("network online")
			}
		}
	}
}

// queueResume requests a resume with debouncing.
func (d *Daemon) queueResume(reason string) {
	d.resumeMu.Lock()
	defer d.resumeMu.Unlock()

	d.resumeAt = time.Now()
	d.resumeReason = reason
}

// processResumeQueue fires queued resumes once they have settled.
func (d *Daemon) processResumeQueue(ctx context.Context) {
	ticker := time.NewTicker(d.config.DebounceInterval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			d.processPendingResume()
		}
	}
}

func (d *Daemon) processPendingResume() {
	d.resumeMu.Lock()
	if d.resumeAt.IsZero() || time.Since(d.resumeAt) < d.config.DebounceInterval {
		d.resumeMu.Unlock()
		return
	}
	reason := d.resumeReason
	d.resumeAt = time.Time{}
	d.resumes++
	d.resumeMu.Unlock()

	d.config.Logger.Printf("Resuming sync (%s)", reason)
	d.coordinator.Resume()
}

// Resumes returns how many debounced resumes have fired.
func (d *Daemon) Resumes() int {
	d.resumeMu.Lock()
	defer d.resumeMu.Unlock()
	return d.resumes
}
