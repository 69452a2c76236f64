// Package connectivity tracks whether the device can reach the network.
//
// A Monitor probes a URL on an interval and publishes online/offline
// transitions to subscribers. A manual override pins the state, which is how
// the CLI's --offline flag and tests drive it.
package connectivity

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultProbeURL answers 204 and is cheap to hit.
const DefaultProbeURL = "https://www.gstatic.com/generate_204"

// Mode selects how Online is decided.
type Mode int32

const (
	// ModeAuto follows the last probe result.
	ModeAuto Mode = iota
	// ModeOnline always reports online.
	ModeOnline
	// ModeOffline always reports offline.
	ModeOffline
)

// ParseMode parses "auto", "online" or "offline".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "auto":
		return ModeAuto, nil
	case "online":
		return ModeOnline, nil
	case "offline":
		return ModeOffline, nil
	default:
		return ModeAuto, fmt.Errorf("unknown connectivity mode %q", s)
	}
}

// Config holds monitor settings.
type Config struct {
	// ProbeURL is requested with HEAD. Any HTTP response counts as online.
	ProbeURL string

	// Interval between probes.
	Interval time.Duration

	// Timeout bounds a single probe.
	Timeout time.Duration

	// Mode is the initial override.
	Mode Mode

	Client *http.Client
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ProbeURL: DefaultProbeURL,
		Interval: 30 * time.Second,
		Timeout:  5 * time.Second,
		Logger:   log.New(os.Stderr, "[net] ", log.LstdFlags),
	}
}

// Monitor reports connectivity. The zero probe state is online so a fresh
// monitor does not hold back sync before its first probe.
type Monitor struct {
	cfg    Config
	client *http.Client
	logger *log.Logger

	mode  atomic.Int32
	probe atomic.Bool

	mu   sync.Mutex
	last bool
	subs map[chan bool]struct{}
}

// New creates a monitor. A nil config uses DefaultConfig.
func New(config *Config) *Monitor {
	def := DefaultConfig()
	if config == nil {
		config = def
	}
	cfg := *config
	if cfg.ProbeURL == "" {
		cfg.ProbeURL = def.ProbeURL
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	m := &Monitor{
		cfg:    cfg,
		client: client,
		logger: cfg.Logger,
		subs:   make(map[chan bool]struct{}),
	}
	m.probe.Store(true)
	m.mode.Store(int32(cfg.Mode))
	m.last = m.Online()
	return m
}

// Online reports the current state.
func (m *Monitor) Online() bool {
	switch Mode(m.mode.Load()) {
	case ModeOnline:
		return true
	case ModeOffline:
		return false
	default:
		return m.probe.Load()
	}
}

// Mode returns the current override.
func (m *Monitor) Mode() Mode {
	return Mode(m.mode.Load())
}

// SetMode changes the override and publishes any resulting transition.
func (m *Monitor) SetMode(mode Mode) {
	m.mode.Store(int32(mode))
	m.publish()
}

// Probe checks the network once, records the result and returns it.
func (m *Monitor) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	ok := false
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.cfg.ProbeURL, nil)
	if err == nil {
		resp, err := m.client.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			ok = true
		}
	}
	m.probe.Store(ok)
	m.publish()
	return ok
}

// Run probes on the configured interval until ctx is canceled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}

// Subscribe returns a channel receiving the new state on every transition,
// and a function that cancels the subscription. Slow readers miss
// intermediate states but always see the latest one.
func (m *Monitor) Subscribe() (<-chan bool, func()) {
	ch := make(chan bool, 1)
	m.mu.Lock()
	m.subs[ch] = struct{}{}
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, ch)
			m.mu.Unlock()
		})
	}
}

func (m *Monitor) publish() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.Online()
	if now == m.last {
		return
	}
	m.last = now
	if now {
		m.logger.Println("Network is back online")
	} else {
		m.logger.Println("Network is offline")
	}

	for ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		ch <- now
	}
}
