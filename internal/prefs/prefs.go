// Package prefs stores per-device user settings in a small YAML or TOML file.
//
// The file is chosen by extension (.toml for TOML, anything else YAML). The
// sync core only reads it: the logged-in flag and user id gate syncing, and
// the device id breaks last-writer-wins ties.
package prefs

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Theme names.
const (
	ThemeSystem = "system"
	ThemeLight  = "light"
	ThemeDark   = "dark"
)

// Prefs holds user settings.
type Prefs struct {
	Theme              string `yaml:"theme" toml:"theme"`
	OnboardingComplete bool   `yaml:"onboarding_complete" toml:"onboarding_complete"`
	LoggedIn           bool   `yaml:"logged_in" toml:"logged_in"`
	UserID             string `yaml:"user_id,omitempty" toml:"user_id,omitempty"`
	Email              string `yaml:"email,omitempty" toml:"email,omitempty"`
	DeviceID           string `yaml:"device_id" toml:"device_id"`
}

// Validate checks field values.
func (p *Prefs) Validate() error {
	switch p.Theme {
	case ThemeSystem, ThemeLight, ThemeDark:
	default:
		return fmt.Errorf("invalid theme %q (want system, light or dark)", p.Theme)
	}
	if p.LoggedIn && p.UserID == "" {
		return fmt.Errorf("logged in without a user id")
	}
	return nil
}

// SetDefaults fills empty fields.
func (p *Prefs) SetDefaults() {
	if p.Theme == "" {
		p.Theme = ThemeSystem
	}
	if p.DeviceID == "" {
		p.DeviceID = uuid.NewString()
	}
}

// Store is a prefs file with an in-memory copy.
type Store struct {
	path string
	mu   sync.RWMutex
	cur  Prefs
}

// Open loads the prefs file at path, creating it with defaults if missing.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	p, err := s.read()
	if errors.Is(err, os.ErrNotExist) {
		p.SetDefaults()
		if err := s.write(p); err != nil {
			return nil, err
		}
		s.cur = p
		return s, nil
	}
	if err != nil {
		return nil, err
	}

	needsWrite := p.DeviceID == ""
	p.SetDefaults()
	if needsWrite {
		if err := s.write(p); err != nil {
			return nil, err
		}
	}
	s.cur = p
	return s, nil
}

// Path returns the file path.
func (s *Store) Path() string {
	return s.path
}

// Get returns a copy of the current prefs.
func (s *Store) Get() Prefs {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// UserID returns the signed-in user's id, or "" when logged out.
func (s *Store) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.cur.LoggedIn {
		return ""
	}
	return s.cur.UserID
}

// Update applies fn to a copy of the prefs, validates and saves it.
func (s *Store) Update(fn func(*Prefs)) (Prefs, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cur
	fn(&next)
	next.SetDefaults()
	if err := next.Validate(); err != nil {
		return s.cur, err
	}
	if err := s.write(next); err != nil {
		return s.cur, err
	}
	s.cur = next
	return next, nil
}

// Reload re-reads the file, keeping the in-memory copy if the file is
// unreadable or invalid. Reports whether anything changed.
func (s *Store) Reload() (Prefs, bool, error) {
	p, err := s.read()
	if err != nil {
		return s.Get(), false, err
	}
	p.SetDefaults()
	if err := p.Validate(); err != nil {
		return s.Get(), false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	changed := p != s.cur
	s.cur = p
	return p, changed, nil
}

func (s *Store) isTOML() bool {
	return strings.EqualFold(filepath.Ext(s.path), ".toml")
}

func (s *Store) read() (Prefs, error) {
	var p Prefs
	data, err := os.ReadFile(s.path)
	if err != nil {
		return p, err
	}
	if s.isTOML() {
		if _, err := toml.Decode(string(data), &p); err != nil {
			return p, fmt.Errorf("failed to parse %s: %w", s.path, err)
		}
		return p, nil
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("failed to parse %s: %w", s.path, err)
	}
	return p, nil
}

// write saves atomically through a temp file in the same directory.
func (s *Store) write(p Prefs) error {
	var buf bytes.Buffer
	if s.isTOML() {
		if err := toml.NewEncoder(&buf).Encode(p); err != nil {
			return fmt.Errorf("failed to encode prefs: %w", err)
		}
	} else {
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(p); err != nil {
			return fmt.Errorf("failed to encode prefs: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("failed to encode prefs: %w", err)
		}
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create prefs directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".prefs-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write prefs: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write prefs: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace prefs file: %w", err)
	}
	return nil
}
