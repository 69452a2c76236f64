// Package auth signs users in and keeps their session on disk.
//
// Two authenticators exist: Firebase, which talks to the Identity Toolkit
// API and yields tokens the Firestore backend accepts, and Local, which
// derives a stable user id from the email for self-hosted backends.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/oauth2"
)

// Session is a signed-in user.
type Session struct {
	UserID      string        `json:"user_id"`
	Email       string        `json:"email"`
	DisplayName string        `json:"display_name,omitempty"`
	Token       *oauth2.Token `json:"token,omitempty"`
}

// Authenticator signs users in and out.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*Session, error)
	Register(ctx context.Context, email, password, displayName string) (*Session, error)
	ResetPassword(ctx context.Context, email string) error
	Logout(ctx context.Context) error
}

// SessionFile persists the current session as JSON with 0600 permissions.
type SessionFile struct {
	path string
	mu   sync.Mutex
}

// NewSessionFile returns a session file at path.
func NewSessionFile(path string) *SessionFile {
	return &SessionFile{path: path}
}

// Load reads the session. A missing file yields ErrNoSession.
func (f *SessionFile) Load() (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse session: %w", err)
	}
	return &s, nil
}

// Save writes the session.
func (f *SessionFile) Save(s *Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	if err := os.WriteFile(f.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	return nil
}

// Remove deletes the session. Removing a missing session is not an error.
func (f *SessionFile) Remove() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove session: %w", err)
	}
	return nil
}

// ErrNoSession is returned by Load when nobody is signed in.
var ErrNoSession = errors.New("no session")

// persistingSource saves every refreshed token back to the session file.
type persistingSource struct {
	base    oauth2.TokenSource
	file    *SessionFile
	session Session

	mu   sync.Mutex
	last string
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if tok.AccessToken != p.last {
		p.last = tok.AccessToken
		p.session.Token = tok
		if p.file != nil {
			if err := p.file.Save(&p.session); err != nil {
				return nil, err
			}
		}
	}
	return tok, nil
}
