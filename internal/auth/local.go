package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"

	"github.com/todosync/todosync/internal/syncerr"
)

// Local signs users in without a server. The user id is a name-based UUID
// of the email, so every device using the same email shares a collection.
// It suits the libSQL and in-memory backends, which do no auth of their own.
type Local struct {
	sessions *SessionFile
}

var _ Authenticator = (*Local)(nil)

// NewLocal creates the authenticator.
func NewLocal(sessions *SessionFile) *Local {
	return &Local{sessions: sessions}
}

// UserIDFor returns the id Local assigns to email.
func UserIDFor(email string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("todosync:"+strings.ToLower(strings.TrimSpace(email)))).String()
}

// Login implements Authenticator.
func (l *Local) Login(ctx context.Context, email, password string) (*Session, error) {
	return l.signIn("Login", email, password, "")
}

// Register implements Authenticator.
func (l *Local) Register(ctx context.Context, email, password, displayName string) (*Session, error) {
	return l.signIn("Register", email, password, displayName)
}

func (l *Local) signIn(op, email, password, displayName string) (*Session, error) {
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return nil, syncerr.Permanent(op, 0, fmt.Errorf("%w: invalid email %q", syncerr.ErrUnauthenticated, email))
	}
	if password == "" {
		return nil, syncerr.Permanent(op, 0, fmt.Errorf("%w: password is required", syncerr.ErrUnauthenticated))
	}

	s := &Session{
		UserID:      UserIDFor(addr.Address),
		Email:       addr.Address,
		DisplayName: displayName,
	}
	if err := l.sessions.Save(s); err != nil {
		return nil, err
	}
	return s, nil
}

// ResetPassword is not available for local accounts.
func (l *Local) ResetPassword(ctx context.Context, email string) error {
	return syncerr.Permanent("ResetPassword", 0, errors.New("password reset is not available for local accounts"))
}

// Logout implements Authenticator.
func (l *Local) Logout(ctx context.Context) error {
	return l.sessions.Remove()
}
