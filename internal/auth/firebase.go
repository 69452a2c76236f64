package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/identitytoolkit/v3"
	"google.golang.org/api/option"

	"github.com/todosync/todosync/internal/syncerr"
)

// DefaultTokenURL refreshes Firebase ID tokens.
const DefaultTokenURL = "https://securetoken.googleapis.com/v1/token"

// FirebaseConfig configures the Firebase authenticator.
type FirebaseConfig struct {
	// APIKey is the Firebase web API key.
	APIKey string

	// Endpoint overrides the Identity Toolkit base URL (emulator, tests).
	Endpoint string

	// TokenURL overrides DefaultTokenURL.
	TokenURL string

	Logger *log.Logger
}

// Firebase authenticates against Firebase Auth through the Identity
// Toolkit API.
type Firebase struct {
	svc      *identitytoolkit.Service
	cfg      FirebaseConfig
	sessions *SessionFile
	logger   *log.Logger
}

var _ Authenticator = (*Firebase)(nil)

// NewFirebase creates the authenticator. Sessions are saved to sessions.
func NewFirebase(ctx context.Context, cfg FirebaseConfig, sessions *SessionFile) (*Firebase, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("firebase api key is required")
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[auth] ", log.LstdFlags)
	}

	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	svc, err := identitytoolkit.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create identity toolkit client: %w", err)
	}

	return &Firebase{svc: svc, cfg: cfg, sessions: sessions, logger: cfg.Logger}, nil
}

// Login signs in with email and password.
func (f *Firebase) Login(ctx context.Context, email, password string) (*Session, error) {
	resp, err := f.svc.Relyingparty.VerifyPassword(&identitytoolkit.IdentitytoolkitRelyingpartyVerifyPasswordRequest{
		Email:             email,
		Password:          password,
		ReturnSecureToken: true,
	}).Context(ctx).Do()
	if err != nil {
		return nil, classify("Login", err)
	}

	s := &Session{
		UserID:      resp.LocalId,
		Email:       resp.Email,
		DisplayName: resp.DisplayName,
		Token:       idToken(resp.IdToken, resp.RefreshToken, resp.ExpiresIn),
	}
	if err := f.sessions.Save(s); err != nil {
		return nil, err
	}
	f.logger.Printf("Signed in as %s", s.Email)
	return s, nil
}

// Register creates an account and signs it in.
func (f *Firebase) Register(ctx context.Context, email, password, displayName string) (*Session, error) {
	resp, err := f.svc.Relyingparty.SignupNewUser(&identitytoolkit.IdentitytoolkitRelyingpartySignupNewUserRequest{
		Email:       email,
		Password:    password,
		DisplayName: displayName,
	}).Context(ctx).Do()
	if err != nil {
		return nil, classify("Register", err)
	}

	s := &Session{
		UserID:      resp.LocalId,
		Email:       resp.Email,
		DisplayName: resp.DisplayName,
		Token:       idToken(resp.IdToken, resp.RefreshToken, resp.ExpiresIn),
	}
	if s.DisplayName == "" {
		s.DisplayName = displayName
	}
	if err := f.sessions.Save(s); err != nil {
		return nil, err
	}
	f.logger.Printf("Registered %s", s.Email)
	return s, nil
}

// ResetPassword sends a password reset email.
func (f *Firebase) ResetPassword(ctx context.Context, email string) error {
	_, err := f.svc.Relyingparty.GetOobConfirmationCode(&identitytoolkit.Relyingparty{
		Email:       email,
		RequestType: "PASSWORD_RESET",
	}).Context(ctx).Do()
	if err != nil {
		return classify("ResetPassword", err)
	}
	return nil
}

// Logout forgets the saved session.
func (f *Firebase) Logout(ctx context.Context) error {
	return f.sessions.Remove()
}

// TokenSource returns a source of ID tokens for the session, refreshing
// through the secure token endpoint and saving refreshed tokens.
func (f *Firebase) TokenSource(ctx context.Context, s *Session) oauth2.TokenSource {
	conf := &oauth2.Config{
		Endpoint: oauth2.Endpoint{
			TokenURL:  f.cfg.TokenURL + "?key=" + f.cfg.APIKey,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	ps := &persistingSource{
		base:    conf.TokenSource(ctx, s.Token),
		file:    f.sessions,
		session: *s,
	}
	if s.Token != nil {
		ps.last = s.Token.AccessToken
	}
	return ps
}

func idToken(id, refresh string, expiresIn int64) *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  id,
		RefreshToken: refresh,
		TokenType:    "Bearer",
	}
	if expiresIn > 0 {
		tok.Expiry = time.Now().Add(time.Duration(expiresIn) * time.Second)
	}
	return tok
}

// classify maps Identity Toolkit failures. A 400 carries messages such as
// INVALID_PASSWORD or EMAIL_EXISTS and is a credential problem.
func classify(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code == http.StatusBadRequest {
			return syncerr.Permanent(op, 0, fmt.Errorf("%w: %s", syncerr.ErrUnauthenticated, gerr.Message))
		}
		return syncerr.FromHTTPStatus(op, 0, gerr.Code, err)
	}
	return syncerr.Transient(op, 0, err)
}

// SessionTokenSource returns a token source that follows the saved session,
// so a long-running process picks up sign-ins made by other commands.
func (f *Firebase) SessionTokenSource(ctx context.Context) oauth2.TokenSource {
	return &sessionSource{ctx: ctx, fb: f}
}

type sessionSource struct {
	ctx context.Context
	fb  *Firebase

	mu      sync.Mutex
	user    string
	refresh string
	src     oauth2.TokenSource
}

func (s *sessionSource) Token() (*oauth2.Token, error) {
	sess, err := s.fb.sessions.Load()
	if errors.Is(err, ErrNoSession) || (err == nil && sess.Token == nil) {
		return nil, syncerr.Permanent("Token", 0, syncerr.ErrUnauthenticated)
	}
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.src == nil || s.user != sess.UserID || s.refresh != sess.Token.RefreshToken {
		s.src = s.fb.TokenSource(s.ctx, sess)
		s.user = sess.UserID
		s.refresh = sess.Token.RefreshToken
	}
	return s.src.Token()
}
