package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/todosync/todosync/internal/auth"
	"github.com/todosync/todosync/internal/config"
	"github.com/todosync/todosync/internal/connectivity"
	"github.com/todosync/todosync/internal/local"
	"github.com/todosync/todosync/internal/prefs"
	"github.com/todosync/todosync/internal/remote"
	"github.com/todosync/todosync/internal/remote/firestore"
	"github.com/todosync/todosync/internal/remote/libsql"
	"github.com/todosync/todosync/internal/repository"
	tsync "github.com/todosync/todosync/internal/sync"
	"github.com/todosync/todosync/internal/ui"
)

// app holds what most commands need: the local store, prefs and session.
type app struct {
	store    *local.Store
	prefs    *prefs.Store
	sessions *auth.SessionFile
	closers  []func() error
}

func openApp(ctx context.Context) (*app, error) {
	p, err := prefs.Open(cfg.PrefsFile)
	if err != nil {
		return nil, err
	}
	ui.Init(p.Get().Theme)

	store, err := local.OpenContext(ctx, cfg.Database, local.Options{
		Driver: cfg.Driver,
		Logger: logs.Logger("local"),
	})
	if err != nil {
		return nil, err
	}

	return &app{
		store:    store,
		prefs:    p,
		sessions: auth.NewSessionFile(cfg.SessionFile),
		closers:  []func() error{store.Close},
	}, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

// repo returns a repository; status may be nil.
func (a *app) repo(status repository.StatusSource) *repository.Repository {
	return repository.New(a.store, status, logs.Logger("repository"))
}

func (a *app) authenticator(ctx context.Context) (auth.Authenticator, error) {
	if cfg.Backend == config.BackendFirestore {
		return a.firebase(ctx)
	}
	return auth.NewLocal(a.sessions), nil
}

func (a *app) firebase(ctx context.Context) (*auth.Firebase, error) {
	if cfg.Firestore.APIKey == "" {
		return nil, fmt.Errorf("firestore.api_key is required to sign in with Firebase")
	}
	return auth.NewFirebase(ctx, auth.FirebaseConfig{
		APIKey:   cfg.Firestore.APIKey,
		Endpoint: cfg.Firestore.AuthEndpoint,
		Logger:   logs.Logger("auth"),
	}, a.sessions)
}

// backend opens the configured remote store.
func (a *app) backend(ctx context.Context) (remote.Store, error) {
	switch cfg.Backend {
	case config.BackendFirestore:
		fc := firestore.Config{
			ProjectID: cfg.Firestore.ProjectID,
			Database:  cfg.Firestore.Database,
			Endpoint:  cfg.Firestore.Endpoint,
			Logger:    logs.Logger("firestore"),
		}
		switch {
		case cfg.Firestore.CredentialsFile != "":
			data, err := os.ReadFile(cfg.Firestore.CredentialsFile)
			if err != nil {
				return nil, fmt.Errorf("failed to read firestore credentials: %w", err)
			}
			fc.CredentialsJSON = data
		case cfg.Firestore.APIKey != "":
			fb, err := a.firebase(ctx)
			if err != nil {
				return nil, err
			}
			fc.TokenSource = fb.SessionTokenSource(ctx)
		}
		return firestore.New(ctx, fc)

	case config.BackendLibSQL:
		if libsqlDriver == "" {
			return nil, fmt.Errorf("the libsql backend needs a cgo build")
		}
		s, err := libsql.Open(ctx, libsqlDriver, cfg.LibSQL.DSN, libsql.Config{Logger: logs.Logger("libsql")})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		return s, nil

	default:
		return remote.NewMemory(), nil
	}
}

func (a *app) monitor() *connectivity.Monitor {
	mode, err := connectivity.ParseMode(cfg.Network.Mode)
	if err != nil {
		logs.Logger("net").Printf("Warning: %v, using auto", err)
	}
	return connectivity.New(&connectivity.Config{
		ProbeURL: cfg.Network.ProbeURL,
		Interval: cfg.Network.Interval,
		Mode:     mode,
		Logger:   logs.Logger("net"),
	})
}

// coordinator builds the sync coordinator against the configured backend.
func (a *app) coordinator(ctx context.Context, network tsync.Network) (tsync.Coordinator, error) {
	rs, err := a.backend(ctx)
	if err != nil {
		return nil, err
	}
	co, err := tsync.New(a.store, rs, tsync.IdentityFunc(a.prefs.UserID), network, &tsync.Config{
		DeviceID:       a.prefs.Get().DeviceID,
		Workers:        cfg.Sync.Workers,
		PullInterval:   cfg.Sync.PullInterval,
		InitialBackoff: cfg.Sync.InitialBackoff,
		MaxBackoff:     cfg.Sync.MaxBackoff,
		Logger:         logs.Logger("sync"),
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, co.Close)
	return co, nil
}

func withApp(fn func(cmd *cobra.Command, args []string, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd, args, a)
	}
}

func jsonOutput(cmd *cobra.Command) bool {
	on, _ := cmd.Flags().GetBool("json")
	return on
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// errNotSignedIn is returned by commands that need an account.
var errNotSignedIn = errors.New("not signed in (run 'todosync login')")
