// Package firestore stores tasks in Cloud Firestore through its REST API.
//
// Layout:
//
//	users/{userId}                      profile document
//	tasks/{userId}/user_tasks/{taskId}  one document per task, keyed by RemoteID
//
// The backend talks to Firestore with google.golang.org/api/firestore/v1, so
// it works with production credentials, a signed-in user's ID token, or the
// local emulator.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	fs "google.golang.org/api/firestore/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/todosync/todosync/internal/remote"
	"github.com/todosync/todosync/internal/syncerr"
)

const (
	// DefaultDatabase is the database id Firestore creates for every project.
	DefaultDatabase = "(default)"

	tasksCollection     = "tasks"
	userTasksCollection = "user_tasks"
	usersCollection     = "users"
)

// Config holds Firestore connection settings.
type Config struct {
	ProjectID string
	Database  string

	// PageSize bounds each FetchAll request. Defaults to remote.DefaultPageSize.
	PageSize int

	// Endpoint overrides the API endpoint, e.g. "http://localhost:8080/" for
	// the emulator. Requests are then sent without authentication unless a
	// TokenSource is also set.
	Endpoint string

	// TokenSource authenticates requests. Typically the signed-in user's
	// Firebase ID token.
	TokenSource oauth2.TokenSource

	// CredentialsJSON holds service account credentials, used when no
	// TokenSource is set.
	CredentialsJSON []byte

	// HTTPClient replaces the transport entirely. Used by tests.
	HTTPClient *http.Client

	Logger *log.Logger
}

// Store is a remote.Store backed by Firestore.
type Store struct {
	docs     *fs.ProjectsDatabasesDocumentsService
	root     string // projects/{p}/databases/{db}/documents
	pageSize int64
	logger   *log.Logger
}

var (
	_ remote.Store        = (*Store)(nil)
	_ remote.ProfileStore = (*Store)(nil)
)

// New creates a Firestore-backed store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("firestore: project id is required")
	}
	if cfg.Database == "" {
		cfg.Database = DefaultDatabase
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = remote.DefaultPageSize
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[firestore] ", log.LstdFlags)
	}

	opts, err := clientOptions(ctx, cfg)
	if err != nil {
		return nil, err
	}

	svc, err := fs.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore service: %w", err)
	}

	return &Store{
		docs:     svc.Projects.Databases.Documents,
		root:     fmt.Sprintf("projects/%s/databases/%s/documents", cfg.ProjectID, cfg.Database),
		pageSize: int64(cfg.PageSize),
		logger:   cfg.Logger,
	}, nil
}

func clientOptions(ctx context.Context, cfg Config) ([]option.ClientOption, error) {
	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	switch {
	case cfg.HTTPClient != nil:
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	case cfg.TokenSource != nil:
		opts = append(opts, option.WithTokenSource(cfg.TokenSource))
	case len(cfg.CredentialsJSON) > 0:
		creds, err := google.CredentialsFromJSON(ctx, cfg.CredentialsJSON, fs.DatastoreScope)
		if err != nil {
			return nil, fmt.Errorf("failed to parse firestore credentials: %w", err)
		}
		opts = append(opts, option.WithCredentials(creds))
	case cfg.Endpoint != "":
		opts = append(opts, option.WithoutAuthentication())
	default:
		return nil, fmt.Errorf("firestore: no credentials configured")
	}
	return opts, nil
}

func (s *Store) collection(userID string) string {
	return fmt.Sprintf("%s/%s/%s", s.root, tasksCollection, userID)
}

func (s *Store) docName(userID, remoteID string) string {
	return fmt.Sprintf("%s/%s/%s", s.collection(userID), userTasksCollection, remoteID)
}

// FetchAll pages through the user's task collection.
func (s *Store) FetchAll(ctx context.Context, userID string) ([]remote.Document, error) {
	if userID == "" {
		return nil, syncerr.Permanent(remote.MethodFetchAll, 0, syncerr.ErrUnauthenticated)
	}

	var out []remote.Document
	pageToken := ""
	for {
		call := s.docs.List(s.collection(userID), userTasksCollection).
			PageSize(s.pageSize).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			return nil, classify(remote.MethodFetchAll, 0, err)
		}

		for _, d := range resp.Documents {
			doc, err := decodeDocument(d)
			if err != nil {
				// One bad document must not block the whole pull.
				s.logger.Printf("skipping %s: %v", d.Name, err)
				continue
			}
			out = append(out, doc)
		}

		if resp.NextPageToken == "" {
			return out, nil
		}
		pageToken = resp.NextPageToken
	}
}

// Push writes the whole document. Patch without a mask replaces the document
// or creates it, so repeating a push is harmless.
func (s *Store) Push(ctx context.Context, userID string, doc remote.Document) error {
	id := doc.Task.ID
	if userID == "" {
		return syncerr.Permanent(remote.MethodPush, id, syncerr.ErrUnauthenticated)
	}
	if doc.Task.RemoteID == "" {
		return syncerr.Permanent(remote.MethodPush, id, fmt.Errorf("%w: remote id is required", syncerr.ErrInvalid))
	}

	body := encodeDocument(doc)
	name := s.docName(userID, doc.Task.RemoteID)
	if _, err := s.docs.Patch(name, body).Context(ctx).Do(); err != nil {
		return classify(remote.MethodPush, id, err)
	}
	return nil
}

// Delete removes the document. Firestore treats deleting a missing document
// as success; a 404 is mapped to success as well.
func (s *Store) Delete(ctx context.Context, userID, remoteID string) error {
	if userID == "" {
		return syncerr.Permanent(remote.MethodDelete, 0, syncerr.ErrUnauthenticated)
	}
	_, err := s.docs.Delete(s.docName(userID, remoteID)).Context(ctx).Do()
	if err == nil {
		return nil
	}
	err = classify(remote.MethodDelete, 0, err)
	if syncerr.IsNotFound(err) {
		return nil
	}
	return err
}

// SaveProfile writes users/{userId}.
func (s *Store) SaveProfile(ctx context.Context, p remote.Profile) error {
	if p.UserID == "" {
		return syncerr.Permanent("SaveProfile", 0, syncerr.ErrUnauthenticated)
	}
	name := fmt.Sprintf("%s/%s/%s", s.root, usersCollection, p.UserID)
	body := &fs.Document{
		Fields: map[string]fs.Value{
			"userId":      stringValue(p.UserID),
			"email":       stringValue(p.Email),
			"displayName": stringValue(p.DisplayName),
		},
	}
	if _, err := s.docs.Patch(name, body).Context(ctx).Do(); err != nil {
		return classify("SaveProfile", 0, err)
	}
	return nil
}

// classify maps API errors onto the sync error taxonomy.
func classify(op string, taskID int64, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return syncerr.FromHTTPStatus(op, taskID, apiErr.Code, err)
	}
	return syncerr.New(op, taskID, syncerr.KindOf(err), err)
}
