// Package remote defines the per-user cloud mirror of the task list.
//
// Backends store one document per task, keyed by the task's RemoteID, under
// a collection owned by the user. Push is an idempotent upsert and Delete of a
// missing document succeeds, so the sync coordinator can retry freely.
//
// Failures are returned as *syncerr.Error values carrying a Kind; backends
// never panic on network or auth problems.
package remote

import (
	"context"

	"github.com/todosync/todosync/internal/task"
)

// DefaultPageSize is used by backends that page through FetchAll.
const DefaultPageSize = 300

// Document is a task as stored remotely.
//
// Only content fields, RemoteID, CreatedAt and UpdatedAt travel. DeviceID
// names the device that wrote the document; it breaks last-writer-wins ties.
type Document struct {
	Task     task.Task `json:"task"`
	DeviceID string    `json:"device_id"`
}

// Store is a remote task collection.
type Store interface {
	// FetchAll returns every document the user owns.
	FetchAll(ctx context.Context, userID string) ([]Document, error)

	// Push upserts the document keyed by doc.Task.RemoteID.
	Push(ctx context.Context, userID string, doc Document) error

	// Delete removes the document. Deleting a missing document is not an error.
	Delete(ctx context.Context, userID, remoteID string) error
}

// Profile is the user record kept next to the task collection.
type Profile struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
}

// ProfileStore is implemented by backends that also keep user profiles.
type ProfileStore interface {
	SaveProfile(ctx context.Context, p Profile) error
}

// Strip returns a copy of t holding only the fields that travel remotely.
func Strip(t task.Task) task.Task {
	return task.Task{
		RemoteID:    t.RemoteID,
		Name:        t.Name,
		Description: t.Description,
		StartAt:     t.StartAt,
		EndAt:       t.EndAt,
		Category:    t.Category,
		IsComplete:  t.IsComplete,
		CompletedAt: t.CompletedAt,
		UpdatedAt:   t.UpdatedAt,
		CreatedAt:   t.CreatedAt,
	}
}
