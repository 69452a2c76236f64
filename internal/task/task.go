// Package task defines the task record shared by the local store, the remote
// backends and the sync coordinator.
package task

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxNameLength bounds the task name.
const MaxNameLength = 500

// Category is an embedded value object, stored alongside the task rather than
// referenced by key.
type Category struct {
	Name string `json:"name"`
}

// Task is the to-do record.
//
// Content fields (Name through CompletedAt) travel to the remote collection.
// The remaining fields are local sync bookkeeping.
type Task struct {
	// ===== Identity =====
	ID       int64  `json:"id,omitempty"`        // Local id, zero before the first save
	RemoteID string `json:"remote_id,omitempty"` // Document key in the remote collection

	// ===== Content =====
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	StartAt     *time.Time `json:"start_at,omitempty"`
	EndAt       *time.Time `json:"end_at,omitempty"`
	Category    *Category  `json:"category,omitempty"`
	IsComplete  bool       `json:"is_complete"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// ===== Sync bookkeeping =====
	IsSynced        bool   `json:"is_synced"`
	SyncState       State  `json:"sync_state,omitempty"`
	Version         int64  `json:"version,omitempty"`           // +1 on every local write
	UpdatedAt       int64  `json:"updated_at,omitempty"`        // Monotonic modification time, unix nanos
	RemoteUpdatedAt int64  `json:"remote_updated_at,omitempty"` // UpdatedAt of the last confirmed remote write
	SyncError       string `json:"sync_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Validate checks if the task has valid field values.
func (t *Task) Validate() error {
	name := strings.TrimSpace(t.Name)
	if name == "" {
		return fmt.Errorf("name is required")
	}
	if len(t.Name) > MaxNameLength {
		return fmt.Errorf("name must be %d characters or less (got %d)", MaxNameLength, len(t.Name))
	}
	if t.StartAt != nil && t.EndAt != nil && t.EndAt.Before(*t.StartAt) {
		return fmt.Errorf("end must not be before start")
	}
	if t.Category != nil && strings.TrimSpace(t.Category.Name) == "" {
		return fmt.Errorf("category name must not be empty")
	}
	if t.SyncState != "" && !t.SyncState.Valid() {
		return fmt.Errorf("unknown sync state %q", t.SyncState)
	}
	return nil
}

// SetDefaults applies default values for fields the caller left empty.
func (t *Task) SetDefaults() {
	if t.RemoteID == "" {
		t.RemoteID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.SyncState == "" {
		t.SyncState = StateLocalOnly
	}
	if t.IsComplete && t.CompletedAt == nil {
		now := time.Now().UTC()
		t.CompletedAt = &now
	}
}

// Matches reports whether query is a case-insensitive substring of the name
// or the description. An empty query matches everything.
func (t *Task) Matches(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	return strings.Contains(strings.ToLower(t.Name), q) ||
		strings.Contains(strings.ToLower(t.Description), q)
}

// SameContent reports whether both tasks carry the same user-visible content.
// Sync bookkeeping is ignored.
func SameContent(a, b Task) bool {
	return a.Name == b.Name &&
		a.Description == b.Description &&
		equalTime(a.StartAt, b.StartAt) &&
		equalTime(a.EndAt, b.EndAt) &&
		equalCategory(a.Category, b.Category) &&
		a.IsComplete == b.IsComplete &&
		equalTime(a.CompletedAt, b.CompletedAt)
}

// NextUpdatedAt returns a modification timestamp strictly greater than prev.
// The wall clock is used when it is ahead; otherwise prev+1 keeps the sequence
// monotonic when the clock stalls or steps backwards.
func NextUpdatedAt(prev int64, now time.Time) int64 {
	ts := now.UnixNano()
	if ts <= prev {
		return prev + 1
	}
	return ts
}

func equalTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func equalCategory(a, b *Category) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Name == b.Name
}
