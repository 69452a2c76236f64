package remote

import (
	"context"
	"errors"
	"fmt"
	"sort"
	gosync "sync"
	"sync/atomic"

	"github.com/todosync/todosync/internal/syncerr"
)

// Method names passed to an Interceptor.
const (
	MethodFetchAll = "FetchAll"
	MethodPush     = "Push"
	MethodDelete   = "Delete"
)

// Interceptor runs before every Memory call. A non-nil error fails the call
// without touching the stored documents.
type Interceptor func(ctx context.Context, method, userID, remoteID string) error

// Memory is an in-process Store. It backs tests and offline demos.
type Memory struct {
	mu       gosync.RWMutex
	docs     map[string]map[string]Document // userID -> remoteID -> doc
	profiles map[string]Profile

	intercept atomic.Pointer[Interceptor]

	pushes  atomic.Int64
	deletes atomic.Int64
	fetches atomic.Int64
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		docs:     make(map[string]map[string]Document),
		profiles: make(map[string]Profile),
	}
}

// Intercept installs fn as the call hook. Pass nil to remove it.
func (m *Memory) Intercept(fn Interceptor) {
	if fn == nil {
		m.intercept.Store(nil)
		return
	}
	m.intercept.Store(&fn)
}

func (m *Memory) before(ctx context.Context, method, userID, remoteID string) error {
	if err := ctx.Err(); err != nil {
		return syncerr.Transient(method, 0, err)
	}
	if userID == "" {
		return syncerr.Permanent(method, 0, syncerr.ErrUnauthenticated)
	}
	if p := m.intercept.Load(); p != nil {
		if err := (*p)(ctx, method, userID, remoteID); err != nil {
			var e *syncerr.Error
			if errors.As(err, &e) {
				return err
			}
			return syncerr.New(method, 0, syncerr.KindOf(err), err)
		}
	}
	return nil
}

// FetchAll returns the user's documents ordered by remote id.
func (m *Memory) FetchAll(ctx context.Context, userID string) ([]Document, error) {
	m.fetches.Add(1)
	if err := m.before(ctx, MethodFetchAll, userID, ""); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Document, 0, len(m.docs[userID]))
	for _, d := range m.docs[userID] {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Task.RemoteID < out[j].Task.RemoteID
	})
	return out, nil
}

// Push upserts the document.
func (m *Memory) Push(ctx context.Context, userID string, doc Document) error {
	m.pushes.Add(1)
	if doc.Task.RemoteID == "" {
		return syncerr.Permanent(MethodPush, doc.Task.ID, fmt.Errorf("%w: remote id is required", syncerr.ErrInvalid))
	}
	if err := m.before(ctx, MethodPush, userID, doc.Task.RemoteID); err != nil {
		return err
	}

	doc.Task = Strip(doc.Task)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.docs[userID] == nil {
		m.docs[userID] = make(map[string]Document)
	}
	m.docs[userID][doc.Task.RemoteID] = doc
	return nil
}

// Delete removes the document if present.
func (m *Memory) Delete(ctx context.Context, userID, remoteID string) error {
	m.deletes.Add(1)
	if err := m.before(ctx, MethodDelete, userID, remoteID); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs[userID], remoteID)
	return nil
}

// SaveProfile stores the user's profile.
func (m *Memory) SaveProfile(ctx context.Context, p Profile) error {
	if err := ctx.Err(); err != nil {
		return syncerr.Transient("SaveProfile", 0, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.UserID] = p
	return nil
}

// Get returns a single document, for inspection in tests and tools.
func (m *Memory) Get(userID, remoteID string) (Document, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[userID][remoteID]
	return d, ok
}

// Put stores a document directly, bypassing the interceptor and counters.
// It simulates a write made by another device.
func (m *Memory) Put(userID string, doc Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.docs[userID] == nil {
		m.docs[userID] = make(map[string]Document)
	}
	doc.Task = Strip(doc.Task)
	m.docs[userID][doc.Task.RemoteID] = doc
}

// Remove deletes a document directly, simulating a delete on another device.
func (m *Memory) Remove(userID, remoteID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs[userID], remoteID)
}

// Len returns the number of documents the user owns.
func (m *Memory) Len(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs[userID])
}

// Pushes returns how many Push calls were made, including failed ones.
func (m *Memory) Pushes() int64 { return m.pushes.Load() }

// Deletes returns how many Delete calls were made, including failed ones.
func (m *Memory) Deletes() int64 { return m.deletes.Load() }

// Fetches returns how many FetchAll calls were made, including failed ones.
func (m *Memory) Fetches() int64 { return m.fetches.Load() }
