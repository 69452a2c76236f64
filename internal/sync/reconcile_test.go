package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/todosync/todosync/internal/remote"
	"github.com/todosync/todosync/internal/syncerr"
	"github.com/todosync/todosync/internal/task"
)

// remoteEdit simulates another device editing the task at the given time.
func (h *harness) remoteEdit(user string, tk task.Task, name string, at time.Time, device string) {
	h.t.Helper()
	edited := tk
	edited.Name = name
	edited.UpdatedAt = at.UnixNano()
	h.remote.Put(user, remote.Document{Task: edited, DeviceID: device})
}

func TestReconcile_InsertsRemoteTasks(t *testing.T) {
	h := newHarness(t)
	h.remote.Put("u1", remote.Document{
		Task:     task.Task{RemoteID: "r-phone", Name: "Call mom", UpdatedAt: 100},
		DeviceID: "phone",
	})

	h.syncOnce()

	got, err := h.store.GetByRemoteID(context.Background(), "r-phone")
	if err != nil {
		t.Fatalf("GetByRemoteID() failed: %v", err)
	}
	if got.Name != "Call mom" || !got.IsSynced || got.RemoteUpdatedAt != 100 {
		t.Errorf("pulled task = %+v", got)
	}
	if n := h.remote.Pushes(); n != 0 {
		t.Errorf("pulled task pushed back %d times", n)
	}

	// A second pass is a no-op.
	h.syncOnce()
	tasks, _ := h.store.List()
	if len(tasks) != 1 {
		t.Errorf("tasks after second sync = %d, want 1", len(tasks))
	}
}

func TestReconcile_AppliesRemoteEditToSyncedTask(t *testing.T) {
	h := newHarness(t)
	tk := h.upsert(task.Task{Name: "Buy milk"})
	h.syncOnce()
	tk = h.get(tk.ID)

	h.remoteEdit("u1", tk, "Buy bread", h.clock.Now().Add(time.Minute), "phone")
	h.syncOnce()

	got := h.get(tk.ID)
	if got.Name != "Buy bread" || !got.IsSynced {
		t.Errorf("local = %+v, want synced Buy bread", got)
	}
	if st := h.c.Stats(); st.Conflicts != 0 {
		t.Errorf("Stats().Conflicts = %d, want 0", st.Conflicts)
	}
}

func TestReconcile_Conflicts(t *testing.T) {
	tests := []struct {
		name       string
		remoteLag  time.Duration // remote edit time relative to the local edit
		wantName   string
		wantPushes int64
	}{
		{name: "remote newer wins", remoteLag: 30 * time.Second, wantName: "remote edit", wantPushes: 1},
		{name: "local newer wins", remoteLag: -30 * time.Second, wantName: "local edit", wantPushes: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tk := h.upsert(task.Task{Name: "original"})
			h.syncOnce()
			base := h.get(tk.ID)

			// T1: local edit, not yet pushed.
			h.clock.Advance(time.Minute)
			edited := base
			edited.Name = "local edit"
			edited = h.upsert(edited)
			t1 := time.Unix(0, edited.UpdatedAt)

			// T2: another device's edit of the same task.
			h.remoteEdit("u1", base, "remote edit", t1.Add(tt.remoteLag), "device-b")

			h.syncOnce()

			got := h.get(tk.ID)
			if got.Name != tt.wantName {
				t.Errorf("local name = %q, want %q", got.Name, tt.wantName)
			}
			if !got.IsSynced || got.SyncState != task.StateSynced {
				t.Errorf("local state = %s synced=%v, want synced", got.SyncState, got.IsSynced)
			}
			doc, _ := h.remote.Get("u1", tk.RemoteID)
			if doc.Task.Name != tt.wantName {
				t.Errorf("remote name = %q, want %q", doc.Task.Name, tt.wantName)
			}
			if n := h.remote.Pushes(); n != tt.wantPushes {
				t.Errorf("push attempts = %d, want %d", n, tt.wantPushes)
			}
			if st := h.c.Stats(); st.Conflicts != 1 {
				t.Errorf("Stats().Conflicts = %d, want 1", st.Conflicts)
			}
		})
	}
}

func TestRemoteWins(t *testing.T) {
	local := task.Task{UpdatedAt: 10}
	tests := []struct {
		name   string
		remote int64
		device string
		want   bool
	}{
		{"remote newer", 11, "a", true},
		{"local newer", 9, "z", false},
		{"tie larger remote device", 10, "device-b", true},
		{"tie smaller remote device", 10, "device-0", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := remote.Document{Task: task.Task{UpdatedAt: tt.remote}, DeviceID: tt.device}
			if got := remoteWins(local, doc, "device-a"); got != tt.want {
				t.Errorf("remoteWins() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReconcile_RemovesTasksDeletedRemotely(t *testing.T) {
	h := newHarness(t)
	keep := h.upsert(task.Task{Name: "keep"})
	gone := h.upsert(task.Task{Name: "gone"})
	h.syncOnce()

	h.remote.Remove("u1", gone.RemoteID)
	h.syncOnce()

	if _, err := h.store.Get(gone.ID); !errors.Is(err, syncerr.ErrNotFound) {
		t.Errorf("Get(gone) = %v, want ErrNotFound", err)
	}
	if _, err := h.store.Get(keep.ID); err != nil {
		t.Errorf("Get(keep) failed: %v", err)
	}
	if st := h.c.Stats(); st.Removed != 1 {
		t.Errorf("Stats().Removed = %d, want 1", st.Removed)
	}
}

func TestReconcile_KeepsUnsyncedEditOfRemotelyDeletedTask(t *testing.T) {
	h := newHarness(t)
	tk := h.upsert(task.Task{Name: "draft"})
	h.syncOnce()

	tk = h.get(tk.ID)
	tk.Name = "draft v2"
	h.upsert(tk)
	h.remote.Remove("u1", tk.RemoteID)

	h.syncOnce()

	got := h.get(tk.ID)
	if got.Name != "draft v2" || !got.IsSynced {
		t.Errorf("local = %+v, want synced draft v2", got)
	}
	if _, ok := h.remote.Get("u1", tk.RemoteID); !ok {
		t.Error("local edit was not pushed back")
	}
}

func TestReconcile_TombstoneBeatsRemoteEdit(t *testing.T) {
	h := newHarness(t)
	tk := h.upsert(task.Task{Name: "to delete"})
	h.syncOnce()
	tk = h.get(tk.ID)

	if err := h.store.Delete(tk.ID); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	h.remoteEdit("u1", tk, "edited elsewhere", h.clock.Now().Add(time.Hour), "phone")

	h.syncOnce()

	if _, err := h.store.GetByRemoteID(context.Background(), tk.RemoteID); !errors.Is(err, syncerr.ErrNotFound) {
		t.Errorf("deleted task came back: %v", err)
	}
	if _, ok := h.remote.Get("u1", tk.RemoteID); ok {
		t.Error("remote copy not deleted")
	}
}

func TestReconcile_OwnerSwitch(t *testing.T) {
	h := newHarness(t)
	h.upsert(task.Task{Name: "a"})
	h.upsert(task.Task{Name: "b"})
	h.syncOnce()
	if n := h.remote.Len("u1"); n != 2 {
		t.Fatalf("u1 documents = %d, want 2", n)
	}

	h.remote.Put("u2", remote.Document{
		Task:     task.Task{RemoteID: "u2-task", Name: "c", UpdatedAt: 5},
		DeviceID: "phone",
	})
	h.setUser("u2")
	h.syncOnce()

	if n := h.remote.Len("u2"); n != 3 {
		t.Errorf("u2 documents = %d, want 3", n)
	}
	if n := h.remote.Len("u1"); n != 2 {
		t.Errorf("u1 documents = %d, want 2 (untouched)", n)
	}
	tasks, err := h.store.List()
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("local tasks = %d, want 3", len(tasks))
	}
	for _, tk := range tasks {
		if !tk.IsSynced {
			t.Errorf("task %q not synced after owner switch", tk.Name)
		}
	}
	owner, _ := h.store.Owner(context.Background())
	if owner != "u2" {
		t.Errorf("Owner() = %q, want u2", owner)
	}
}

func TestReconcile_FetchFailure(t *testing.T) {
	h := newHarness(t)
	h.remote.Intercept(func(ctx context.Context, method, userID, remoteID string) error {
		if method == remote.MethodFetchAll {
			return syncerr.Transient(method, 0, errors.New("timeout"))
		}
		return nil
	})

	err := h.c.Reconcile(context.Background())
	if !syncerr.IsRetryable(err) {
		t.Errorf("Reconcile() = %v, want retryable", err)
	}
	if st := h.c.Stats(); !st.LastPull.IsZero() {
		t.Error("LastPull set after a failed pull")
	}
}
