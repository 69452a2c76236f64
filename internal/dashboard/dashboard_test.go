package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/todosync/todosync/internal/local"
	"github.com/todosync/todosync/internal/remote"
	"github.com/todosync/todosync/internal/repository"
	tsync "github.com/todosync/todosync/internal/sync"
)

var discard = log.New(io.Discard, "", 0)

func setup(t *testing.T, withSync bool) (*Server, *repository.Repository, tsync.Coordinator, *remote.Memory) {
	t.Helper()
	store, err := local.Open(filepath.Join(t.TempDir(), "tasks.db"), local.Options{Logger: discard})
	if err != nil {
		t.Fatalf("local.Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	mem := remote.NewMemory()
	var co tsync.Coordinator
	var syncer Syncer
	if withSync {
		co, err = tsync.New(store, mem,
			tsync.IdentityFunc(func() string { return "u1" }),
			tsync.NetworkFunc(func() bool { return true }),
			&tsync.Config{DeviceID: "test", Logger: discard})
		if err != nil {
			t.Fatalf("sync.New() failed: %v", err)
		}
		t.Cleanup(func() { _ = co.Close() })
		syncer = co
	}

	var status repository.StatusSource
	if co != nil {
		status = co
	}
	repo := repository.New(store, status, discard)
	srv := NewServer(&Config{Addr: "127.0.0.1:0", Logger: discard}, repo, syncer)
	return srv, repo, co, mem
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestServerStartStop(t *testing.T) {
	srv, _, _, _ := setup(t, false)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if strings.HasSuffix(srv.Addr(), ":0") {
		t.Errorf("Addr() = %q, want the bound port", srv.Addr())
	}

	resp, err := http.Get("http://" + srv.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/health status = %d", resp.StatusCode)
	}

	if err := srv.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
}

func TestAPI_TaskLifecycle(t *testing.T) {
	srv, _, _, _ := setup(t, false)
	h := srv.Handler()

	rec := do(t, h, http.MethodPost, "/api/tasks", `{"name":"Buy milk","description":"2 liters"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body)
	}
	created := decode[repository.TaskView](t, rec)
	if created.Task.ID == 0 || created.Task.IsSynced {
		t.Fatalf("created = %+v", created)
	}
	path := "/api/tasks/" + itoa(created.Task.ID)

	rec = do(t, h, http.MethodGet, "/api/tasks?q=MILK", "")
	if list := decode[[]repository.TaskView](t, rec); len(list) != 1 {
		t.Errorf("search returned %d tasks, want 1", len(list))
	}
	rec = do(t, h, http.MethodGet, "/api/tasks?q=bread", "")
	if list := decode[[]repository.TaskView](t, rec); len(list) != 0 {
		t.Errorf("search returned %d tasks, want 0", len(list))
	}

	rec = do(t, h, http.MethodPut, path, `{"name":"Buy oat milk"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d: %s", rec.Code, rec.Body)
	}
	if v := decode[repository.TaskView](t, rec); v.Task.Name != "Buy oat milk" || v.Task.Version != 2 {
		t.Errorf("updated = %+v", v.Task)
	}

	rec = do(t, h, http.MethodPost, path+"/complete", `{"date":"2024-01-01"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("complete status = %d: %s", rec.Code, rec.Body)
	}
	if v := decode[repository.TaskView](t, rec); !v.Task.IsComplete || v.Task.CompletedAt == nil {
		t.Errorf("completed = %+v", v.Task)
	}

	if rec := do(t, h, http.MethodDelete, path, ""); rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, path, ""); rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", rec.Code)
	}
}

func TestAPI_Errors(t *testing.T) {
	srv, _, _, _ := setup(t, false)
	h := srv.Handler()

	tests := []struct {
		name, method, path, body string
		want                     int
	}{
		{"malformed body", http.MethodPost, "/api/tasks", `{`, http.StatusBadRequest},
		{"empty name", http.MethodPost, "/api/tasks", `{"name":"  "}`, http.StatusBadRequest},
		{"missing task", http.MethodGet, "/api/tasks/99", "", http.StatusNotFound},
		{"update missing", http.MethodPut, "/api/tasks/99", `{"name":"x"}`, http.StatusNotFound},
		{"bad date", http.MethodPost, "/api/tasks/1/complete", `{"date":"zzz"}`, http.StatusBadRequest},
		{"non-numeric id", http.MethodGet, "/api/tasks/abc", "", http.StatusNotFound},
		{"sync without coordinator", http.MethodPost, "/api/sync", "", http.StatusServiceUnavailable},
		{"retry without coordinator", http.MethodPost, "/api/tasks/1/retry", "", http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(t, h, tt.method, tt.path, tt.body); rec.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body)
			}
		})
	}
}

func TestAPI_SyncAndStatus(t *testing.T) {
	srv, _, _, mem := setup(t, true)
	h := srv.Handler()

	do(t, h, http.MethodPost, "/api/tasks", `{"name":"one"}`)
	do(t, h, http.MethodPost, "/api/tasks", `{"name":"two"}`)

	if rec := do(t, h, http.MethodPost, "/api/sync", ""); rec.Code != http.StatusOK {
		t.Fatalf("sync status = %d: %s", rec.Code, rec.Body)
	}
	if mem.Len("u1") != 2 {
		t.Errorf("remote holds %d docs, want 2", mem.Len("u1"))
	}

	st := decode[StatusData](t, do(t, h, http.MethodGet, "/api/status", ""))
	if st.Counts.Total != 2 || st.Counts.Unsynced != 0 {
		t.Errorf("counts = %+v", st.Counts)
	}
	if st.Sync.Pushed < 2 {
		t.Errorf("pushed = %d, want >= 2", st.Sync.Pushed)
	}
}

func TestWebSocketFeed(t *testing.T) {
	srv, repo, co, _ := setup(t, true)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer srv.Stop()

	handler := NewHandler(srv, repo, co, discard)
	handler.StatsInterval = 20 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go func() { _ = handler.Run(ctx) }()

	conn, _, err := websocket.Dial(ctx, "ws://"+srv.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if _, err := repo.Save(ctx, taskNamed("Walk the dog")); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	sawTask, sawStats := false, false
	for !sawTask || !sawStats {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("Read() failed before seeing the task (task=%v stats=%v): %v", sawTask, sawStats, err)
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("bad message %s: %v", data, err)
		}
		switch msg.Type {
		case MessageTypeTasks:
			if bytes.Contains(msg.Data, []byte("Walk the dog")) {
				sawTask = true
			}
		case MessageTypeStats:
			sawStats = true
		}
	}
}
