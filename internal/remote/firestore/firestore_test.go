package firestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	gosync "sync"
	"testing"
	"time"

	fs "google.golang.org/api/firestore/v1"

	"github.com/todosync/todosync/internal/remote"
	"github.com/todosync/todosync/internal/syncerr"
	"github.com/todosync/todosync/internal/task"
)

// fakeFirestore implements the handful of REST calls the backend makes.
type fakeFirestore struct {
	mu       gosync.Mutex
	docs     map[string]*fs.Document
	lists    int
	failWith int // status returned by the next request, 0 for none
}

func newFakeFirestore() *fakeFirestore {
	return &fakeFirestore{docs: make(map[string]*fs.Document)}
}

func (f *fakeFirestore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failWith != 0 {
		status := f.failWith
		f.failWith = 0
		writeError(w, status)
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/v1/")

	switch r.Method {
	case http.MethodPatch:
		body, err := io.ReadAll(r.Body)
		if err != nil || checkTyped(body) != nil {
			writeError(w, http.StatusBadRequest)
			return
		}
		var doc fs.Document
		if err := json.Unmarshal(body, &doc); err != nil {
			writeError(w, http.StatusBadRequest)
			return
		}
		doc.Name = name
		f.docs[name] = &doc
		writeJSON(w, &doc)

	case http.MethodDelete:
		if _, ok := f.docs[name]; !ok {
			writeError(w, http.StatusNotFound)
			return
		}
		delete(f.docs, name)
		writeJSON(w, map[string]any{})

	case http.MethodGet:
		f.lists++
		prefix := name + "/"
		var names []string
		for n := range f.docs {
			if strings.HasPrefix(n, prefix) {
				names = append(names, n)
			}
		}
		sort.Strings(names)

		size, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
		start, _ := strconv.Atoi(r.URL.Query().Get("pageToken"))
		end := len(names)
		if size > 0 && start+size < end {
			end = start + size
		}

		resp := &fs.ListDocumentsResponse{}
		for _, n := range names[start:end] {
			resp.Documents = append(resp.Documents, f.docs[n])
		}
		if end < len(names) {
			resp.NextPageToken = strconv.Itoa(end)
		}
		writeJSON(w, resp)

	default:
		writeError(w, http.StatusMethodNotAllowed)
	}
}

// rawValue is a Firestore Value as sent on the wire.
type rawValue map[string]json.RawMessage

// checkTyped rejects documents holding a Value with zero or several types
// set, as Firestore does.
func checkTyped(body []byte) error {
	var doc struct {
		Fields map[string]rawValue `json:"fields"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return err
	}
	return checkFields(doc.Fields)
}

func checkFields(fields map[string]rawValue) error {
	for name, v := range fields {
		if len(v) != 1 {
			return fmt.Errorf("field %q has %d value types", name, len(v))
		}
		if raw, ok := v["mapValue"]; ok {
			var m struct {
				Fields map[string]rawValue `json:"fields"`
			}
			if err := json.Unmarshal(raw, &m); err != nil {
				return err
			}
			if err := checkFields(m.Fields); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"code": status, "message": http.StatusText(status)},
	})
}

func testBackend(t *testing.T, pageSize int) (*Store, *fakeFirestore) {
	t.Helper()
	fake := newFakeFirestore()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	s, err := New(context.Background(), Config{
		ProjectID: "demo",
		Endpoint:  srv.URL + "/",
		PageSize:  pageSize,
		Logger:    log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return s, fake
}

func sampleDoc(remoteID string) remote.Document {
	start := time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)
	return remote.Document{
		Task: task.Task{
			ID:        3,
			RemoteID:  remoteID,
			Name:      "Buy milk",
			StartAt:   &start,
			Category:  &task.Category{Name: "groceries"},
			UpdatedAt: 1714552200000000000,
			CreatedAt: start,
		},
		DeviceID: "laptop",
	}
}

func TestNew_RequiresProject(t *testing.T) {
	if _, err := New(context.Background(), Config{Endpoint: "http://localhost:1/"}); err == nil {
		t.Fatal("New() without project id should fail")
	}
	if _, err := New(context.Background(), Config{ProjectID: "demo"}); err == nil {
		t.Fatal("New() without credentials should fail")
	}
}

func TestPushFetchRoundTrip(t *testing.T) {
	s, fake := testBackend(t, 0)
	ctx := context.Background()
	doc := sampleDoc("r1")

	if err := s.Push(ctx, "u1", doc); err != nil {
		t.Fatalf("Push() failed: %v", err)
	}

	wantName := "projects/demo/databases/(default)/documents/tasks/u1/user_tasks/r1"
	if _, ok := fake.docs[wantName]; !ok {
		t.Fatalf("document not stored at %s; have %v", wantName, fake.docs)
	}

	docs, err := s.FetchAll(ctx, "u1")
	if err != nil {
		t.Fatalf("FetchAll() failed: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("FetchAll() = %d docs, want 1", len(docs))
	}

	got := docs[0]
	if !task.SameContent(got.Task, doc.Task) {
		t.Errorf("content mismatch:\n got %+v\nwant %+v", got.Task, doc.Task)
	}
	if got.Task.IsComplete {
		t.Error("IsComplete false must survive the round trip")
	}
	if got.Task.UpdatedAt != doc.Task.UpdatedAt {
		t.Errorf("UpdatedAt = %d, want %d", got.Task.UpdatedAt, doc.Task.UpdatedAt)
	}
	if got.DeviceID != "laptop" {
		t.Errorf("DeviceID = %q, want laptop", got.DeviceID)
	}
	if got.Task.ID != 0 {
		t.Error("local id must not travel")
	}
}

func TestPush_ZeroValuesKeepTheirType(t *testing.T) {
	s, _ := testBackend(t, 0)
	ctx := context.Background()
	doc := remote.Document{
		Task:     task.Task{RemoteID: "zero", Name: "Buy milk"},
	}

	body, err := json.Marshal(encodeDocument(doc))
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}
	if err := checkTyped(body); err != nil {
		t.Fatalf("encoded document %s: %v", body, err)
	}

	if err := s.Push(ctx, "u1", doc); err != nil {
		t.Fatalf("Push() failed: %v", err)
	}
	docs, err := s.FetchAll(ctx, "u1")
	if err != nil {
		t.Fatalf("FetchAll() failed: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("FetchAll() = %d docs, want 1", len(docs))
	}
	got := docs[0].Task
	if got.Name != "Buy milk" || got.Description != "" || got.IsComplete || got.UpdatedAt != 0 {
		t.Errorf("round trip = %+v", got)
	}

	// A later write with non-zero values replaces them.
	doc.Task.IsComplete = true
	doc.Task.Description = "semi-skimmed"
	doc.Task.UpdatedAt = 42
	if err := s.Push(ctx, "u1", doc); err != nil {
		t.Fatalf("Push() failed: %v", err)
	}
	docs, err = s.FetchAll(ctx, "u1")
	if err != nil {
		t.Fatalf("FetchAll() failed: %v", err)
	}
	got = docs[0].Task
	if !got.IsComplete || got.Description != "semi-skimmed" || got.UpdatedAt != 42 {
		t.Errorf("second round trip = %+v", got)
	}
}

func TestFake_RejectsUntypedValues(t *testing.T) {
	tests := []struct {
		body string
		ok   bool
	}{
		{`{"fields":{"name":{"stringValue":"x"}}}`, true},
		{`{"fields":{"isComplete":{"booleanValue":false}}}`, true},
		{`{"fields":{"isComplete":{}}}`, false},
		{`{"fields":{"category":{"mapValue":{"fields":{"name":{}}}}}}`, false},
		{`{"fields":{"n":{"integerValue":"1","stringValue":"1"}}}`, false},
	}
	for _, tt := range tests {
		if err := checkTyped([]byte(tt.body)); (err == nil) != tt.ok {
			t.Errorf("checkTyped(%s) = %v, want ok=%v", tt.body, err, tt.ok)
		}
	}
}

func TestPush_Idempotent(t *testing.T) {
	s, fake := testBackend(t, 0)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := s.Push(ctx, "u1", sampleDoc("r1")); err != nil {
			t.Fatalf("Push() #%d failed: %v", i+1, err)
		}
	}
	if len(fake.docs) != 1 {
		t.Errorf("stored %d documents, want 1", len(fake.docs))
	}
}

func TestFetchAll_Paginates(t *testing.T) {
	s, fake := testBackend(t, 2)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		if err := s.Push(ctx, "u1", sampleDoc(id)); err != nil {
			t.Fatalf("Push(%s) failed: %v", id, err)
		}
	}
	// Another user's documents stay invisible.
	if err := s.Push(ctx, "u2", sampleDoc("z")); err != nil {
		t.Fatalf("Push() failed: %v", err)
	}

	docs, err := s.FetchAll(ctx, "u1")
	if err != nil {
		t.Fatalf("FetchAll() failed: %v", err)
	}
	if len(docs) != 5 {
		t.Errorf("FetchAll() = %d docs, want 5", len(docs))
	}
	if fake.lists != 3 {
		t.Errorf("list requests = %d, want 3", fake.lists)
	}
}

func TestDelete_MissingIsSuccess(t *testing.T) {
	s, _ := testBackend(t, 0)
	ctx := context.Background()

	if err := s.Push(ctx, "u1", sampleDoc("r1")); err != nil {
		t.Fatalf("Push() failed: %v", err)
	}
	if err := s.Delete(ctx, "u1", "r1"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if err := s.Delete(ctx, "u1", "r1"); err != nil {
		t.Errorf("Delete() of missing document = %v, want nil", err)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
		unauth    bool
	}{
		{status: http.StatusServiceUnavailable, retryable: true},
		{status: http.StatusTooManyRequests, retryable: true},
		{status: http.StatusForbidden, unauth: true},
		{status: http.StatusUnauthorized, unauth: true},
		{status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			s, fake := testBackend(t, 0)
			fake.failWith = tt.status

			err := s.Push(context.Background(), "u1", sampleDoc("r1"))
			if err == nil {
				t.Fatal("Push() should fail")
			}
			var se *syncerr.Error
			if !errors.As(err, &se) {
				t.Fatalf("error %T is not *syncerr.Error", err)
			}
			if se.TaskID != 3 {
				t.Errorf("TaskID = %d, want 3", se.TaskID)
			}
			if got := syncerr.IsRetryable(err); got != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.retryable)
			}
			if got := errors.Is(err, syncerr.ErrUnauthenticated); got != tt.unauth {
				t.Errorf("unauthenticated = %v, want %v", got, tt.unauth)
			}
		})
	}
}

func TestRequiresUser(t *testing.T) {
	s, _ := testBackend(t, 0)
	ctx := context.Background()

	if _, err := s.FetchAll(ctx, ""); !syncerr.IsPermanent(err) {
		t.Errorf("FetchAll() without user = %v, want permanent", err)
	}
	if err := s.Push(ctx, "", sampleDoc("r1")); !syncerr.IsPermanent(err) {
		t.Errorf("Push() without user = %v, want permanent", err)
	}
}

func TestSaveProfile(t *testing.T) {
	s, fake := testBackend(t, 0)

	err := s.SaveProfile(context.Background(), remote.Profile{UserID: "u1", Email: "a@example.com"})
	if err != nil {
		t.Fatalf("SaveProfile() failed: %v", err)
	}
	doc, ok := fake.docs["projects/demo/databases/(default)/documents/users/u1"]
	if !ok {
		t.Fatal("profile not stored")
	}
	if got := getString(doc.Fields, "email"); got != "a@example.com" {
		t.Errorf("email = %q, want a@example.com", got)
	}
}

func TestDecodeDocument_FallsBackToName(t *testing.T) {
	d := &fs.Document{
		Name:   "projects/demo/databases/(default)/documents/tasks/u1/user_tasks/abc",
		Fields: map[string]fs.Value{fieldName: stringValue("Legacy")},
	}
	doc, err := decodeDocument(d)
	if err != nil {
		t.Fatalf("decodeDocument() failed: %v", err)
	}
	if doc.Task.RemoteID != "abc" {
		t.Errorf("RemoteID = %q, want abc", doc.Task.RemoteID)
	}

	if _, err := decodeDocument(&fs.Document{Name: "x/y"}); err == nil {
		t.Error("document without a name field should be rejected")
	}
}
