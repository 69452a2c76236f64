package migrate

import (
	"bytes"
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/todosync/todosync/internal/local"
	"github.com/todosync/todosync/internal/task"
)

func openStore(t *testing.T) *local.Store {
	t.Helper()
	s, err := local.Open(filepath.Join(t.TempDir(), "tasks.db"), local.Options{Logger: log.New(io.Discard, "", 0)})
	if err != nil {
		t.Fatalf("local.Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func ptrTime(t time.Time) *time.Time { return &t }

func TestExportThenImportElsewhere(t *testing.T) {
	ctx := context.Background()
	src := openStore(t)

	due := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	if _, err := src.Upsert(task.Task{Name: "Pay rent", EndAt: ptrTime(due), Category: &task.Category{Name: "home"}}); err != nil {
		t.Fatal(err)
	}
	done, err := src.Upsert(task.Task{Name: "Call mom"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := src.Complete(done.ID, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "out", "tasks.jsonl")
	n, err := ExportFile(ctx, src, path)
	if err != nil || n != 2 {
		t.Fatalf("ExportFile() = %d, %v", n, err)
	}
	data, _ := os.ReadFile(path)
	if strings.Count(string(data), "\n") != 2 || strings.Contains(string(data), `"sync_state"`) {
		t.Errorf("export should hold 2 content-only lines:\n%s", data)
	}

	dst := openStore(t)
	res, err := Import(ctx, dst, ImportOptions{FromJSONL: path})
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	if res.Read != 2 || res.Inserted != 2 || len(res.Errors) != 0 {
		t.Errorf("result = %+v", res)
	}

	srcTasks, _ := src.List()
	for _, want := range srcTasks {
		got, err := dst.GetByRemoteID(ctx, want.RemoteID)
		if err != nil {
			t.Fatalf("imported task %s missing: %v", want.RemoteID, err)
		}
		if !task.SameContent(got, want) {
			t.Errorf("imported %+v, want content of %+v", got, want)
		}
		if got.IsSynced || got.SyncState != task.StateLocalOnly {
			t.Errorf("imported task should be unsynced local_only, got %s", got.SyncState)
		}
	}

	// Importing again is a no-op.
	res, err = Import(ctx, dst, ImportOptions{FromJSONL: path})
	if err != nil {
		t.Fatalf("second Import() failed: %v", err)
	}
	if res.Unchanged != 2 || res.Inserted != 0 || res.Updated != 0 {
		t.Errorf("second import = %+v, want 2 unchanged", res)
	}
	if c, _ := dst.CountsContext(ctx); c.Total != 2 {
		t.Errorf("total after re-import = %d, want 2", c.Total)
	}
}

func TestImport_UpdatesByRemoteID(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	orig, err := store.Upsert(task.Task{Name: "Draft"})
	if err != nil {
		t.Fatal(err)
	}

	input := `{"remote_id":"` + orig.RemoteID + `","name":"Final","is_complete":false,"is_synced":true,"created_at":"2024-01-01T00:00:00Z"}
{"name":"Brand new","is_complete":false,"is_synced":false,"created_at":"2024-01-01T00:00:00Z"}
{"name":"","is_complete":false,"is_synced":false,"created_at":"2024-01-01T00:00:00Z"}
`
	path := filepath.Join(t.TempDir(), "in.jsonl")
	if err := os.WriteFile(path, []byte(input), 0644); err != nil {
		t.Fatal(err)
	}
	backups := t.TempDir()

	res, err := Import(ctx, store, ImportOptions{FromJSONL: path, BackupDir: backups})
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	if res.Read != 3 || res.Updated != 1 || res.Inserted != 1 || len(res.Errors) != 1 {
		t.Errorf("result = %+v", res)
	}
	if res.BackupCreated == "" {
		t.Error("no backup created")
	} else if data, _ := os.ReadFile(res.BackupCreated); !strings.Contains(string(data), "Draft") {
		t.Errorf("backup should hold the pre-import tasks:\n%s", data)
	}

	got, err := store.Get(orig.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "Final" || got.IsSynced || got.Version != 2 {
		t.Errorf("updated task = %+v", got)
	}
}

func TestImport_DryRun(t *testing.T) {
	store := openStore(t)
	path := filepath.Join(t.TempDir(), "in.jsonl")
	if err := os.WriteFile(path, []byte(`{"name":"a","created_at":"2024-01-01T00:00:00Z"}`+"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	res, err := Import(context.Background(), store, ImportOptions{FromJSONL: path, DryRun: true, BackupDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	if res.Inserted != 1 || res.BackupCreated != "" {
		t.Errorf("result = %+v", res)
	}
	if tasks, _ := store.List(); len(tasks) != 0 {
		t.Errorf("dry run wrote %d tasks", len(tasks))
	}
}

func TestFromJSONL_Invalid(t *testing.T) {
	_, err := FromJSONL(bytes.NewBufferString("{\"name\":\"ok\"}\n{broken\n"))
	if err == nil || !strings.Contains(err.Error(), "record 2") {
		t.Errorf("FromJSONL() = %v, want error at record 2", err)
	}
}

func TestImport_MissingFile(t *testing.T) {
	if _, err := Import(context.Background(), openStore(t), ImportOptions{FromJSONL: "/nonexistent/x.jsonl"}); err == nil {
		t.Error("Import() of a missing file should fail")
	}
}
