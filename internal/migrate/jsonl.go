// Package migrate exports the task list to JSONL and imports it back.
//
// Each line holds one task's content fields plus its remote id and creation
// time. Importing matches lines to existing tasks by remote id, so exporting
// on one device and importing on another does not duplicate tasks.
package migrate

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/todosync/todosync/internal/remote"
	"github.com/todosync/todosync/internal/syncerr"
	"github.com/todosync/todosync/internal/task"
)

// Store is the part of the local store migrate needs.
type Store interface {
	ListContext(ctx context.Context) ([]task.Task, error)
	GetByRemoteID(ctx context.Context, remoteID string) (task.Task, error)
	UpsertContext(ctx context.Context, t task.Task) (task.Task, error)
}

// ImportOptions contains configuration for an import
type ImportOptions struct {
	FromJSONL string // Input JSONL file path
	DryRun    bool   // Preview without writing
	BackupDir string // Export the current tasks here first; empty skips the backup
}

// ImportResult contains statistics about the import
type ImportResult struct {
	Read          int
	Inserted      int
	Updated       int
	Unchanged     int
	BackupCreated string
	Errors        []string
}

// Export writes every task as one JSON line and returns the count.
func Export(ctx context.Context, store Store, w io.Writer) (int, error) {
	tasks, err := store.ListContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list tasks: %w", err)
	}

	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for _, t := range tasks {
		if err := enc.Encode(remote.Strip(t)); err != nil {
			return 0, fmt.Errorf("failed to encode task %d: %w", t.ID, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return 0, fmt.Errorf("failed to write export: %w", err)
	}
	return len(tasks), nil
}

// ExportFile exports to path atomically.
func ExportFile(ctx context.Context, store Store, path string) (int, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, fmt.Errorf("failed to create export directory: %w", err)
	}

	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}

	n, err := Export(ctx, store, f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close temp file: %w", cerr)
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return 0, err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to rename temp file: %w", err)
	}
	return n, nil
}

// FromJSONL parses tasks, one JSON object per line. Blank lines are skipped.
func FromJSONL(r io.Reader) ([]task.Task, error) {
	var tasks []task.Task
	decoder := json.NewDecoder(r)
	lineNum := 0

	for {
		var t task.Task
		if err := decoder.Decode(&t); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("invalid JSON at record %d: %w", lineNum+1, err)
		}
		lineNum++
		tasks = append(tasks, remote.Strip(t))
	}

	return tasks, nil
}

// Import reads opts.FromJSONL into store.
//
// A record whose remote id matches an existing task replaces that task's
// content; other records are inserted. Records that fail validation are
// reported in ImportResult.Errors and do not stop the import.
func Import(ctx context.Context, store Store, opts ImportOptions) (*ImportResult, error) {
	result := &ImportResult{}

	// #nosec G304 - controlled path from CLI
	file, err := os.Open(opts.FromJSONL)
	if err != nil {
		return nil, fmt.Errorf("failed to open JSONL file: %w", err)
	}
	defer file.Close()

	records, err := FromJSONL(file)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JSONL: %w", err)
	}
	result.Read = len(records)

	if opts.BackupDir != "" && !opts.DryRun {
		backupPath := filepath.Join(opts.BackupDir, "tasks-backup-"+time.Now().Format("20060102-150405")+".jsonl")
		if _, err := ExportFile(ctx, store, backupPath); err != nil {
			return nil, fmt.Errorf("failed to create backup: %w", err)
		}
		result.BackupCreated = backupPath
	}

	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := rec.Validate(); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("record %d: %v", i+1, err))
			continue
		}

		existing, err := lookup(ctx, store, rec.RemoteID)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("record %d: %v", i+1, err))
			continue
		}

		switch {
		case existing == nil:
			if !opts.DryRun {
				if _, err := store.UpsertContext(ctx, rec); err != nil {
					result.Errors = append(result.Errors, fmt.Sprintf("record %d: failed to insert: %v", i+1, err))
					continue
				}
			}
			result.Inserted++
		case task.SameContent(*existing, rec):
			result.Unchanged++
		default:
			rec.ID = existing.ID
			if !opts.DryRun {
				if _, err := store.UpsertContext(ctx, rec); err != nil {
					result.Errors = append(result.Errors, fmt.Sprintf("record %d: failed to update task %d: %v", i+1, existing.ID, err))
					continue
				}
			}
			result.Updated++
		}
	}

	return result, nil
}

func lookup(ctx context.Context, store Store, remoteID string) (*task.Task, error) {
	if remoteID == "" {
		return nil, nil
	}
	t, err := store.GetByRemoteID(ctx, remoteID)
	if syncerr.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}
