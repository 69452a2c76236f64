package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
)

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	v := New()
	v.Set("data_dir", dir)
	v.Set("backend", BackendMemory)

	cfg, err := Load(v, "")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Database != filepath.Join(dir, "tasks.db") {
		t.Errorf("Database = %q", cfg.Database)
	}
	if cfg.PrefsFile != filepath.Join(dir, "prefs.yaml") || cfg.SessionFile != filepath.Join(dir, "session.json") {
		t.Errorf("derived paths = %q, %q", cfg.PrefsFile, cfg.SessionFile)
	}
	if cfg.Sync.Workers != 4 || cfg.Sync.PullInterval != 15*time.Minute || cfg.Network.Mode != "auto" {
		t.Errorf("sync/network defaults = %+v %+v", cfg.Sync, cfg.Network)
	}
}

func TestLoad_FilesAndEnv(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"yaml", "config.yaml", "backend: libsql\nlibsql:\n  dsn: file:remote.db\nsync:\n  workers: 2\n  pull_interval: 1m\n"},
		{"toml", "config.toml", "backend = \"libsql\"\n[libsql]\ndsn = \"file:remote.db\"\n[sync]\nworkers = 2\npull_interval = \"1m\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if err := os.WriteFile(filepath.Join(dir, tt.file), []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			t.Setenv("TODOSYNC_SYNC_WORKERS", "7")

			v := New()
			v.Set("data_dir", dir)
			cfg, err := Load(v, "")
			if err != nil {
				t.Fatalf("Load() failed: %v", err)
			}
			if cfg.Backend != BackendLibSQL || cfg.LibSQL.DSN != "file:remote.db" {
				t.Errorf("backend = %q dsn = %q", cfg.Backend, cfg.LibSQL.DSN)
			}
			if cfg.Sync.PullInterval != time.Minute {
				t.Errorf("PullInterval = %v, want 1m", cfg.Sync.PullInterval)
			}
			if cfg.Sync.Workers != 7 {
				t.Errorf("Workers = %d, want env override 7", cfg.Sync.Workers)
			}
		})
	}
}

func TestLoad_ExplicitFileMustExist(t *testing.T) {
	if _, err := Load(New(), filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() of a missing explicit file should fail")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"memory", Config{Backend: BackendMemory, Sync: SyncConfig{Workers: 1, PullInterval: time.Minute}}, false},
		{"firestore without project", Config{Backend: BackendFirestore, Sync: SyncConfig{Workers: 1, PullInterval: time.Minute}}, true},
		{"libsql without dsn", Config{Backend: BackendLibSQL, Sync: SyncConfig{Workers: 1, PullInterval: time.Minute}}, true},
		{"unknown backend", Config{Backend: "s3", Sync: SyncConfig{Workers: 1, PullInterval: time.Minute}}, true},
		{"zero workers", Config{Backend: BackendMemory, Sync: SyncConfig{PullInterval: time.Minute}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestBindFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "todosync"}
	cmd.PersistentFlags().String("backend", "", "")
	cmd.PersistentFlags().String("data-dir", "", "")

	v := New()
	if err := BindFlags(v, cmd); err != nil {
		t.Fatalf("BindFlags() failed: %v", err)
	}
	if err := cmd.PersistentFlags().Parse([]string{"--backend", "memory", "--data-dir", t.TempDir()}); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(v, "")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Backend != BackendMemory {
		t.Errorf("Backend = %q, want flag value memory", cfg.Backend)
	}
}
