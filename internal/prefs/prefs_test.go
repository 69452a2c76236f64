package prefs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestOpen_CreatesDefaults(t *testing.T) {
	for _, name := range []string{"prefs.yaml", "prefs.toml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)
			s, err := Open(path)
			if err != nil {
				t.Fatalf("Open() failed: %v", err)
			}
			p := s.Get()
			if p.Theme != ThemeSystem || p.DeviceID == "" || p.LoggedIn {
				t.Errorf("defaults = %+v", p)
			}
			if _, err := os.Stat(path); err != nil {
				t.Fatalf("prefs file not written: %v", err)
			}

			// Reopening keeps the generated device id.
			again, err := Open(path)
			if err != nil {
				t.Fatalf("reopen failed: %v", err)
			}
			if again.Get().DeviceID != p.DeviceID {
				t.Errorf("device id changed: %s -> %s", p.DeviceID, again.Get().DeviceID)
			}
		})
	}
}

func TestOpen_ReadsExistingFile(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
	}{
		{"prefs.yaml", "theme: dark\nlogged_in: true\nuser_id: u1\ndevice_id: d1\n"},
		{"prefs.toml", "theme = \"dark\"\nlogged_in = true\nuser_id = \"u1\"\ndevice_id = \"d1\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name)
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			s, err := Open(path)
			if err != nil {
				t.Fatalf("Open() failed: %v", err)
			}
			p := s.Get()
			if p.Theme != ThemeDark || p.DeviceID != "d1" {
				t.Errorf("prefs = %+v", p)
			}
			if s.UserID() != "u1" {
				t.Errorf("UserID() = %q, want u1", s.UserID())
			}
		})
	}
}

func TestOpen_RejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.toml")
	if err := os.WriteFile(path, []byte("theme = = ="), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); err == nil {
		t.Error("Open() of malformed TOML should fail")
	}
}

func TestUpdate(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "prefs.yaml"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	if s.UserID() != "" {
		t.Error("UserID() should be empty while logged out")
	}

	p, err := s.Update(func(p *Prefs) {
		p.LoggedIn = true
		p.UserID = "u42"
		p.OnboardingComplete = true
	})
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if !p.LoggedIn || s.UserID() != "u42" {
		t.Errorf("after login: %+v, UserID()=%q", p, s.UserID())
	}

	data, _ := os.ReadFile(s.Path())
	if !strings.Contains(string(data), "u42") {
		t.Errorf("file does not contain the user id:\n%s", data)
	}

	if _, err := s.Update(func(p *Prefs) { p.Theme = "neon" }); err == nil {
		t.Error("Update() with an invalid theme should fail")
	}
	if got := s.Get().Theme; got != ThemeSystem {
		t.Errorf("theme after failed update = %q, want unchanged", got)
	}

	if _, err := s.Update(func(p *Prefs) { p.LoggedIn = true; p.UserID = "" }); err == nil {
		t.Error("Update() logging in without a user id should fail")
	}
}

func TestReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.yaml")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	device := s.Get().DeviceID

	if _, changed, err := s.Reload(); err != nil || changed {
		t.Errorf("Reload() of untouched file = changed %v, err %v", changed, err)
	}

	content := "theme: light\nlogged_in: true\nuser_id: u9\ndevice_id: " + device + "\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	p, changed, err := s.Reload()
	if err != nil || !changed {
		t.Fatalf("Reload() = changed %v, err %v", changed, err)
	}
	if p.Theme != ThemeLight || s.UserID() != "u9" {
		t.Errorf("reloaded = %+v", p)
	}

	if err := os.WriteFile(path, []byte("theme: purple\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Reload(); err == nil {
		t.Error("Reload() of an invalid file should fail")
	}
	if s.Get().Theme != ThemeLight {
		t.Error("invalid reload replaced the in-memory prefs")
	}
}

func TestWatcher_StartStop(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "prefs.yaml"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	w, err := NewWatcher(s)
	if err != nil {
		t.Fatalf("NewWatcher() failed: %v", err)
	}
	if w.IsRunning() {
		t.Error("new watcher should not be running")
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if err := w.Start(); err == nil {
		t.Error("second Start() should fail")
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if w.IsRunning() {
		t.Error("watcher still running after Stop()")
	}
}

func TestWatcher_EmitsChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prefs.yaml")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	w, err := NewWatcher(s)
	if err != nil {
		t.Fatalf("NewWatcher() failed: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer w.Stop()

	// Another process signs the user in.
	other, err := Open(path)
	if err != nil {
		t.Fatalf("second Open() failed: %v", err)
	}
	if _, err := other.Update(func(p *Prefs) { p.LoggedIn = true; p.UserID = "u7" }); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	// Unrelated files in the directory are ignored.
	_ = os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0644)

	select {
	case p := <-w.Changes():
		if p.UserID != "u7" || !p.LoggedIn {
			t.Errorf("change = %+v, want logged in as u7", p)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no change emitted")
	}
	if s.UserID() != "u7" {
		t.Errorf("watched store UserID() = %q, want u7", s.UserID())
	}
}
