package connectivity

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func quietConfig(url string) *Config {
	return &Config{
		ProbeURL: url,
		Interval: 10 * time.Millisecond,
		Timeout:  time.Second,
		Logger:   log.New(io.Discard, "", 0),
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeAuto, false},
		{"auto", ModeAuto, false},
		{"online", ModeOnline, false},
		{"offline", ModeOffline, false},
		{"sometimes", ModeAuto, true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseMode(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	m := New(quietConfig(srv.URL))
	if !m.Online() {
		t.Fatal("fresh monitor should start online")
	}
	if !m.Probe(context.Background()) {
		t.Error("Probe() against a live server = false")
	}

	srv.Close()
	if m.Probe(context.Background()) {
		t.Error("Probe() against a closed server = true")
	}
	if m.Online() {
		t.Error("Online() after failed probe = true")
	}
}

func TestOverrideAndSubscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	m := New(quietConfig(srv.URL))
	ch, cancel := m.Subscribe()
	defer cancel()

	m.SetMode(ModeOffline)
	select {
	case online := <-ch:
		if online {
			t.Error("transition reported online, want offline")
		}
	case <-time.After(time.Second):
		t.Fatal("no transition after SetMode(ModeOffline)")
	}

	// A successful probe does not override a pinned mode.
	m.Probe(context.Background())
	if m.Online() {
		t.Error("Online() = true while pinned offline")
	}

	m.SetMode(ModeAuto)
	select {
	case online := <-ch:
		if !online {
			t.Error("transition reported offline, want online")
		}
	case <-time.After(time.Second):
		t.Fatal("no transition after SetMode(ModeAuto)")
	}

	// No transition, no signal.
	m.SetMode(ModeOnline)
	select {
	case v := <-ch:
		t.Errorf("unexpected signal %v", v)
	default:
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	m := New(quietConfig(srv.URL))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
