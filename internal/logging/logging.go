// Package logging builds the component loggers used across todosync.
//
// Every component takes a *log.Logger with a "[component] " prefix. When a
// log file is configured, output goes there through a rotating writer;
// otherwise it goes to stderr.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls where logs go.
type Config struct {
	// File is the log file path. Empty logs to stderr.
	File string

	// MaxSizeMB is the size at which the file is rotated.
	MaxSizeMB int

	// MaxBackups is how many rotated files are kept.
	MaxBackups int

	// MaxAgeDays removes rotated files older than this.
	MaxAgeDays int

	// Quiet discards everything.
	Quiet bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxSizeMB:  10,
		MaxBackups: 3,
		MaxAgeDays: 28,
	}
}

// Factory hands out loggers sharing one output.
type Factory struct {
	out    io.Writer
	closer io.Closer

	mu      sync.Mutex
	loggers map[string]*log.Logger
}

// New creates a factory for cfg.
func New(cfg Config) (*Factory, error) {
	f := &Factory{loggers: make(map[string]*log.Logger)}

	switch {
	case cfg.Quiet:
		f.out = io.Discard
	case cfg.File != "":
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return nil, err
		}
		def := DefaultConfig()
		if cfg.MaxSizeMB <= 0 {
			cfg.MaxSizeMB = def.MaxSizeMB
		}
		if cfg.MaxBackups <= 0 {
			cfg.MaxBackups = def.MaxBackups
		}
		if cfg.MaxAgeDays <= 0 {
			cfg.MaxAgeDays = def.MaxAgeDays
		}
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		f.out = lj
		f.closer = lj
	default:
		f.out = os.Stderr
	}
	return f, nil
}

// Logger returns the logger for component, prefixed "[component] ".
func (f *Factory) Logger(component string) *log.Logger {
	f.mu.Lock()
	defer f.mu.Unlock()

	if l, ok := f.loggers[component]; ok {
		return l
	}
	l := log.New(f.out, "["+component+"] ", log.LstdFlags)
	f.loggers[component] = l
	return l
}

// Writer returns the shared output.
func (f *Factory) Writer() io.Writer {
	return f.out
}

// Close closes the log file, if any.
func (f *Factory) Close() error {
	if f.closer == nil {
		return nil
	}
	return f.closer.Close()
}
