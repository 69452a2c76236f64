// Package config loads todosync settings from a config file, TODOSYNC_*
// environment variables and command-line flags, in increasing precedence.
//
// Example config.yaml:
//
//	backend: firestore
//	firestore:
//	  project_id: my-todo-app
//	  api_key: AIza...
//	sync:
//	  workers: 4
//	  pull_interval: 15m
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Backend names.
const (
	BackendFirestore = "firestore"
	BackendLibSQL    = "libsql"
	BackendMemory    = "memory"
)

// EnvPrefix is prepended to environment variable names, so sync.workers is
// read from TODOSYNC_SYNC_WORKERS.
const EnvPrefix = "TODOSYNC"

// Config is the resolved configuration.
type Config struct {
	DataDir     string `mapstructure:"data_dir"`
	Database    string `mapstructure:"database"`
	Driver      string `mapstructure:"driver"`
	PrefsFile   string `mapstructure:"prefs_file"`
	SessionFile string `mapstructure:"session_file"`
	Backend     string `mapstructure:"backend"`

	Firestore FirestoreConfig `mapstructure:"firestore"`
	LibSQL    LibSQLConfig    `mapstructure:"libsql"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Network   NetworkConfig   `mapstructure:"network"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Log       LogConfig       `mapstructure:"log"`
}

// FirestoreConfig selects the Firestore project and Firebase Auth.
type FirestoreConfig struct {
	ProjectID       string `mapstructure:"project_id"`
	Database        string `mapstructure:"database"`
	Endpoint        string `mapstructure:"endpoint"`
	CredentialsFile string `mapstructure:"credentials_file"`
	APIKey          string `mapstructure:"api_key"`
	AuthEndpoint    string `mapstructure:"auth_endpoint"`
}

// LibSQLConfig points at a libSQL or Turso database.
type LibSQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// SyncConfig tunes the coordinator.
type SyncConfig struct {
	Workers        int           `mapstructure:"workers"`
	PullInterval   time.Duration `mapstructure:"pull_interval"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

// NetworkConfig tunes the connectivity monitor.
type NetworkConfig struct {
	Mode     string        `mapstructure:"mode"`
	ProbeURL string        `mapstructure:"probe_url"`
	Interval time.Duration `mapstructure:"interval"`
}

// DashboardConfig enables the HTTP dashboard in the daemon.
type DashboardConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LogConfig selects the log destination.
type LogConfig struct {
	File  string `mapstructure:"file"`
	Quiet bool   `mapstructure:"quiet"`
}

// DefaultDataDir returns the per-user data directory.
func DefaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "todosync")
	}
	return ".todosync"
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("driver", "sqlite3")
	v.SetDefault("backend", BackendFirestore)
	v.SetDefault("firestore.database", "(default)")
	v.SetDefault("sync.workers", 4)
	v.SetDefault("sync.pull_interval", 15*time.Minute)
	v.SetDefault("sync.initial_backoff", 2*time.Second)
	v.SetDefault("sync.max_backoff", time.Minute)
	v.SetDefault("network.mode", "auto")
	v.SetDefault("network.interval", 30*time.Second)
	v.SetDefault("dashboard.addr", "127.0.0.1:8080")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// BindFlags binds the root command's persistent flags to their keys.
// Flags that are not defined are skipped.
func BindFlags(v *viper.Viper, cmd *cobra.Command) error {
	keys := map[string]string{
		"data-dir": "data_dir",
		"db":       "database",
		"driver":   "driver",
		"backend":  "backend",
		"log-file": "log.file",
		"quiet":    "log.quiet",
	}
	flags := cmd.PersistentFlags()
	for name, key := range keys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag --%s: %w", name, err)
		}
	}
	return nil
}

// Load reads file (or config.{yaml,toml} in the data directory when file
// is empty) and resolves the configuration. A missing default file is fine.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(v.GetString("data_dir"))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir()
	}
	if c.Database == "" {
		c.Database = filepath.Join(c.DataDir, "tasks.db")
	}
	if c.PrefsFile == "" {
		c.PrefsFile = filepath.Join(c.DataDir, "prefs.yaml")
	}
	if c.SessionFile == "" {
		c.SessionFile = filepath.Join(c.DataDir, "session.json")
	}
	if c.Network.Mode == "" {
		c.Network.Mode = "auto"
	}
}

// Validate checks the resolved configuration.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendFirestore:
		if c.Firestore.ProjectID == "" {
			return fmt.Errorf("firestore.project_id is required for the firestore backend")
		}
	case BackendLibSQL:
		if c.LibSQL.DSN == "" {
			return fmt.Errorf("libsql.dsn is required for the libsql backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown backend %q (want firestore, libsql or memory)", c.Backend)
	}
	if c.Sync.Workers <= 0 {
		return fmt.Errorf("sync.workers must be positive")
	}
	if c.Sync.PullInterval <= 0 {
		return fmt.Errorf("sync.pull_interval must be positive")
	}
	return nil
}

// Path returns the config file viper read, if any.
func Path(v *viper.Viper) string {
	return v.ConfigFileUsed()
}
