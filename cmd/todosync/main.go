// Command todosync is a local-first to-do list that syncs across devices.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/todosync/todosync/internal/config"
	"github.com/todosync/todosync/internal/logging"
	"github.com/todosync/todosync/internal/ui"
)

var (
	v       = config.New()
	cfg     *config.Config
	logs    *logging.Factory
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "todosync",
	Short: "Local-first to-do list with background sync",
	Long: `todosync keeps your tasks in a local SQLite database and mirrors them to a
per-user cloud collection (Firestore or libSQL) in the background.

Every command works offline. Changes are pushed the next time 'todosync sync'
or 'todosync daemon' runs while you are signed in and online.`,
	SilenceUsage: true,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logs != nil {
			_ = logs.Close()
		}
	},
}

func setup(v *viper.Viper) error {
	var err error
	if cfg, err = config.Load(v, cfgFile); err != nil {
		return err
	}
	if offline, _ := rootCmd.PersistentFlags().GetBool("offline"); offline {
		cfg.Network.Mode = "offline"
	}
	if logs, err = logging.New(logging.Config{File: cfg.Log.File, Quiet: cfg.Log.Quiet}); err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}

	if noColor, _ := rootCmd.PersistentFlags().GetBool("no-color"); noColor {
		ui.DisableColor()
	}
	return nil
}

func init() {
	// Assigned here rather than in the literal to avoid an initialization
	// cycle (setup reads rootCmd's flags).
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return setup(v)
	}

	rootCmd.AddGroup(
		&cobra.Group{ID: "tasks", Title: "Tasks:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "account", Title: "Account:"},
		&cobra.Group{ID: "maint", Title: "Maintenance:"},
	)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (default: <data-dir>/config.{yaml,toml})")
	pf.String("data-dir", "", "Directory for the database, prefs and session")
	pf.String("db", "", "Local database path")
	pf.String("driver", "", "SQLite driver: sqlite3 (ncruces) or sqlite (modernc)")
	pf.String("backend", "", "Remote backend: firestore, libsql or memory")
	pf.Bool("offline", false, "Treat the network as unavailable")
	pf.String("log-file", "", "Write logs to this file instead of stderr")
	pf.Bool("quiet", false, "Discard log output")
	pf.Bool("json", false, "Output JSON")
	pf.Bool("no-color", false, "Disable colored output")

	if err := config.BindFlags(v, rootCmd); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
