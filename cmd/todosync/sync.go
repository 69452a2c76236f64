package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/todosync/todosync/internal/daemon"
	"github.com/todosync/todosync/internal/dashboard"
	tsync "github.com/todosync/todosync/internal/sync"
	"github.com/todosync/todosync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Pull remote changes and push local ones",
	Long: `Run one full sync pass: pull the remote collection, merge it into the
local database, then push every pending change and wait for the results.

Exits non-zero if any task failed to sync; 'todosync list' shows which.`,
	Args: cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		if a.prefs.UserID() == "" {
			return errNotSignedIn
		}
		mon := a.monitor()
		mon.Probe(cmd.Context())
		if !mon.Online() {
			return fmt.Errorf("offline: nothing was synced")
		}

		co, err := a.coordinator(cmd.Context(), mon)
		if err != nil {
			return err
		}

		timeout, _ := cmd.Flags().GetDuration("timeout")
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		start := time.Now()
		syncErr := co.SyncOnce(ctx)
		stats := co.Stats()

		if jsonOutput(cmd) {
			out := dashboard.SyncCompleteData{Duration: time.Since(start)}
			if syncErr != nil {
				out.Error = syncErr.Error()
			}
			if err := printJSON(struct {
				dashboard.SyncCompleteData
				Stats tsync.Stats `json:"stats"`
			}{out, stats}); err != nil {
				return err
			}
			return syncErr
		}

		fmt.Printf("Pushed %d, pulled %d, deleted %d, removed %d, conflicts %d in %s\n",
			stats.Pushed, stats.Pulled, stats.Deleted, stats.Removed, stats.Conflicts,
			time.Since(start).Round(time.Millisecond))
		if syncErr != nil {
			fmt.Printf("%s %v\n", ui.RenderFail("✗"), syncErr)
			return syncErr
		}
		fmt.Printf("%s In sync\n", ui.RenderPass("✓"))
		return nil
	}),
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show task counts, network and account state",
	Args:    cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		counts, err := a.repo(nil).Counts(cmd.Context())
		if err != nil {
			return err
		}
		mon := a.monitor()
		mon.Probe(cmd.Context())
		p := a.prefs.Get()

		if jsonOutput(cmd) {
			return printJSON(map[string]any{
				"counts":    counts,
				"online":    mon.Online(),
				"mode":      cfg.Network.Mode,
				"logged_in": p.LoggedIn,
				"email":     p.Email,
				"backend":   cfg.Backend,
			})
		}
		fmt.Print(ui.Status(counts, tsync.Stats{}, mon.Online(), p.LoggedIn))
		if p.LoggedIn {
			fmt.Printf("   %s %s via %s\n", ui.RenderMuted("as"), p.Email, cfg.Backend)
		}
		return nil
	}),
}

var retryCmd = &cobra.Command{
	Use:     "retry <id>...",
	GroupID: "sync",
	Short:   "Clear a task's sync error and push it again",
	Args:    cobra.MinimumNArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		if a.prefs.UserID() == "" {
			return errNotSignedIn
		}
		mon := a.monitor()
		mon.Probe(cmd.Context())
		co, err := a.coordinator(cmd.Context(), mon)
		if err != nil {
			return err
		}
		for _, arg := range args {
			id, err := parseID(arg)
			if err != nil {
				return err
			}
			if err := co.Retry(cmd.Context(), id); err != nil {
				return err
			}
		}
		if err := co.Flush(cmd.Context()); err != nil {
			return err
		}

		repo := a.repo(co)
		for _, arg := range args {
			id, _ := parseID(arg)
			v, err := repo.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Println(ui.TaskLine(v))
		}
		return nil
	}),
}

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Sync continuously in the foreground",
	Long: `Run the sync coordinator until interrupted. Local changes are pushed as
they happen, the remote collection is pulled periodically, and sync resumes
automatically after sign-in or when the network comes back.

With --dashboard, a web dashboard and JSON API are served as well.

Examples:
  todosync daemon
  todosync daemon --dashboard --addr 127.0.0.1:9090`,
	Args: cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		mon := a.monitor()
		co, err := a.coordinator(cmd.Context(), mon)
		if err != nil {
			return err
		}

		d, err := daemon.New(co, a.prefs, mon, &daemon.Config{Logger: logs.Logger("daemon")})
		if err != nil {
			return err
		}

		serve := cfg.Dashboard.Enabled
		if cmd.Flags().Changed("dashboard") {
			serve, _ = cmd.Flags().GetBool("dashboard")
		}
		if serve {
			addr := cfg.Dashboard.Addr
			if cmd.Flags().Changed("addr") {
				addr, _ = cmd.Flags().GetString("addr")
			}
			repo := a.repo(co)
			srv := dashboard.NewServer(&dashboard.Config{Addr: addr, Logger: logs.Logger("dashboard")}, repo, co)
			d.WithDashboard(srv, dashboard.NewHandler(srv, repo, co, logs.Logger("dashboard")))
			fmt.Printf("Dashboard at %s\n", ui.RenderAccent("http://"+addr))
		}

		if a.prefs.UserID() == "" {
			fmt.Println(ui.RenderWarn("Not signed in; sync starts after 'todosync login'"))
		}
		return d.Run(cmd.Context())
	}),
}

func init() {
	syncCmd.Flags().Duration("timeout", 2*time.Minute, "Give up after this long")
	daemonCmd.Flags().Bool("dashboard", false, "Serve the web dashboard")
	daemonCmd.Flags().String("addr", "", "Dashboard listen address")

	rootCmd.AddCommand(syncCmd, statusCmd, retryCmd, daemonCmd)
}
