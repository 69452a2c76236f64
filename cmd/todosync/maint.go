package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/todosync/todosync/internal/migrate"
	"github.com/todosync/todosync/internal/prefs"
	"github.com/todosync/todosync/internal/ui"
)

var prefsCmd = &cobra.Command{
	Use:     "prefs",
	GroupID: "maint",
	Short:   "Show device preferences",
	Args:    cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		return printPrefs(cmd, a.prefs)
	}),
}

var prefsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change a preference (theme, onboarding)",
	Long: `Change a preference. Keys:
  theme        system, light or dark
  onboarding   true or false

Account fields change only through login and logout.`,
	Args: cobra.ExactArgs(2),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		key, value := args[0], args[1]
		var apply func(*prefs.Prefs)
		switch key {
		case "theme":
			apply = func(p *prefs.Prefs) { p.Theme = value }
		case "onboarding":
			done, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("onboarding must be true or false: %w", err)
			}
			apply = func(p *prefs.Prefs) { p.OnboardingComplete = done }
		default:
			return fmt.Errorf("unknown preference %q", key)
		}
		if _, err := a.prefs.Update(apply); err != nil {
			return err
		}
		return printPrefs(cmd, a.prefs)
	}),
}

var exportCmd = &cobra.Command{
	Use:     "export [file]",
	GroupID: "maint",
	Short:   "Write every task as JSON lines",
	Long: `Write every task as one JSON object per line, to the file given or to
stdout. Only task content and the remote id are written.`,
	Args: cobra.MaximumNArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		if len(args) == 0 {
			_, err := migrate.Export(cmd.Context(), a.store, os.Stdout)
			return err
		}
		n, err := migrate.ExportFile(cmd.Context(), a.store, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "%s Exported %d task(s) to %s\n", ui.RenderPass("✓"), n, args[0])
		return nil
	}),
}

var importCmd = &cobra.Command{
	Use:     "import <file>",
	GroupID: "maint",
	Short:   "Load tasks from a JSON lines export",
	Long: `Load tasks written by 'todosync export'. Records whose remote id matches
an existing task update it; the rest are inserted. Imported tasks sync like
any other local change.

Examples:
  todosync import tasks.jsonl --dry-run
  todosync import tasks.jsonl --backup ~/todosync-backups`,
	Args: cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		backup, _ := cmd.Flags().GetString("backup")

		res, err := migrate.Import(cmd.Context(), a.store, migrate.ImportOptions{
			FromJSONL: args[0],
			DryRun:    dryRun,
			BackupDir: backup,
		})
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return printJSON(res)
		}

		prefix := ""
		if dryRun {
			prefix = ui.RenderWarn("[dry run] ")
		}
		fmt.Printf("%sRead %d: %d inserted, %d updated, %d unchanged\n",
			prefix, res.Read, res.Inserted, res.Updated, res.Unchanged)
		if res.BackupCreated != "" {
			fmt.Printf("Backup written to %s\n", res.BackupCreated)
		}
		for _, e := range res.Errors {
			fmt.Printf("  %s %s\n", ui.RenderFail("✗"), e)
		}
		if len(res.Errors) > 0 {
			return fmt.Errorf("%d record(s) failed to import", len(res.Errors))
		}
		return nil
	}),
}

func printPrefs(cmd *cobra.Command, s *prefs.Store) error {
	p := s.Get()
	if jsonOutput(cmd) {
		return printJSON(p)
	}
	account := ui.RenderMuted("signed out")
	if p.LoggedIn {
		account = p.Email
	}
	fmt.Printf("%s %s\n", ui.RenderMuted("File:      "), s.Path())
	fmt.Printf("%s %s\n", ui.RenderMuted("Theme:     "), p.Theme)
	fmt.Printf("%s %t\n", ui.RenderMuted("Onboarded: "), p.OnboardingComplete)
	fmt.Printf("%s %s\n", ui.RenderMuted("Account:   "), account)
	fmt.Printf("%s %s\n", ui.RenderMuted("Device:    "), p.DeviceID)
	return nil
}

func init() {
	importCmd.Flags().Bool("dry-run", false, "Report what would change without writing")
	importCmd.Flags().String("backup", "", "Export current tasks to this directory first")

	prefsCmd.AddCommand(prefsSetCmd)
	rootCmd.AddCommand(prefsCmd, exportCmd, importCmd)
}
