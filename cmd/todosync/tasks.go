package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/todosync/todosync/internal/repository"
	"github.com/todosync/todosync/internal/task"
	"github.com/todosync/todosync/internal/ui"
)

var addCmd = &cobra.Command{
	Use:     "add [name]",
	GroupID: "tasks",
	Short:   "Add a task",
	Long: `Add a task. Dates accept YYYY-MM-DD, YYYY-MM-DD HH:MM, RFC 3339 or
natural language such as "tomorrow 5pm" or "next friday".

Without a name on a terminal, a form asks for the fields.

Examples:
  todosync add "Buy milk" --due "tomorrow 6pm" --category groceries
  todosync add`,
	Args: cobra.MaximumNArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		f := taskForm{}
		f.Description, _ = cmd.Flags().GetString("desc")
		f.Start, _ = cmd.Flags().GetString("start")
		f.End, _ = cmd.Flags().GetString("due")
		f.Category, _ = cmd.Flags().GetString("category")
		if len(args) == 1 {
			f.Name = args[0]
		} else if err := promptTask(&f); err != nil {
			return err
		}

		t := task.Task{Name: strings.TrimSpace(f.Name), Description: f.Description}
		if err := applyDates(&t, f.Start, f.End); err != nil {
			return err
		}
		if f.Category != "" {
			t.Category = &task.Category{Name: f.Category}
		}

		v, err := a.repo(nil).Save(cmd.Context(), t)
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return printJSON(v)
		}
		fmt.Printf("%s Added %d: %s\n", ui.RenderPass("✓"), v.Task.ID, v.Task.Name)
		return nil
	}),
}

var editCmd = &cobra.Command{
	Use:     "edit <id>",
	GroupID: "tasks",
	Short:   "Change a task's fields",
	Long: `Change a task. Only the flags given are changed; pass an empty value to
clear a date, description or category.

Examples:
  todosync edit 4 --name "Buy oat milk"
  todosync edit 4 --due ""`,
	Args: cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		repo := a.repo(nil)
		cur, err := repo.Get(cmd.Context(), id)
		if err != nil {
			return err
		}
		t := cur.Task

		flags := cmd.Flags()
		if flags.Changed("name") {
			t.Name, _ = flags.GetString("name")
		}
		if flags.Changed("desc") {
			t.Description, _ = flags.GetString("desc")
		}
		if flags.Changed("category") {
			name, _ := flags.GetString("category")
			t.Category = nil
			if name != "" {
				t.Category = &task.Category{Name: name}
			}
		}
		now := time.Now()
		for _, f := range []struct {
			flag string
			dst  **time.Time
		}{{"start", &t.StartAt}, {"due", &t.EndAt}} {
			if !flags.Changed(f.flag) {
				continue
			}
			s, _ := flags.GetString(f.flag)
			when, err := task.ParseWhen(s, now)
			if err != nil {
				return err
			}
			*f.dst = when
		}
		if flags.Changed("done") {
			t.IsComplete, _ = flags.GetBool("done")
			if !t.IsComplete {
				t.CompletedAt = nil
			}
		}

		v, err := repo.Save(cmd.Context(), t)
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return printJSON(v)
		}
		fmt.Println(ui.TaskLine(v))
		return nil
	}),
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	GroupID: "tasks",
	Short:   "List tasks",
	Args:    cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		views, err := a.repo(nil).List(cmd.Context())
		if err != nil {
			return err
		}
		return printViews(cmd, views, filterFlags(cmd))
	}),
}

var searchCmd = &cobra.Command{
	Use:     "search <query>",
	GroupID: "tasks",
	Short:   "Find tasks by name or description",
	Args:    cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		views, err := a.repo(nil).Search(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printViews(cmd, views, filterFlags(cmd))
	}),
}

var showCmd = &cobra.Command{
	Use:     "show <id>",
	GroupID: "tasks",
	Short:   "Show every field of a task",
	Args:    cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		v, err := a.repo(nil).Get(cmd.Context(), id)
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return printJSON(v)
		}
		fmt.Print(ui.TaskDetail(v))
		return nil
	}),
}

var completeCmd = &cobra.Command{
	Use:     "complete <id>",
	Aliases: []string{"done"},
	GroupID: "tasks",
	Short:   "Mark a task complete",
	Long: `Mark a task complete, now or at the date given with --date.

Examples:
  todosync complete 4
  todosync complete 4 --date yesterday`,
	Args: cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		date, _ := cmd.Flags().GetString("date")
		v, err := a.repo(nil).Complete(cmd.Context(), id, date)
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return printJSON(v)
		}
		fmt.Println(ui.TaskLine(v))
		return nil
	}),
}

var deleteCmd = &cobra.Command{
	Use:     "delete <id>...",
	Aliases: []string{"rm"},
	GroupID: "tasks",
	Short:   "Delete tasks",
	Args:    cobra.MinimumNArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		repo := a.repo(nil)
		for _, arg := range args {
			id, err := parseID(arg)
			if err != nil {
				return err
			}
			if err := repo.Delete(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Printf("%s Deleted %d\n", ui.RenderPass("✓"), id)
		}
		return nil
	}),
}

var clearCmd = &cobra.Command{
	Use:     "clear",
	GroupID: "tasks",
	Short:   "Delete every task",
	Args:    cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			if !interactive() {
				return fmt.Errorf("refusing to clear without --yes")
			}
			ok, err := confirm("Delete every task on this device and in your account?")
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
		}
		if err := a.repo(nil).Clear(cmd.Context()); err != nil {
			return err
		}
		fmt.Printf("%s Cleared all tasks\n", ui.RenderPass("✓"))
		return nil
	}),
}

type filter struct {
	pending, done bool
}

func filterFlags(cmd *cobra.Command) filter {
	var f filter
	f.pending, _ = cmd.Flags().GetBool("pending")
	f.done, _ = cmd.Flags().GetBool("done")
	return f
}

func (f filter) keep(v repository.TaskView) bool {
	switch {
	case f.pending && v.Task.IsComplete:
		return false
	case f.done && !v.Task.IsComplete:
		return false
	}
	return true
}

func printViews(cmd *cobra.Command, views []repository.TaskView, f filter) error {
	kept := make([]repository.TaskView, 0, len(views))
	for _, v := range views {
		if f.keep(v) {
			kept = append(kept, v)
		}
	}
	if jsonOutput(cmd) {
		return printJSON(kept)
	}
	if len(kept) == 0 {
		fmt.Println(ui.RenderMuted("No tasks"))
		return nil
	}
	for _, v := range kept {
		fmt.Println(ui.TaskLine(v))
	}
	return nil
}

func applyDates(t *task.Task, start, end string) error {
	now := time.Now()
	var err error
	if t.StartAt, err = task.ParseWhen(start, now); err != nil {
		return err
	}
	if t.EndAt, err = task.ParseWhen(end, now); err != nil {
		return err
	}
	return nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid task id %q", s)
	}
	return id, nil
}

func init() {
	addCmd.Flags().String("desc", "", "Description")
	addCmd.Flags().String("start", "", "Start date")
	addCmd.Flags().String("due", "", "Due date")
	addCmd.Flags().String("category", "", "Category name")

	editCmd.Flags().String("name", "", "New name")
	editCmd.Flags().String("desc", "", "New description")
	editCmd.Flags().String("start", "", "New start date")
	editCmd.Flags().String("due", "", "New due date")
	editCmd.Flags().String("category", "", "New category")
	editCmd.Flags().Bool("done", false, "Set completion")

	for _, c := range []*cobra.Command{listCmd, searchCmd} {
		c.Flags().Bool("pending", false, "Only incomplete tasks")
		c.Flags().Bool("done", false, "Only complete tasks")
	}

	completeCmd.Flags().String("date", "", "Completion date (default: now)")
	clearCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")

	rootCmd.AddCommand(addCmd, editCmd, listCmd, searchCmd, showCmd, completeCmd, deleteCmd, clearCmd)
}
