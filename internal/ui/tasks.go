package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/todosync/todosync/internal/local"
	"github.com/todosync/todosync/internal/repository"
	tsync "github.com/todosync/todosync/internal/sync"
	"github.com/todosync/todosync/internal/task"
)

const dateLayout = "2006-01-02 15:04"

// TaskLine renders one task as a single line:
//
//	[x] 12  Buy milk  (groceries)  due 2024-03-02 17:00  ● synced
func TaskLine(v repository.TaskView) string {
	t := v.Task

	box := "[ ]"
	name := t.Name
	if t.IsComplete {
		box = RenderPass("[x]")
		name = doneStyle.Render(name)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s  %s", box, RenderMuted(fmt.Sprintf("%3d", t.ID)), name)
	if t.Category != nil {
		fmt.Fprintf(&b, "  %s", RenderAccent("("+t.Category.Name+")"))
	}
	if t.EndAt != nil {
		fmt.Fprintf(&b, "  %s", RenderMuted("due "+t.EndAt.Local().Format(dateLayout)))
	}
	fmt.Fprintf(&b, "  %s", SyncBadge(v))
	return b.String()
}

// SyncBadge renders the sync state of a task.
func SyncBadge(v repository.TaskView) string {
	switch {
	case v.Error != "":
		return RenderFail("✗ " + v.Error)
	case v.Syncing:
		return RenderAccent("↻ syncing")
	case v.State == task.StateSynced:
		return RenderPass("● synced")
	case v.State == task.StateConflict:
		return RenderWarn("! conflict")
	default:
		return RenderWarn("○ " + string(v.State))
	}
}

// TaskDetail renders every field of a task.
func TaskDetail(v repository.TaskView) string {
	t := v.Task
	rows := [][2]string{
		{"ID", fmt.Sprint(t.ID)},
		{"Remote ID", t.RemoteID},
		{"Name", t.Name},
	}
	if t.Description != "" {
		rows = append(rows, [2]string{"Description", t.Description})
	}
	if t.Category != nil {
		rows = append(rows, [2]string{"Category", t.Category.Name})
	}
	rows = append(rows,
		[2]string{"Start", formatTime(t.StartAt)},
		[2]string{"End", formatTime(t.EndAt)},
		[2]string{"Complete", fmt.Sprint(t.IsComplete)},
	)
	if t.CompletedAt != nil {
		rows = append(rows, [2]string{"Completed", formatTime(t.CompletedAt)})
	}
	rows = append(rows,
		[2]string{"Sync", SyncBadge(v)},
		[2]string{"Version", fmt.Sprint(t.Version)},
		[2]string{"Created", t.CreatedAt.Local().Format(dateLayout)},
	)

	var b strings.Builder
	for _, r := range rows {
		fmt.Fprintf(&b, "%s %s\n", RenderMuted(fmt.Sprintf("%-12s", r[0]+":")), r[1])
	}
	return b.String()
}

// Status renders the store counts and coordinator stats.
func Status(c local.Counts, s tsync.Stats, online, loggedIn bool) string {
	var b strings.Builder
	b.WriteString(RenderTitle("Tasks") + "\n")
	fmt.Fprintf(&b, "   Total:      %d\n", c.Total)
	fmt.Fprintf(&b, "   Complete:   %d\n", c.Complete)
	fmt.Fprintf(&b, "   Unsynced:   %d\n", c.Unsynced)
	fmt.Fprintf(&b, "   Deleting:   %d\n", c.Tombstones)

	b.WriteString(RenderTitle("Sync") + "\n")
	fmt.Fprintf(&b, "   Network:    %s\n", onOff(online, "online", "offline"))
	fmt.Fprintf(&b, "   Account:    %s\n", onOff(loggedIn, "signed in", "signed out"))
	if !s.LastPull.IsZero() {
		fmt.Fprintf(&b, "   Last pull:  %s\n", s.LastPull.Local().Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "   Pushed %d, pulled %d, deleted %d, removed %d, conflicts %d\n",
		s.Pushed, s.Pulled, s.Deleted, s.Removed, s.Conflicts)
	if s.Failed > 0 {
		fmt.Fprintf(&b, "   %s\n", RenderFail(fmt.Sprintf("%d task(s) failed to sync", s.Failed)))
	}
	return b.String()
}

func onOff(ok bool, yes, no string) string {
	if ok {
		return RenderPass(yes)
	}
	return RenderWarn(no)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return RenderMuted("-")
	}
	return t.Local().Format(dateLayout)
}
