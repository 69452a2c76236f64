package dashboard

import (
	"strconv"

	"github.com/todosync/todosync/internal/task"
)

func itoa(id int64) string { return strconv.FormatInt(id, 10) }

func taskNamed(name string) task.Task { return task.Task{Name: name} }
