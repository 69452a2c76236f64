package main

import (
	"errors"
	"os"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"
)

// interactive reports whether prompts can be shown.
func interactive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// errNeedsInput is returned when a value is missing and no terminal is
// attached to ask for it.
var errNeedsInput = errors.New("missing input and no terminal to prompt on")

func confirm(title string) (bool, error) {
	ok := false
	err := huh.NewConfirm().
		Title(title).
		Affirmative("Yes").
		Negative("No").
		Value(&ok).
		Run()
	return ok, err
}

// promptCredentials asks for whichever of email and password is empty.
func promptCredentials(email, password *string) error {
	var fields []huh.Field
	if *email == "" {
		fields = append(fields, huh.NewInput().Title("Email").Value(email).
			Validate(func(s string) error {
				if s == "" {
					return errors.New("email is required")
				}
				return nil
			}))
	}
	if *password == "" {
		fields = append(fields, huh.NewInput().Title("Password").EchoMode(huh.EchoModePassword).Value(password))
	}
	if len(fields) == 0 {
		return nil
	}
	if !interactive() {
		return errNeedsInput
	}
	return huh.NewForm(huh.NewGroup(fields...)).Run()
}

// taskForm collects the fields of a new task.
type taskForm struct {
	Name, Description, Start, End, Category string
}

func promptTask(f *taskForm) error {
	if !interactive() {
		return errNeedsInput
	}
	return huh.NewForm(huh.NewGroup(
		huh.NewInput().Title("Name").Value(&f.Name).Validate(func(s string) error {
			if s == "" {
				return errors.New("name is required")
			}
			return nil
		}),
		huh.NewText().Title("Description").Value(&f.Description),
		huh.NewInput().Title("Start").Placeholder("e.g. tomorrow 9am").Value(&f.Start),
		huh.NewInput().Title("Due").Placeholder("e.g. next friday 5pm").Value(&f.End),
		huh.NewInput().Title("Category").Value(&f.Category),
	)).Run()
}
