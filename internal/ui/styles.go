// Package ui renders CLI output with lipgloss styles.
//
// Colors follow the terminal's capabilities as detected by termenv, so
// NO_COLOR and dumb terminals get plain text. The user's theme preference
// decides between the light and dark palettes.
package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/todosync/todosync/internal/prefs"
)

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "28", Dark: "42"})
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "130", Dark: "214"})
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "124", Dark: "196"}).Bold(true)
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "25", Dark: "75"})
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "245", Dark: "241"})
	titleStyle  = lipgloss.NewStyle().Bold(true)
	doneStyle   = lipgloss.NewStyle().Strikethrough(true).Foreground(lipgloss.AdaptiveColor{Light: "245", Dark: "241"})
)

// Init configures rendering for the given theme. Call once at startup.
func Init(theme string) {
	lipgloss.SetColorProfile(termenv.EnvColorProfile())
	switch theme {
	case prefs.ThemeLight:
		lipgloss.SetHasDarkBackground(false)
	case prefs.ThemeDark:
		lipgloss.SetHasDarkBackground(true)
	}
}

// DisableColor forces plain output.
func DisableColor() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

// RenderPass renders success text.
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderWarn renders warnings.
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderFail renders errors.
func RenderFail(s string) string { return failStyle.Render(s) }

// RenderAccent renders highlighted text.
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderMuted renders secondary text.
func RenderMuted(s string) string { return mutedStyle.Render(s) }

// RenderTitle renders headings.
func RenderTitle(s string) string { return titleStyle.Render(s) }
