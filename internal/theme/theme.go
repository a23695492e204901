// Package theme holds the terminal styles used by the command-line output.
package theme

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Adaptive color pairs (dark terminal value, light terminal value).
var (
	ColorBlue   = lipgloss.AdaptiveColor{Dark: "#5B9BD5", Light: "#2B6CB0"}
	ColorGreen  = lipgloss.AdaptiveColor{Dark: "#6BCB77", Light: "#2F855A"}
	ColorYellow = lipgloss.AdaptiveColor{Dark: "#FFD93D", Light: "#B7791F"}
	ColorRed    = lipgloss.AdaptiveColor{Dark: "#FF6B6B", Light: "#C53030"}
	ColorGray   = lipgloss.AdaptiveColor{Dark: "#868E96", Light: "#718096"}
	ColorBorder = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#E2E8F0"}
)

// HeaderStyle is used for section titles.
var HeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorBlue)

// MutedStyle is used for secondary information such as hints and counts.
var MutedStyle = lipgloss.NewStyle().Foreground(ColorGray)

// ErrorStyle highlights failures.
var ErrorStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorRed)

// SuccessStyle highlights completed operations.
var SuccessStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorGreen)

// StateStyle returns a color-coded style for an activity or sync state.
func StateStyle(state string) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)

	switch state {
	case "pendiente", "idle":
		return base.Foreground(ColorBlue)
	case "en_curso", "running":
		return base.Foreground(ColorYellow)
	case "completada", "completed":
		return base.Foreground(ColorGreen)
	case "error", "aborted", "completed_with_errors":
		return base.Foreground(ColorRed)
	default:
		return base.Foreground(ColorGray)
	}
}

// Table renders rows under headers with a rounded border.
func Table(headers []string, rows [][]string) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(ColorBorder)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return HeaderStyle.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	return t.Render()
}
