package tui

import "github.com/charmbracelet/lipgloss"

var (
	// HeaderStyle styles the column header row.
	HeaderStyle = lipgloss.NewStyle().Bold(true)

	// FooterStyle styles the spinner line and key help.
	FooterStyle = lipgloss.NewStyle().Faint(true)

	styleDone    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	styleActive  = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	styleWarn    = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	styleFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	stylePending = lipgloss.NewStyle().Faint(true)

	statusStyles = map[string]lipgloss.Style{
		"installed":   styleDone,
		"cached":      styleDone,
		"vendored":    styleDone,
		"resolving":   styleActive,
		"downloading": styleActive,
		"verifying":   styleActive,
		"extracting":  styleActive,
		"retrying":    styleWarn,
		"failed":      styleFailed,
		"pending":     stylePending,
	}
)

// StatusStyle returns the lipgloss style for the given status string.
func StatusStyle(status string) lipgloss.Style {
	if s, ok := statusStyles[status]; ok {
		return s
	}
	return lipgloss.NewStyle()
}
