// Package styles holds the lipgloss palette shared by the status renderer
// and the terminal monitor.
package styles

import "github.com/charmbracelet/lipgloss"

var (
	// Colors - all colors meet WCAG AA contrast (4.5:1) on both black and dark surfaces
	PrimaryColor   = lipgloss.Color("#A78BFA") // Purple
	SecondaryColor = lipgloss.Color("#10B981") // Green
	WarningColor   = lipgloss.Color("#F59E0B") // Amber
	ErrorColor     = lipgloss.Color("#F87171") // Red
	MutedColor     = lipgloss.Color("#9CA3AF") // Gray
	SurfaceColor   = lipgloss.Color("#1F2937") // Dark surface
	TextColor      = lipgloss.Color("#F9FAFB") // Light text
	BorderColor    = lipgloss.Color("#6B7280") // Gray

	// Convenience styles for colors
	Primary   = lipgloss.NewStyle().Foreground(PrimaryColor)
	Secondary = lipgloss.NewStyle().Foreground(SecondaryColor)
	Warning   = lipgloss.NewStyle().Foreground(WarningColor)
	Error     = lipgloss.NewStyle().Foreground(ErrorColor)
	Muted     = lipgloss.NewStyle().Foreground(MutedColor)
	Text      = lipgloss.NewStyle().Foreground(TextColor)

	// Module states
	StateRunning  = lipgloss.Color("#10B981") // Green
	StateCreated  = lipgloss.Color("#9CA3AF") // Gray
	StateStopping = lipgloss.Color("#F59E0B") // Amber
	StateStopped  = lipgloss.Color("#F87171") // Red

	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(PrimaryColor)

	TableHead = lipgloss.NewStyle().
			Bold(true).
			Foreground(TextColor)

	// Header
	Header = lipgloss.NewStyle().
		Bold(true).
		Foreground(PrimaryColor).
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		BorderForeground(BorderColor).
		MarginBottom(1)

	// Deterrence banner
	Raised = lipgloss.NewStyle().
		Bold(true).
		Foreground(TextColor).
		Background(ErrorColor).
		Padding(0, 1)

	Clear = lipgloss.NewStyle().
		Foreground(TextColor).
		Background(SecondaryColor).
		Padding(0, 1)

	// Selected table row
	Selected = lipgloss.NewStyle().
			Bold(true).
			Foreground(TextColor).
			Background(SurfaceColor)

	// Detail pane
	Detail = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(BorderColor).
		Padding(0, 1)

	// Help bar
	HelpBar = lipgloss.NewStyle().
		Foreground(MutedColor).
		MarginTop(1)

	HelpKey = lipgloss.NewStyle().
		Bold(true).
		Foreground(SecondaryColor)

	// Error message
	ErrorMsg = lipgloss.NewStyle().
			Foreground(ErrorColor).
			Bold(true)

	// Warning message
	WarningMsg = lipgloss.NewStyle().
			Foreground(WarningColor).
			Bold(true)
)

// StateColor returns the color for a module state as reported in health
// records.
func StateColor(state string) lipgloss.Color {
	switch state {
	case "RUNNING":
		return StateRunning
	case "CREATED":
		return StateCreated
	case "STOPPING":
		return StateStopping
	case "STOPPED":
		return StateStopped
	default:
		return MutedColor
	}
}

// StateIcon returns an icon for a module state.
func StateIcon(state string) string {
	switch state {
	case "RUNNING":
		return "●"
	case "CREATED":
		return "○"
	case "STOPPING":
		return "◐"
	case "STOPPED":
		return "✗"
	default:
		return "?"
	}
}

// State renders state in its color.
func State(state string) string {
	return lipgloss.NewStyle().Foreground(StateColor(state)).Render(state)
}
