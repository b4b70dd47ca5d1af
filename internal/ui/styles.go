package ui

import "github.com/charmbracelet/lipgloss"

// Color palette. A single warm amber accent against gray chrome.
const (
	ColorAmber    = "214" // Primary accent
	ColorAmberDim = "136" // Dimmed accent for inactive elements
	ColorWhite    = "255" // Headers
	ColorGray     = "245" // Labels, secondary text
	ColorDarkGray = "238" // Borders, separators
	ColorRed      = "196" // Errors
	ColorYellow   = "220" // Warnings
	ColorGreen    = "114" // Pass marks in eval tables
)

// Styles holds the lipgloss styles shared by the TUI and the eval
// report tables.
type Styles struct {
	Header  lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Dim     lipgloss.Style
	Active  lipgloss.Style
	Label   lipgloss.Style
	Border  lipgloss.Style
	Panel   lipgloss.Style
	Spark   lipgloss.Style
}

// DefaultStyles returns the colored styles.
func DefaultStyles() Styles {
	return Styles{
		Header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorAmber)),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGreen)),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorYellow)),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorRed)),
		Dim:     lipgloss.NewStyle().Foreground(lipgloss.Color(ColorDarkGray)),
		Active:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorAmber)),
		Label:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGray)),
		Border:  lipgloss.NewStyle().Foreground(lipgloss.Color(ColorDarkGray)),
		Panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(ColorDarkGray)).
			Padding(0, 1),
		Spark: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAmberDim)),
	}
}

// NoColorStyles returns unstyled components for plain mode.
func NoColorStyles() Styles {
	return Styles{
		Header:  lipgloss.NewStyle(),
		Success: lipgloss.NewStyle(),
		Warning: lipgloss.NewStyle(),
		Error:   lipgloss.NewStyle(),
		Dim:     lipgloss.NewStyle(),
		Active:  lipgloss.NewStyle(),
		Label:   lipgloss.NewStyle(),
		Border:  lipgloss.NewStyle(),
		Panel:   lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(0, 1),
		Spark:   lipgloss.NewStyle(),
	}
}

// GetStyles returns the appropriate styles for the color preference.
func GetStyles(noColor bool) Styles {
	if noColor || DetectNoColor() {
		return NoColorStyles()
	}
	return DefaultStyles()
}
