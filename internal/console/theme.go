package console

import "github.com/charmbracelet/lipgloss"

type Theme struct {
	Title         lipgloss.Style
	TaskIdle      lipgloss.Style
	TaskActive    lipgloss.Style
	StateRunning  lipgloss.Style
	StatePaused   lipgloss.Style
	StateStarting lipgloss.Style
	System        lipgloss.Style
	You           lipgloss.Style
	Agent         lipgloss.Style
	Placeholder   lipgloss.Style
	StatusBar     lipgloss.Style
	Faint         lipgloss.Style
	Border        lipgloss.Style
}

var DefaultTheme = Theme{
	Title:         lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#E5E7EB")),
	TaskIdle:      lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF")).Padding(0, 1),
	TaskActive:    lipgloss.NewStyle().Foreground(lipgloss.Color("#111827")).Background(lipgloss.Color("#60A5FA")).Bold(true).Padding(0, 1),
	StateRunning:  lipgloss.NewStyle().Foreground(lipgloss.Color("#34D399")).Bold(true),
	StatePaused:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FBBF24")).Bold(true),
	StateStarting: lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF")),
	System:        lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF")),
	You:           lipgloss.NewStyle().Foreground(lipgloss.Color("#60A5FA")),
	Agent:         lipgloss.NewStyle().Foreground(lipgloss.Color("#34D399")),
	Placeholder:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFFFF")).Bold(true),
	StatusBar:     lipgloss.NewStyle().Foreground(lipgloss.Color("#D1D5DB")).Background(lipgloss.Color("#1F2937")),
	Faint:         lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280")),
	Border:        lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#374151")),
}
