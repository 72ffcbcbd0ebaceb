package tui

import "github.com/charmbracelet/lipgloss"

var (
	ColorInk       = lipgloss.Color("#E5E9F0")
	ColorDim       = lipgloss.Color("#7A8291")
	ColorAccent    = lipgloss.Color("#88C0D0")
	ColorAccentAlt = lipgloss.Color("#81A1C1")
	ColorSuccess   = lipgloss.Color("#A3BE8C")
	ColorWarn      = lipgloss.Color("#EBCB8B")
	ColorError     = lipgloss.Color("#BF616A")
)

// toneStyles colour summary values by what they mean.
var toneStyles = map[Tone]lipgloss.Style{
	ToneNeutral: lipgloss.NewStyle().Foreground(ColorInk).Bold(true),
	ToneGood:    lipgloss.NewStyle().Foreground(ColorSuccess).Bold(true),
	ToneWarn:    lipgloss.NewStyle().Foreground(ColorWarn).Bold(true),
	ToneBad:     lipgloss.NewStyle().Foreground(ColorError).Bold(true),
}
