// Package theme holds the terminal palette shared by the CLI renderers.
package theme

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

const (
	// Amber marks work in flight.
	Amber = "#FFAA00"
	// Sky marks file paths and informational text.
	Sky = "#99CCFF"
	// Lilac marks languages and secondary labels.
	Lilac = "#CC99CC"
	// Signal marks errors.
	Signal = "#FF3333"
	// Moss marks completed work.
	Moss = "#33CC66"
	// Slate is the muted neutral for timestamps and hints.
	Slate = "#6A6A82"
	// Chalk is the primary text color.
	Chalk = "#F5F6FA"
)

// Status icons.
const (
	IconDone    = "✓"
	IconActive  = "●"
	IconFailed  = "✗"
	IconUnknown = "⚠"
	IconFile    = "▸"
)

// Profile-aware terminal colors for the palette above.
var (
	AmberColor  = paletteColor(Amber, "214", "11")
	SkyColor    = paletteColor(Sky, "153", "14")
	LilacColor  = paletteColor(Lilac, "182", "5")
	SignalColor = paletteColor(Signal, "196", "9")
	MossColor   = paletteColor(Moss, "41", "10")
	SlateColor  = paletteColor(Slate, "60", "8")
	ChalkColor  = paletteColor(Chalk, "255", "15")
)

var (
	// ActiveStyle marks a session still streaming.
	ActiveStyle = lipgloss.NewStyle().Foreground(AmberColor).Bold(true)
	// SuccessStyle marks a completed session.
	SuccessStyle = lipgloss.NewStyle().Foreground(MossColor).Bold(true)
	// ErrorStyle marks a failed session or error event.
	ErrorStyle = lipgloss.NewStyle().Foreground(SignalColor).Bold(true)
	// PathStyle renders generated file paths.
	PathStyle = lipgloss.NewStyle().Foreground(SkyColor)
	// LabelStyle renders languages and other secondary labels.
	LabelStyle = lipgloss.NewStyle().Foreground(LilacColor)
	// MutedStyle renders timestamps and hints.
	MutedStyle = lipgloss.NewStyle().Foreground(SlateColor).Faint(true)
	// TextStyle renders streamed model text.
	TextStyle = lipgloss.NewStyle().Foreground(ChalkColor)
)

var colorProfileFn = lipgloss.ColorProfile

func paletteColor(hex string, ansi256 string, ansi string) lipgloss.TerminalColor {
	switch colorProfileFn() {
	case termenv.ANSI256, termenv.ANSI:
		complete := lipgloss.CompleteColor{TrueColor: hex, ANSI256: ansi256, ANSI: ansi}
		return lipgloss.CompleteAdaptiveColor{Light: complete, Dark: complete}
	default:
		return lipgloss.AdaptiveColor{Light: hex, Dark: hex}
	}
}
