package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/bushportal/livecoding/internal/tui/theme"
)

// BadgeOpt configures optional rendering behavior for RenderStatusBadge.
type BadgeOpt func(*badgeOptions)

type badgeOptions struct {
	showIcon bool
	bold     bool
}

type badgeVariant struct {
	icon  string
	label string
	color lipgloss.TerminalColor
}

var statusBadgeVariants = map[string]badgeVariant{
	"active": {
		icon:  theme.IconActive,
		label: "ACTIVE",
		color: theme.AmberColor,
	},
	"completed": {
		icon:  theme.IconDone,
		label: "COMPLETED",
		color: theme.MossColor,
	},
	"error": {
		icon:  theme.IconFailed,
		label: "ERROR",
		color: theme.SignalColor,
	},
}

// WithBadgeIcon controls whether the icon is shown (default: true).
func WithBadgeIcon(show bool) BadgeOpt {
	return func(options *badgeOptions) {
		options.showIcon = show
	}
}

// WithBadgeBold controls whether the badge text is bold (default: false).
func WithBadgeBold(bold bool) BadgeOpt {
	return func(options *badgeOptions) {
		options.bold = bold
	}
}

// RenderStatusBadge renders `[icon] LABEL` for a session status.
func RenderStatusBadge(status string, opts ...BadgeOpt) string {
	options := badgeOptions{
		showIcon: true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	normalized := strings.ToLower(strings.TrimSpace(status))
	variant, ok := statusBadgeVariants[normalized]
	if !ok {
		variant = badgeVariant{
			icon:  theme.IconUnknown,
			label: strings.ToUpper(normalized),
			color: theme.SlateColor,
		}
		if variant.label == "" {
			variant.label = "UNKNOWN"
		}
	}

	content := variant.label
	if options.showIcon {
		content = variant.icon + " " + variant.label
	}

	return lipgloss.NewStyle().
		Foreground(variant.color).
		Bold(options.bold).
		Render(content)
}
