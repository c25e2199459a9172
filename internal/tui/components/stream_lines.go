package components

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/bushportal/livecoding/internal/tui/theme"
)

const (
	sessionRowMinPromptWidth = 12
	sessionRowDefaultWidth   = 100
	ellipsis                 = "…"
)

// RenderFileLine renders one generated file as `▸ path (language, N bytes)`.
func RenderFileLine(path, language string, size int) string {
	lang := strings.TrimSpace(language)
	if lang == "" {
		lang = "text"
	}
	return theme.PathStyle.Render(theme.IconFile+" "+path) + " " +
		theme.MutedStyle.Render("(") + theme.LabelStyle.Render(lang) +
		theme.MutedStyle.Render(fmt.Sprintf(", %d bytes)", size))
}

// RenderText renders streamed model text unchanged apart from color.
func RenderText(text string) string {
	return theme.TextStyle.Render(text)
}

// RenderFailure renders an error event message.
func RenderFailure(message string) string {
	message = strings.TrimSpace(message)
	if message == "" {
		message = "unknown error"
	}
	return theme.ErrorStyle.Render(theme.IconFailed + " " + message)
}

// RenderCompletion renders the closing line of a successful run.
func RenderCompletion(sessionID string, fileCount int) string {
	noun := "files"
	if fileCount == 1 {
		noun = "file"
	}
	return theme.SuccessStyle.Render(fmt.Sprintf("%s %d %s generated", theme.IconDone, fileCount, noun)) +
		" " + theme.MutedStyle.Render(sessionID)
}

// SessionRow is the data shown for one session in a listing.
type SessionRow struct {
	ID        string
	Prompt    string
	Status    string
	FileCount int
	StartedAt time.Time
}

// RenderSessionRow renders one listing line, truncating the prompt to fit width.
func RenderSessionRow(row SessionRow, width int) string {
	if width <= 0 {
		width = sessionRowDefaultWidth
	}

	started := "-"
	if !row.StartedAt.IsZero() {
		started = row.StartedAt.Local().Format(time.DateTime)
	}
	prefix := fmt.Sprintf("%s  %s  %s  %d files  ",
		row.ID,
		RenderStatusBadge(row.Status, WithBadgeBold(true)),
		theme.MutedStyle.Render(started),
		row.FileCount,
	)

	promptWidth := width - lipgloss.Width(prefix)
	if promptWidth < sessionRowMinPromptWidth {
		promptWidth = sessionRowMinPromptWidth
	}
	return prefix + truncate(strings.Join(strings.Fields(row.Prompt), " "), promptWidth)
}

func truncate(value string, width int) string {
	if lipgloss.Width(value) <= width {
		return value
	}
	runes := []rune(value)
	for len(runes) > 0 && lipgloss.Width(string(runes))+1 > width {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + ellipsis
}
