package cmd

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	dimStyle   = lipgloss.NewStyle().Faint(true)
	labelStyle = dimStyle.Width(14)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)

	statusColors = map[string]lipgloss.Color{
		"COMPLETED":            lipgloss.Color("#3FB950"),
		"FAILED":               lipgloss.Color("#FF6B6B"),
		"REJECTED":             lipgloss.Color("#FF6B6B"),
		"RUNNING":              lipgloss.Color("#D29922"),
		"WAITING_FOR_APPROVAL": lipgloss.Color("#5B8DEF"),
		"PENDING":              lipgloss.Color("#AAAAAA"),
	}
)

func statusIcon(status string) string {
	switch status {
	case "COMPLETED":
		return "✓"
	case "FAILED", "REJECTED":
		return "✗"
	case "RUNNING":
		return "⏳"
	case "WAITING_FOR_APPROVAL":
		return "✋"
	case "PENDING":
		return "◯"
	default:
		return "•"
	}
}

func colorizeStatus(status string) string {
	text := statusIcon(status) + " " + status
	if c, ok := statusColors[status]; ok {
		return lipgloss.NewStyle().Foreground(c).Render(text)
	}
	return text
}

// field renders one "label  value" line.
func field(label, value string) string {
	if value == "" {
		value = "-"
	}
	return labelStyle.Render(label+":") + " " + value
}

// cell pads s to width, truncating with an ellipsis when it does not fit.
func cell(s string, width int) string {
	if r := []rune(s); len(r) > width {
		s = string(r[:width-1]) + "…"
	}
	return lipgloss.NewStyle().Width(width).Render(s)
}

func formatTimeWithRelative(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return fmt.Sprintf("%s %s", t.Format("Mon, 02 Jan 2006 15:04:05 MST"), dimStyle.Render("("+relativeTime(t)+" ago)"))
}

func relativeTime(t time.Time) string {
	duration := time.Since(t)

	if duration < time.Minute {
		return fmt.Sprintf("%ds", int(duration.Seconds()))
	} else if duration < time.Hour {
		return fmt.Sprintf("%dm", int(duration.Minutes()))
	} else if duration < 24*time.Hour {
		return fmt.Sprintf("%dh", int(duration.Hours()))
	} else {
		days := int(duration.Hours() / 24)
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
}
