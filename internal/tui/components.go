package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/pders01/roster/internal/people"
)

// renderHeader returns a consistently styled header with an optional muted subtitle.
// Width is used to guide truncation via helpers.
func renderHeader(title, subtitle string, width int) string {
	title = truncateEnd(title, width-2)
	subtitle = truncateEnd(subtitle, width-2)
	rows := []string{HeaderStyle.Render(title)}
	if subtitle != "" {
		rows = append(rows, renderMuted(subtitle))
	}
	return lipgloss.JoinVertical(lipgloss.Top, rows...)
}

// renderInputFrame draws a rounded bordered container around a rendered input view.
func renderInputFrame(inputView string, focused bool, contentWidth int) string {
	borderColor := MutedColor
	if focused {
		borderColor = AccentColor
	}
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(borderColor).
		Padding(0, 1).
		Width(contentWidth + 4).
		Render(inputView)
}

// renderToggles shows which employment kinds are in the filter, each with its key.
func renderToggles(set people.EmploymentSet, employeeKey, contractorKey string) string {
	toggle := func(label, key string, on bool) string {
		mark := "[ ]"
		style := ToggleOffStyle
		if on {
			mark = "[x]"
			style = ToggleOnStyle
		}
		return style.Render(mark+" "+label) + " " + renderMuted(key)
	}
	return strings.Join([]string{
		toggle("employees", employeeKey, set.Contains(people.Employee)),
		toggle("contractors", contractorKey, set.Contains(people.Contractor)),
	}, "   ")
}

// renderCentered centers the provided content within the given width/height box.
func renderCentered(width, height int, content string) string {
	return lipgloss.NewStyle().
		Width(width).
		Height(height).
		Align(lipgloss.Center, lipgloss.Center).
		Render(content)
}

// renderMuted renders text in muted color (utility wrapper).
func renderMuted(text string) string {
	return lipgloss.NewStyle().Foreground(MutedColor).Render(text)
}

// renderHelp renders help/instructional text consistently.
func renderHelp(text string) string {
	return HelpStyle.Render(text)
}
