package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Box draws a rounded border around body with title set into the top
// edge. width is the outer width; the body wraps inside it.
func Box(title, body string, width int, color lipgloss.Color) string {
	edge := lipgloss.NewStyle().Foreground(color)
	label := " " + title + " "
	// ╭─ + label + dashes + ╮
	dashes := width - lipgloss.Width(label) - 3
	if dashes < 0 {
		dashes = 0
	}
	top := edge.Render("╭─") + BoldStyle.Render(label) + edge.Render(strings.Repeat("─", dashes)+"╮")

	inner := width - 4
	if inner < 0 {
		inner = 0
	}
	rest := lipgloss.NewStyle().
		Width(inner).
		Border(lipgloss.RoundedBorder(), false, true, true, true).
		BorderForeground(color).
		Padding(0, 1).
		Render(body)
	return top + "\n" + rest
}

// Heading renders a page heading.
func Heading(text string) string {
	return HeadingStyle.Render(text)
}

// KeyHint renders a key and what it does for the status bar.
func KeyHint(k, desc string) string {
	return StatusBarKeyStyle.Render(k) + StatusBarStyle.Render(":"+desc)
}

func badge(text string, bg lipgloss.Color) string {
	return lipgloss.NewStyle().
		Foreground(lipgloss.Color("230")).
		Background(bg).
		Padding(0, 1).
		Render(text)
}

// ResultBadge renders a Unity result on its colour.
func ResultBadge(result string) string {
	return badge(result, ResultColor(result))
}

// ErrorBadge flags a failure to load something.
func ErrorBadge(text string) string {
	return badge(text, Fail)
}

// FollowBadge shows whether a tailed log follows new output.
func FollowBadge(following bool) string {
	if following {
		return badge("following", Pass)
	}
	return DimStyle.Render("paused")
}

// DeviceLabel renders "dut-N" in the colour of device index.
func DeviceLabel(index int) string {
	return lipgloss.NewStyle().Foreground(DeviceColor(index)).Render(fmt.Sprintf("dut-%d", index))
}

// SuiteLine summarizes a Unity suite, e.g. "FAIL 2/7 failed, 1 skipped".
func SuiteLine(tests, failures, errors, skipped int) string {
	bad := failures + errors
	result := "PASS"
	if bad > 0 {
		result = "FAIL"
	}
	var b strings.Builder
	b.WriteString(ResultBadge(result))
	if bad > 0 {
		fmt.Fprintf(&b, " %d/%d failed", bad, tests)
	} else {
		fmt.Fprintf(&b, " %d tests", tests)
	}
	if skipped > 0 {
		fmt.Fprintf(&b, ", %d skipped", skipped)
	}
	return b.String()
}

// ResultMark is the one-cell mark next to a DUT log: a tick when its
// report passed, a cross when it failed and nothing without a report.
func ResultMark(hasReport bool, failures int) string {
	switch {
	case !hasReport:
		return " "
	case failures > 0:
		return lipgloss.NewStyle().Foreground(Fail).Render("✗")
	}
	return lipgloss.NewStyle().Foreground(Pass).Render("✓")
}
