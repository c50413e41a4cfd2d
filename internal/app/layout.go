package app

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"

	"github.com/buckleypaul/dutkit/internal/ui"
)

const sidebarWidth = 22 // 20 content + 2 border/padding

func renderSessionBar(root, view string, width int, sidebarFocused bool) string {
	sessionDisplay := filepath.Base(root)
	if root == "" {
		sessionDisplay = "(none)"
	}
	content := fmt.Sprintf("Session: %s  View: %s", sessionDisplay, view)
	hint := ""
	if sidebarFocused {
		hint = ui.DimStyle.Render("  [s] change")
	}
	return ui.StatusBarStyle.Width(width).Render(content + hint)
}

// renderDeviceList lists the DUT logs of the session, each device in its
// own colour and marked with the outcome of its report.
func renderDeviceList(entries []LogEntry, cursor int, height int, focused bool) string {
	var b strings.Builder
	if focused {
		b.WriteString(ui.BoldStyle.Render("devices [FOCUSED]"))
	} else {
		b.WriteString(ui.HeadingStyle.Render("devices"))
	}
	b.WriteString("\n\n")

	if len(entries) == 0 {
		b.WriteString(ui.DimStyle.Render("  no logs"))
		b.WriteString("\n")
	}
	lastCase := ""
	for i, e := range entries {
		if e.Case != lastCase {
			name := e.Case
			if len(name) > 17 {
				name = "…" + name[len(name)-16:]
			}
			b.WriteString(ui.DimStyle.Render(name))
			b.WriteString("\n")
			lastCase = e.Case
		}
		style := ui.DeviceItemStyle
		cur := " "
		if i == cursor {
			style = ui.DeviceActiveStyle
			cur = "▸"
		}
		b.WriteString(style.Render(cur + " " + ui.DeviceLabel(e.Index) + " " + ui.ResultMark(e.Report != "", e.Failures)))
		b.WriteString("\n")
	}

	style := ui.DeviceListStyle.Height(height)
	if focused {
		style = style.BorderForeground(ui.Primary)
	}
	return style.Render(b.String())
}

func renderStatusBar(pageHelp []key.Binding, width int, focus FocusArea) string {
	var parts []string

	// Focus-specific instructions
	if focus == FocusSidebar {
		parts = append(parts,
			ui.KeyHint("↑/↓", "navigate"),
			ui.KeyHint("enter", "open"),
			ui.KeyHint("s", "session"),
			ui.KeyHint("r", "reload"),
		)
	} else {
		// Page-specific keys when content is focused
		for _, kb := range pageHelp {
			if kb.Enabled() {
				parts = append(parts, ui.KeyHint(kb.Help().Key, kb.Help().Desc))
			}
		}
	}

	// Always add global keys
	parts = append(parts,
		ui.KeyHint("v", "view"),
		ui.KeyHint("tab", "focus"),
		ui.KeyHint("q", "quit"),
	)

	line := strings.Join(parts, "  ")
	return ui.StatusBarStyle.Width(width).Render(line)
}

func renderHelp(width int) string {
	var b strings.Builder
	for _, kb := range []key.Binding{
		GlobalKeys.ToggleFocus, GlobalKeys.SwitchView, GlobalKeys.SessionPicker,
		GlobalKeys.Reload, GlobalKeys.Help, GlobalKeys.Quit,
	} {
		fmt.Fprintf(&b, "%-6s %s\n", kb.Help().Key, kb.Help().Desc)
	}
	return ui.Box("Keys", b.String(), width, ui.Primary)
}

func renderLayout(sessionBar, sidebar, content, statusBar string) string {
	main := lipgloss.JoinHorizontal(lipgloss.Top, sidebar, content)
	return lipgloss.JoinVertical(lipgloss.Left, sessionBar, main, statusBar)
}
