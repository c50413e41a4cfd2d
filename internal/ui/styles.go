package ui

import "github.com/charmbracelet/lipgloss"

var (
	Primary = lipgloss.Color("63")
	Subtle  = lipgloss.Color("241")
	Surface = lipgloss.Color("236")
	Text    = lipgloss.Color("252")
	TextDim = lipgloss.Color("245")

	// Unity results.
	Pass   = lipgloss.Color("78")
	Fail   = lipgloss.Color("196")
	Ignore = lipgloss.Color("214")
)

// devicePalette colours dut-0, dut-1, ... in turn, both in the console
// prefix and in the log viewer.
var devicePalette = []lipgloss.Color{"86", "205", "78", "214", "63", "141"}

var (
	// Log list on the left of `dutkit watch`.
	DeviceListStyle = lipgloss.NewStyle().
			Width(20).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderRight(true).
			BorderForeground(Surface).
			Padding(1, 1)

	DeviceItemStyle   = lipgloss.NewStyle().Foreground(TextDim).PaddingLeft(1)
	DeviceActiveStyle = lipgloss.NewStyle().Bold(true).PaddingLeft(1)

	ContentStyle = lipgloss.NewStyle().Padding(1, 2)

	StatusBarStyle = lipgloss.NewStyle().
			Foreground(TextDim).
			Background(Surface).
			Padding(0, 1)

	StatusBarKeyStyle = lipgloss.NewStyle().
				Foreground(Text).
				Background(Surface).
				Bold(true)

	HeadingStyle = lipgloss.NewStyle().Foreground(Primary).Bold(true).MarginBottom(1)
	BoldStyle    = lipgloss.NewStyle().Bold(true)
	DimStyle     = lipgloss.NewStyle().Foreground(TextDim)
)

// DeviceColor returns the colour of device index.
func DeviceColor(index int) lipgloss.Color {
	if index < 0 {
		index = -index
	}
	return devicePalette[index%len(devicePalette)]
}

// DUTPrefix renders the console prefix of device index in its colour.
func DUTPrefix(index int) func(string) string {
	st := lipgloss.NewStyle().Foreground(DeviceColor(index))
	return func(s string) string { return st.Render(s) }
}

// ResultColor maps a Unity result (PASS, FAIL, IGNORE) to its colour.
// Anything else is dimmed.
func ResultColor(result string) lipgloss.Color {
	switch result {
	case "PASS":
		return Pass
	case "FAIL":
		return Fail
	case "IGNORE":
		return Ignore
	}
	return Subtle
}
