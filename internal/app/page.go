package app

import (
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

// PageID identifies each view of a DUT log.
type PageID int

const (
	LogPage PageID = iota
	ReportPage
)

var PageOrder = []PageID{
	LogPage,
	ReportPage,
}

// Page is the interface every page in the application implements.
type Page interface {
	Init() tea.Cmd
	Update(msg tea.Msg) (Page, tea.Cmd)
	View() string
	Name() string
	ShortHelp() []key.Binding
	SetSize(width, height int)
}

// InputCapturer is an optional interface for pages with text inputs.
// When InputCaptured returns true, the app forwards all keys directly
// to the page instead of processing shortcuts like q, ?, left, etc.
type InputCapturer interface {
	InputCaptured() bool
}

// EntrySelectedMsg is broadcast to all pages when a DUT log is selected.
type EntrySelectedMsg struct {
	Entry LogEntry
}
