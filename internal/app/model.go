package app

import (
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/buckleypaul/dutkit/internal/ui"
)

type FocusArea int

const (
	FocusSidebar FocusArea = iota
	FocusContent
)

// Model is the log viewer of `dutkit watch`: the DUT logs of one session
// in the sidebar and the selected log, or its report, on the right.
type Model struct {
	pages      map[PageID]Page
	activePage PageID
	focus      FocusArea
	width      int
	height     int
	showHelp   bool
	logDir     string
	root       string
	entries    []LogEntry
	cursor     int
	picker     *SessionPicker
	err        error
}

// New creates the viewer over the session logged at root. Sessions are
// picked from logDir.
func New(pages map[PageID]Page, logDir, root string) Model {
	return Model{
		pages:  pages,
		logDir: logDir,
		root:   root,
	}
}

func (m Model) Init() tea.Cmd {
	var cmds []tea.Cmd
	for _, p := range m.pages {
		if cmd := p.Init(); cmd != nil {
			cmds = append(cmds, cmd)
		}
	}
	if m.root != "" {
		cmds = append(cmds, LoadEntries(m.root))
	} else if m.logDir != "" {
		cmds = append(cmds, ListSessions(m.logDir))
	}
	return tea.Batch(cmds...)
}

// Selected returns the selected log, if any.
func (m Model) Selected() (LogEntry, bool) {
	if m.cursor < 0 || m.cursor >= len(m.entries) {
		return LogEntry{}, false
	}
	return m.entries[m.cursor], true
}

func (m Model) broadcast(msg tea.Msg) (Model, tea.Cmd) {
	var cmds []tea.Cmd
	for id, page := range m.pages {
		newPage, cmd := page.Update(msg)
		m.pages[id] = newPage
		if cmd != nil {
			cmds = append(cmds, cmd)
		}
	}
	return m, tea.Batch(cmds...)
}

func (m Model) selectEntry(i int) (Model, tea.Cmd) {
	if i < 0 || i >= len(m.entries) {
		return m, nil
	}
	m.cursor = i
	return m.broadcast(EntrySelectedMsg{Entry: m.entries[i]})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		contentWidth := m.width - sidebarWidth
		contentHeight := m.height - 2 - 1 // status bar + session bar
		for _, p := range m.pages {
			p.SetSize(contentWidth, contentHeight)
		}
		return m, nil

	case SessionsLoadedMsg:
		if msg.Err != nil {
			m.err = msg.Err
			return m, nil
		}
		if m.root == "" && len(msg.Sessions) > 0 && m.picker == nil {
			// newest session by default
			m.root = msg.Sessions[0].Dir
			return m, LoadEntries(m.root)
		}
		if m.picker != nil {
			m.picker.SetSessions(msg.Sessions)
		}
		return m, nil

	case EntriesLoadedMsg:
		if msg.Root != m.root {
			return m, nil
		}
		m.err = msg.Err
		var selected string
		if e, ok := m.Selected(); ok {
			selected = e.Path
		}
		m.entries = msg.Entries
		next := 0
		for i, e := range m.entries {
			if e.Path == selected {
				next = i
			}
		}
		return m.selectEntry(next)

	case SessionPickedMsg:
		m.picker = nil
		m.root = msg.Dir
		m.entries = nil
		m.cursor = 0
		return m, LoadEntries(m.root)

	case PickerClosedMsg:
		m.picker = nil
		return m, nil

	case tea.KeyMsg:
		// When picker is open, forward all keys to picker
		if m.picker != nil {
			var cmd tea.Cmd
			m.picker, cmd = m.picker.Update(msg)
			return m, cmd
		}

		// When a page has an active text input, forward all keys
		// directly to the page; only ctrl+c still quits.
		if m.focus == FocusContent {
			if ic, ok := m.pages[m.activePage].(InputCapturer); ok && ic.InputCaptured() {
				if msg.String() == "ctrl+c" {
					return m, tea.Quit
				}
				page := m.pages[m.activePage]
				newPage, cmd := page.Update(msg)
				m.pages[m.activePage] = newPage
				return m, cmd
			}
		}

		// Global key handling
		switch {
		case key.Matches(msg, GlobalKeys.Quit):
			return m, tea.Quit
		case key.Matches(msg, GlobalKeys.Help):
			m.showHelp = !m.showHelp
			return m, nil
		case key.Matches(msg, GlobalKeys.SwitchView):
			m.nextPage()
			return m, nil
		case key.Matches(msg, GlobalKeys.ToggleFocus):
			if m.focus == FocusSidebar {
				m.focus = FocusContent
			} else {
				m.focus = FocusSidebar
			}
			return m, nil
		}

		// Sidebar-only shortcuts
		if m.focus == FocusSidebar {
			switch {
			case key.Matches(msg, GlobalKeys.SessionPicker) && m.logDir != "":
				m.picker = NewSessionPicker()
				m.picker.SetSize(m.width-sidebarWidth, m.height-2-1)
				return m, ListSessions(m.logDir)
			case key.Matches(msg, GlobalKeys.Reload) && m.root != "":
				return m, LoadEntries(m.root)
			}
			switch msg.String() {
			case "up":
				return m.selectEntry(m.cursor - 1)
			case "down":
				return m.selectEntry(m.cursor + 1)
			case "enter", "right":
				m.focus = FocusContent
				return m, nil
			}
			return m, nil
		}

		if msg.String() == "left" {
			m.focus = FocusSidebar
			return m, nil
		}
		page := m.pages[m.activePage]
		newPage, cmd := page.Update(msg)
		m.pages[m.activePage] = newPage
		return m, cmd
	}

	// Non-key messages (ticks, file reads): forward to all pages
	// so responses reach the page that initiated the command
	return m.broadcast(msg)
}

func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	contentWidth := m.width - sidebarWidth
	contentHeight := m.height - 2 - 1 // status bar + session bar

	page := m.pages[m.activePage]

	sessionBar := renderSessionBar(m.root, page.Name(), m.width, m.focus == FocusSidebar)
	sidebar := renderDeviceList(m.entries, m.cursor, contentHeight, m.focus == FocusSidebar)

	body := page.View()
	switch {
	case m.showHelp:
		body = renderHelp(contentWidth - 4)
	case m.err != nil:
		body = ui.ErrorBadge("error") + " " + m.err.Error()
	}
	content := ui.ContentStyle.
		Width(contentWidth).
		Height(contentHeight).
		Render(body)

	// Overlay picker on content area when open
	if m.picker != nil {
		m.picker.SetSize(contentWidth, contentHeight)
		content = lipgloss.Place(
			contentWidth, contentHeight,
			lipgloss.Center, lipgloss.Center,
			m.picker.View(),
		)
	}

	statusBar := renderStatusBar(page.ShortHelp(), m.width, m.focus)

	return renderLayout(sessionBar, sidebar, content, statusBar)
}

func (m *Model) nextPage() {
	for i, id := range PageOrder {
		if id == m.activePage {
			m.activePage = PageOrder[(i+1)%len(PageOrder)]
			return
		}
	}
}
