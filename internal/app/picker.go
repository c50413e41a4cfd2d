package app

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/buckleypaul/dutkit/internal/ui"
)

// SessionPickedMsg is sent when a session has been chosen.
type SessionPickedMsg struct {
	Dir string
}

// PickerClosedMsg is sent when the picker is dismissed.
type PickerClosedMsg struct{}

const maxPickerRows = 12

// SessionPicker is the overlay listing the sessions of the log directory.
// Typed words narrow the list to sessions whose start time, services or
// run id contain every word.
type SessionPicker struct {
	sessions []SessionInfo
	shown    []SessionInfo
	input    textinput.Model
	cursor   int
	width    int
	height   int
}

func NewSessionPicker() *SessionPicker {
	ti := textinput.New()
	ti.Placeholder = "date, services or run id"
	ti.Prompt = "/ "
	ti.CharLimit = 64
	ti.Focus()
	return &SessionPicker{input: ti}
}

// SetSessions replaces the listed sessions.
func (p *SessionPicker) SetSessions(sessions []SessionInfo) {
	p.sessions = sessions
	p.narrow()
}

func (p *SessionPicker) SetSize(w, h int) {
	p.width = w
	p.height = h
}

func (p *SessionPicker) Update(msg tea.Msg) (*SessionPicker, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "esc":
			return p, func() tea.Msg { return PickerClosedMsg{} }
		case "enter":
			if p.cursor < len(p.shown) {
				dir := p.shown[p.cursor].Dir
				return p, func() tea.Msg { return SessionPickedMsg{Dir: dir} }
			}
			return p, nil
		case "up":
			if p.cursor > 0 {
				p.cursor--
			}
			return p, nil
		case "down":
			if p.cursor < len(p.shown)-1 {
				p.cursor++
			}
			return p, nil
		}
	}
	var cmd tea.Cmd
	p.input, cmd = p.input.Update(msg)
	p.narrow()
	return p, cmd
}

// sessionLabel reads like "2026-10-19 14:03:11  esp,idf x2".
func sessionLabel(s SessionInfo) string {
	label := s.Started.Local().Format("2006-01-02 15:04:05")
	if s.Services != "" {
		label += "  " + s.Services
	}
	if s.Count > 1 {
		label += fmt.Sprintf(" x%d", s.Count)
	}
	return label
}

func (p *SessionPicker) narrow() {
	words := strings.Fields(strings.ToLower(p.input.Value()))
	p.shown = p.shown[:0:0]
	for _, s := range p.sessions {
		hay := strings.ToLower(sessionLabel(s) + " " + s.RunID)
		keep := true
		for _, w := range words {
			if !strings.Contains(hay, w) {
				keep = false
				break
			}
		}
		if keep {
			p.shown = append(p.shown, s)
		}
	}
	p.cursor = min(p.cursor, len(p.shown)-1)
	p.cursor = max(p.cursor, 0)
}

func (p *SessionPicker) View() string {
	width := min(max(p.width-4, 36), 64)
	inner := width - 4

	var b strings.Builder
	p.input.Width = inner - 3
	b.WriteString(p.input.View())
	b.WriteString("\n\n")

	first := 0
	if p.cursor >= maxPickerRows {
		first = p.cursor - maxPickerRows + 1
	}
	last := min(first+maxPickerRows, len(p.shown))
	picked := lipgloss.NewStyle().Foreground(ui.Primary).Bold(true)
	for i := first; i < last; i++ {
		s := p.shown[i]
		label := sessionLabel(s)
		if lipgloss.Width(label) > inner-2 {
			label = label[:inner-2]
		}
		if i == p.cursor {
			b.WriteString(picked.Render("▸ " + label))
		} else {
			b.WriteString("  " + label)
		}
		b.WriteString("\n")
		if i == p.cursor && s.RunID != "" {
			b.WriteString(ui.DimStyle.Render("  run " + s.RunID))
			b.WriteString("\n")
		}
	}
	if len(p.shown) == 0 {
		b.WriteString(ui.DimStyle.Render("  no session matches"))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(ui.DimStyle.Render(fmt.Sprintf("%d of %d sessions  esc:close", len(p.shown), len(p.sessions))))
	return ui.Box("Sessions", b.String(), width, ui.Primary)
}
