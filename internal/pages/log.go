package pages

import (
	"errors"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/buckleypaul/dutkit/internal/app"
	"github.com/buckleypaul/dutkit/internal/ui"
)

const (
	tailInterval = 250 * time.Millisecond
	readLimit    = 64 << 10
	// keepBytes bounds the text held by the viewport.
	keepBytes = 1 << 20
)

type tailTickMsg struct{}

// logChunkMsg carries bytes read from a log starting at offset.
type logChunkMsg struct {
	path   string
	offset int64
	data   []byte
	err    error
}

var followKey = key.NewBinding(key.WithKeys("f"), key.WithHelp("f", "follow"))

// LogPage tails the replay log of the selected DUT.
type LogPage struct {
	vp      viewport.Model
	path    string
	title   string
	offset  int64
	reading bool
	buf     []byte
	follow  bool
	err     error
	width   int
	height  int
}

func NewLogPage() *LogPage {
	return &LogPage{vp: viewport.New(0, 0), follow: true}
}

func (p *LogPage) Init() tea.Cmd { return tailTick() }

func tailTick() tea.Cmd {
	return tea.Tick(tailInterval, func(time.Time) tea.Msg { return tailTickMsg{} })
}

// readChunk reads what was appended to path after offset.
func readChunk(path string, offset int64) tea.Cmd {
	return func() tea.Msg {
		f, err := os.Open(path)
		if err != nil {
			return logChunkMsg{path: path, offset: offset, err: err}
		}
		defer f.Close()
		data := make([]byte, readLimit)
		n, err := f.ReadAt(data, offset)
		if errors.Is(err, io.EOF) {
			err = nil
		}
		return logChunkMsg{path: path, offset: offset, data: data[:n], err: err}
	}
}

func (p *LogPage) Update(msg tea.Msg) (app.Page, tea.Cmd) {
	switch msg := msg.(type) {
	case app.EntrySelectedMsg:
		if msg.Entry.Path == p.path {
			return p, nil
		}
		p.path = msg.Entry.Path
		p.title = msg.Entry.Label()
		p.offset = 0
		p.buf = nil
		p.err = nil
		p.follow = true
		p.vp.SetContent("")
		p.reading = true
		return p, readChunk(p.path, 0)

	case tailTickMsg:
		if p.path == "" || p.reading {
			return p, tailTick()
		}
		p.reading = true
		return p, tea.Batch(readChunk(p.path, p.offset), tailTick())

	case logChunkMsg:
		if msg.path != p.path || msg.offset != p.offset {
			return p, nil
		}
		p.reading = false
		p.err = msg.err
		if len(msg.data) == 0 {
			return p, nil
		}
		p.offset += int64(len(msg.data))
		p.buf = append(p.buf, msg.data...)
		if len(p.buf) > keepBytes {
			p.buf = p.buf[len(p.buf)-keepBytes:]
		}
		p.vp.SetContent(string(p.buf))
		if p.follow {
			p.vp.GotoBottom()
		}
		if len(msg.data) == readLimit {
			// more is waiting
			p.reading = true
			return p, readChunk(p.path, p.offset)
		}
		return p, nil

	case tea.KeyMsg:
		if key.Matches(msg, followKey) {
			p.follow = !p.follow
			if p.follow {
				p.vp.GotoBottom()
			}
			return p, nil
		}
		var cmd tea.Cmd
		p.vp, cmd = p.vp.Update(msg)
		if p.vp.AtBottom() {
			p.follow = true
		} else if msg.String() == "up" || msg.String() == "pgup" || msg.String() == "k" {
			p.follow = false
		}
		return p, cmd
	}
	return p, nil
}

func (p *LogPage) View() string {
	switch {
	case p.path == "":
		return ui.Heading("Log") + "\n\n" + ui.DimStyle.Render("Select a DUT log.")
	case p.err != nil:
		return ui.Heading("Log") + "\n\n" + ui.ErrorBadge("error") + " " + p.err.Error()
	}
	return ui.Heading(p.title) + " " + ui.FollowBadge(p.follow) + "\n" + p.vp.View()
}

func (p *LogPage) Name() string { return "Log" }

func (p *LogPage) ShortHelp() []key.Binding {
	return []key.Binding{
		followKey,
		key.NewBinding(key.WithKeys("up", "down"), key.WithHelp("↑/↓", "scroll")),
	}
}

func (p *LogPage) SetSize(w, h int) {
	p.width = w
	p.height = h
	p.vp.Width = w - 4
	// title line + content padding
	p.vp.Height = h - 4
	if p.vp.Height < 1 {
		p.vp.Height = 1
	}
}
