package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/buckleypaul/dutkit/harness"
	"github.com/buckleypaul/dutkit/internal/config"
	"github.com/buckleypaul/dutkit/unity"
)

// recordPage remembers the entries it was told about.
type recordPage struct {
	selected []string
}

func (p *recordPage) Init() tea.Cmd { return nil }
func (p *recordPage) Update(msg tea.Msg) (Page, tea.Cmd) {
	if m, ok := msg.(EntrySelectedMsg); ok {
		p.selected = append(p.selected, m.Entry.Label())
	}
	return p, nil
}
func (p *recordPage) View() string              { return "" }
func (p *recordPage) Name() string              { return "record" }
func (p *recordPage) ShortHelp() []key.Binding  { return nil }
func (p *recordPage) SetSize(width, height int) {}

func writeLogs(t *testing.T, root string, files ...string) {
	t.Helper()
	for _, f := range files {
		path := filepath.Join(root, f)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestFindLogs(t *testing.T) {
	root := t.TempDir()
	writeLogs(t, root,
		"TestB/dut-10.log",
		"TestB/dut-2.log",
		"TestA/dut-0.log",
		"TestA/notes.txt",
		"session.yaml",
	)
	suite := unity.NewTestSuite("dut-2")
	suite.Add(&unity.TestCase{Name: "ok", Result: unity.ResultPass})
	suite.Add(&unity.TestCase{Name: "bad", Result: unity.ResultFail})
	if err := suite.WriteJUnit(filepath.Join(root, "TestB", "dut-2.xml")); err != nil {
		t.Fatal(err)
	}

	entries, err := FindLogs(root)
	if err != nil {
		t.Fatal(err)
	}
	var labels []string
	for _, e := range entries {
		labels = append(labels, e.Label())
	}
	want := []string{"TestA/dut-0", "TestB/dut-2", "TestB/dut-10"}
	if len(labels) != len(want) {
		t.Fatalf("got %v, want %v", labels, want)
	}
	for i := range want {
		if labels[i] != want[i] {
			t.Fatalf("got %v, want %v", labels, want)
		}
	}
	if entries[1].Report == "" || entries[2].Report != "" {
		t.Fatalf("unexpected reports: %+v", entries)
	}
	if entries[1].Tests != 2 || entries[1].Failures != 1 {
		t.Errorf("report counts = %d tests, %d failures; want 2, 1", entries[1].Tests, entries[1].Failures)
	}
}

func TestFindSessionsNewestFirst(t *testing.T) {
	logDir := t.TempDir()
	var ids []string
	for i := 0; i < 2; i++ {
		cfg := config.Defaults()
		cfg.LogDir = logDir
		cfg.CacheDir = ""
		s, err := harness.Open(context.Background(), harness.Options{Config: &cfg})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, s.RunID())
		s.Close()
	}
	if err := os.MkdirAll(filepath.Join(logDir, "stray"), 0o755); err != nil {
		t.Fatal(err)
	}

	sessions, err := FindSessions(logDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].RunID != ids[1] || sessions[1].RunID != ids[0] {
		t.Fatalf("expected newest first, got %+v", sessions)
	}
}

func TestModelSelectsEntries(t *testing.T) {
	root := t.TempDir()
	writeLogs(t, root, "TestA/dut-0.log", "TestA/dut-1.log")
	page := &recordPage{}
	m := New(map[PageID]Page{LogPage: page, ReportPage: &recordPage{}}, "", root)

	var model tea.Model = m
	model, _ = model.Update(LoadEntries(root)())
	model, _ = model.Update(tea.KeyMsg{Type: tea.KeyDown})
	model, _ = model.Update(tea.KeyMsg{Type: tea.KeyDown})

	want := []string{"TestA/dut-0", "TestA/dut-1"}
	if len(page.selected) != len(want) || page.selected[0] != want[0] || page.selected[1] != want[1] {
		t.Fatalf("got selections %v, want %v", page.selected, want)
	}
	sel, ok := model.(Model).Selected()
	if !ok || sel.Index != 1 {
		t.Fatalf("unexpected selection %+v", sel)
	}

	model, _ = model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("v")})
	if model.(Model).activePage != ReportPage {
		t.Fatal("expected v to switch to the report view")
	}

	// a reload keeps the selection
	model, _ = model.Update(LoadEntries(root)())
	if sel, _ := model.(Model).Selected(); sel.Index != 1 {
		t.Fatalf("selection lost on reload: %+v", sel)
	}
}

func TestModelIgnoresEntriesOfOtherSession(t *testing.T) {
	m := New(map[PageID]Page{LogPage: &recordPage{}, ReportPage: &recordPage{}}, "", "/logs/current")
	model, _ := m.Update(EntriesLoadedMsg{Root: "/logs/old", Entries: []LogEntry{{Case: "x"}}})
	if len(model.(Model).entries) != 0 {
		t.Fatal("expected entries of another session to be ignored")
	}
}

func TestSessionPickerNarrowsAndPicks(t *testing.T) {
	p := NewSessionPicker()
	p.SetSize(80, 20)
	p.SetSessions([]SessionInfo{
		{Dir: "/logs/a", RunID: "aaaa-1111", Services: "esp,idf", Count: 2},
		{Dir: "/logs/b", RunID: "bbbb-2222", Services: "qemu"},
	})
	for _, r := range "qemu" {
		p, _ = p.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	if len(p.shown) != 1 || p.shown[0].Dir != "/logs/b" {
		t.Fatalf("expected only the qemu session, got %+v", p.shown)
	}
	if view := p.View(); !strings.Contains(view, "1 of 2 sessions") {
		t.Fatalf("unexpected view:\n%s", view)
	}

	_, cmd := p.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatal("expected a command on enter")
	}
	if msg, ok := cmd().(SessionPickedMsg); !ok || msg.Dir != "/logs/b" {
		t.Fatalf("unexpected message %#v", msg)
	}
}

func TestModelOpensPickedSession(t *testing.T) {
	root := t.TempDir()
	writeLogs(t, root, "TestA/dut-0.log")
	m := New(map[PageID]Page{LogPage: &recordPage{}, ReportPage: &recordPage{}}, "/logs", "/logs/old")
	m.picker = NewSessionPicker()

	model, cmd := m.Update(SessionPickedMsg{Dir: root})
	if model.(Model).picker != nil {
		t.Fatal("expected the picker to close")
	}
	model, _ = model.Update(cmd())
	if sel, ok := model.(Model).Selected(); !ok || sel.Label() != "TestA/dut-0" {
		t.Fatalf("unexpected selection %+v", sel)
	}
}
