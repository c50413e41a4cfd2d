package pages

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/buckleypaul/dutkit/internal/app"
	"github.com/buckleypaul/dutkit/internal/ui"
	"github.com/buckleypaul/dutkit/unity"
)

type reportLoadedMsg struct {
	path   string
	suites []unity.ReportSuite
	err    error
}

func loadReport(path string) tea.Cmd {
	return func() tea.Msg {
		suites, err := unity.ReadReport(path)
		return reportLoadedMsg{path: path, suites: suites, err: err}
	}
}

// ReportPage shows the JUnit report written for the selected DUT.
type ReportPage struct {
	path   string
	suites []unity.ReportSuite
	err    error
	width  int
	height int
}

func NewReportPage() *ReportPage {
	return &ReportPage{}
}

func (p *ReportPage) Init() tea.Cmd { return nil }

func (p *ReportPage) Update(msg tea.Msg) (app.Page, tea.Cmd) {
	switch msg := msg.(type) {
	case app.EntrySelectedMsg:
		p.path = msg.Entry.Report
		p.suites = nil
		p.err = nil
		if p.path == "" {
			return p, nil
		}
		return p, loadReport(p.path)
	case reportLoadedMsg:
		if msg.path != p.path {
			return p, nil
		}
		p.suites, p.err = msg.suites, msg.err
	}
	return p, nil
}

func (p *ReportPage) View() string {
	var b strings.Builder
	b.WriteString(ui.Heading("Report"))
	b.WriteString("\n")
	switch {
	case p.path == "":
		b.WriteString(ui.DimStyle.Render("No report for this DUT yet."))
		return b.String()
	case p.err != nil:
		b.WriteString(ui.ErrorBadge("error") + " " + p.err.Error())
		return b.String()
	}
	for _, s := range p.suites {
		fmt.Fprintf(&b, "%s  %s\n\n", s.Name, ui.SuiteLine(s.Tests, s.Failures, s.Errors, s.Skipped))
		b.WriteString(RenderCases(s.Cases, p.width-4))
		b.WriteString("\n")
	}
	return b.String()
}

// RenderCases lays the cases out as a table no wider than width.
func RenderCases(cases []unity.ReportCase, width int) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Case", "Result", "Time", "Message"})
	for _, c := range cases {
		msg := strings.ReplaceAll(c.Message, "\n", " ")
		t.AppendRow(table.Row{c.Name, string(c.Result), c.Time, msg})
	}
	if width > 0 {
		t.SetAllowedRowLength(width)
	}
	return t.Render()
}

func (p *ReportPage) Name() string { return "Report" }

func (p *ReportPage) ShortHelp() []key.Binding { return nil }

func (p *ReportPage) SetSize(w, h int) {
	p.width = w
	p.height = h
}
