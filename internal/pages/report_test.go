package pages

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/buckleypaul/dutkit/internal/app"
	"github.com/buckleypaul/dutkit/unity"
)

func TestReportPageShowsCases(t *testing.T) {
	suite := unity.NewTestSuite("dut-0")
	pass, _ := unity.NewTestCase("test_ok", "PASS")
	fail, _ := unity.NewTestCase("test_bad", "FAIL")
	fail.Message = "Expected 1 Was 2"
	suite.Add(pass)
	suite.Add(fail)
	path := filepath.Join(t.TempDir(), "dut-0.xml")
	if err := suite.WriteJUnit(path); err != nil {
		t.Fatal(err)
	}

	var page app.Page = NewReportPage()
	page.SetSize(120, 30)
	page, cmd := page.Update(app.EntrySelectedMsg{Entry: app.LogEntry{Report: path}})
	page = run(t, page, cmd)

	view := page.View()
	for _, want := range []string{"test_ok", "test_bad", "Expected 1 Was 2", "1/2 failed"} {
		if !strings.Contains(view, want) {
			t.Errorf("expected %q in view:\n%s", want, view)
		}
	}
}

func TestReportPageWithoutReport(t *testing.T) {
	var page app.Page = NewReportPage()
	page, cmd := page.Update(app.EntrySelectedMsg{Entry: app.LogEntry{Path: "dut-0.log"}})
	if cmd != nil {
		t.Fatal("expected no load without a report")
	}
	if !strings.Contains(page.View(), "No report") {
		t.Fatalf("unexpected view %q", page.View())
	}
}
