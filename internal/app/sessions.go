package app

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/buckleypaul/dutkit/harness"
	"github.com/buckleypaul/dutkit/unity"
)

// SessionInfo describes one session log directory.
type SessionInfo struct {
	Dir      string
	RunID    string
	Started  time.Time
	Services string
	Count    int
}

// SessionsLoadedMsg is sent when the session list has been loaded.
type SessionsLoadedMsg struct {
	Sessions []SessionInfo
	Err      error
}

// LogEntry is the replay log of one DUT in a session. Report is empty
// until the case closed and wrote the JUnit report of the DUT.
type LogEntry struct {
	Case   string
	Index  int
	Path   string
	Report string

	Tests    int
	Failures int
}

// Label names the entry in the sidebar.
func (e LogEntry) Label() string {
	return e.Case + "/dut-" + strconv.Itoa(e.Index)
}

// EntriesLoadedMsg is sent when the logs of a session have been found.
type EntriesLoadedMsg struct {
	Root    string
	Entries []LogEntry
	Err     error
}

// FindSessions returns the sessions logged under logDir, newest first.
func FindSessions(logDir string) ([]SessionInfo, error) {
	dirs, err := os.ReadDir(logDir)
	if err != nil {
		return nil, err
	}
	var out []SessionInfo
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		dir := filepath.Join(logDir, d.Name())
		meta, err := harness.ReadMeta(dir)
		if err != nil {
			continue
		}
		out = append(out, SessionInfo{
			Dir:      dir,
			RunID:    meta.RunID,
			Started:  meta.Started,
			Services: meta.Services,
			Count:    meta.Count,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Started.After(out[j].Started) })
	return out, nil
}

// ListSessions loads the sessions under logDir in the background.
func ListSessions(logDir string) tea.Cmd {
	return func() tea.Msg {
		sessions, err := FindSessions(logDir)
		return SessionsLoadedMsg{Sessions: sessions, Err: err}
	}
}

var logName = regexp.MustCompile(`^dut-(\d+)\.log$`)

// FindLogs returns the DUT logs of the session at root ordered by case
// and device index.
func FindLogs(root string) ([]LogEntry, error) {
	cases, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var out []LogEntry
	for _, c := range cases {
		if !c.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(root, c.Name()))
		if err != nil {
			continue
		}
		for _, f := range files {
			m := logName.FindStringSubmatch(f.Name())
			if m == nil {
				continue
			}
			idx, _ := strconv.Atoi(m[1])
			e := LogEntry{
				Case:  c.Name(),
				Index: idx,
				Path:  filepath.Join(root, c.Name(), f.Name()),
			}
			report := filepath.Join(root, c.Name(), "dut-"+m[1]+".xml")
			if suites, err := unity.ReadReport(report); err == nil {
				e.Report = report
				for _, s := range suites {
					e.Tests += s.Tests
					e.Failures += s.Failures + s.Errors
				}
			}
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Case != out[j].Case {
			return out[i].Case < out[j].Case
		}
		return out[i].Index < out[j].Index
	})
	return out, nil
}

// LoadEntries finds the logs of the session at root in the background.
func LoadEntries(root string) tea.Cmd {
	return func() tea.Msg {
		entries, err := FindLogs(root)
		return EntriesLoadedMsg{Root: root, Entries: entries, Err: err}
	}
}
