package unity

import (
	"encoding/xml"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// node is a generic XML element, enough to read, edit and write JUnit
// reports produced by other tools without losing their attributes.
type node struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Text    string     `xml:",chardata"`
	Nodes   []*node    `xml:",any"`
}

func (n *node) attr(name string) string {
	for _, a := range n.Attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func (n *node) setAttr(name, value string) {
	for i, a := range n.Attrs {
		if a.Name.Local == name {
			n.Attrs[i].Value = value
			return
		}
	}
	n.Attrs = append(n.Attrs, xml.Attr{Name: xml.Name{Local: name}, Value: value})
}

func (n *node) child(name string) *node {
	for _, c := range n.Nodes {
		if c.XMLName.Local == name {
			return c
		}
	}
	return nil
}

func newNode(name string) *node {
	return &node{XMLName: xml.Name{Local: name}}
}

func sortedAttrs(m map[string]string) []xml.Attr {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	attrs := make([]xml.Attr, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: k}, Value: m[k]})
	}
	return attrs
}

func (c *TestCase) xmlNode() *node {
	attrs := map[string]string{"name": c.Name}
	for k, v := range c.Attrs {
		attrs[k] = v
	}
	if c.File != "" {
		attrs["file"] = c.File
	}
	if c.Line != "" {
		attrs["line"] = c.Line
	}
	if c.Group != "" {
		attrs["group"] = c.Group
	}
	if c.Time > 0 {
		attrs["time"] = strconv.FormatFloat(c.Time.Seconds(), 'f', 3, 64)
	}

	tc := newNode("testcase")
	tc.Attrs = sortedAttrs(attrs)

	var sub map[string]string
	var text string
	switch {
	case c.Message != "" && c.Stdout != "":
		sub, text = map[string]string{"message": c.Message}, c.Stdout
	case c.Message != "":
		sub = map[string]string{"message": c.Message}
	case c.Stdout != "" && c.Result == ResultFail:
		sub = map[string]string{"message": c.Stdout}
	case c.Stdout != "":
		text = c.Stdout
	}

	var child *node
	switch {
	case c.Result == ResultFail:
		child = newNode("failure")
	case c.Result == ResultIgnore:
		child = newNode("skipped")
	case sub != nil || text != "":
		child = newNode("system-out")
	}
	if child != nil {
		child.Attrs = sortedAttrs(sub)
		child.Text = text
		tc.Nodes = append(tc.Nodes, child)
	}
	return tc
}

// JUnit renders the suite as a JUnit testsuite element.
func (s *TestSuite) JUnit() ([]byte, error) {
	cases := s.Cases()
	if len(cases) == 0 {
		return nil, fmt.Errorf("%w in suite %s", ErrNoCases, s.Name)
	}
	attrs := s.Attrs()
	attrs["name"] = s.Name

	root := newNode("testsuite")
	root.Attrs = sortedAttrs(attrs)
	for _, c := range cases {
		root.Nodes = append(root.Nodes, c.xmlNode())
	}
	out, err := xml.MarshalIndent(root, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding junit: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

// WriteJUnit writes the suite report to path.
func (s *TestSuite) WriteJUnit(path string) error {
	data, err := s.JUnit()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func readXML(path string) (*node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var root node
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	root.trimSpace()
	return &root, nil
}

// trimSpace drops indentation picked up as character data so a report
// can be re-indented on write.
func (n *node) trimSpace() {
	if strings.TrimSpace(n.Text) == "" {
		n.Text = ""
	}
	for _, c := range n.Nodes {
		c.trimSpace()
	}
}

func writeXML(path string, root *node) error {
	out, err := xml.MarshalIndent(root, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append([]byte(xml.Header), out...), 0o644)
}

// findCaseParent returns the element holding the testcase named name.
func findCaseParent(n *node, name string) (*node, int) {
	for i, c := range n.Nodes {
		if c.XMLName.Local == "testcase" && c.attr("name") == name {
			return n, i
		}
		if p, idx := findCaseParent(c, name); p != nil {
			return p, idx
		}
	}
	return nil, -1
}

func addAttr(n *node, name string, delta int) {
	n.setAttr(name, strconv.Itoa(attrInt(n, name)+delta))
}

// ErrPlaceholderNotFound is returned by Merge when the main report has no
// test case named after a merged report's directory.
var ErrPlaceholderNotFound = errors.New("placeholder test case not found")

// Merge folds per-device reports into the main report at mainPath. Each
// report lives at <dir>/<case name>/<file>.xml; the test case in the main
// report named <case name> is a placeholder. The reports of one directory
// belong to the same test: its placeholder is replaced once by the cases
// of all of them, and the parent counters are adjusted so each merged case
// is counted once. It reports whether the merged suite has failures.
func Merge(mainPath string, reports []string, logger *slog.Logger) (bool, error) {
	if logger == nil {
		logger = slog.Default()
	}
	root, err := readXML(mainPath)
	if err != nil {
		return false, err
	}

	var dirs []string
	groups := make(map[string][]string)
	for _, file := range reports {
		dir := filepath.Dir(file)
		if _, ok := groups[dir]; !ok {
			dirs = append(dirs, dir)
		}
		groups[dir] = append(groups[dir], file)
	}

	failed := false
	for _, dir := range dirs {
		caseName := filepath.Base(dir)
		parent, idx := findCaseParent(root, caseName)
		if parent == nil {
			return false, fmt.Errorf("%w: %s", ErrPlaceholderNotFound, caseName)
		}
		placeholderFailed := parent.Nodes[idx].child("failure") != nil

		var merged []*node
		var errs, fails, skips, tests int
		for _, file := range groups[dir] {
			logger.Info("merging junit report", "from", file, "into", mainPath)
			merging, err := readXML(file)
			if err != nil {
				return false, err
			}
			for _, c := range merging.Nodes {
				if c.XMLName.Local == "testcase" {
					merged = append(merged, c)
				}
			}
			errs += attrInt(merging, "errors")
			fails += attrInt(merging, "failures")
			skips += attrInt(merging, "skipped")
			tests += attrInt(merging, "tests")
		}

		rest := append([]*node{}, parent.Nodes[:idx]...)
		rest = append(rest, parent.Nodes[idx+1:]...)
		parent.Nodes = append(rest, merged...)

		if placeholderFailed {
			fails--
		}
		addAttr(parent, "errors", errs)
		addAttr(parent, "failures", fails)
		addAttr(parent, "skipped", skips)
		addAttr(parent, "tests", tests-1)

		if attrInt(parent, "failures") > 0 {
			failed = true
		}
	}

	if err := writeXML(mainPath, root); err != nil {
		return false, err
	}
	logger.Info("merged junit report", "path", mainPath)
	return failed, nil
}

func attrInt(n *node, name string) int {
	v, _ := strconv.Atoi(n.attr(name))
	return v
}

// ReportCase is one test case read back from a report.
type ReportCase struct {
	Name    string
	Result  Result
	Message string
	Time    string
}

// ReportSuite is one suite read back from a report.
type ReportSuite struct {
	Name     string
	Tests    int
	Failures int
	Errors   int
	Skipped  int
	Cases    []ReportCase
}

// ReadReport loads a JUnit file with a testsuite or testsuites root.
func ReadReport(path string) ([]ReportSuite, error) {
	root, err := readXML(path)
	if err != nil {
		return nil, err
	}
	var suites []*node
	if root.XMLName.Local == "testsuite" {
		suites = []*node{root}
	} else {
		for _, c := range root.Nodes {
			if c.XMLName.Local == "testsuite" {
				suites = append(suites, c)
			}
		}
	}

	out := make([]ReportSuite, 0, len(suites))
	for _, s := range suites {
		rs := ReportSuite{Name: s.attr("name")}
		rs.Tests, _ = strconv.Atoi(s.attr("tests"))
		rs.Failures, _ = strconv.Atoi(s.attr("failures"))
		rs.Errors, _ = strconv.Atoi(s.attr("errors"))
		rs.Skipped, _ = strconv.Atoi(s.attr("skipped"))
		for _, c := range s.Nodes {
			if c.XMLName.Local != "testcase" {
				continue
			}
			rc := ReportCase{Name: c.attr("name"), Result: ResultPass, Time: c.attr("time")}
			if f := c.child("failure"); f != nil {
				rc.Result, rc.Message = ResultFail, f.attr("message")
			} else if e := c.child("error"); e != nil {
				rc.Result, rc.Message = ResultFail, e.attr("message")
			} else if sk := c.child("skipped"); sk != nil {
				rc.Result, rc.Message = ResultIgnore, sk.attr("message")
			}
			rs.Cases = append(rs.Cases, rc)
		}
		out = append(out, rs)
	}
	return out, nil
}
