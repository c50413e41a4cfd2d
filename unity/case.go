// Package unity harvests results reported by devices running the Unity
// test framework: one-line "basic" results, fixture grouped results and
// the interactive test menu.
package unity

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Result of a single test case.
type Result string

const (
	ResultPass   Result = "PASS"
	ResultFail   Result = "FAIL"
	ResultIgnore Result = "IGNORE"
)

var (
	// ErrInvalidResult is returned for results other than PASS, FAIL or
	// IGNORE.
	ErrInvalidResult = errors.New("unity test case result should be one of PASS, FAIL, IGNORE")
	// ErrNoCases is returned when output contains no test case.
	ErrNoCases = errors.New("unity test case not found")
	// ErrCasesFailed reports a suite with failed cases.
	ErrCasesFailed = errors.New("unity test cases failed")
)

// ParseResult validates s.
func ParseResult(s string) (Result, error) {
	switch r := Result(s); r {
	case ResultPass, ResultFail, ResultIgnore:
		return r, nil
	default:
		return "", fmt.Errorf("%w: got %q", ErrInvalidResult, s)
	}
}

// TestCase is one device reported test outcome.
type TestCase struct {
	Name    string
	Result  Result
	File    string
	Line    string
	Message string
	Stdout  string
	Group   string
	Time    time.Duration

	// Attrs holds any extra attributes written to the report.
	Attrs map[string]string
}

// NewTestCase creates a case, rejecting unknown results.
func NewTestCase(name, result string) (*TestCase, error) {
	r, err := ParseResult(result)
	if err != nil {
		return nil, err
	}
	return &TestCase{Name: name, Result: r}, nil
}

// SetAttr stores an extra attribute.
func (c *TestCase) SetAttr(k, v string) {
	if c.Attrs == nil {
		c.Attrs = map[string]string{}
	}
	c.Attrs[k] = v
}

// TestSuite aggregates the cases reported by one device during one test.
// The counters are updated as cases are added and always equal the
// corresponding counts over Cases.
type TestSuite struct {
	Name string

	mu       sync.Mutex
	cases    []*TestCase
	tests    int
	failures int
	errors   int
	skipped  int
	attrs    map[string]string
}

// NewTestSuite creates an empty suite.
func NewTestSuite(name string) *TestSuite {
	return &TestSuite{Name: name, attrs: map[string]string{}}
}

// Add appends tc and updates the counters.
func (s *TestSuite) Add(tc *TestCase) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cases = append(s.cases, tc)
	s.tests++
	switch tc.Result {
	case ResultFail:
		s.failures++
	case ResultIgnore:
		s.skipped++
	}
}

// AddOutput parses Unity output and adds every case found. extra is
// copied onto each case.
func (s *TestSuite) AddOutput(out string, extra map[string]string) error {
	cases, err := Parse(out, FormatAuto)
	if err != nil {
		return err
	}
	for _, tc := range cases {
		for k, v := range extra {
			tc.SetAttr(k, v)
		}
		s.Add(tc)
	}
	return nil
}

// Cases returns a copy of the recorded cases.
func (s *TestSuite) Cases() []*TestCase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*TestCase(nil), s.cases...)
}

// FailedCases returns the cases with result FAIL.
func (s *TestSuite) FailedCases() []*TestCase {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*TestCase
	for _, c := range s.cases {
		if c.Result == ResultFail {
			out = append(out, c)
		}
	}
	return out
}

// Counts holds the suite counters.
type Counts struct {
	Tests    int
	Failures int
	Errors   int
	Skipped  int
}

// Counts returns the current counters.
func (s *TestSuite) Counts() Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Counts{Tests: s.tests, Failures: s.failures, Errors: s.errors, Skipped: s.skipped}
}

// Len returns the number of cases.
func (s *TestSuite) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cases)
}

// SetAttr stores a named suite attribute, such as the app path.
func (s *TestSuite) SetAttr(k, v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attrs[k] = v
}

// Attrs returns the suite attributes including the counters.
func (s *TestSuite) Attrs() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.attrs)+4)
	for k, v := range s.attrs {
		out[k] = v
	}
	out["tests"] = fmt.Sprint(s.tests)
	out["failures"] = fmt.Sprint(s.failures)
	out["errors"] = fmt.Sprint(s.errors)
	out["skipped"] = fmt.Sprint(s.skipped)
	return out
}

// Err returns an error wrapping ErrCasesFailed when any case failed.
func (s *TestSuite) Err() error {
	failed := s.FailedCases()
	if len(failed) == 0 {
		return nil
	}
	names := make([]string, len(failed))
	for i, c := range failed {
		names[i] = c.Name
	}
	return fmt.Errorf("%w: %d of %d in %s: %q", ErrCasesFailed, len(failed), s.Len(), s.Name, names)
}
