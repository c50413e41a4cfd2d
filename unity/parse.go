package unity

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/acarl005/stripansi"
)

// Format selects the Unity output layout.
type Format int

const (
	// FormatAuto uses the fixture layout when the output contains any
	// fixture result, the basic layout otherwise.
	FormatAuto Format = iota
	FormatBasic
	FormatFixture
)

var (
	// foo.c:100:test_case:FAIL:Expected 2 Was 1
	basicRegex = regexp.MustCompile(`(?m)(?P<file>[^\r\n:]+):(?P<line>\d+):(?P<name>[^\r\n]+?):(?P<result>PASS|FAIL|IGNORE)(?::(?P<message>[^\r\n]*))?\r?$`)

	// TEST(group, case) stdout... foo.c:100::FAIL: Expected 2 Was 1
	fixtureRegex = regexp.MustCompile(`TEST\((?P<group>[^\s,]+), (?P<name>[^\r\n)]+)\)(?P<stdout>[\S\s]*?)(?:(?P<file>.+):(?P<line>\d+)::)?(?P<result>PASS|FAIL|IGNORE)(?::(?P<message>.+))?`)

	// SummaryRegex matches the block printed once all cases have run.
	SummaryRegex = regexp.MustCompile(`(?m)^-+\s*(\d+) Tests (\d+) Failures (\d+) Ignored\s*(?P<result>OK|FAIL)`)
)

// Parse extracts every test case from out. Output without any case is an
// error rather than an empty result.
func Parse(out string, format Format) ([]*TestCase, error) {
	out = stripansi.Strip(out)
	re := regexFor(out, format)

	var cases []*TestCase
	for _, m := range re.FindAllStringSubmatch(out, -1) {
		tc, err := caseFromMatch(re, m)
		if err != nil {
			return nil, err
		}
		cases = append(cases, tc)
	}
	if len(cases) == 0 {
		return nil, fmt.Errorf("%w, buffer:\n%s", ErrNoCases, out)
	}
	return cases, nil
}

func regexFor(out string, format Format) *regexp.Regexp {
	switch format {
	case FormatBasic:
		return basicRegex
	case FormatFixture:
		return fixtureRegex
	}
	if fixtureRegex.MatchString(out) {
		return fixtureRegex
	}
	return basicRegex
}

func caseFromMatch(re *regexp.Regexp, m []string) (*TestCase, error) {
	get := func(name string) string {
		if i := re.SubexpIndex(name); i >= 0 && i < len(m) {
			return m[i]
		}
		return ""
	}
	tc, err := NewTestCase(strings.TrimSpace(get("name")), get("result"))
	if err != nil {
		return nil, err
	}
	tc.File = strings.TrimSpace(get("file"))
	tc.Line = get("line")
	tc.Message = strings.TrimSpace(get("message"))
	tc.Stdout = strings.TrimSpace(get("stdout"))
	tc.Group = get("group")
	return tc, nil
}

// Summary is the parsed final block of a Unity run.
type Summary struct {
	Tests    int
	Failures int
	Ignored  int
	OK       bool
}

// ParseSummary finds the summary block in out.
func ParseSummary(out string) (Summary, bool) {
	m := SummaryRegex.FindStringSubmatch(out)
	if m == nil {
		return Summary{}, false
	}
	tests, _ := strconv.Atoi(m[1])
	failures, _ := strconv.Atoi(m[2])
	ignored, _ := strconv.Atoi(m[3])
	return Summary{Tests: tests, Failures: failures, Ignored: ignored, OK: m[4] == "OK"}, true
}
