package unity

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Case types printed in the test menu.
const (
	CaseNormal      = "normal"
	CaseMultiStage  = "multi_stage"
	CaseMultiDevice = "multi_device"
)

var (
	menuCaseRegex    = regexp.MustCompile(`^\((\d+)\)\s"(.+)"\s(\[.+\])+`)
	menuSubcaseRegex = regexp.MustCompile(`^\t\((\d+)\)\s"(.+)"`)
	menuTagRegex     = regexp.MustCompile(`\[(.+?)\]`)
)

// Subcase is one stage of a multi-stage case, or one device's part of a
// multi-device case.
type Subcase struct {
	Index int
	Name  string
}

// MenuCase is a test case listed in the device's test menu.
type MenuCase struct {
	Index      int
	Name       string
	Type       string
	Keywords   []string
	Groups     []string
	Attributes map[string]string
	Subcases   []Subcase
}

// IsIgnored reports whether the case is tagged [ignore] or [disable].
func (c MenuCase) IsIgnored() bool {
	for _, k := range c.Keywords {
		if k == "ignore" || k == "disable" {
			return true
		}
	}
	return false
}

// ParseMenu parses the body of a test menu.
func ParseMenu(s string) ([]MenuCase, error) {
	var menu []MenuCase
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimRight(line, "\r")

		if m := menuCaseRegex.FindStringSubmatch(line); m != nil {
			index, _ := strconv.Atoi(m[1])
			menu = append(menu, newMenuCase(index, m[2], m[3]))
			continue
		}
		if m := menuSubcaseRegex.FindStringSubmatch(line); m != nil {
			if len(menu) == 0 {
				return nil, fmt.Errorf("subcase without a case: %q", line)
			}
			index, _ := strconv.Atoi(m[1])
			last := &menu[len(menu)-1]
			last.Subcases = append(last.Subcases, Subcase{Index: index, Name: m[2]})
			continue
		}
		if strings.TrimSpace(line) != "" {
			return nil, fmt.Errorf("unrecognized test case: %q", line)
		}
	}
	return menu, nil
}

func newMenuCase(index int, name, tagBlock string) MenuCase {
	c := MenuCase{
		Index:      index,
		Name:       name,
		Type:       CaseNormal,
		Attributes: map[string]string{},
	}
	for _, m := range menuTagRegex.FindAllStringSubmatch(tagBlock, -1) {
		tag := m[1]
		switch {
		case tag == CaseMultiStage || tag == CaseMultiDevice:
			c.Type = tag
		case tag == "ignore" || tag == "disable":
			c.Keywords = append(c.Keywords, tag)
		case strings.Contains(tag, "="):
			k, v, _ := strings.Cut(strings.ReplaceAll(tag, " ", ""), "=")
			c.Attributes[k] = v
		default:
			c.Groups = append(c.Groups, tag)
		}
	}
	return c
}

// Filter selects cases from the menu. A case is selected when it matches
// any of the given criteria; an empty filter selects everything.
type Filter struct {
	// Groups are alternatives; each may join required groups with "&"
	// and negate one with a leading "!".
	Groups     []string
	Names      []string
	Attributes map[string]string
}

// Match reports whether c is selected.
func (f Filter) Match(c MenuCase) bool {
	if len(f.Groups) == 0 && len(f.Names) == 0 && len(f.Attributes) == 0 {
		return true
	}
	if len(f.Groups) > 0 && f.matchGroups(c.Groups) {
		return true
	}
	for _, n := range f.Names {
		if n == c.Name {
			return true
		}
	}
	if len(f.Attributes) > 0 {
		all := true
		for k, v := range f.Attributes {
			if c.Attributes[k] != v {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

func (f Filter) matchGroups(groups []string) bool {
	has := func(g string) bool {
		for _, x := range groups {
			if x == g {
				return true
			}
		}
		return false
	}
	for _, alt := range f.Groups {
		ok := true
		for _, req := range strings.Split(alt, "&") {
			req = strings.TrimSpace(req)
			want := !strings.HasPrefix(req, "!")
			if has(strings.TrimLeft(req, "!")) != want {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}
