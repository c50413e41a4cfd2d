package expect

import (
	"bytes"
	"fmt"
	"regexp"
)

// Pattern is something the Engine can search the buffered output for.
// Construct one with Regex, Re, Exact, or use the Timeout and EOF
// sentinels.
type Pattern interface {
	String() string
	find(buf []byte) []int
}

type regexPattern struct {
	re *regexp.Regexp
}

func (p regexPattern) String() string        { return p.re.String() }
func (p regexPattern) find(buf []byte) []int { return p.re.FindSubmatchIndex(buf) }

type exactPattern struct {
	s []byte
}

func (p exactPattern) String() string { return string(p.s) }

func (p exactPattern) find(buf []byte) []int {
	i := bytes.Index(buf, p.s)
	if i < 0 {
		return nil
	}
	return []int{i, i + len(p.s)}
}

type sentinel struct {
	kind Kind
}

func (s sentinel) String() string  { return s.kind.String() }
func (sentinel) find([]byte) []int { return nil }

var (
	// Timeout matches when no other pattern in the list matched before
	// the deadline.
	Timeout Pattern = sentinel{kind: KindTimeout}
	// EOF matches when the stream has ended.
	EOF Pattern = sentinel{kind: KindEOF}
)

// Regex compiles expr into a pattern.
func Regex(expr string) (Pattern, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("compiling pattern %q: %w", expr, err)
	}
	return regexPattern{re: re}, nil
}

// MustRegex is like Regex but panics on an invalid expression.
func MustRegex(expr string) Pattern {
	return regexPattern{re: regexp.MustCompile(expr)}
}

// Re wraps an already compiled expression.
func Re(re *regexp.Regexp) Pattern {
	return regexPattern{re: re}
}

// Exact matches s literally.
func Exact(s string) Pattern {
	return exactPattern{s: []byte(s)}
}

// Compile converts v into patterns. Strings and byte slices become
// regular expressions, or literal patterns when exact is set. Compiled
// expressions, Patterns and slices of any of these are accepted.
func Compile(v any, exact bool) ([]Pattern, error) {
	switch p := v.(type) {
	case Pattern:
		return []Pattern{p}, nil
	case *regexp.Regexp:
		return []Pattern{Re(p)}, nil
	case string:
		return compileString(p, exact)
	case []byte:
		return compileString(string(p), exact)
	case []Pattern:
		return p, nil
	case []string:
		out := make([]Pattern, 0, len(p))
		for _, s := range p {
			c, err := compileString(s, exact)
			if err != nil {
				return nil, err
			}
			out = append(out, c...)
		}
		return out, nil
	case []any:
		var out []Pattern
		for _, item := range p {
			c, err := Compile(item, exact)
			if err != nil {
				return nil, err
			}
			out = append(out, c...)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported pattern type %T", v)
	}
}

func compileString(s string, exact bool) ([]Pattern, error) {
	if exact {
		return []Pattern{Exact(s)}, nil
	}
	p, err := Regex(s)
	if err != nil {
		return nil, err
	}
	return []Pattern{p}, nil
}

func patternNames(pats []Pattern) []string {
	names := make([]string, len(pats))
	for i, p := range pats {
		names[i] = p.String()
	}
	return names
}
