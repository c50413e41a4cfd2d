package expect

import "regexp"

// Kind says what produced a Match.
type Kind int

const (
	KindMatch Kind = iota
	KindTimeout
	KindEOF
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "TIMEOUT"
	case KindEOF:
		return "EOF"
	default:
		return "MATCH"
	}
}

// Match is the result of a successful expectation.
type Match struct {
	Kind    Kind
	Pattern Pattern
	// Index is the position of Pattern in the list passed to Expect.
	Index int

	groups [][]byte
	re     *regexp.Regexp
}

// Bytes returns the whole match. For the Timeout and EOF sentinels this
// is the output that was buffered when the sentinel fired.
func (m *Match) Bytes() []byte {
	if len(m.groups) == 0 {
		return nil
	}
	return m.groups[0]
}

func (m *Match) String() string {
	return string(m.Bytes())
}

// Group returns submatch i, or nil if it did not participate.
func (m *Match) Group(i int) []byte {
	if i < 0 || i >= len(m.groups) {
		return nil
	}
	return m.groups[i]
}

// NumGroups returns the number of groups including the whole match.
func (m *Match) NumGroups() int {
	return len(m.groups)
}

// Named returns the named submatch, or nil.
func (m *Match) Named(name string) []byte {
	if m.re == nil {
		return nil
	}
	i := m.re.SubexpIndex(name)
	if i < 0 {
		return nil
	}
	return m.Group(i)
}

func newMatch(p Pattern, index int, buf []byte, loc []int) *Match {
	m := &Match{Kind: KindMatch, Pattern: p, Index: index}
	if rp, ok := p.(regexPattern); ok {
		m.re = rp.re
	}
	m.groups = make([][]byte, len(loc)/2)
	for i := range m.groups {
		start, end := loc[2*i], loc[2*i+1]
		if start < 0 {
			continue
		}
		g := make([]byte, end-start)
		copy(g, buf[start:end])
		m.groups[i] = g
	}
	return m
}
