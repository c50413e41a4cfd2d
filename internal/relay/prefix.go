package relay

import (
	"fmt"
	"strings"
	"time"
)

// TimestampLayout is the layout of the optional console timestamp.
const TimestampLayout = "2006-01-02 15:04:05"

// Prefixer decorates console output so that lines from several devices
// stay attributable.
type Prefixer struct {
	Index      int
	Total      int
	Timestamp  bool
	ShowSource bool

	// Style, when set, renders the computed prefix (colouring).
	Style func(string) string

	now     func() time.Time
	midLine bool
}

// Prefix returns the prefix for a message from source, or "" when no
// decoration is configured.
func (p *Prefixer) Prefix(source string) string {
	var b strings.Builder
	if p.Timestamp {
		now := time.Now
		if p.now != nil {
			now = p.now
		}
		b.WriteString(now().Format(TimestampLayout))
		b.WriteByte(' ')
	}
	if p.Total > 1 {
		fmt.Fprintf(&b, "[dut-%d] ", p.Index)
	}
	if p.ShowSource && source != "" {
		fmt.Fprintf(&b, "[%s] ", source)
	}
	s := b.String()
	if s != "" && p.Style != nil {
		return p.Style(s)
	}
	return s
}

// Format converts one chunk into its console form. The prefix is written
// at the start of every line, including lines continued from a previous
// chunk only when that chunk ended with a newline, and never after a
// trailing newline.
func (p *Prefixer) Format(source string, data []byte) string {
	s := strings.ReplaceAll(string(data), "\r\n", "\n")
	if s == "" {
		return ""
	}
	prefix := p.Prefix(source)
	defer func() { p.midLine = !strings.HasSuffix(s, "\n") }()
	if prefix == "" {
		return s
	}

	var b strings.Builder
	for i, line := range strings.SplitAfter(s, "\n") {
		if line == "" {
			continue
		}
		if i > 0 || !p.midLine {
			b.WriteString(prefix)
		}
		b.WriteString(line)
	}
	return b.String()
}
