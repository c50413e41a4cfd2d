package expect

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/acarl005/stripansi"
)

var (
	// ErrTimeout is matched by errors.Is for every *TimeoutError.
	ErrTimeout = errors.New("expect timeout")
	// ErrEOF is matched by errors.Is for every *EOFError.
	ErrEOF = errors.New("expect end of stream")
	// ErrForbidden is returned when a NotMatching pattern appears before
	// the match.
	ErrForbidden = errors.New("forbidden pattern matched")
)

// TimeoutError reports patterns that did not match before the deadline.
// Buffer holds the unconsumed output at that point.
type TimeoutError struct {
	Patterns []string
	Timeout  time.Duration
	Buffer   []byte
	Logfile  string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("not found %s within %s\nbytes in current buffer (color code eliminated): %s\nplease check the full log here: %s",
		quoteAll(e.Patterns), e.Timeout, stripansi.Strip(string(e.Buffer)), e.Logfile)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// EOFError reports that the stream ended before any pattern matched.
type EOFError struct {
	Patterns []string
	Buffer   []byte
	Logfile  string
}

func (e *EOFError) Error() string {
	return fmt.Sprintf("stream ended before %s matched\nbytes in current buffer (color code eliminated): %s\nplease check the full log here: %s",
		quoteAll(e.Patterns), stripansi.Strip(string(e.Buffer)), e.Logfile)
}

func (e *EOFError) Is(target error) bool { return target == ErrEOF }

func quoteAll(names []string) string {
	q := make([]string, len(names))
	for i, n := range names {
		q[i] = fmt.Sprintf("%q", n)
	}
	return strings.Join(q, ", ")
}
