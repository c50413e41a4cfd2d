// Package expect implements blocking pattern search over a replay log that
// is still being appended to.
//
// The Engine keeps a read offset into the log and a buffer of bytes read
// but not yet consumed by a match. Every call to Expect polls the file for
// new bytes, searches the buffer, and on success discards everything up to
// the end of the match. Unconsumed bytes are kept for the next call.
package expect

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
	"time"

	"github.com/acarl005/stripansi"
)

const (
	// DefaultTimeout is used when no WithTimeout option is given.
	DefaultTimeout = 30 * time.Second
	// Forever disables the deadline. The call returns on a match, on
	// end of stream, or when the context is done.
	Forever time.Duration = math.MaxInt64

	defaultPollInterval = 10 * time.Millisecond
)

// Observer is notified of every finished expectation.
type Observer interface {
	ObserveExpect(outcome string, elapsed time.Duration)
}

// Engine searches a replay log for patterns.
type Engine struct {
	mu     sync.Mutex
	path   string
	f      *os.File
	offset int64
	buf    []byte
	before []byte
	chunk  []byte

	ended    func() bool
	poll     time.Duration
	observer Observer
}

// EngineOption configures Open.
type EngineOption func(*Engine)

// WithPollInterval sets how often the log is polled for new bytes.
func WithPollInterval(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.poll = d
		}
	}
}

// WithEnded sets the end-of-stream check. It must report true only once
// no more bytes will ever be appended to the log.
func WithEnded(fn func() bool) EngineOption {
	return func(e *Engine) { e.ended = fn }
}

// WithObserver registers an Observer.
func WithObserver(o Observer) EngineOption {
	return func(e *Engine) { e.observer = o }
}

// Open opens the replay log at path for reading. The file must exist; it
// is normally created by the log writer before the engine is opened.
func Open(path string, opts ...EngineOption) (*Engine, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening replay log: %w", err)
	}
	e := &Engine{
		path:  path,
		f:     f,
		chunk: make([]byte, 4096),
		poll:  defaultPollInterval,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

type options struct {
	timeout     time.Duration
	all         bool
	notMatching []Pattern
}

// Option configures a single Expect call.
type Option func(*options)

// WithTimeout bounds the call. A timeout <= 0 checks the buffered output
// once without waiting. Use Forever for no bound.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// All requires every pattern to match, in any order.
func All() Option {
	return func(o *options) { o.all = true }
}

// NotMatching fails the call if any of pats occurs in the output that
// precedes the match.
func NotMatching(pats ...Pattern) Option {
	return func(o *options) { o.notMatching = append(o.notMatching, pats...) }
}

// Expect waits until one of pats matches, or all of them with All. The
// returned slice has one entry per matched pattern: a single entry in the
// default mode, and one per pattern in the order supplied with All.
func (e *Engine) Expect(ctx context.Context, pats []Pattern, opts ...Option) ([]*Match, error) {
	if len(pats) == 0 {
		return nil, errors.New("expect: no patterns")
	}
	o := options{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	var deadline time.Time
	if o.timeout != Forever {
		deadline = start.Add(o.timeout)
	}

	var (
		res []*Match
		err error
	)
	if o.all {
		res, err = e.expectAll(ctx, pats, deadline, o)
	} else {
		var m *Match
		m, err = e.expectOne(ctx, pats, deadline, o)
		if m != nil {
			res = []*Match{m}
		}
	}
	e.observe(err, time.Since(start))
	return res, err
}

// Before returns the output preceding the most recent match.
func (e *Engine) Before() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.before
}

// Buffer returns a copy of the unconsumed output.
func (e *Engine) Buffer() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return bytes.Clone(e.buf)
}

// BufferString returns the unconsumed output without ANSI colour codes.
func (e *Engine) BufferString() string {
	return stripansi.Strip(string(e.Buffer()))
}

// Offset returns how many bytes of the log have been read so far.
func (e *Engine) Offset() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.offset
}

// Path returns the replay log path.
func (e *Engine) Path() string {
	return e.path
}

// Close releases the log file.
func (e *Engine) Close() error {
	return e.f.Close()
}

func (e *Engine) expectAll(ctx context.Context, pats []Pattern, deadline time.Time, o options) ([]*Match, error) {
	results := make([]*Match, len(pats))
	remaining := make([]int, len(pats))
	for i := range pats {
		remaining[i] = i
	}

	for len(remaining) > 0 {
		sub := make([]Pattern, len(remaining))
		for i, idx := range remaining {
			sub[i] = pats[idx]
		}
		m, err := e.expectOne(ctx, sub, deadline, o)
		if err != nil {
			return nil, err
		}
		pos := m.Index
		orig := remaining[pos]
		m.Index = orig
		results[orig] = m
		remaining = append(remaining[:pos], remaining[pos+1:]...)
	}
	return results, nil
}

func (e *Engine) expectOne(ctx context.Context, pats []Pattern, deadline time.Time, o options) (*Match, error) {
	for {
		if _, err := e.fill(); err != nil {
			return nil, err
		}
		if m := e.search(pats); m != nil {
			for _, np := range o.notMatching {
				if np.find(e.before) != nil {
					return nil, fmt.Errorf("%w: %q found before %q", ErrForbidden, np.String(), m.Pattern.String())
				}
			}
			return m, nil
		}

		if e.ended != nil && e.ended() {
			// the writer has drained; pick up whatever it wrote last
			n, err := e.fill()
			if err != nil {
				return nil, err
			}
			if n > 0 {
				continue
			}
			if m := e.sentinelMatch(pats, KindEOF); m != nil {
				return m, nil
			}
			return nil, &EOFError{Patterns: patternNames(pats), Buffer: bytes.Clone(e.buf), Logfile: e.path}
		}

		wait := e.poll
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				if m := e.sentinelMatch(pats, KindTimeout); m != nil {
					return m, nil
				}
				return nil, &TimeoutError{
					Patterns: patternNames(pats),
					Timeout:  o.timeout,
					Buffer:   bytes.Clone(e.buf),
					Logfile:  e.path,
				}
			}
			if remaining < wait {
				wait = remaining
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// fill reads everything currently available in the log into the buffer.
func (e *Engine) fill() (int, error) {
	total := 0
	for {
		n, err := e.f.Read(e.chunk)
		if n > 0 {
			e.buf = append(e.buf, e.chunk[:n]...)
			e.offset += int64(n)
			total += n
		}
		if errors.Is(err, io.EOF) || (err == nil && n == 0) {
			return total, nil
		}
		if err != nil {
			return total, fmt.Errorf("reading replay log: %w", err)
		}
	}
}

// search returns the leftmost match in the buffer. When several patterns
// match at the same position the one listed first wins.
func (e *Engine) search(pats []Pattern) *Match {
	best, bestIdx := []int(nil), -1
	for i, p := range pats {
		loc := p.find(e.buf)
		if loc == nil {
			continue
		}
		if best == nil || loc[0] < best[0] {
			best, bestIdx = loc, i
		}
	}
	if best == nil {
		return nil
	}

	m := newMatch(pats[bestIdx], bestIdx, e.buf, best)
	e.before = bytes.Clone(e.buf[:best[0]])
	e.buf = bytes.Clone(e.buf[best[1]:])
	return m
}

func (e *Engine) sentinelMatch(pats []Pattern, kind Kind) *Match {
	for i, p := range pats {
		s, ok := p.(sentinel)
		if !ok || s.kind != kind {
			continue
		}
		rest := bytes.TrimRight(e.buf, " \t\r\n")
		m := &Match{Kind: kind, Pattern: p, Index: i, groups: [][]byte{bytes.Clone(rest)}}
		e.before = e.buf
		e.buf = nil
		return m
	}
	return nil
}

func (e *Engine) observe(err error, elapsed time.Duration) {
	if e.observer == nil {
		return
	}
	outcome := "match"
	switch {
	case errors.Is(err, ErrTimeout):
		outcome = "timeout"
	case errors.Is(err, ErrEOF):
		outcome = "eof"
	case err != nil:
		outcome = "error"
	}
	e.observer.ObserveExpect(outcome, elapsed)
}
