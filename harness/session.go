// Package harness runs DUTs inside a test session.
//
// A Session is shared by every test case of a run. It owns the persistent
// cache, the backend registry, the session log directory and the DUT index
// counter, so that two devices of the same run never share an index, a
// log file or a serial port.
package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/buckleypaul/dutkit/dut"
	"github.com/buckleypaul/dutkit/internal/backend"
	"github.com/buckleypaul/dutkit/internal/cache"
	"github.com/buckleypaul/dutkit/internal/config"
	"github.com/buckleypaul/dutkit/internal/metrics"
	"github.com/buckleypaul/dutkit/internal/ui"
)

// LogRootLayout names the per-session log directory.
const LogRootLayout = "2006-01-02_15-04-05.000000"

const (
	metaFile     = "session.yaml"
	textfileName = "metrics.prom"
)

// Options configure Open.
type Options struct {
	// Config is used as is. Nil loads the configuration of the current
	// directory.
	Config *config.Config
	// Registry defaults to every built-in backend.
	Registry *dut.Registry
	Logger   *slog.Logger
	// Console receives the prefixed device output. Nil disables the echo.
	Console io.Writer
	// NoColor disables the console prefix styling.
	NoColor bool

	// PollInterval overrides how often expectations poll the replay log.
	PollInterval time.Duration
}

// Session is one harness run.
type Session struct {
	cfg     config.Config
	logger  *slog.Logger
	runID   string
	started time.Time
	logRoot string
	console io.Writer
	noColor bool

	cache   *cache.Cache
	claims  *dut.Claims
	metrics *metrics.Metrics
	asm     *dut.Assembler

	stopMetrics context.CancelFunc
	metricsDone chan struct{}

	mu      sync.Mutex
	next    int
	cases   []*Case
	reports []string
	closed  bool
}

// Open starts a session: the cache is loaded, the session log directory
// created and, when configured, the metrics endpoint served.
func Open(ctx context.Context, opts Options) (*Session, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var cfg config.Config
	if opts.Config != nil {
		cfg = *opts.Config
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		cfg = config.Load(wd)
	}
	reg := opts.Registry
	if reg == nil {
		reg = backend.NewRegistry()
	}

	s := &Session{
		cfg:     cfg,
		runID:   uuid.NewString(),
		started: time.Now().UTC(),
		console: opts.Console,
		noColor: opts.NoColor,
		claims:  dut.NewClaims(),
	}
	s.logger = logger.With("run", s.runID)
	s.metrics = metrics.New(s.runID)

	c, err := cache.Open(cfg.CacheDir, s.logger, cache.WithRecorder(s.metrics))
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}
	s.cache = c

	s.logRoot = filepath.Join(cfg.LogDir, s.started.Format(LogRootLayout))
	if err := os.MkdirAll(s.logRoot, 0o755); err != nil {
		return nil, fmt.Errorf("creating log dir: %w", err)
	}
	if err := s.writeMeta(); err != nil {
		s.logger.Warn("writing session metadata", "err", err)
	}

	s.asm = &dut.Assembler{
		Registry:     reg,
		Cache:        s.cache,
		Claims:       s.claims,
		Logger:       s.logger,
		Observer:     s.metrics,
		PollInterval: opts.PollInterval,
	}

	if cfg.MetricsAddr != "" {
		mctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		s.stopMetrics = cancel
		s.metricsDone = make(chan struct{})
		go func() {
			defer close(s.metricsDone)
			if err := s.metrics.Serve(mctx, cfg.MetricsAddr, s.logger); err != nil {
				s.logger.Warn("metrics endpoint stopped", "addr", cfg.MetricsAddr, "err", err)
			}
		}()
	}
	s.logger.Info("session started", "logs", s.logRoot, "cache", s.cache.Path())
	return s, nil
}

// RunID identifies the session in logs, reports and metrics.
func (s *Session) RunID() string { return s.runID }

// LogRoot is the directory holding every log of the session.
func (s *Session) LogRoot() string { return s.logRoot }

// Config returns the configuration the session was opened with.
func (s *Session) Config() config.Config { return s.cfg }

// Metrics returns the session metrics.
func (s *Session) Metrics() *metrics.Metrics { return s.metrics }

// Cache returns the session cache.
func (s *Session) Cache() *cache.Cache { return s.cache }

// Reports returns the JUnit reports written so far.
func (s *Session) Reports() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.reports...)
}

func (s *Session) nextIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.next
	s.next++
	return i
}

func (s *Session) addReport(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, path)
}

func (s *Session) style(index int) func(string) string {
	if s.noColor {
		return nil
	}
	return ui.DUTPrefix(index)
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// NewCase starts a test case. Its devices log into their own directory
// under the session log root and are released by Case.Close.
func (s *Session) NewCase(name string) (*Case, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("session %s is closed", s.runID)
	}
	s.mu.Unlock()

	dirName := unsafeName.ReplaceAllString(name, "_")
	if dirName == "" {
		dirName = "case"
	}
	dir := filepath.Join(s.logRoot, dirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	id := uuid.NewString()
	c := &Case{
		s:        s,
		name:     name,
		dir:      dir,
		runID:    id,
		logger:   s.logger.With("case", name),
		teardown: dut.NewTeardown(s.logger.With("case", name)),
	}

	s.mu.Lock()
	s.cases = append(s.cases, c)
	s.mu.Unlock()
	return c, nil
}

// Close closes the cases still open, saves the cache and writes the
// metrics textfile into the log root.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cases := s.cases
	s.cases = nil
	s.mu.Unlock()

	for i := len(cases) - 1; i >= 0; i-- {
		cases[i].Close()
	}

	err := s.cache.Save()
	if err != nil {
		s.logger.Warn("saving cache", "err", err)
	}
	if werr := s.metrics.WriteTextfile(filepath.Join(s.logRoot, textfileName)); werr != nil {
		s.logger.Warn("writing metrics textfile", "err", werr)
	}
	if s.stopMetrics != nil {
		s.stopMetrics()
		<-s.metricsDone
	}
	s.logger.Info("session finished", "logs", s.logRoot, "reports", len(s.Reports()))
	return err
}

// Meta is the session summary stored next to the logs.
type Meta struct {
	RunID    string    `yaml:"run_id"`
	Started  time.Time `yaml:"started"`
	Services string    `yaml:"services,omitempty"`
	Count    int       `yaml:"count"`
	Cache    string    `yaml:"cache,omitempty"`
}

func (s *Session) writeMeta() error {
	data, err := yaml.Marshal(Meta{
		RunID:    s.runID,
		Started:  s.started,
		Services: s.cfg.Services,
		Count:    s.cfg.Count,
		Cache:    s.cache.Path(),
	})
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.logRoot, metaFile), data, 0o644)
}

// ReadMeta reads the summary of the session logged under logRoot.
func ReadMeta(logRoot string) (Meta, error) {
	var m Meta
	data, err := os.ReadFile(filepath.Join(logRoot, metaFile))
	if err != nil {
		return m, err
	}
	err = yaml.Unmarshal(data, &m)
	return m, err
}
