package harness

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buckleypaul/dutkit/expect"
	"github.com/buckleypaul/dutkit/internal/cache"
	"github.com/buckleypaul/dutkit/unity"
)

func TestSessionIndicesAreSequential(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Count = 2
	s := openSession(t, cfg, &echoBackend{})
	defer s.Close()

	var got []int
	for _, name := range []string{"first case", "second/case"} {
		c, err := s.NewCase(name)
		require.NoError(t, err)
		devs, err := c.DUTs(ctx, cfg)
		require.NoError(t, err)
		require.Equal(t, 2, devs.Len())
		for _, d := range devs.All() {
			got = append(got, d.Index())
			assert.Equal(t, c.Dir(), filepath.Dir(d.Logfile()))
			assert.Equal(t, c.RunID(), d.Suite().Attrs()["run_id"])
		}
		require.NoError(t, c.Close())
	}
	assert.Equal(t, []int{0, 1, 2, 3}, got)
	assert.DirExists(t, filepath.Join(s.LogRoot(), "first_case"))
	assert.DirExists(t, filepath.Join(s.LogRoot(), "second_case"))

	meta, err := ReadMeta(s.LogRoot())
	require.NoError(t, err)
	assert.Equal(t, s.RunID(), meta.RunID)
	assert.Equal(t, "echo", meta.Services)
}

func TestCaseCloseWritesReports(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	s := openSession(t, cfg, &echoBackend{})

	c, err := s.NewCase("unity")
	require.NoError(t, err)
	devs, err := c.DUTs(ctx, cfg)
	require.NoError(t, err)
	d := devs.One()

	require.NoError(t, d.Write([]byte("main.c:1:test_ok:PASS\nmain.c:2:test_bad:FAIL:Expected 1 Was 2\n"+
		"-----------------------\n2 Tests 1 Failures 0 Ignored \nFAIL\n")))
	err = d.ExpectUnityTestOutput(ctx, expect.WithTimeout(2*time.Second))
	assert.ErrorIs(t, err, unity.ErrCasesFailed)

	failures := c.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "test_bad", failures[0].Name)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	report := filepath.Join(c.Dir(), "dut-0.xml")
	assert.Equal(t, []string{report}, s.Reports())

	suites, err := unity.ReadReport(report)
	require.NoError(t, err)
	require.Len(t, suites, 1)
	assert.Equal(t, 2, suites[0].Tests)
	assert.Equal(t, 1, suites[0].Failures)

	require.NoError(t, s.Close())
	prom, err := os.ReadFile(filepath.Join(s.LogRoot(), "metrics.prom"))
	require.NoError(t, err)
	assert.Contains(t, string(prom), `dutkit_test_cases_total{result="FAIL",run_id="`+s.RunID()+`"} 1`)
	assert.Contains(t, string(prom), `dutkit_duts_open{run_id="`+s.RunID()+`"} 0`)
}

func TestFailedAssemblyKeepsEarlierDevices(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Count = 2
	b := &echoBackend{failAt: 1}
	s := openSession(t, cfg, b)
	defer s.Close()

	c, err := s.NewCase("partial")
	require.NoError(t, err)
	_, err = c.DUTs(ctx, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no device for index 1")

	require.Equal(t, 1, c.Devices().Len())
	assert.False(t, b.device(0).isClosed())
	require.NoError(t, c.Close())
	assert.True(t, b.device(0).isClosed())

	_, err = c.DUTs(ctx, cfg)
	assert.Error(t, err)
}

func TestSessionCloseClosesOpenCases(t *testing.T) {
	cfg := testConfig(t)
	b := &echoBackend{}
	s := openSession(t, cfg, b)

	c, err := s.NewCase("left open")
	require.NoError(t, err)
	_, err = c.DUTs(context.Background(), cfg)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	assert.True(t, b.device(0).isClosed())
	_, err = s.NewCase("late")
	assert.Error(t, err)
}

func TestSessionSavesCache(t *testing.T) {
	cfg := testConfig(t)
	s := openSession(t, cfg, &echoBackend{})
	s.Cache().Set("port-target", "/dev/ttyUSB0", "esp32")
	require.NoError(t, s.Close())

	c, err := cache.Open(cfg.CacheDir, quietLogger())
	require.NoError(t, err)
	v, ok := c.Get("port-target", "/dev/ttyUSB0")
	require.True(t, ok)
	assert.Equal(t, "esp32", v)
}

func TestDevicesOnePanicsOnSeveral(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Count = 2
	s := openSession(t, cfg, &echoBackend{})
	defer s.Close()

	c, err := s.NewCase("two")
	require.NoError(t, err)
	devs, err := c.DUTs(ctx, cfg)
	require.NoError(t, err)
	assert.Panics(t, func() { devs.One() })
	assert.Equal(t, 1, devs.At(1).Index())
}

func TestNewReportsUnityFailures(t *testing.T) {
	cfg := testConfig(t)
	b := &echoBackend{}
	s := openSession(t, cfg, b)
	defer s.Close()

	rt := &recordingTB{TB: t, name: "TestBlink"}
	d := New(rt, WithSession(s), WithDevice("baud", "9600"))
	require.NoError(t, d.Write([]byte("blink.c:7:test_led:FAIL:led stuck\n-----------------------\n1 Tests 1 Failures 0 Ignored \nFAIL\n")))
	assert.ErrorIs(t, d.ExpectUnityTestOutput(context.Background()), unity.ErrCasesFailed)

	rt.runCleanups()
	require.Len(t, rt.errors, 1)
	assert.Equal(t, "test_led: led stuck", rt.errors[0])
	assert.True(t, b.device(0).isClosed())
	assert.True(t, strings.HasSuffix(filepath.Dir(d.Logfile()), "TestBlink"))
}
