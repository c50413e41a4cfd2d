package harness

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buckleypaul/dutkit/expect"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadScript(t *testing.T) {
	sc, err := LoadScript(writeScript(t, `
name: echo
count: 2
device:
  baud: "9600|115200"
steps:
  - write: "ping"
    dut: 1
  - expect: "p(i)ng"
    dut: 1
    timeout: 2s
  - sleep: 10ms
`))
	require.NoError(t, err)
	assert.Equal(t, "echo", sc.Name)
	require.Len(t, sc.Steps, 3)
	assert.Equal(t, 2*time.Second, sc.Steps[1].Timeout)
	assert.Equal(t, 10*time.Millisecond, sc.Steps[2].Sleep)

	cfg := sc.Config(testConfig(t))
	assert.Equal(t, 2, cfg.Count)
	assert.Equal(t, "echo", cfg.Services)
	assert.Equal(t, "9600|115200", cfg.Device["baud"])
}

func TestLoadScriptRejectsAmbiguousSteps(t *testing.T) {
	_, err := LoadScript(writeScript(t, "steps:\n  - expect: a\n    write: b\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 1: more than one action")

	_, err = LoadScript(writeScript(t, "steps:\n  - dut: 1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no action")
}

func TestRunScript(t *testing.T) {
	cfg := testConfig(t)
	b := &echoBackend{}
	s := openSession(t, cfg, b)
	defer s.Close()

	sc, err := LoadScript(writeScript(t, `
name: echo
count: 2
steps:
  - write: "hello from one"
    dut: 1
  - expect_exact: "hello from one"
    dut: 1
    timeout: 2s
  - write: "boot ok"
  - expect: "boot (ok|failed)"
    not_matching: ["panic"]
    timeout: 2s
`))
	require.NoError(t, err)
	require.NoError(t, s.RunScript(context.Background(), sc))
	assert.True(t, b.device(0).isClosed())
	assert.True(t, b.device(1).isClosed())
}

func TestRunScriptStopsAtFailingStep(t *testing.T) {
	cfg := testConfig(t)
	s := openSession(t, cfg, &echoBackend{})
	defer s.Close()

	sc := &Script{Name: "timeout", Steps: []Step{
		{Expect: "never printed", Timeout: 50 * time.Millisecond},
		{Flash: true},
	}}
	err := s.RunScript(context.Background(), sc)
	require.Error(t, err)
	assert.ErrorIs(t, err, expect.ErrTimeout)
	assert.Contains(t, err.Error(), "step 1")

	sc = &Script{Name: "bad dut", Steps: []Step{{DUT: 3, Flash: true}}}
	err = s.RunScript(context.Background(), sc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no dut 3")
}
