package unity

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/buckleypaul/dutkit/expect"
)

// fakeDevice is a scripted device: every line written to it is passed to
// react, which may print output into the device's log.
type fakeDevice struct {
	t      *testing.T
	mu     sync.Mutex
	f      *os.File
	engine *expect.Engine
	suite  *TestSuite
	writes []string
	react  func(d *fakeDevice, line string)
}

func newFakeDevice(t *testing.T, name string) *fakeDevice {
	t.Helper()
	path := filepath.Join(t.TempDir(), name+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	eng, err := expect.Open(path, expect.WithPollInterval(time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() {
		eng.Close()
		f.Close()
	})
	return &fakeDevice{t: t, f: f, engine: eng, suite: NewTestSuite(name)}
}

func (d *fakeDevice) print(s string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.f.WriteString(s)
	require.NoError(d.t, err)
}

func (d *fakeDevice) WriteLine(s string) error {
	d.mu.Lock()
	d.writes = append(d.writes, s)
	react := d.react
	d.mu.Unlock()
	if react != nil {
		react(d, s)
	}
	return nil
}

func (d *fakeDevice) Engine() *expect.Engine { return d.engine }
func (d *fakeDevice) Suite() *TestSuite      { return d.suite }

func (d *fakeDevice) written() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.writes...)
}
