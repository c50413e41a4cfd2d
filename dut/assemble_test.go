package dut

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buckleypaul/dutkit/expect"
	"github.com/buckleypaul/dutkit/unity"
)

func assembler(r *Registry) *Assembler {
	return &Assembler{Registry: r, Logger: quietLogger(), PollInterval: time.Millisecond}
}

func TestAssembleWithoutBackends(t *testing.T) {
	ctx := context.Background()
	d, err := assembler(testRegistry(t)).Assemble(ctx, Request{LogDir: t.TempDir()})
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.Write([]byte("Hello, DUT!")))
	m, err := d.Expect(ctx, "Hello, DUT!")
	require.NoError(t, err)
	assert.Equal(t, "Hello, DUT!", m.String())

	_, err = d.Expect(ctx, "foo bar not found", expect.WithTimeout(time.Second))
	require.Error(t, err)
	assert.ErrorIs(t, err, expect.ErrTimeout)

	assert.False(t, d.CanFlash())
	assert.False(t, d.CanReset())
	err = d.Flash(ctx)
	assert.ErrorIs(t, err, errors.ErrUnsupported)
	err = d.HardReset(ctx)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestExpectUnityTestOutputReportsFailures(t *testing.T) {
	ctx := context.Background()
	d, err := assembler(testRegistry(t)).Assemble(ctx, Request{Index: 3, LogDir: t.TempDir()})
	require.NoError(t, err)
	defer d.Close()

	out := "boot\n" +
		"main.c:10:test_a:FAIL:Expected 1 Was 2\n" +
		"main.c:20:test_b:FAIL:Expected 3 Was 4\n" +
		"main.c:30:test_c:PASS\n" +
		"main.c:40:test_d:FAIL\n" +
		"main.c:50:test with: a colon:FAIL:oops\n" +
		"-----------------------\n" +
		"5 Tests 4 Failures 0 Ignored \n" +
		"FAIL\n"
	require.NoError(t, d.Write([]byte(out)))

	err = d.ExpectUnityTestOutput(ctx, expect.WithTimeout(2*time.Second))
	require.Error(t, err)
	assert.ErrorIs(t, err, unity.ErrCasesFailed)

	attrs := d.Suite().Attrs()
	assert.Equal(t, "4", attrs["failures"])
	assert.Equal(t, "5", attrs["tests"])
	assert.Equal(t, d.App().AppPath, attrs["app_path"])
	cases := d.Suite().Cases()
	require.Len(t, cases, 5)
	assert.Equal(t, "test with: a colon", cases[4].Name)
	assert.Equal(t, "3", cases[0].Attrs["dut"])
	assert.Equal(t, d.App().AppPath, cases[0].Attrs["app_path"])
	assert.ErrorIs(t, d.Suite().Err(), unity.ErrCasesFailed)
}

func TestAssembleTeardownOrder(t *testing.T) {
	ev := &events{}
	r := testRegistry(t)
	r.MustRegister(Registration{Slot: SlotSerial, Name: "serial", Services: []string{"serial"}, New: func(context.Context, *Build) (any, error) {
		return newPipeTransport("serial", ev), nil
	}})
	for _, name := range []string{"openocd", "gdb"} {
		r.MustRegister(Registration{Slot: SlotDebugger, Name: name, Services: []string{"jtag"}, New: func(context.Context, *Build) (any, error) {
			return &fakeCloser{name: name, ev: ev}, nil
		}})
	}
	r.MustRegister(Registration{Slot: SlotDUT, Name: "ext", New: func(_ context.Context, b *Build) (any, error) {
		require.NotNil(t, b.DUT)
		return &fakeCloser{name: "ext", ev: ev, err: errBoom}, nil
	}})

	d, err := assembler(r).Assemble(context.Background(), Request{Services: []string{"jtag"}, LogDir: t.TempDir()})
	require.NoError(t, err)

	assert.True(t, d.CanFlash())
	assert.False(t, d.CanReset())

	gdb, ok := d.Debugger("gdb")
	require.True(t, ok)
	assert.Equal(t, "gdb", gdb.Name())

	d.Close()
	d.Close()
	assert.Equal(t, []string{"close ext", "close gdb", "close openocd", "close serial"}, ev.list())
}

func TestAssembleFailureReleasesAcquired(t *testing.T) {
	ev := &events{}
	r := testRegistry(t)
	r.MustRegister(Registration{Slot: SlotSerial, Name: "serial", Services: []string{"serial"}, New: func(context.Context, *Build) (any, error) {
		return newPipeTransport("serial", ev), nil
	}})
	r.MustRegister(Registration{Slot: SlotDebugger, Name: "openocd", Services: []string{"jtag"}, New: func(context.Context, *Build) (any, error) {
		return &fakeCloser{name: "openocd", ev: ev}, nil
	}})
	r.MustRegister(Registration{Slot: SlotDebugger, Name: "gdb", Services: []string{"jtag"}, New: func(context.Context, *Build) (any, error) {
		return nil, errBoom
	}})

	_, err := assembler(r).Assemble(context.Background(), Request{Index: 1, Services: []string{"jtag"}, LogDir: t.TempDir()})
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
	assert.Contains(t, err.Error(), "dut-1")
	assert.Equal(t, []string{"close openocd", "close serial"}, ev.list())
}

func TestAssembleWrongFactoryType(t *testing.T) {
	r := testRegistry(t)
	r.MustRegister(Registration{Slot: SlotSerial, Name: "serial", Services: []string{"serial"}, New: func(context.Context, *Build) (any, error) {
		return "not a transport", nil
	}})
	_, err := assembler(r).Assemble(context.Background(), Request{Services: []string{"serial"}, LogDir: t.TempDir()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "factory returned string")
}

func TestAssembleAutoflashAndEndOfStream(t *testing.T) {
	for _, tt := range []struct {
		skip    string
		flashes int
	}{
		{"", 1},
		{"yes", 0},
	} {
		t.Run("skip="+tt.skip, func(t *testing.T) {
			var tr *pipeTransport
			r := testRegistry(t)
			r.MustRegister(Registration{Slot: SlotApp, Name: "app", New: func(_ context.Context, b *Build) (any, error) {
				return &App{AppPath: b.Config.String(KeyAppPath, ""), BinFile: "app.bin"}, nil
			}})
			r.MustRegister(Registration{Slot: SlotSerial, Name: "serial", Services: []string{"serial"}, New: func(context.Context, *Build) (any, error) {
				tr = newPipeTransport("serial", nil)
				return tr, nil
			}})

			ctx := context.Background()
			d, err := assembler(r).Assemble(ctx, Request{
				Services: []string{"serial"},
				Config:   DeviceConfig{KeyAppPath: "/app", KeySkipAutoflash: tt.skip},
				LogDir:   t.TempDir(),
			})
			require.NoError(t, err)
			defer d.Close()
			assert.Equal(t, tt.flashes, tr.flashes())

			require.NoError(t, d.WriteLine("ping"))
			assert.Equal(t, []string{"ping\n"}, tr.input)

			tr.emit("last words")
			tr.endOutput()

			m, err := d.Expect(ctx, expect.EOF, expect.WithTimeout(2*time.Second))
			require.NoError(t, err)
			assert.Equal(t, expect.KindEOF, m.Kind)
			assert.Equal(t, "last words", m.String())
			assert.True(t, d.Ended())

			m, err = d.Expect(ctx, []expect.Pattern{expect.MustRegex("x"), expect.EOF})
			require.NoError(t, err)
			assert.Equal(t, expect.KindEOF, m.Kind)
			assert.Empty(t, m.String())

			_, err = d.Expect(ctx, "x")
			assert.ErrorIs(t, err, expect.ErrEOF)
		})
	}
}

func TestTwoDevicesAreIndependent(t *testing.T) {
	ctx := context.Background()
	logDir := t.TempDir()
	apps := []string{filepath.Join(t.TempDir(), "app-a"), filepath.Join(t.TempDir(), "app-b")}
	a := assembler(testRegistry(t))

	var duts []*DUT
	for i, app := range apps {
		require.NoError(t, os.MkdirAll(app, 0o755))
		d, err := a.Assemble(ctx, Request{Index: i, Total: 2, Config: DeviceConfig{KeyAppPath: app}, LogDir: logDir})
		require.NoError(t, err)
		duts = append(duts, d)
	}
	defer duts[1].Close()

	real0, _ := filepath.EvalSymlinks(apps[0])
	real1, _ := filepath.EvalSymlinks(apps[1])
	assert.Equal(t, real0, duts[0].App().AppPath)
	assert.Equal(t, real1, duts[1].App().AppPath)
	assert.NotEqual(t, duts[0].Logfile(), duts[1].Logfile())

	duts[0].Close()
	require.NoError(t, duts[1].WriteLine("still here"))
	_, err := duts[1].ExpectExact(ctx, "still here", expect.WithTimeout(2*time.Second))
	require.NoError(t, err)
	assert.FileExists(t, duts[0].Logfile())
}
