package dut

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAppResolvesBuildDir(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "build"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "out"), 0o755))
	real, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)

	app, err := NewApp(root, "")
	require.NoError(t, err)
	assert.Equal(t, real, app.AppPath)
	assert.Equal(t, filepath.Join(real, "build"), app.BinaryPath)
	assert.False(t, app.Flashable())

	app, err = NewApp(root, "out")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(real, "out"), app.BinaryPath)

	abs := filepath.Join(real, "out")
	app, err = NewApp(root, abs)
	require.NoError(t, err)
	assert.Equal(t, abs, app.BinaryPath)

	app, err = NewApp(root, "missing")
	require.NoError(t, err)
	assert.Empty(t, app.BinaryPath)
}

func TestAppFlashFiles(t *testing.T) {
	app := &App{
		FlashFiles: []FlashFile{
			{Offset: 0x10000, Path: "app.bin", Encrypted: true},
			{Offset: 0x1000, Path: "bootloader.bin"},
			{Offset: 0x8000, Path: "partition-table.bin"},
		},
		Partitions: []Partition{{Name: "nvs", Offset: 0x9000, Size: 0x6000}},
	}
	files := app.SortedFlashFiles()
	assert.Equal(t, "bootloader.bin", files[0].Path)
	assert.Equal(t, "app.bin", files[2].Path)
	assert.Equal(t, []FlashFile{{Offset: 0x10000, Path: "app.bin", Encrypted: true}}, app.EncryptFiles())
	assert.True(t, app.Flashable())

	p, ok := app.Partition("nvs")
	require.True(t, ok)
	assert.Equal(t, uint32(0x9000), p.Offset)
	_, ok = app.Partition("ota")
	assert.False(t, ok)
}
