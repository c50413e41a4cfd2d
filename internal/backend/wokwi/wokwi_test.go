package wokwi

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buckleypaul/dutkit/dut"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCheckVersion(t *testing.T) {
	v, ok := ParseVersion("Wokwi CLI v0.14.2 (a1b2c3)\n\nUSAGE\n")
	require.True(t, ok)
	assert.Equal(t, "v0.14.2", v)

	assert.NoError(t, CheckVersion("Wokwi CLI v0.10.1"))
	assert.NoError(t, CheckVersion("Wokwi CLI v1.0.0"))
	assert.ErrorContains(t, CheckVersion("Wokwi CLI v0.9.7"), "not supported")
	assert.NoError(t, CheckVersion("usage: wokwi-cli [options]"))
}

func TestWriteTOML(t *testing.T) {
	root := t.TempDir()
	app := &dut.App{
		AppPath:    root,
		BinaryPath: filepath.Join(root, "build"),
		ElfFile:    filepath.Join(root, "build", "hello.elf"),
	}
	require.NoError(t, WriteTOML(app))

	var doc map[string]map[string]any
	_, err := toml.DecodeFile(filepath.Join(root, "wokwi.toml"), &doc)
	require.NoError(t, err)
	assert.Equal(t, "build/flasher_args.json", doc["wokwi"]["firmware"])
	assert.Equal(t, "build/hello.elf", doc["wokwi"]["elf"])

	// user settings survive a rewrite
	custom := "[wokwi]\nversion = 1\nfirmware = \"old.bin\"\nelf = \"old.elf\"\ngdbServerPort = 3333\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "wokwi.toml"), []byte(custom), 0o644))
	require.NoError(t, WriteTOML(app))
	doc = nil
	_, err = toml.DecodeFile(filepath.Join(root, "wokwi.toml"), &doc)
	require.NoError(t, err)
	assert.Equal(t, "build/flasher_args.json", doc["wokwi"]["firmware"])
	assert.Equal(t, int64(3333), doc["wokwi"]["gdbServerPort"])
}

func TestWriteDiagram(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteDiagram(dir, "esp32p4", quietLogger()))

	data, err := os.ReadFile(filepath.Join(dir, "diagram.json"))
	require.NoError(t, err)
	var d diagramFile
	require.NoError(t, json.Unmarshal(data, &d))
	assert.Equal(t, []diagramPart{{Type: "board-esp32-p4-function-ev", ID: "esp"}}, d.Parts)
	assert.Equal(t, []string{"esp:37", "$serialMonitor:RX", ""}, d.Connections[0])

	// an existing diagram is left alone
	require.NoError(t, os.WriteFile(filepath.Join(dir, "diagram.json"), []byte(`{"parts": []}`), 0o644))
	require.NoError(t, WriteDiagram(dir, "esp32", quietLogger()))
	data, err = os.ReadFile(filepath.Join(dir, "diagram.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"parts": []}`, string(data))

	require.ErrorContains(t, WriteDiagram(dir, "esp8266", quietLogger()), "no board")
}
