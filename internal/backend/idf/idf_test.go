package idf

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buckleypaul/dutkit/dut"
)

func partitionEntry(name string, typ, sub uint8, offset, size uint32) []byte {
	e := make([]byte, partitionEntrySize)
	copy(e, partitionMagic)
	e[2], e[3] = typ, sub
	binary.LittleEndian.PutUint32(e[4:], offset)
	binary.LittleEndian.PutUint32(e[8:], size)
	copy(e[12:28], name)
	return e
}

func partitionTable() []byte {
	var data []byte
	data = append(data, partitionEntry("nvs", 1, 2, 0x9000, 0x6000)...)
	data = append(data, partitionEntry("phy_init", 1, 1, 0xf000, 0x1000)...)
	data = append(data, partitionEntry("factory", 0, 0, 0x10000, 0x100000)...)
	md5 := make([]byte, partitionEntrySize)
	copy(md5, md5Magic)
	data = append(data, md5...)
	for i := 0; i < partitionEntrySize; i++ {
		data = append(data, 0xFF)
	}
	return data
}

const flasherArgs = `{
    "write_flash_args" : [ "--flash_mode", "dio", "--flash_size", "2MB", "--flash_freq", "80m" ],
    "flash_settings" : { "flash_mode": "dio", "flash_size": "2MB", "flash_freq": "80m" },
    "flash_files" : {
        "0x0" : "bootloader/bootloader.bin",
        "0x10000" : "hello_world.bin",
        "0x8000" : "partition_table/partition-table.bin"
    },
    "bootloader" : { "offset" : "0x0", "file" : "bootloader/bootloader.bin", "encrypted" : "false" },
    "app" : { "offset" : "0x10000", "file" : "hello_world.bin", "encrypted" : "true" },
    "partition-table" : { "offset" : "0x8000", "file" : "partition_table/partition-table.bin", "encrypted" : "false" },
    "extra_esptool_args" : { "after" : "hard_reset", "before" : "default_reset", "stub" : true, "chip" : "esp32c3" }
}`

func writeProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	build := filepath.Join(root, "build")
	require.NoError(t, os.MkdirAll(filepath.Join(build, "partition_table"), 0o755))
	files := map[string]string{
		"sdkconfig":                                 "# comment\nCONFIG_IDF_TARGET=\"esp32c3\"\nCONFIG_ESP_COREDUMP_ENABLE_TO_UART=y\n",
		"build/flasher_args.json":                   flasherArgs,
		"build/hello_world.elf":                     "ELF",
		"build/hello_world.bin":                     "BIN",
		"build/partition_table/partition-table.bin": string(partitionTable()),
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(content), 0o644))
	}
	return root
}

func TestLoadApp(t *testing.T) {
	root := writeProject(t)
	app, err := LoadApp(root, "")
	require.NoError(t, err)

	build := filepath.Join(app.AppPath, "build")
	assert.Equal(t, build, app.BinaryPath)
	assert.Equal(t, "esp32c3", app.Target)
	assert.Equal(t, filepath.Join(build, "hello_world.elf"), app.ElfFile)
	assert.Equal(t, filepath.Join(build, "hello_world.bin"), app.BinFile)
	assert.Equal(t, dut.FlashSettings{Mode: "dio", Size: "2MB", Freq: "80m"}, app.FlashSettings)
	assert.Equal(t, []dut.FlashFile{
		{Offset: 0x0, Path: filepath.Join(build, "bootloader/bootloader.bin")},
		{Offset: 0x8000, Path: filepath.Join(build, "partition_table/partition-table.bin")},
		{Offset: 0x10000, Path: filepath.Join(build, "hello_world.bin"), Encrypted: true},
	}, app.FlashFiles)
	assert.Len(t, app.EncryptFiles(), 1)

	v, ok := app.Config("ESP_COREDUMP_ENABLE_TO_UART")
	assert.True(t, ok)
	assert.Equal(t, "y", v)

	nvs, ok := app.Partition("nvs")
	require.True(t, ok)
	assert.Equal(t, uint32(0x9000), nvs.Offset)
	assert.Equal(t, uint32(0x6000), nvs.Size)
	assert.Len(t, app.Partitions, 3)
}

func TestLoadAppUnbuilt(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "sdkconfig"), []byte("CONFIG_IDF_TARGET=\"esp32s3\"\n"), 0o644))
	app, err := LoadApp(root, "")
	require.NoError(t, err)
	assert.Empty(t, app.BinaryPath)
	assert.False(t, app.Flashable())
	assert.Equal(t, "esp32s3", app.Target)
}

func TestParsePartitionTableBadMagic(t *testing.T) {
	data := partitionEntry("nvs", 1, 2, 0x9000, 0x6000)
	data[0] = 0x12
	_, err := ParsePartitionTable(data)
	require.ErrorContains(t, err, "bad magic")
}

func TestExtractCoredumps(t *testing.T) {
	log := "boot\r\n" +
		"================= CORE DUMP START =================\r\nAAAA\r\nBBBB\r\n================= CORE DUMP END =================\r\n" +
		"rebooting\n" +
		"================= CORE DUMP START =================\nAAAA\nBBBB\n================= CORE DUMP END =================\n" +
		"================= CORE DUMP START =================\n!!not base64!!\n================= CORE DUMP END =================\n"
	dumps := ExtractCoredumps([]byte(log))
	require.Len(t, dumps, 1)
	assert.Equal(t, "AAAA\nBBBB", string(dumps[0]))
}
