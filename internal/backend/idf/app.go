// Package idf reads ESP-IDF build directories into apps and checks the
// device log for core dumps.
package idf

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/buckleypaul/dutkit/dut"
)

const (
	FlasherArgsFile    = "flasher_args.json"
	PartitionTableFile = "partition_table/partition-table.bin"
)

// Register declares the idf service with its app parser and core dump
// check.
func Register(r *dut.Registry) {
	r.Service("idf")
	r.MustRegister(dut.Registration{Slot: dut.SlotApp, Name: "idf", Services: []string{"idf"}, New: newApp})
	r.MustRegister(dut.Registration{Slot: dut.SlotDUT, Name: "coredump", Services: []string{"idf"}, New: newCoredump})
}

func newApp(_ context.Context, b *dut.Build) (any, error) {
	return LoadApp(b.Config.String(dut.KeyAppPath, ""), b.Config.String(dut.KeyBuildDir, ""))
}

// LoadApp reads the build directory of the ESP-IDF project at appPath.
// A project that was not built yet yields an app with no binary.
func LoadApp(appPath, buildDir string) (*dut.App, error) {
	app, err := dut.NewApp(appPath, buildDir)
	if err != nil {
		return nil, err
	}
	if app.SDKConfig, err = readSDKConfig(sdkconfigPaths(app)); err != nil {
		return nil, err
	}
	if app.BinaryPath == "" {
		app.Target = app.SDKConfig["IDF_TARGET"]
		return app, nil
	}

	if app.ElfFile, err = findElf(app.BinaryPath); err != nil {
		return nil, err
	}
	chip, err := readFlasherArgs(app)
	if err != nil {
		return nil, err
	}
	app.Target = app.SDKConfig["IDF_TARGET"]
	if app.Target == "" {
		app.Target = chip
	}

	ptPath := filepath.Join(app.BinaryPath, PartitionTableFile)
	if data, err := os.ReadFile(ptPath); err == nil {
		if app.Partitions, err = ParsePartitionTable(data); err != nil {
			return nil, fmt.Errorf("%s: %w", ptPath, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return app, nil
}

func sdkconfigPaths(app *dut.App) []string {
	if app.BinaryPath == "" {
		return []string{filepath.Join(app.AppPath, "sdkconfig")}
	}
	return []string{
		filepath.Join(app.BinaryPath, "..", "sdkconfig"),
		filepath.Join(app.BinaryPath, "sdkconfig"),
	}
}

// readSDKConfig parses the first existing sdkconfig of paths. Keys are
// stored without their CONFIG_ prefix and values without quotes.
func readSDKConfig(paths []string) (map[string]string, error) {
	cfg := map[string]string{}
	for _, p := range paths {
		f, err := os.Open(p)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		defer f.Close()
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			k, v, ok := strings.Cut(line, "=")
			if !ok {
				continue
			}
			cfg[strings.TrimPrefix(k, "CONFIG_")] = strings.Trim(v, `"`)
		}
		return cfg, sc.Err()
	}
	return cfg, nil
}

func findElf(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".elf" {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", nil
}

type flashEntry struct {
	Offset    string `json:"offset"`
	File      string `json:"file"`
	Encrypted string `json:"encrypted"`
}

// readFlasherArgs fills the flash files and settings of app from
// flasher_args.json and returns the chip it names.
func readFlasherArgs(app *dut.App) (string, error) {
	path := filepath.Join(app.BinaryPath, FlasherArgsFile)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	var doc struct {
		FlashFiles    map[string]string `json:"flash_files"`
		FlashSettings struct {
			Mode string `json:"flash_mode"`
			Size string `json:"flash_size"`
			Freq string `json:"flash_freq"`
		} `json:"flash_settings"`
		Extra struct {
			Chip string `json:"chip"`
		} `json:"extra_esptool_args"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}

	// named entries such as "app" and "bootloader" carry the encrypted flag
	entries := map[string]flashEntry{}
	for name, msg := range raw {
		var e flashEntry
		if json.Unmarshal(msg, &e) != nil || e.Offset == "" || e.File == "" {
			continue
		}
		entries[e.Offset+"|"+e.File] = e
		if name == "app" {
			app.BinFile = filepath.Join(app.BinaryPath, e.File)
		}
	}

	_, devEncryption := app.SDKConfig["SECURE_FLASH_ENCRYPTION_MODE_DEVELOPMENT"]
	allEncrypted := len(doc.FlashFiles) > 0
	for offs, file := range doc.FlashFiles {
		if offs == "" {
			continue
		}
		off, err := strconv.ParseUint(offs, 0, 32)
		if err != nil {
			return "", fmt.Errorf("%s: flash offset %q: %w", path, offs, err)
		}
		encrypted := devEncryption
		if e, ok := entries[offs+"|"+file]; ok {
			encrypted = e.Encrypted == "true"
		}
		allEncrypted = allEncrypted && encrypted
		app.FlashFiles = append(app.FlashFiles, dut.FlashFile{
			Offset:    uint32(off),
			Path:      filepath.Join(app.BinaryPath, file),
			Encrypted: encrypted,
		})
	}
	app.FlashFiles = app.SortedFlashFiles()
	app.FlashSettings = dut.FlashSettings{
		Mode:    doc.FlashSettings.Mode,
		Size:    doc.FlashSettings.Size,
		Freq:    doc.FlashSettings.Freq,
		Encrypt: allEncrypted,
	}
	return doc.Extra.Chip, nil
}
