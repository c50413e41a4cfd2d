// Package wokwi runs the firmware in the Wokwi simulator through
// wokwi-cli. The project files wokwi-cli needs are generated next to the
// app when missing.
package wokwi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/BurntSushi/toml"
	"golang.org/x/mod/semver"

	"github.com/buckleypaul/dutkit/dut"
	"github.com/buckleypaul/dutkit/internal/proc"
)

const (
	DefaultCLI = "wokwi-cli"
	// MinimumCLIVersion is the oldest wokwi-cli with --interactive.
	MinimumCLIVersion = "v0.10.1"

	source      = "wokwi"
	flasherArgs = "flasher_args.json"
)

// Boards maps targets to Wokwi board parts.
var Boards = map[string]string{
	"esp32":   "board-esp32-devkit-c-v4",
	"esp32c3": "board-esp32-c3-devkitm-1",
	"esp32c6": "board-esp32-c6-devkitc-1",
	"esp32h2": "board-esp32-h2-devkitm-1",
	"esp32p4": "board-esp32-p4-function-ev",
	"esp32s2": "board-esp32-s2-devkitm-1",
	"esp32s3": "board-esp32-s3-devkitc-1",
}

// Register declares the wokwi service and its emulator.
func Register(r *dut.Registry) {
	r.Service("wokwi")
	r.MustRegister(dut.Registration{Slot: dut.SlotEmulator, Name: "wokwi", Services: []string{"wokwi"}, New: New})
}

// Emulator is a wokwi-cli process. It implements dut.Transport and
// dut.Terminator; the simulator cannot be reset.
type Emulator struct {
	*proc.Console
}

// Name implements dut.Emulator.
func (e *Emulator) Name() string { return source }

// New checks the wokwi-cli version, writes wokwi.toml and, unless a
// diagram is configured, diagram.json.
func New(ctx context.Context, b *dut.Build) (any, error) {
	cfg := b.Config
	logger := b.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cli := cfg.String(dut.KeyWokwiCLI, DefaultCLI)
	env := proc.DetectVenv(b.App.AppPath, cfg.String(dut.KeyVenv, ""))
	if err := checkVersion(ctx, env, cli, logger); err != nil {
		return nil, err
	}

	app := b.App
	if app.BinaryPath == "" {
		return nil, errors.New("wokwi: app has no build directory")
	}
	if err := WriteTOML(app); err != nil {
		return nil, err
	}
	diagram := cfg.String(dut.KeyWokwiDiagram, "")
	if diagram == "" {
		if err := WriteDiagram(app.AppPath, app.Target, logger); err != nil {
			return nil, err
		}
	}

	// wokwi-cli takes the simulation timeout in milliseconds
	timeout, err := cfg.Int(dut.KeyWokwiTimeout, 0)
	if err != nil {
		return nil, err
	}
	args := []string{"--interactive", app.AppPath}
	if timeout > 0 {
		args = append(args, "--timeout", strconv.Itoa(timeout))
	}
	if s := cfg.String(dut.KeyWokwiScenario, ""); s != "" && exists(s) {
		args = append(args, "--scenario", s)
	}
	if diagram != "" && exists(diagram) {
		args = append(args, "--diagram-file", diagram)
	}
	return &Emulator{Console: proc.NewConsole(source, cli, args, env, logger)}, nil
}

var versionRegex = regexp.MustCompile(`Wokwi CLI v(\d+\.\d+\.\d+)`)

// ParseVersion finds the version in wokwi-cli --help output.
func ParseVersion(help string) (string, bool) {
	m := versionRegex.FindStringSubmatch(help)
	if m == nil {
		return "", false
	}
	return "v" + m[1], true
}

// CheckVersion fails when help reports a wokwi-cli older than
// MinimumCLIVersion. An unknown version is accepted.
func CheckVersion(help string) error {
	v, ok := ParseVersion(help)
	if !ok {
		return nil
	}
	if semver.Compare(v, MinimumCLIVersion) < 0 {
		return fmt.Errorf("wokwi-cli %s is not supported, %s or newer is required", v, MinimumCLIVersion)
	}
	return nil
}

func checkVersion(ctx context.Context, env proc.Env, cli string, logger *slog.Logger) error {
	help, err := proc.Output(ctx, env, cli, "--help")
	if err != nil {
		return fmt.Errorf("running wokwi-cli, install it with: curl -L https://wokwi.com/ci/install.sh | sh: %w", err)
	}
	if _, ok := ParseVersion(help); !ok {
		logger.Warn("could not read the wokwi-cli version, assuming it is recent enough")
	}
	return CheckVersion(help)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

type tomlFile struct {
	Wokwi map[string]any `toml:"wokwi"`
}

// WriteTOML points wokwi.toml in the app directory at the app firmware
// and elf, keeping the other settings of an existing file.
func WriteTOML(app *dut.App) error {
	path := filepath.Join(app.AppPath, "wokwi.toml")
	firmware, err := relSlash(app.AppPath, filepath.Join(app.BinaryPath, flasherArgs))
	if err != nil {
		return err
	}
	elf, err := relSlash(app.AppPath, app.ElfFile)
	if err != nil {
		return err
	}

	var doc map[string]any
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s: %w", path, err)
		}
		doc = nil
	}
	if doc == nil {
		doc = map[string]any{"wokwi": map[string]any{"version": 1, "generatedBy": "dutkit"}}
	}
	table, ok := doc["wokwi"].(map[string]any)
	if !ok {
		table = map[string]any{"version": 1}
		doc["wokwi"] = table
	}
	if table["firmware"] == firmware && table["elf"] == elf {
		return nil
	}
	table["firmware"] = firmware
	table["elf"] = elf

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(doc); err != nil {
		return err
	}
	return f.Close()
}

func relSlash(base, target string) (string, error) {
	if target == "" {
		return "", nil
	}
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

type diagramPart struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type diagramFile struct {
	Version     int           `json:"version"`
	Author      string        `json:"author"`
	Editor      string        `json:"editor"`
	Parts       []diagramPart `json:"parts"`
	Connections [][]string    `json:"connections"`
}

// WriteDiagram creates diagram.json in dir with the board of target
// wired to the serial monitor. An existing diagram is kept; a warning is
// logged when it has no part for the board.
func WriteDiagram(dir, target string, logger *slog.Logger) error {
	board, ok := Boards[target]
	if !ok {
		return fmt.Errorf("wokwi has no board for target %q", target)
	}
	path := filepath.Join(dir, "diagram.json")
	if data, err := os.ReadFile(path); err == nil {
		var existing diagramFile
		if err := json.Unmarshal(data, &existing); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		for _, p := range existing.Parts {
			if p.Type == board {
				return nil
			}
		}
		logger.Warn("diagram.json has no part for the board, it may need updating", "board", board)
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	rx, tx := "RX", "TX"
	if target == "esp32p4" {
		rx, tx = "38", "37"
	}
	d := diagramFile{
		Version: 1,
		Author:  "dutkit",
		Editor:  "wokwi",
		Parts:   []diagramPart{{Type: board, ID: "esp"}},
		Connections: [][]string{
			{"esp:" + tx, "$serialMonitor:RX", ""},
			{"esp:" + rx, "$serialMonitor:TX", ""},
		},
	}
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
