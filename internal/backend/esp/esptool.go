package esp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/buckleypaul/dutkit/internal/proc"
)

// DefaultProg is the esptool executable looked up on PATH.
const DefaultProg = "esptool.py"

// Tool runs esptool commands. Output is written to w as it is produced.
type Tool interface {
	Run(ctx context.Context, w io.Writer, args ...string) error
}

// Esptool runs the esptool executable.
type Esptool struct {
	Prog string
	Env  proc.Env
}

// Run implements Tool.
func (e Esptool) Run(ctx context.Context, w io.Writer, args ...string) error {
	prog := e.Prog
	if prog == "" {
		prog = DefaultProg
	}
	return proc.Run(ctx, w, e.Env, prog, args...)
}

// Targets are the chips esptool can detect.
var Targets = []string{
	"esp32", "esp32s2", "esp32s3", "esp32c2", "esp32c3", "esp32c5",
	"esp32c6", "esp32c61", "esp32h2", "esp32p4",
}

// esptool v4 prints "Chip is ESP32-C3 (QFN32) (revision v0.4)", v5 prints
// "Chip type:          ESP32-C3 (QFN32)". Both print the chip model,
// which for the esp32 is a package name such as ESP32-D0WD-V3.
var chipRegex = regexp.MustCompile(`(?m)^(?:Detecting chip type\.\.\.|Chip is|Chip type:)\s*(ESP[\w-]+)`)

// ParseChip extracts the target name, such as "esp32c3", from esptool
// connection output.
func ParseChip(output string) (string, bool) {
	m := chipRegex.FindStringSubmatch(output)
	if m == nil {
		return "", false
	}
	model := NormalizeTarget(m[1])
	best := ""
	for _, t := range Targets {
		if strings.HasPrefix(model, t) && len(t) > len(best) {
			best = t
		}
	}
	if best == "" {
		return model, true
	}
	return best, true
}

// NormalizeTarget lowercases a chip name and strips dashes.
func NormalizeTarget(chip string) string {
	return strings.ReplaceAll(strings.ToLower(chip), "-", "")
}

// DetectChip connects to the device on port and returns its target.
func DetectChip(ctx context.Context, tool Tool, port string, baud int, log io.Writer) (string, error) {
	var out bytes.Buffer
	w := io.Writer(&out)
	if log != nil {
		w = io.MultiWriter(&out, log)
	}
	args := []string{"--port", port, "--baud", fmt.Sprint(baud), "--after", "no_reset", "chip_id"}
	if err := tool.Run(ctx, w, args...); err != nil {
		return "", fmt.Errorf("detecting chip on %s: %w", port, err)
	}
	target, ok := ParseChip(out.String())
	if !ok {
		return "", fmt.Errorf("detecting chip on %s: no chip in esptool output", port)
	}
	return target, nil
}

// ToolchainPrefix returns the cross toolchain prefix for target, such as
// "xtensa-esp32s3-elf-".
func ToolchainPrefix(target string) string {
	switch target {
	case "esp32", "esp32s2", "esp32s3":
		return "xtensa-" + target + "-elf-"
	}
	return "riscv32-esp-elf-"
}
