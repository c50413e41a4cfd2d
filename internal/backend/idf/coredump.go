package idf

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"

	"github.com/buckleypaul/dutkit/dut"
	"github.com/buckleypaul/dutkit/internal/proc"
)

const coredumpTool = "esp-coredump"

var coredumpRegex = regexp.MustCompile(`(?s)================= CORE DUMP START =================(.+?)================= CORE DUMP END =================`)

// Coredump saves the UART core dumps printed by a DUT when it is closed.
// Each distinct dump is written to the log directory; when the
// esp-coredump tool is installed its report is written next to it.
type Coredump struct {
	d      *dut.DUT
	dir    string
	env    proc.Env
	logger *slog.Logger

	// Files lists the dumps written by Close.
	Files []string
}

func newCoredump(_ context.Context, b *dut.Build) (any, error) {
	c := &Coredump{
		d:      b.DUT,
		dir:    b.LogDir,
		env:    proc.DetectVenv(b.App.AppPath, b.Config.String(dut.KeyVenv, "")),
		logger: b.Logger,
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c, nil
}

// Close implements dut.Extension.
func (c *Coredump) Close() error {
	app := c.d.App()
	if app.SDKConfig["ESP_COREDUMP_ENABLE_TO_UART"] != "y" {
		c.logger.Debug("uart core dumps disabled")
		return nil
	}
	data, err := os.ReadFile(c.d.Logfile())
	if err != nil {
		return err
	}
	dumps := ExtractCoredumps(data)
	for i, dump := range dumps {
		name := filepath.Join(c.dir, fmt.Sprintf("coredump-dut-%d-%d.b64", c.d.Index(), i))
		if err := os.WriteFile(name, dump, 0o644); err != nil {
			return err
		}
		c.Files = append(c.Files, name)
		c.logger.Warn("core dump found", "file", name)
		c.report(name, app.ElfFile, i)
	}
	return nil
}

func (c *Coredump) report(core, elf string, i int) {
	if elf == "" {
		return
	}
	if _, err := exec.LookPath(coredumpTool); err != nil {
		return
	}
	out, err := proc.Output(context.Background(), c.env, coredumpTool,
		"info_corefile", "--core", core, "--core-format", "b64", elf)
	if err != nil {
		c.logger.Warn("decoding core dump failed", "file", core, "err", err)
		return
	}
	name := filepath.Join(c.dir, fmt.Sprintf("coredump-output-dut-%d-%d", c.d.Index(), i))
	if err := os.WriteFile(name, []byte(out), 0o644); err != nil {
		c.logger.Warn("writing core dump report failed", "err", err)
	}
}

// ExtractCoredumps returns the distinct base64 core dumps in a device
// log, in order of appearance. A device reboots after dumping, so the
// same dump can be printed more than once. Dumps that are not valid
// base64 are skipped.
func ExtractCoredumps(log []byte) [][]byte {
	var out [][]byte
	seen := map[string]bool{}
	for _, m := range coredumpRegex.FindAllSubmatch(log, -1) {
		dump := bytes.TrimSpace(bytes.ReplaceAll(m[1], []byte("\r"), nil))
		if len(dump) == 0 || seen[string(dump)] {
			continue
		}
		compact := bytes.Join(bytes.Fields(dump), nil)
		if _, err := base64.StdEncoding.DecodeString(string(compact)); err != nil {
			continue
		}
		seen[string(dump)] = true
		out = append(out, dump)
	}
	return out
}
