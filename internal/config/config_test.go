package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/buckleypaul/dutkit/dut"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Count != 1 {
		t.Errorf("expected Count=1, got=%d", cfg.Count)
	}
	if cfg.Device[dut.KeyBaud] != "115200" {
		t.Errorf("expected baud=115200, got=%s", cfg.Device[dut.KeyBaud])
	}
	if !cfg.TimestampEnabled() {
		t.Errorf("expected timestamps on by default")
	}
}

func TestLoadMerge(t *testing.T) {
	global := t.TempDir()
	os.WriteFile(filepath.Join(global, "config.yaml"), []byte("services: esp\ndevice:\n  baud: \"921600\"\n  target: esp32\n"), 0o644)

	// project config overrides the global one
	tmp := t.TempDir()
	os.MkdirAll(filepath.Join(tmp, ".dutkit"), 0o755)
	os.WriteFile(filepath.Join(tmp, ".dutkit", "config.yaml"), []byte("services: esp,idf\ncount: 2\ntimestamp: false\ndevice:\n  target: esp32c3\n"), 0o644)

	cfg := load(global, tmp)

	if cfg.Services != "esp,idf" {
		t.Errorf("expected services from project, got=%s", cfg.Services)
	}
	if cfg.Count != 2 {
		t.Errorf("expected count=2, got=%d", cfg.Count)
	}
	if cfg.Device[dut.KeyBaud] != "921600" {
		t.Errorf("expected baud from global, got=%s", cfg.Device[dut.KeyBaud])
	}
	if cfg.Device[dut.KeyTarget] != "esp32c3" {
		t.Errorf("expected target from project, got=%s", cfg.Device[dut.KeyTarget])
	}
	if cfg.TimestampEnabled() {
		t.Errorf("expected timestamps disabled by project")
	}
	if got := cfg.ServiceList(); len(got) != 2 || got[0] != "esp" || got[1] != "idf" {
		t.Errorf("expected [esp idf], got=%v", got)
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Defaults()
	env := map[string]string{
		"ESPPORT":         "/dev/ttyUSB0|/dev/ttyUSB1",
		"DUTKIT_SERVICES": "esp",
		"DUTKIT_COUNT":    "2",
		"OPENOCD_BIN":     "/opt/openocd",
	}
	ApplyEnv(&cfg, func(k string) string { return env[k] })

	if cfg.Services != "esp" || cfg.Count != 2 {
		t.Errorf("expected services=esp count=2, got=%s %d", cfg.Services, cfg.Count)
	}
	if cfg.Device[dut.KeyPort] != "/dev/ttyUSB0|/dev/ttyUSB1" {
		t.Errorf("expected port from ESPPORT, got=%s", cfg.Device[dut.KeyPort])
	}
	if cfg.Device[dut.KeyOpenOCDProg] != "/opt/openocd" {
		t.Errorf("expected openocd from OPENOCD_BIN, got=%s", cfg.Device[dut.KeyOpenOCDProg])
	}
}

func TestDevices(t *testing.T) {
	cfg := Config{Device: map[string]string{
		dut.KeyPort:          "/dev/ttyUSB0|/dev/ttyUSB1",
		dut.KeyBaud:          "115200",
		dut.KeySkipAutoflash: "y|n",
	}}

	devs, err := cfg.Devices(2)
	if err != nil {
		t.Fatalf("Devices failed: %v", err)
	}
	if devs[0][dut.KeyPort] != "/dev/ttyUSB0" || devs[1][dut.KeyPort] != "/dev/ttyUSB1" {
		t.Errorf("expected ports split per device, got=%v", devs)
	}
	if devs[0][dut.KeyBaud] != "115200" || devs[1][dut.KeyBaud] != "115200" {
		t.Errorf("expected baud duplicated, got=%v", devs)
	}
	skip0, _ := devs[0].Bool(dut.KeySkipAutoflash, false)
	skip1, _ := devs[1].Bool(dut.KeySkipAutoflash, true)
	if !skip0 || skip1 {
		t.Errorf("expected y|n to parse as true|false, got=%v %v", skip0, skip1)
	}

	if _, err := cfg.Devices(3); err == nil {
		t.Errorf("expected error for 2 values with 3 devices")
	}
	if _, err := cfg.Devices(0); err == nil {
		t.Errorf("expected error for zero devices")
	}
}

func TestSaveAndLoad(t *testing.T) {
	tmp := t.TempDir()
	off := false
	cfg := Config{
		Services:  "qemu",
		Count:     3,
		Timestamp: &off,
		Device:    map[string]string{dut.KeyQemuProg: "/opt/qemu"},
	}

	err := Save(cfg, tmp, false)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	path := filepath.Join(tmp, ".dutkit", "config.yaml")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not created: %v", err)
	}

	loaded := load("", tmp)
	if loaded.Services != "qemu" {
		t.Errorf("expected Services=qemu, got=%s", loaded.Services)
	}
	if loaded.Count != 3 {
		t.Errorf("expected Count=3, got=%d", loaded.Count)
	}
	if loaded.Device[dut.KeyQemuProg] != "/opt/qemu" {
		t.Errorf("expected qemu path, got=%s", loaded.Device[dut.KeyQemuProg])
	}
	if loaded.TimestampEnabled() {
		t.Errorf("expected timestamps off")
	}
}
