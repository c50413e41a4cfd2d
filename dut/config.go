package dut

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Per-device configuration keys understood by the built-in backends.
const (
	KeyAppPath        = "app_path"
	KeyBuildDir       = "build_dir"
	KeyPort           = "port"
	KeyBaud           = "baud"
	KeyTarget         = "target"
	KeySkipAutoflash  = "skip_autoflash"
	KeyEraseAll       = "erase_all"
	KeyEraseNVS       = "erase_nvs"
	KeyFlashBaud      = "esptool_baud"
	KeyPortLocation   = "port_location"
	KeyPortSerial     = "port_serial"
	KeyQemuProg       = "qemu_prog_path"
	KeyQemuImage      = "qemu_image_path"
	KeyQemuArgs       = "qemu_extra_args"
	KeyQemuCLIArgs    = "qemu_cli_args"
	KeyOpenOCDProg    = "openocd_prog_path"
	KeyOpenOCDArgs    = "openocd_cli_args"
	KeyGDBProg        = "gdb_prog_path"
	KeyGDBArgs        = "gdb_cli_args"
	KeyWokwiCLI       = "wokwi_cli_path"
	KeyWokwiTimeout   = "wokwi_timeout"
	KeyWokwiScenario  = "wokwi_scenario"
	KeyWokwiDiagram   = "wokwi_diagram"
	KeyVenv           = "venv_path"
	KeyOpenOCDScripts = "openocd_scripts"
)

// DeviceConfig holds the configuration values of one device.
type DeviceConfig map[string]string

// String returns the value of key, or def when unset.
func (c DeviceConfig) String(key, def string) string {
	if v, ok := c[key]; ok && v != "" {
		return v
	}
	return def
}

// Bool parses key as y/yes/true or n/no/false.
func (c DeviceConfig) Bool(key string, def bool) (bool, error) {
	v, ok := c[key]
	if !ok || v == "" {
		return def, nil
	}
	b, err := ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

// Int parses key as a decimal integer.
func (c DeviceConfig) Int(key string, def int) (int, error) {
	v, ok := c[key]
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

// Duration parses key as a Go duration or a number of seconds.
func (c DeviceConfig) Duration(key string, def time.Duration) (time.Duration, error) {
	v, ok := c[key]
	if !ok || v == "" {
		return def, nil
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def, fmt.Errorf("%s: invalid duration %q", key, v)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// ParseBool accepts y, yes, true, n, no and false in any case.
func ParseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes", "true":
		return true, nil
	case "n", "no", "false":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", s)
}
