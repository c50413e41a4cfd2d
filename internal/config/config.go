package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/buckleypaul/dutkit/dut"
)

const (
	DefaultCount    = 1
	DefaultBaudRate = 115200
	DirName         = ".dutkit"
	fileName        = "config.yaml"
)

// Config holds all dutkit configuration. Device values apply to every
// device; a value containing "|" gives one value per device.
type Config struct {
	Services    string            `yaml:"services,omitempty"`
	Count       int               `yaml:"count,omitempty"`
	LogDir      string            `yaml:"log_dir,omitempty"`
	CacheDir    string            `yaml:"cache_dir,omitempty"`
	Timestamp   *bool             `yaml:"timestamp,omitempty"`
	MetricsAddr string            `yaml:"metrics_addr,omitempty"`
	Device      map[string]string `yaml:"device,omitempty"`
}

// Defaults returns a Config with default values.
func Defaults() Config {
	on := true
	return Config{
		Count:     DefaultCount,
		LogDir:    filepath.Join(os.TempDir(), "dutkit"),
		CacheDir:  os.TempDir(),
		Timestamp: &on,
		Device: map[string]string{
			dut.KeyBaud: strconv.Itoa(DefaultBaudRate),
		},
	}
}

// GlobalDir returns ~/.config/dutkit.
func GlobalDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "dutkit"), nil
}

// Load reads and merges global and project configs, then applies the
// environment.
// Order: defaults → global (~/.config/dutkit/config.yaml) → project
// (.dutkit/config.yaml) → environment.
func Load(projectRoot string) Config {
	global, _ := GlobalDir()
	cfg := load(global, projectRoot)
	ApplyEnv(&cfg, os.Getenv)
	return cfg
}

func load(globalDir, projectRoot string) Config {
	cfg := Defaults()
	if globalDir != "" {
		mergeFromFile(&cfg, filepath.Join(globalDir, fileName))
	}
	if projectRoot != "" {
		mergeFromFile(&cfg, filepath.Join(projectRoot, DirName, fileName))
	}
	return cfg
}

// Environment variables mapped onto device values.
var envDevice = map[string]string{
	"ESPPORT":         dut.KeyPort,
	"ESPBAUD":         dut.KeyBaud,
	"OPENOCD_BIN":     dut.KeyOpenOCDProg,
	"OPENOCD_SCRIPTS": dut.KeyOpenOCDScripts,
}

// ApplyEnv overrides cfg from the environment.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if v := getenv("DUTKIT_SERVICES"); v != "" {
		cfg.Services = v
	}
	if v := getenv("DUTKIT_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Count = n
		}
	}
	for env, key := range envDevice {
		if v := getenv(env); v != "" {
			cfg.Set(key, v)
		}
	}
}

// Set stores a device value.
func (c *Config) Set(key, value string) {
	if c.Device == nil {
		c.Device = map[string]string{}
	}
	c.Device[key] = value
}

// ServiceList returns the selected services.
func (c Config) ServiceList() []string {
	var out []string
	for _, s := range strings.FieldsFunc(c.Services, func(r rune) bool { return r == ',' || r == '+' || r == ' ' }) {
		out = append(out, s)
	}
	return out
}

// TimestampEnabled reports whether console output is timestamped.
func (c Config) TimestampEnabled() bool {
	return c.Timestamp == nil || *c.Timestamp
}

// Devices distributes the device values over count devices. A single
// value is used by every device; otherwise there must be exactly one
// value per device.
func (c Config) Devices(count int) ([]dut.DeviceConfig, error) {
	if count < 1 {
		return nil, fmt.Errorf("invalid device count %d", count)
	}
	devs := make([]dut.DeviceConfig, count)
	for i := range devs {
		devs[i] = dut.DeviceConfig{}
	}

	keys := make([]string, 0, len(c.Device))
	for k := range c.Device {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		vals := strings.Split(c.Device[k], "|")
		switch {
		case len(vals) == 1:
			for i := range devs {
				devs[i][k] = vals[0]
			}
		case len(vals) == count:
			for i, v := range vals {
				devs[i][k] = v
			}
		default:
			return nil, fmt.Errorf("%s: got %d values for %d devices", k, len(vals), count)
		}
	}
	return devs, nil
}

// Save writes the config to the project .dutkit/config.yaml by default,
// or to the global config if global is true.
func Save(cfg Config, projectRoot string, global bool) error {
	var dir string
	if global {
		d, err := GlobalDir()
		if err != nil {
			return err
		}
		dir = d
	} else {
		dir = filepath.Join(projectRoot, DirName)
	}
	return save(cfg, dir)
}

func save(cfg Config, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, fileName), data, 0o644)
}

func mergeFromFile(cfg *Config, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}

	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return
	}

	if fileCfg.Services != "" {
		cfg.Services = fileCfg.Services
	}
	if fileCfg.Count != 0 {
		cfg.Count = fileCfg.Count
	}
	if fileCfg.LogDir != "" {
		cfg.LogDir = fileCfg.LogDir
	}
	if fileCfg.CacheDir != "" {
		cfg.CacheDir = fileCfg.CacheDir
	}
	if fileCfg.Timestamp != nil {
		cfg.Timestamp = fileCfg.Timestamp
	}
	if fileCfg.MetricsAddr != "" {
		cfg.MetricsAddr = fileCfg.MetricsAddr
	}
	for k, v := range fileCfg.Device {
		cfg.Set(k, v)
	}
}
