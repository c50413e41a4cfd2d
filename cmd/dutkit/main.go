// Command dutkit runs device test scenarios and inspects their results.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/buckleypaul/dutkit/internal/config"
	"github.com/buckleypaul/dutkit/unity"
)

const EnvVarPrefix = "DUTKIT"

var Version = "v0.1.0"

func envVars(name string) []string {
	return []string{EnvVarPrefix + "_" + name}
}

var (
	LogLevelFlag = &cli.StringFlag{
		Name:    "log-level",
		Value:   "info",
		EnvVars: envVars("LOG_LEVEL"),
		Usage:   "Log level: debug, info, warn or error",
	}
	LogFormatFlag = &cli.StringFlag{
		Name:    "log-format",
		Value:   "text",
		EnvVars: envVars("LOG_FORMAT"),
		Usage:   "Log format: text or json",
	}
	LogDirFlag = &cli.StringFlag{
		Name:  "log-dir",
		Usage: "Directory holding the session logs",
	}
	CacheDirFlag = &cli.StringFlag{
		Name:  "cache-dir",
		Usage: "Directory holding the dutkit cache",
	}
	ServicesFlag = &cli.StringFlag{
		Name:  "services",
		Usage: "Backends to assemble, e.g. 'esp,idf'",
	}
	CountFlag = &cli.IntFlag{
		Name:  "count",
		Usage: "Number of devices per case",
	}
	DeviceFlag = &cli.StringSliceFlag{
		Name:    "device",
		Aliases: []string{"D"},
		Usage:   "Device value as key=value; '|' separates per-device values",
	}
	MetricsAddrFlag = &cli.StringFlag{
		Name:    "metrics-addr",
		EnvVars: envVars("METRICS_ADDR"),
		Usage:   "Serve Prometheus metrics on this address while running",
	}
	NoColorFlag = &cli.BoolFlag{
		Name:    "no-color",
		EnvVars: []string{"NO_COLOR"},
		Usage:   "Disable coloured console prefixes",
	}
)

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "dutkit"
	app.Version = Version
	app.Usage = "Hardware-in-the-loop test harness for embedded devices"
	app.Flags = []cli.Flag{
		LogLevelFlag,
		LogFormatFlag,
		LogDirFlag,
		CacheDirFlag,
		ServicesFlag,
		CountFlag,
		DeviceFlag,
		MetricsAddrFlag,
		NoColorFlag,
	}
	app.Before = func(c *cli.Context) error {
		logger, err := newLogger(c.App.ErrWriter, c.String(LogLevelFlag.Name), c.String(LogFormatFlag.Name))
		if err != nil {
			return cli.Exit(err.Error(), 2)
		}
		slog.SetDefault(logger)
		return nil
	}
	app.Commands = []*cli.Command{
		runCommand,
		portsCommand,
		cacheCommand,
		reportCommand,
		watchCommand,
		configCommand,
	}
	app.ExitErrHandler = func(c *cli.Context, err error) {
		var exitErr cli.ExitCoder
		switch {
		case err == nil:
			return
		case errors.As(err, &exitErr):
			cli.HandleExitCoder(exitErr)
		case errors.Is(err, unity.ErrCasesFailed):
			cli.HandleExitCoder(cli.Exit(err.Error(), 1))
		default:
			cli.HandleExitCoder(cli.Exit(err.Error(), 2))
		}
	}
	return app
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig layers the command line over the configuration files and
// the environment of the working directory.
func loadConfig(c *cli.Context) (config.Config, string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return config.Config{}, "", err
	}
	cfg := config.Load(wd)
	if err := applyFlags(c, &cfg); err != nil {
		return cfg, wd, err
	}
	return cfg, wd, nil
}

func applyFlags(c *cli.Context, cfg *config.Config) error {
	if v := c.String(LogDirFlag.Name); v != "" {
		cfg.LogDir = v
	}
	if v := c.String(CacheDirFlag.Name); v != "" {
		cfg.CacheDir = v
	}
	if v := c.String(ServicesFlag.Name); v != "" {
		cfg.Services = v
	}
	if v := c.Int(CountFlag.Name); v > 0 {
		cfg.Count = v
	}
	if v := c.String(MetricsAddrFlag.Name); v != "" {
		cfg.MetricsAddr = v
	}
	for _, kv := range c.StringSlice(DeviceFlag.Name) {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return cli.Exit(fmt.Sprintf("--device %q: want key=value", kv), 2)
		}
		cfg.Set(k, v)
	}
	return nil
}
