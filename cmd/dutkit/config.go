package main

import (
	"fmt"
	"strconv"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/buckleypaul/dutkit/dut"
	"github.com/buckleypaul/dutkit/internal/config"
)

var configCommand = &cli.Command{
	Name:  "config",
	Usage: "Show or change the configuration",
	Subcommands: []*cli.Command{
		{
			Name:  "show",
			Usage: "Print the merged configuration",
			Action: func(c *cli.Context) error {
				cfg, _, err := loadConfig(c)
				if err != nil {
					return err
				}
				data, err := yaml.Marshal(cfg)
				if err != nil {
					return err
				}
				_, err = c.App.Writer.Write(data)
				return err
			},
		},
		{
			Name:      "set",
			Usage:     "Store a value in the project or global config file",
			ArgsUsage: "KEY VALUE",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "global", Usage: "Write ~/.config/dutkit/config.yaml"},
			},
			Action: func(c *cli.Context) error {
				if c.NArg() != 2 {
					return cli.Exit("config set: need KEY and VALUE", 2)
				}
				cfg, wd, err := loadConfig(c)
				if err != nil {
					return err
				}
				if err := setValue(&cfg, c.Args().Get(0), c.Args().Get(1)); err != nil {
					return cli.Exit(err.Error(), 2)
				}
				return config.Save(cfg, wd, c.Bool("global"))
			},
		},
	},
}

// setValue stores a session setting, or a device value for any other key.
func setValue(cfg *config.Config, key, value string) error {
	switch key {
	case "services":
		cfg.Services = value
	case "count":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return fmt.Errorf("count: %q is not a positive number", value)
		}
		cfg.Count = n
	case "log_dir":
		cfg.LogDir = value
	case "cache_dir":
		cfg.CacheDir = value
	case "metrics_addr":
		cfg.MetricsAddr = value
	case "timestamp":
		on, err := dut.ParseBool(value)
		if err != nil {
			return fmt.Errorf("timestamp: %w", err)
		}
		cfg.Timestamp = &on
	default:
		cfg.Set(key, value)
	}
	return nil
}
