package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"

	"github.com/buckleypaul/dutkit/internal/cache"
)

var cacheCommand = &cli.Command{
	Name:  "cache",
	Usage: "Inspect or clear the port and app cache",
	Subcommands: []*cli.Command{
		{
			Name:  "show",
			Usage: "Print every cached value",
			Action: func(c *cli.Context) error {
				ch, err := openCache(c)
				if err != nil {
					return err
				}
				renderCache(c.App.Writer, ch)
				return nil
			},
		},
		{
			Name:  "clear",
			Usage: "Forget every cached value",
			Action: func(c *cli.Context) error {
				ch, err := openCache(c)
				if err != nil {
					return err
				}
				if err := ch.Clear(); err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "cleared %s\n", ch.Path())
				return nil
			},
		},
	},
}

func openCache(c *cli.Context) (*cache.Cache, error) {
	cfg, _, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	if cfg.CacheDir == "" {
		return nil, cli.Exit("no cache directory configured", 2)
	}
	return cache.Open(cfg.CacheDir, slog.Default())
}

func renderCache(w io.Writer, ch *cache.Cache) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(ch.Path())
	t.AppendHeader(table.Row{"Bucket", "Key", "Value"})
	for _, e := range ch.Entries() {
		t.AppendRow(table.Row{e.Bucket, e.Key, e.Value})
	}
	t.SetStyle(table.StyleLight)
	t.Render()
}
