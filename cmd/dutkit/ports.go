package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"

	"github.com/buckleypaul/dutkit/dut"
	"github.com/buckleypaul/dutkit/internal/cache"
	"github.com/buckleypaul/dutkit/internal/serial"
)

var portsCommand = &cli.Command{
	Name:  "ports",
	Usage: "List serial ports with the chip targets remembered for them",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "usb", Usage: "Only list USB ports"},
		&cli.StringFlag{Name: "serial", Usage: "Only list ports whose serial number contains this"},
	},
	Action: func(c *cli.Context) error {
		cfg, _, err := loadConfig(c)
		if err != nil {
			return err
		}
		ports, err := serial.ListPorts()
		if err != nil {
			return fmt.Errorf("listing ports: %w", err)
		}
		f := serial.Filter{USBOnly: c.Bool("usb"), SerialNumber: c.String("serial")}
		ch, err := cache.Open(cfg.CacheDir, slog.Default())
		if err != nil {
			return err
		}
		renderPorts(c.App.Writer, f.Candidates(ports), ch)
		return nil
	},
}

func renderPorts(w io.Writer, ports []serial.PortInfo, ch dut.Cache) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Port", "USB", "Serial", "Product", "Target"})
	for _, p := range ports {
		usb := ""
		if p.IsUSB {
			usb = p.VID + ":" + p.PID
		}
		target, _ := ch.Get(dut.BucketPortTarget, p.Name)
		t.AppendRow(table.Row{p.Name, usb, p.SerialNumber, p.Product, target})
	}
	if len(ports) == 0 {
		t.AppendRow(table.Row{"(none)", "", "", "", ""})
	}
	t.SetStyle(table.StyleLight)
	t.Render()
}
