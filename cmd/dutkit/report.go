package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/urfave/cli/v2"

	"github.com/buckleypaul/dutkit/internal/pages"
	"github.com/buckleypaul/dutkit/unity"
)

var reportCommand = &cli.Command{
	Name:  "report",
	Usage: "Show or merge JUnit reports",
	Subcommands: []*cli.Command{
		{
			Name:      "show",
			Usage:     "Print the cases of JUnit reports",
			ArgsUsage: "REPORT...",
			Action: func(c *cli.Context) error {
				if c.NArg() == 0 {
					return cli.Exit("report show: no report given", 2)
				}
				failed := false
				for _, path := range c.Args().Slice() {
					suites, err := unity.ReadReport(path)
					if err != nil {
						return err
					}
					if renderSuites(c.App.Writer, suites) {
						failed = true
					}
				}
				if failed {
					return cli.Exit("", 1)
				}
				return nil
			},
		},
		{
			Name:      "merge",
			Usage:     "Replace the placeholder cases of MAIN with the device reports",
			ArgsUsage: "MAIN REPORT...",
			Action: func(c *cli.Context) error {
				if c.NArg() < 2 {
					return cli.Exit("report merge: need MAIN and at least one REPORT", 2)
				}
				args := c.Args().Slice()
				failed, err := unity.Merge(args[0], args[1:], slog.Default())
				if err != nil {
					return err
				}
				if failed {
					return cli.Exit(fmt.Sprintf("%s has failures", args[0]), 1)
				}
				return nil
			},
		},
	},
}

// renderSuites prints every suite and reports whether any has failures.
func renderSuites(w io.Writer, suites []unity.ReportSuite) bool {
	failed := false
	for _, s := range suites {
		fmt.Fprintf(w, "%s: %d tests, %d failures, %d errors, %d skipped\n", s.Name, s.Tests, s.Failures, s.Errors, s.Skipped)
		fmt.Fprintln(w, pages.RenderCases(s.Cases, 0))
		if s.Failures+s.Errors > 0 {
			failed = true
		}
	}
	return failed
}
