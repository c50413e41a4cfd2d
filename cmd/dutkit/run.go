package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/urfave/cli/v2"

	"github.com/buckleypaul/dutkit/harness"
	"github.com/buckleypaul/dutkit/unity"
)

var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "Run scenario scripts against the configured devices",
	ArgsUsage: "SCRIPT...",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "Do not echo device output"},
		&cli.StringFlag{Name: "junit", Usage: "Merge the device reports into this JUnit report"},
	},
	Action: runScripts,
}

func runScripts(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.Exit("run: no scenario given", 2)
	}
	scripts := make([]*harness.Script, 0, c.NArg())
	for _, path := range c.Args().Slice() {
		sc, err := harness.LoadScript(path)
		if err != nil {
			return cli.Exit(err.Error(), 2)
		}
		scripts = append(scripts, sc)
	}

	cfg, _, err := loadConfig(c)
	if err != nil {
		return err
	}
	opts := harness.Options{
		Config:  &cfg,
		Logger:  slog.Default(),
		NoColor: c.Bool(NoColorFlag.Name),
	}
	if !c.Bool("quiet") {
		opts.Console = c.App.Writer
	}
	s, err := harness.Open(c.Context, opts)
	if err != nil {
		return err
	}

	var failed []error
	results := make([]scriptResult, 0, len(scripts))
	for _, sc := range scripts {
		err := s.RunScript(c.Context, sc)
		results = append(results, scriptResult{name: sc.Name, err: err})
		if err != nil {
			slog.Error("scenario failed", "scenario", sc.Name, "err", err)
			failed = append(failed, fmt.Errorf("%s: %w", sc.Name, err))
		}
		if c.Context.Err() != nil {
			break
		}
	}
	if err := s.Close(); err != nil {
		slog.Warn("closing session", "err", err)
	}

	out := c.App.Writer
	renderResults(out, results)
	renderReports(out, s.Reports())
	fmt.Fprintf(out, "logs: %s\n", s.LogRoot())

	if junit := c.String("junit"); junit != "" {
		if _, err := unity.Merge(junit, s.Reports(), slog.Default()); err != nil {
			return err
		}
	}
	if len(failed) == 0 {
		return nil
	}
	err = errors.Join(failed...)
	for _, f := range failed {
		if !errors.Is(f, unity.ErrCasesFailed) {
			return cli.Exit(err.Error(), 2)
		}
	}
	return cli.Exit(err.Error(), 1)
}

type scriptResult struct {
	name string
	err  error
}

func renderResults(w io.Writer, results []scriptResult) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("Scenarios")
	t.AppendHeader(table.Row{"Scenario", "Result", "Error"})
	pass := 0
	for _, r := range results {
		status, msg := "PASS", ""
		if r.err != nil {
			status, msg = "FAIL", r.err.Error()
		} else {
			pass++
		}
		t.AppendRow(table.Row{r.name, status, msg})
	}
	t.AppendFooter(table.Row{"Total", fmt.Sprintf("%d/%d", pass, len(results)), ""})
	t.SetColumnConfigs([]table.ColumnConfig{{Name: "Error", WidthMax: 80}})
	t.SetStyle(table.StyleLight)
	t.Render()
}

func renderReports(w io.Writer, reports []string) {
	if len(reports) == 0 {
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("Unity results")
	t.AppendHeader(table.Row{"Report", "Tests", "Failures", "Skipped"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Tests", Align: text.AlignRight},
		{Name: "Failures", Align: text.AlignRight},
		{Name: "Skipped", Align: text.AlignRight},
	})
	for _, path := range reports {
		suites, err := unity.ReadReport(path)
		if err != nil {
			t.AppendRow(table.Row{path, "?", "?", "?"})
			continue
		}
		for _, s := range suites {
			name := filepath.Join(filepath.Base(filepath.Dir(path)), s.Name)
			t.AppendRow(table.Row{name, s.Tests, s.Failures, s.Skipped})
		}
	}
	t.SetStyle(table.StyleLight)
	t.Render()
}
