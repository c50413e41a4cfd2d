package main

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v2"

	"github.com/buckleypaul/dutkit/internal/app"
	"github.com/buckleypaul/dutkit/internal/pages"
)

var watchCommand = &cli.Command{
	Name:      "watch",
	Usage:     "Browse and tail the DUT logs of a session",
	ArgsUsage: "[SESSION_DIR]",
	Action: func(c *cli.Context) error {
		cfg, _, err := loadConfig(c)
		if err != nil {
			return err
		}
		pageMap := map[app.PageID]app.Page{
			app.LogPage:    pages.NewLogPage(),
			app.ReportPage: pages.NewReportPage(),
		}
		model := app.New(pageMap, cfg.LogDir, c.Args().First())

		p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(c.Context))
		_, err = p.Run()
		return err
	},
}
