package cli

// This file contains the browsers command, which lists the values accepted
// by the screenshot and selenium settings.

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cbtgo/cbtgo/cli/cbt"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/urfave/cli/v2"
)

func (a *App) browsers(ctx *cli.Context) error {
	client, err := a.client(ctx)
	if err != nil {
		return err
	}

	lists, err := client.ScreenshotBrowserLists(ctx.Context)
	if err != nil {
		return fmt.Errorf("failed to list screenshot browser lists: %w", err)
	}
	configs, err := client.SeleniumConfigurations(ctx.Context)
	if err != nil {
		return fmt.Errorf("failed to list selenium configurations: %w", err)
	}

	renderBrowserLists(os.Stdout, lists)
	fmt.Println()
	renderConfigurations(os.Stdout, configs)
	return nil
}

func renderBrowserLists(w io.Writer, lists []string) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Screenshot Browser Lists")
	t.AppendHeader(table.Row{"Name"})
	for _, name := range lists {
		t.AppendRow(table.Row{name})
	}
	t.Render()
}

// renderConfigurations prints one row per operating system, with each value
// in the form accepted by the CBT_* environment (the API name).
func renderConfigurations(w io.Writer, configs []cbt.Configuration) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Selenium Configurations")
	t.AppendHeader(table.Row{"Operating System", "Browsers", "Resolutions"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Browsers", WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Resolutions", WidthMax: 40, WidthMaxEnforcer: text.WrapSoft},
	})
	for _, c := range configs {
		t.AppendRow(table.Row{
			c.APIName,
			joinOptions(c.Browsers),
			joinOptions(c.Resolutions),
		})
	}
	t.Render()
}

func joinOptions(opts []cbt.Option) string {
	names := make([]string, 0, len(opts))
	for _, o := range opts {
		name := o.APIName
		if name == "" {
			name = o.Name
		}
		names = append(names, name)
	}
	return strings.Join(names, ", ")
}
