package cli

// This file contains the view command for displaying a build's records from
// history.

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cbtgo/cbtgo/history"
	"github.com/cbtgo/cbtgo/model"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/urfave/cli/v2"
)

func removeFirstDashDash(in []string) []string {
	if len(in) > 0 && in[0] == "--" {
		return in[1:]
	}
	return in
}

func parseViewArgs(in []string) (idArg string, recordArgs []string) {
	if len(in) == 0 {
		return "0", nil
	}

	// If first arg is "--", use default "0" and rest are record numbers
	if in[0] == "--" {
		return "0", in[1:]
	}

	// First arg is the ID/index, rest are record numbers (with optional "--" removed)
	return in[0], removeFirstDashDash(in[1:])
}

// selectEntry finds the build named by arg in entries sorted newest first.
func selectEntry(entries []history.Entry, arg string) (*history.Entry, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("no history entries found")
	}

	if parsed, err := strconv.ParseInt(arg, 10, 64); err == nil {
		// Positive integers are not allowed
		if parsed > 0 {
			return nil, fmt.Errorf("invalid index: %s (use 0 for last, -1 for second-to-last, -2 for third-to-last, etc.)", arg)
		}
		// 0 or negative integer: count from the end (0=last, -1=second-to-last, ...)
		index := int(-parsed)
		if index >= len(entries) {
			return nil, fmt.Errorf("index %s out of range (only %d history entries)", arg, len(entries))
		}
		return &entries[index], nil
	}

	// Treat as ID prefix
	prefix := strings.ToLower(arg)
	for i := range entries {
		if strings.HasPrefix(strings.ToLower(entries[i].Build.ID), prefix) {
			return &entries[i], nil
		}
	}
	return nil, fmt.Errorf("no history entry found matching ID: %s", arg)
}

func parseRecordNumbers(args []string, count int) ([]int, error) {
	var numbers []int
	for _, arg := range args {
		n, err := strconv.Atoi(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid record number: %s", arg)
		}
		if n < 1 || n > count {
			return nil, fmt.Errorf("record %d out of range (build has %d records)", n, count)
		}
		numbers = append(numbers, n)
	}
	return numbers, nil
}

func (a *App) view(ctx *cli.Context) error {
	// Parse arguments to extract ID/index and record numbers
	arg, recordArgs := parseViewArgs(ctx.Args().Slice())

	entries, err := a.loadSortedEntries(ctx)
	if err != nil {
		return err
	}

	entry, err := selectEntry(entries, arg)
	if err != nil {
		return err
	}

	records, err := parseRecordNumbers(recordArgs, len(entry.Build.Actions))
	if err != nil {
		return err
	}

	displayBuild(os.Stdout, entry)
	for _, n := range records {
		if err := displayOutput(os.Stdout, entry, n); err != nil {
			return err
		}
	}
	return nil
}

func displayBuild(w io.Writer, entry *history.Entry) {
	b := entry.Build

	// Print header
	fmt.Fprintf(w, "=== Build: %s (%s) ===\n", b.DisplayName(), shortID(b.ID))
	fmt.Fprintf(w, "Time: %s\n", b.Timestamp.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Duration: %s\n", b.Duration)
	fmt.Fprintf(w, "Outcome: %s\n", b.Outcome)
	fmt.Fprintf(w, "Exit Code: %d\n", b.ExitCode)
	if b.Workspace != "" {
		fmt.Fprintf(w, "Workspace: %s\n", b.Workspace)
	}
	if b.Git != nil && b.Git.Commit != "" {
		fmt.Fprintf(w, "Git Commit: %s", shortID(b.Git.Commit))
		if b.Git.Branch != "" {
			fmt.Fprintf(w, " (%s)", b.Git.Branch)
		}
		fmt.Fprintln(w)
	}
	if b.Config != nil && b.Config.ScreenshotURL != "" {
		fmt.Fprintf(w, "Screenshots: %s on %q\n", b.Config.ScreenshotURL, b.Config.ScreenshotBrowserList)
	}
	if b.Tunnel != nil && b.Tunnel.Requested {
		fmt.Fprintf(w, "Tunnel: owned=%t disconnected=%t\n", b.Tunnel.Owned, b.Tunnel.Disconnected)
	}
	fmt.Fprintln(w)

	if len(b.Actions) == 0 {
		fmt.Fprintln(w, "No test records")
		fmt.Fprintf(w, "History directory: %s\n", entry.FullPath)
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "Kind", "Test", "OS", "Browser", "Resolution", "Exit", "Test ID", "Public URL"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "#", Align: text.AlignRight},
		{Name: "Exit", Align: text.AlignRight},
	})
	for i, rec := range b.Actions {
		name := rec.File
		exit := strconv.Itoa(rec.ExitCode)
		if rec.Kind == model.TestKindScreenshot {
			name = rec.Info["url"]
			exit = "-"
		}
		t.AppendRow(table.Row{
			i + 1,
			rec.Kind,
			name,
			rec.Env(model.EnvOperatingSystem),
			rec.Env(model.EnvBrowser),
			rec.Env(model.EnvResolution),
			exit,
			rec.RemoteTestID,
			rec.PublicURL,
		})
	}
	t.Render()
	fmt.Fprintf(w, "\nHistory directory: %s\n", entry.FullPath)
}

func displayOutput(w io.Writer, entry *history.Entry, n int) error {
	rec := entry.Build.Actions[n-1]
	if rec.OutputFile == "" {
		fmt.Fprintf(w, "\nRecord %d has no captured output\n", n)
		return nil
	}

	path := filepath.Join(entry.FullPath, rec.OutputFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read output: %w", err)
	}
	fmt.Fprintf(w, "\n=== Output of record %d: %s ===\n", n, path)
	fmt.Fprintln(w, string(data))
	return nil
}
