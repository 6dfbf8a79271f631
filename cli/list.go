package cli

// This file contains the list command for displaying previous builds.

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/cbtgo/cbtgo/history"
	"github.com/cbtgo/cbtgo/model"
	"github.com/urfave/cli/v2"
)

// loadSortedEntries loads the workspace's builds, newest first.
func (a *App) loadSortedEntries(ctx *cli.Context) ([]history.Entry, error) {
	ws, err := workspace(ctx)
	if err != nil {
		return nil, err
	}

	entries, err := history.LoadEntries(a.logger, history.Root(ws))
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Build.Timestamp.After(entries[j].Build.Timestamp)
	})
	return entries, nil
}

func filterEntries(entries []history.Entry, job string, limit int) []history.Entry {
	var filtered []history.Entry
	for _, entry := range entries {
		if job == "" || entry.Build.JobName == job {
			filtered = append(filtered, entry)
		}
	}
	if limit > 0 && limit < len(filtered) {
		filtered = filtered[:limit]
	}
	return filtered
}

func (a *App) list(ctx *cli.Context) error {
	job := ctx.String("job")

	entries, err := a.loadSortedEntries(ctx)
	if err != nil {
		return err
	}

	displayBuilds := filterEntries(entries, job, ctx.Int("limit"))
	if len(displayBuilds) == 0 {
		if job != "" {
			fmt.Printf("No builds found for job: %s\n", job)
		} else {
			fmt.Println("No builds found")
		}
		return nil
	}

	fmt.Printf("\n=== Builds (%d total) ===\n\n", len(filterEntries(entries, job, 0)))
	for _, entry := range displayBuilds {
		printEntry(os.Stdout, entry)
	}

	fmt.Println("\nView a build: cbtgo view <ID>")
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func printEntry(w io.Writer, entry history.Entry) {
	b := entry.Build
	timestamp := b.Timestamp.Format("2006-01-02 15:04:05")
	duration := b.Duration.Round(time.Millisecond)

	// Determine status indicator
	status := "✓"
	if b.Outcome == model.OutcomeAborted || b.ExitCode != 0 {
		status = "✗"
	}

	fmt.Fprintf(w, "%s  %s  [%s]  %s  exit=%d  id=%s\n", status, timestamp, duration, b.Outcome, b.ExitCode, shortID(b.ID))
	fmt.Fprintf(w, "   Build: %s\n", b.DisplayName())

	var selenium, screenshot, failed int
	for _, rec := range b.Actions {
		switch rec.Kind {
		case model.TestKindSelenium:
			selenium++
			if rec.ExitCode != 0 {
				failed++
			}
		case model.TestKindScreenshot:
			screenshot++
		}
	}
	fmt.Fprintf(w, "   Tests: %d selenium (%d failed), %d screenshot\n", selenium, failed, screenshot)

	if b.Tunnel != nil && b.Tunnel.Requested {
		if b.Tunnel.Owned {
			fmt.Fprintln(w, "   Tunnel: started by this build")
		} else {
			fmt.Fprintln(w, "   Tunnel: shared")
		}
	}
	if b.Git != nil && b.Git.Commit != "" {
		fmt.Fprintf(w, "   Commit: %s", shortID(b.Git.Commit))
		if b.Git.Branch != "" {
			fmt.Fprintf(w, " (%s)", b.Git.Branch)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "   %s\n", entry.FullPath)
	fmt.Fprintln(w)
}
