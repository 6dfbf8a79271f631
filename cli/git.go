package cli

// This file contains Git integration utilities for retrieving
// repository information of the workspace.

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

func (a *App) getGitInfo(ctx context.Context, dir string) (commit, branch string, err error) {
	git := func(args ...string) (string, error) {
		cmd := exec.CommandContext(ctx, "git", args...)
		cmd.Dir = dir
		output, err := cmd.Output()
		return strings.TrimSpace(string(output)), err
	}

	// Get current commit hash
	commit, err = git("rev-parse", "HEAD")
	if err != nil {
		return "", "", fmt.Errorf("failed to get git commit: %w", err)
	}

	// Get current branch
	branch, err = git("rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", "", fmt.Errorf("failed to get git branch: %w", err)
	}

	return commit, branch, nil
}
