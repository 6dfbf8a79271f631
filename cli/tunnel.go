package cli

// This file contains the tunnel commands for managing the local tunnel
// outside of a build, e.g. when one tunnel is shared by several jobs.

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/cbtgo/cbtgo/cli/tunnel"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"
)

func (a *App) tunnelStart(ctx *cli.Context) error {
	ws, err := workspace(ctx)
	if err != nil {
		return err
	}
	client, err := a.client(ctx)
	if err != nil {
		return err
	}

	runCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt)
	defer stop()

	ctrl := tunnel.New(a.logger, a.localTunnel(ctx, client))
	if err := ctrl.Start(runCtx, ws); err != nil {
		return err
	}
	if err := ctrl.AwaitConnected(runCtx); err != nil {
		if ctrl.Owned() {
			if stopErr := ctrl.Stop(context.WithoutCancel(runCtx)); stopErr != nil {
				a.logger.Warn().Err(stopErr).Msg("Failed to stop tunnel")
			}
		}
		return err
	}

	a.logger.Info().
		Bool("started", ctrl.Owned()).
		Str("dir", ws).
		Msg("Local tunnel is connected")
	return nil
}

func (a *App) tunnelStop(ctx *cli.Context) error {
	client, err := a.client(ctx)
	if err != nil {
		return err
	}

	runCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt)
	defer stop()

	svc := a.localTunnel(ctx, client)
	ctrl := tunnel.New(a.logger, svc)
	running, err := ctrl.Refresh(runCtx)
	if err != nil {
		return fmt.Errorf("failed to get tunnel status: %w", err)
	}
	if !running {
		a.logger.Info().Msg("No active tunnel")
		return nil
	}

	if err := svc.Stop(runCtx); err != nil {
		return fmt.Errorf("failed to stop tunnel: %w", err)
	}
	disconnected, err := ctrl.AwaitDisconnected(runCtx)
	if err != nil {
		return err
	}
	if !disconnected {
		a.logger.Warn().Msg("Failed disconnecting the local tunnel")
		return nil
	}
	a.logger.Info().Msg("Tunnel is now disconnected")
	return nil
}

func (a *App) tunnelStatus(ctx *cli.Context) error {
	client, err := a.client(ctx)
	if err != nil {
		return err
	}

	tunnels, err := client.ActiveTunnels(ctx.Context)
	if err != nil {
		return fmt.Errorf("failed to get tunnel status: %w", err)
	}
	if len(tunnels) == 0 {
		fmt.Println("No active tunnels")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "State", "Active"})
	for _, tun := range tunnels {
		t.AppendRow(table.Row{tun.ID.String(), tun.State, tun.Active})
	}
	t.Render()
	return nil
}
