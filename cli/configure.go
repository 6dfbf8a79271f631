package cli

// This file contains credential handling shared by the commands that talk to
// the CrossBrowserTesting API, and the configure command that stores them.

import (
	"errors"
	"fmt"

	"github.com/cbtgo/cbtgo/cli/cbt"
	"github.com/cbtgo/cbtgo/config"
	"github.com/urfave/cli/v2"
)

var errNoCredentials = errors.New("no credentials: run 'cbtgo configure' or set CBT_USERNAME and CBT_APIKEY")

// credentials returns the stored credentials overlaid with any given flags.
func (a *App) credentials(ctx *cli.Context) (config.Credentials, error) {
	creds, err := config.LoadCredentials(ctx.String("credentials"))
	if err != nil {
		return config.Credentials{}, err
	}
	if v := ctx.String("username"); v != "" {
		creds.Username = v
	}
	if v := ctx.String("apikey"); v != "" {
		creds.APIKey = v
	}
	return creds, nil
}

func (a *App) client(ctx *cli.Context) (*cbt.Client, error) {
	creds, err := a.credentials(ctx)
	if err != nil {
		return nil, err
	}
	if creds.Username == "" || creds.APIKey == "" {
		return nil, errNoCredentials
	}
	return cbt.New(a.logger, creds.Username, creds.APIKey, cbt.WithBaseURL(ctx.String("api-url"))), nil
}

func (a *App) configure(ctx *cli.Context) error {
	path := ctx.String("credentials")
	creds, err := a.credentials(ctx)
	if err != nil {
		return err
	}
	if creds.Username == "" || creds.APIKey == "" {
		return fmt.Errorf("both --username and --apikey are required")
	}

	if err := config.SaveCredentials(path, creds); err != nil {
		return err
	}

	a.logger.Info().
		Str("username", creds.Username).
		Str("path", path).
		Msg("Credentials saved")
	return nil
}
