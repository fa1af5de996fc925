package main

import (
	"context"

	"github.com/alecthomas/kong"

	"github.com/nutriplan/client-go/cmd/cli/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Login   commands.LoginCmd   `cmd:"" help:"Sign in and persist the session"`
		Logout  commands.LogoutCmd  `cmd:"" help:"Sign out and clear the session"`
		Whoami  commands.WhoamiCmd  `cmd:"" help:"Show the current session"`
		Refresh commands.RefreshCmd `cmd:"" help:"Re-verify the persisted session"`
		Image   commands.ImageCmd   `cmd:"" help:"Resolve a food image URL"`
		Cache   commands.CacheCmd   `cmd:"" help:"Inspect or clear the local caches"`
		Debug   bool                `help:"Enable debug mode."`
		Version kong.VersionFlag
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
