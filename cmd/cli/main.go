package main

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/inkseal/inkseal/cmd/cli/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Sign        commands.SignCmd        `cmd:"" help:"Sign a document instance"`
		Inspect     commands.InspectCmd     `cmd:"" help:"Inspect a signing certificate"`
		Checkkey    commands.CheckKeyCmd    `cmd:"" help:"Check that a private key imports cleanly"`
		Credentials commands.CredentialsCmd `cmd:"" help:"Manage service credentials"`
		Version     commands.VersionCmd     `cmd:"" help:"Print the version"`
		Debug       bool                    `help:"Enable debug mode."`
		Telemetry   bool                    `help:"Export metrics and traces via OTLP."`
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("inkseal"),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Telemetry: cli.Telemetry, Version: version})
	cmd.FatalIfErrorf(err)
}
