package main

import (
	"context"
	"os"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/remotesign/cmd/remotesign/internal/commands"
	"github.com/wolfeidau/remotesign/internal/entry"
	"github.com/wolfeidau/remotesign/internal/logger"
	"github.com/wolfeidau/remotesign/internal/telemetry"
)

var version = "dev"

type CLI struct {
	Sign      commands.SignCmd   `cmd:"" help:"Sign a digest with the remote signing service"`
	Login     commands.LoginCmd  `cmd:"" help:"Log in and cache the access token"`
	Logout    commands.LogoutCmd `cmd:"" help:"Remove the cached access token"`
	Token     commands.TokenCmd  `cmd:"" help:"Show the claims of the cached access token"`
	Cert      commands.CertCmd   `cmd:"" help:"Show a certificate written by sign"`
	Debug     bool               `help:"Enable debug mode." env:"REMOTESIGN_DEBUG"`
	Telemetry bool               `help:"Export traces and metrics over OTLP." env:"REMOTESIGN_TELEMETRY"`
	CacheDir  string             `help:"Token cache directory, defaults to ~/.remotesign." type:"path" env:"REMOTESIGN_CACHE_DIR"`
	Version   kong.VersionFlag
}

func main() {
	os.Exit(run(context.Background(), os.Args[1:]))
}

// run parses args and executes the selected command, returning the process
// exit code. Flag errors map to the same code as signing failures.
func run(ctx context.Context, args []string) int {
	var cli CLI

	parser := kong.Must(&cli,
		kong.Name("remotesign"),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))

	cmd, err := parser.Parse(args)
	if err != nil {
		log.Logger = logger.Setup(false)
		return entry.ExitCode(err)
	}

	log.Logger = logger.Setup(cli.Debug)

	shutdown := telemetry.ShutdownFunc(func(context.Context) error { return nil })
	if cli.Telemetry {
		if fn, err := telemetry.InitTelemetry(ctx, "remotesign", version); err != nil {
			log.Warn().Err(err).Msg("telemetry disabled")
		} else {
			shutdown = fn
		}
	}

	err = cmd.Run(&commands.Globals{
		Debug:     cli.Debug,
		Telemetry: cli.Telemetry,
		CacheDir:  cli.CacheDir,
		Version:   version,
	})

	if serr := shutdown(ctx); serr != nil {
		log.Warn().Err(serr).Msg("failed to flush telemetry")
	}

	return entry.ExitCode(err)
}
