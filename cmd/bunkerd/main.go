package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"bunkerd/internal/app"
	"bunkerd/internal/config"
)

// version is stamped by the build via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cliApp := &cli.App{
		Name:    "bunkerd",
		Usage:   "remote signing daemon speaking NIP-46 over relays",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML configuration file",
				EnvVars: []string{"BUNKERD_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "rpc-addr",
				Usage:   "listen address for the JSON-RPC server",
				EnvVars: []string{"BUNKERD_RPC_ADDR"},
			},
			&cli.StringSliceFlag{
				Name:    "relay",
				Usage:   "relay URL to connect through (repeatable)",
				EnvVars: []string{"BUNKERD_RELAYS"},
			},
			&cli.StringFlag{
				Name:    "identity-file",
				Usage:   "path to the signer key file, created if missing",
				EnvVars: []string{"BUNKERD_IDENTITY_FILE"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "log level (trace, debug, info, warn, error)",
				EnvVars: []string{"BUNKERD_LOG_LEVEL"},
			},
		},
		Action: run,
	}

	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if addr := c.String("rpc-addr"); addr != "" {
		cfg.RPC.Addr = addr
	}
	if relays := c.StringSlice("relay"); len(relays) > 0 {
		cfg.Relays = relays
	}
	if path := c.String("identity-file"); path != "" {
		cfg.IdentityFile = path
	}
	if level := c.String("log-level"); level != "" {
		cfg.LogLevel = level
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	daemon, err := app.New(ctx, cfg, version)
	if err != nil {
		return err
	}
	return daemon.Run(ctx)
}
