package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/anchorageoss/turnkey-sdk-go/proxy"
)

// ProxyCommand runs the server-sign proxy.
func ProxyCommand() *cli.Command {
	return &cli.Command{
		Name:  "proxy",
		Usage: "Server-side signing proxy",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Serve allowlisted methods stamped with a server API key",
				Flags: append(apiKeyFlags(),
					&cli.StringFlag{
						Name:    "listen-addr",
						Usage:   "address to listen on",
						Value:   "127.0.0.1:8080",
						Sources: cli.EnvVars("TURNKEY_PROXY_LISTEN_ADDR"),
					},
					&cli.StringSliceFlag{
						Name:     "allow",
						Usage:    "method name clients may invoke (repeatable)",
						Required: true,
						Sources:  cli.EnvVars("TURNKEY_PROXY_ALLOW"),
					},
				),
				Action: runProxyServe,
			},
		},
	}
}

func runProxyServe(ctx context.Context, cmd *cli.Command) error {
	log, err := newLogger(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	client, err := newAPIClient(ctx, cmd, log)
	if err != nil {
		return err
	}

	allowed := cmd.StringSlice("allow")
	for _, name := range allowed {
		if _, err := client.Methods().Lookup(name); err != nil {
			return fmt.Errorf("cannot allow %s: %w", name, err)
		}
	}

	handler, err := proxy.NewHandler(proxy.HandlerConfig{
		Invoker:        client,
		AllowedMethods: allowed,
		Logger:         log,
	})
	if err != nil {
		return err
	}

	srv := proxy.NewServer(proxy.ServerConfig{
		ListenAddr:               cmd.String("listen-addr"),
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             5 * time.Minute,
		GracefulShutdownDuration: 30 * time.Second,
		Logger:                   log,
	}, handler)
	return srv.Run(ctx)
}
