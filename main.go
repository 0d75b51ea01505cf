package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/anchorageoss/turnkey-sdk-go/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "turnkey",
		Usage: "Turnkey activity and session client",
		Flags: cmd.GlobalFlags(),
		Commands: []*cli.Command{
			cmd.WhoamiCommand(),
			cmd.ActivityCommand(),
			cmd.SessionCommand(),
			cmd.ProxyCommand(),
			cmd.KeysCommand(),
			cmd.AttestationCommand(),
		},
	}
}
