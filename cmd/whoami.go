package cmd

import (
	"context"

	"github.com/urfave/cli/v3"
)

// WhoamiCommand prints the identity behind an API key.
func WhoamiCommand() *cli.Command {
	return &cli.Command{
		Name:   "whoami",
		Usage:  "Show the user and organization behind an API key",
		Flags:  apiKeyFlags(),
		Action: runWhoamiCommand,
	}
}

func runWhoamiCommand(ctx context.Context, cmd *cli.Command) error {
	log, err := newLogger(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	client, err := newAPIClient(ctx, cmd, log)
	if err != nil {
		return err
	}

	who, err := client.GetWhoami(ctx, "")
	if err != nil {
		return err
	}
	return printJSON(cmd, who)
}
