package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/anchorageoss/turnkey-sdk-go/keys"
)

// KeysCommand manages local API keys.
func KeysCommand() *cli.Command {
	return &cli.Command{
		Name:  "keys",
		Usage: "Manage local API keys",
		Commands: []*cli.Command{
			{
				Name:  "generate",
				Usage: "Generate a P-256 API key and print its public key",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "key-name",
						Usage:    "API key name",
						Required: true,
						Sources:  cli.EnvVars("TURNKEY_KEY_NAME"),
					},
					&cli.StringFlag{
						Name:    "keys-dir",
						Usage:   "directory to write the key files to (defaults to ~/.config/turnkey/keys)",
						Sources: cli.EnvVars("TURNKEY_KEYS_DIR"),
					},
				},
				Action: runGenerateKey,
			},
		},
	}
}

func runGenerateKey(_ context.Context, cmd *cli.Command) error {
	dir := cmd.String("keys-dir")
	if dir == "" {
		var err error
		if dir, err = keys.DefaultDir(); err != nil {
			return err
		}
	}

	key, err := keys.Generate(dir, cmd.String("key-name"))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.Root().Writer, key.PublicKey)
	return err
}
