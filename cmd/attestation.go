package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

// AttestationCommand creates the attestation command
func AttestationCommand() *cli.Command {
	return &cli.Command{
		Name:  "attestation",
		Usage: "Query enclave attestations",
		Commands: []*cli.Command{
			getBootAttestationCommand(),
		},
	}
}

func getBootAttestationCommand() *cli.Command {
	return &cli.Command{
		Name:  "get-boot",
		Usage: "Get boot attestation for a specific public key",
		Flags: append(apiKeyFlags(),
			&cli.StringFlag{
				Name:     "public-key",
				Usage:    "Public key to get attestation for",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "enclave-type",
				Usage: "Enclave type (defaults to 'signer')",
				Value: "signer",
			},
		),
		Action: runGetBootAttestationCommand,
	}
}

func runGetBootAttestationCommand(ctx context.Context, cmd *cli.Command) error {
	log, err := newLogger(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	client, err := newAPIClient(ctx, cmd, log)
	if err != nil {
		return err
	}

	attestation, err := client.GetBootAttestation(ctx, cmd.String("public-key"), cmd.String("enclave-type"))
	if err != nil {
		return fmt.Errorf("failed to get boot attestation: %w", err)
	}

	_, err = fmt.Fprintln(cmd.Root().Writer, attestation)
	return err
}
