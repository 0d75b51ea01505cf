package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/anchorageoss/turnkey-sdk-go/api"
)

// ActivityCommand groups activity submission and decisions.
func ActivityCommand() *cli.Command {
	return &cli.Command{
		Name:  "activity",
		Usage: "Submit, inspect and decide on activities",
		Commands: []*cli.Command{
			submitActivityCommand(),
			getActivityCommand(),
			decisionCommand("approve", "approveActivity", "Approve an activity awaiting consensus"),
			decisionCommand("reject", "rejectActivity", "Reject an activity awaiting consensus"),
		},
	}
}

func submitActivityCommand() *cli.Command {
	return &cli.Command{
		Name:  "submit",
		Usage: "Invoke a method and wait for its result",
		Flags: append(apiKeyFlags(),
			&cli.StringFlag{
				Name:     "method",
				Usage:    "method name, e.g. signRawPayload or createWallet",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "params",
				Usage: "method parameters as JSON, or @file",
			},
		),
		Action: runSubmitActivityCommand,
	}
}

func runSubmitActivityCommand(ctx context.Context, cmd *cli.Command) error {
	log, err := newLogger(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	params, err := readJSONArg(cmd.String("params"))
	if err != nil {
		return err
	}

	client, err := newAPIClient(ctx, cmd, log)
	if err != nil {
		return err
	}

	method := cmd.String("method")
	log.Debug("invoking method", zap.String("method", method))
	result, err := client.Invoke(ctx, method, params)
	if err != nil {
		return fmt.Errorf("%s failed: %w", method, err)
	}
	return printJSON(cmd, result)
}

func getActivityCommand() *cli.Command {
	return &cli.Command{
		Name:  "get",
		Usage: "Fetch the current state of an activity",
		Flags: append(apiKeyFlags(),
			&cli.StringFlag{
				Name:     "id",
				Usage:    "activity ID",
				Required: true,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log, err := newLogger(cmd)
			if err != nil {
				return err
			}
			defer log.Sync()

			client, err := newAPIClient(ctx, cmd, log)
			if err != nil {
				return err
			}
			act, err := client.GetActivity(ctx, cmd.String("id"))
			if err != nil {
				return err
			}
			return printJSON(cmd, act)
		},
	}
}

func decisionCommand(name, method, usage string) *cli.Command {
	return &cli.Command{
		Name:  name,
		Usage: usage,
		Flags: append(apiKeyFlags(),
			&cli.StringFlag{
				Name:     "fingerprint",
				Usage:    "fingerprint of the activity",
				Required: true,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log, err := newLogger(cmd)
			if err != nil {
				return err
			}
			defer log.Sync()

			client, err := newAPIClient(ctx, cmd, log)
			if err != nil {
				return err
			}
			result, err := client.Decide(ctx, method, api.DecisionParams{Fingerprint: cmd.String("fingerprint")})
			if err != nil {
				return fmt.Errorf("failed to %s activity: %w", name, err)
			}
			return printJSON(cmd, result)
		},
	}
}
