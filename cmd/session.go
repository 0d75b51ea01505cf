package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/anchorageoss/turnkey-sdk-go/session"
)

// SessionCommand groups session lifecycle operations over persistent
// session storage.
func SessionCommand() *cli.Command {
	return &cli.Command{
		Name:  "session",
		Usage: "Create and manage credential-bundle sessions",
		Flags: append(apiFlags(), storageFlags()...),
		Commands: []*cli.Command{
			{
				Name:   "embedded-key",
				Usage:  "Generate an embedded key and print its public key for bundle issuance",
				Action: withManager(runEmbeddedKey),
			},
			{
				Name:  "create",
				Usage: "Redeem a credential bundle into a session",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "bundle", Usage: "credential bundle", Required: true},
					&cli.IntFlag{Name: "expiry-seconds", Usage: "session lifetime", Value: session.DefaultExpirySeconds},
					sessionKeyFlag(),
				},
				Action: withManager(runCreateSession),
			},
			{
				Name:   "select",
				Usage:  "Select a stored session",
				Flags:  []cli.Flag{sessionKeyFlag()},
				Action: withManager(runSelectSession),
			},
			{
				Name:  "clear",
				Usage: "Clear a stored session",
				Flags: []cli.Flag{
					sessionKeyFlag(),
					&cli.BoolFlag{Name: "all", Usage: "clear every session"},
				},
				Action: withManager(runClearSession),
			},
			{
				Name:   "list",
				Usage:  "List stored sessions",
				Action: withManager(runListSessions),
			},
			{
				Name:   "refresh",
				Usage:  "Reload the user and wallets of the selected session",
				Action: withManager(runRefreshSession),
			},
		},
	}
}

func sessionKeyFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "session-key",
		Usage: "local session identifier",
		Value: session.DefaultSessionKey,
	}
}

type managerAction func(ctx context.Context, cmd *cli.Command, mgr *session.Manager) error

func withManager(action managerAction) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		log, err := newLogger(cmd)
		if err != nil {
			return err
		}
		defer log.Sync()

		mgr, cleanup, err := newSessionManager(ctx, cmd, log)
		if err != nil {
			return err
		}
		defer cleanup()

		return action(ctx, cmd, mgr)
	}
}

func runEmbeddedKey(ctx context.Context, cmd *cli.Command, mgr *session.Manager) error {
	publicKey, err := mgr.CreateEmbeddedKey(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.Root().Writer, publicKey)
	return err
}

// sessionView omits the private key from printed sessions.
type sessionView struct {
	Key       string        `json:"key"`
	PublicKey string        `json:"publicKey"`
	ExpiresAt string        `json:"expiresAt"`
	User      *session.User `json:"user,omitempty"`
}

func viewOf(s *session.Session) sessionView {
	return sessionView{
		Key:       s.Key,
		PublicKey: s.PublicKey,
		ExpiresAt: s.ExpiresAt().UTC().Format(time.RFC3339),
		User:      s.User,
	}
}

func runCreateSession(ctx context.Context, cmd *cli.Command, mgr *session.Manager) error {
	s, err := mgr.CreateSession(ctx, cmd.String("bundle"), cmd.Int("expiry-seconds"), cmd.String("session-key"))
	if err != nil {
		return err
	}
	return printJSON(cmd, viewOf(s))
}

func runSelectSession(ctx context.Context, cmd *cli.Command, mgr *session.Manager) error {
	key := cmd.String("session-key")
	s, err := mgr.SetSelectedSession(ctx, key)
	if err != nil {
		return err
	}
	if s == nil {
		return fmt.Errorf("session %s is expired or does not exist", key)
	}
	return printJSON(cmd, viewOf(s))
}

func runClearSession(ctx context.Context, cmd *cli.Command, mgr *session.Manager) error {
	if cmd.Bool("all") {
		return mgr.ClearAllSessions(ctx)
	}
	return mgr.ClearSession(ctx, cmd.String("session-key"))
}

func runListSessions(ctx context.Context, cmd *cli.Command, mgr *session.Manager) error {
	keys, err := mgr.ListSessions(ctx)
	if err != nil {
		return err
	}

	selected := ""
	if s := mgr.Session(); s != nil {
		selected = s.Key
	}

	type entry struct {
		sessionView
		Selected bool `json:"selected"`
	}
	out := make([]entry, 0, len(keys))
	for _, key := range keys {
		s, err := mgr.GetSession(ctx, key)
		if err != nil {
			return err
		}
		if s == nil {
			continue
		}
		out = append(out, entry{sessionView: viewOf(s), Selected: key == selected})
	}
	return printJSON(cmd, out)
}

func runRefreshSession(ctx context.Context, cmd *cli.Command, mgr *session.Manager) error {
	if err := mgr.RefreshUser(ctx); err != nil {
		if errors.Is(err, session.ErrNoSession) {
			return errors.New("no session selected, run session select first")
		}
		return err
	}
	return printJSON(cmd, mgr.User())
}
