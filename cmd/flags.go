package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/anchorageoss/turnkey-sdk-go/activity"
	"github.com/anchorageoss/turnkey-sdk-go/api"
	"github.com/anchorageoss/turnkey-sdk-go/keys"
	"github.com/anchorageoss/turnkey-sdk-go/logging"
	"github.com/anchorageoss/turnkey-sdk-go/session"
	"github.com/anchorageoss/turnkey-sdk-go/storage"
)

// Storage backends selectable with --storage.
const (
	storageFile   = "file"
	storageVault  = "vault"
	storageSQLite = "sqlite"
	storageMemory = "memory"
)

// GlobalFlags are attached to the root command and inherited by every
// subcommand.
func GlobalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:    "log-json",
			Usage:   "log in JSON format",
			Sources: cli.EnvVars("TURNKEY_LOG_JSON"),
		},
		&cli.BoolFlag{
			Name:    "log-debug",
			Usage:   "log debug messages",
			Sources: cli.EnvVars("TURNKEY_LOG_DEBUG"),
		},
	}
}

// apiFlags select the API endpoint and organization.
func apiFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "host",
			Usage:   "Turnkey API base URL",
			Value:   api.DefaultBaseURL,
			Sources: cli.EnvVars("TURNKEY_API_BASE_URL"),
		},
		&cli.StringFlag{
			Name:     "organization-id",
			Usage:    "Organization ID",
			Required: true,
			Sources:  cli.EnvVars("TURNKEY_ORGANIZATION_ID"),
		},
		&cli.IntFlag{
			Name:  "poll-interval-ms",
			Usage: "delay between activity polls in milliseconds",
			Value: activity.DefaultIntervalMs,
		},
		&cli.IntFlag{
			Name:  "poll-retries",
			Usage: "number of activity polls before giving up",
			Value: activity.DefaultNumRetries,
		},
	}
}

// apiKeyFlags select the API key that stamps requests.
func apiKeyFlags() []cli.Flag {
	return append(apiFlags(),
		&cli.StringFlag{
			Name:     "key-name",
			Usage:    "API key name",
			Required: true,
			Sources:  cli.EnvVars("TURNKEY_KEY_NAME"),
		},
		&cli.StringFlag{
			Name:    "keys-dir",
			Usage:   "directory holding <name>.public and <name>.private (defaults to ~/.config/turnkey/keys)",
			Sources: cli.EnvVars("TURNKEY_KEYS_DIR"),
		},
	)
}

// storageFlags select the session storage backend.
func storageFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "storage",
			Usage:   "session storage backend: file, vault, sqlite or memory",
			Value:   storageFile,
			Sources: cli.EnvVars("TURNKEY_STORAGE"),
		},
		&cli.StringFlag{
			Name:    "storage-dir",
			Usage:   "directory of the encrypted file store (defaults to ~/.config/turnkey/sessions)",
			Sources: cli.EnvVars("TURNKEY_STORAGE_DIR"),
		},
		&cli.StringFlag{
			Name:    "storage-passphrase",
			Usage:   "passphrase of the encrypted file store",
			Sources: cli.EnvVars("TURNKEY_STORAGE_PASSPHRASE"),
		},
		&cli.StringFlag{
			Name:    "vault-addr",
			Usage:   "Vault address",
			Sources: cli.EnvVars("VAULT_ADDR"),
		},
		&cli.StringFlag{
			Name:    "vault-token",
			Usage:   "Vault token",
			Sources: cli.EnvVars("VAULT_TOKEN"),
		},
		&cli.StringFlag{
			Name:  "vault-mount",
			Usage: "Vault KV v2 mount",
			Value: "secret",
		},
		&cli.StringFlag{
			Name:  "vault-path",
			Usage: "path prefix within the Vault mount",
			Value: "turnkey",
		},
		&cli.StringFlag{
			Name:    "sqlite-path",
			Usage:   "SQLite database file (defaults to ~/.config/turnkey/sessions.db)",
			Sources: cli.EnvVars("TURNKEY_SQLITE_PATH"),
		},
	}
}

func newLogger(cmd *cli.Command) (*zap.Logger, error) {
	return logging.New(logging.Options{
		Debug:   cmd.Bool("log-debug"),
		JSON:    cmd.Bool("log-json"),
		Service: "turnkey",
	})
}

func pollerConfig(cmd *cli.Command, log *zap.Logger) activity.Config {
	return activity.Config{
		IntervalMs: cmd.Int("poll-interval-ms"),
		NumRetries: cmd.Int("poll-retries"),
		Logger:     log,
	}
}

// newAPIClient builds a client stamped with the --key-name API key.
func newAPIClient(ctx context.Context, cmd *cli.Command, log *zap.Logger) (*api.Client, error) {
	provider := &keys.FileKeyProvider{Dir: cmd.String("keys-dir"), KeyName: cmd.String("key-name")}
	st, err := provider.Stamper(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load API key: %w", err)
	}

	client, err := api.NewClient(api.Config{
		BaseURL:        cmd.String("host"),
		OrganizationID: cmd.String("organization-id"),
		Stamper:        st,
		ActivityPoller: pollerConfig(cmd, log),
		Logger:         log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create API client: %w", err)
	}
	return client, nil
}

func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "turnkey"), nil
}

// openStorage opens the --storage backend. The returned close function is
// never nil.
func openStorage(ctx context.Context, cmd *cli.Command, log *zap.Logger) (storage.Storage, func() error, error) {
	noop := func() error { return nil }

	switch backend := strings.ToLower(cmd.String("storage")); backend {
	case storageMemory:
		return storage.NewMemoryStore(), noop, nil
	case storageFile:
		dir := cmd.String("storage-dir")
		if dir == "" {
			base, err := configDir()
			if err != nil {
				return nil, noop, err
			}
			dir = filepath.Join(base, "sessions")
		}
		passphrase := cmd.String("storage-passphrase")
		if passphrase == "" {
			return nil, noop, errors.New("--storage-passphrase is required for file storage")
		}
		store, err := storage.NewFileStore(storage.FileConfig{Dir: dir, Passphrase: []byte(passphrase)})
		return store, noop, err
	case storageVault:
		store, err := storage.NewVaultStore(storage.VaultConfig{
			Address:   cmd.String("vault-addr"),
			Token:     cmd.String("vault-token"),
			MountPath: cmd.String("vault-mount"),
			DataPath:  cmd.String("vault-path"),
			Logger:    log,
		})
		return store, noop, err
	case storageSQLite:
		path := cmd.String("sqlite-path")
		if path == "" {
			base, err := configDir()
			if err != nil {
				return nil, noop, err
			}
			if err := os.MkdirAll(base, 0o700); err != nil {
				return nil, noop, err
			}
			path = filepath.Join(base, "sessions.db")
		}
		store, err := storage.OpenSQLite(ctx, path)
		if err != nil {
			return nil, noop, err
		}
		return store, store.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown storage backend %q", backend)
	}
}

// newSessionManager opens storage and returns an initialized Manager. The
// returned function closes both.
func newSessionManager(ctx context.Context, cmd *cli.Command, log *zap.Logger) (*session.Manager, func(), error) {
	store, closeStore, err := openStorage(ctx, cmd, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open session storage: %w", err)
	}

	mgr, err := session.NewManager(session.Config{
		Storage:        store,
		BaseURL:        cmd.String("host"),
		OrganizationID: cmd.String("organization-id"),
		ActivityPoller: pollerConfig(cmd, log),
		Logger:         log,
		OnSessionExpired: func(key string) {
			log.Info("session expired", zap.String("key", key))
		},
		OnSessionCleared: func(key string) {
			log.Info("session cleared", zap.String("key", key))
		},
	})
	if err != nil {
		closeStore()
		return nil, nil, err
	}

	cleanup := func() {
		mgr.Close()
		if err := closeStore(); err != nil {
			log.Warn("failed to close session storage", zap.Error(err))
		}
	}
	if err := mgr.Init(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to restore sessions: %w", err)
	}
	return mgr, cleanup, nil
}

// readJSONArg returns s as JSON, reading it from a file when it starts with @.
func readJSONArg(s string) (json.RawMessage, error) {
	if s == "" {
		return nil, nil
	}
	raw := []byte(s)
	if strings.HasPrefix(s, "@") {
		var err error
		if raw, err = os.ReadFile(strings.TrimPrefix(s, "@")); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", s, err)
		}
	}
	if !json.Valid(raw) {
		return nil, errors.New("params must be valid JSON")
	}
	return raw, nil
}

func printJSON(cmd *cli.Command, v any) error {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	_, err = fmt.Fprintln(cmd.Root().Writer, string(output))
	return err
}
