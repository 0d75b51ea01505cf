package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	vault "github.com/hashicorp/vault/api"
	"go.uber.org/zap"
)

const vaultBackend = "vault"

// VaultConfig configures a VaultStore.
type VaultConfig struct {
	// Address of the Vault server, e.g. https://vault.example.com:8200.
	Address string
	Token   string
	// MountPath is the KV v2 mount, e.g. "secret".
	MountPath string
	// DataPath is the prefix within the mount, e.g. "turnkey/sessions".
	DataPath string

	HTTPClient *http.Client
	Logger     *zap.Logger
}

// VaultStore keeps each slot as a KV v2 secret. Values are base64 encoded
// under the "content" key.
type VaultStore struct {
	client    *vault.Client
	mountPath string
	dataPath  string
	log       *zap.Logger
}

// NewVaultStore creates a Vault backed store.
func NewVaultStore(cfg VaultConfig) (*VaultStore, error) {
	config := vault.DefaultConfig()
	if cfg.Address != "" {
		config.Address = cfg.Address
	}
	if cfg.HTTPClient != nil {
		config.HttpClient = cfg.HTTPClient
	} else {
		config.HttpClient.Timeout = 30 * time.Second
	}

	client, err := vault.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}

	mountPath := cfg.MountPath
	if mountPath == "" {
		mountPath = "secret"
	}

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &VaultStore{
		client:    client,
		mountPath: strings.Trim(mountPath, "/"),
		dataPath:  strings.Trim(cfg.DataPath, "/"),
		log:       log,
	}, nil
}

func (v *VaultStore) secretPath(kind, slot string) string {
	if v.dataPath == "" {
		return fmt.Sprintf("%s/%s/%s", v.mountPath, kind, slot)
	}
	return fmt.Sprintf("%s/%s/%s/%s", v.mountPath, kind, v.dataPath, slot)
}

func (v *VaultStore) Get(ctx context.Context, slot string) ([]byte, error) {
	path := v.secretPath("data", slot)

	secret, err := v.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		v.log.Error("failed to read from Vault", zap.String("path", path), zap.Error(err))
		return nil, wrapErr(vaultBackend, "read", slot, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, nil
	}

	// A soft-deleted KV v2 secret has a nil data map.
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, nil
	}
	content, ok := data["content"].(string)
	if !ok {
		return nil, wrapErr(vaultBackend, "read", slot, errors.New("content key not found in Vault data"))
	}

	value, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return nil, wrapErr(vaultBackend, "decode", slot, err)
	}
	return value, nil
}

func (v *VaultStore) Set(ctx context.Context, slot string, value []byte) error {
	path := v.secretPath("data", slot)
	secretData := map[string]interface{}{
		"data": map[string]interface{}{
			"content": base64.StdEncoding.EncodeToString(value),
		},
	}

	if _, err := v.client.Logical().WriteWithContext(ctx, path, secretData); err != nil {
		v.log.Error("failed to write to Vault", zap.String("path", path), zap.Error(err))
		return wrapErr(vaultBackend, "write", slot, err)
	}
	return nil
}

// Remove deletes every version of the slot's secret.
func (v *VaultStore) Remove(ctx context.Context, slot string) error {
	path := v.secretPath("metadata", slot)

	if _, err := v.client.Logical().DeleteWithContext(ctx, path); err != nil {
		var respErr *vault.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
			return nil
		}
		v.log.Error("failed to delete from Vault", zap.String("path", path), zap.Error(err))
		return wrapErr(vaultBackend, "remove", slot, err)
	}
	return nil
}
