package storage

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hashicorp/vault/api"

	"github.com/guardiavault/vault-recovery-backend/interfaces"
)

// VaultKVArchive stores fragment ciphertext copies in a HashiCorp Vault KV
// v2 mount. Ciphertext is base64-encoded inside the secret data since the KV
// API transports JSON.
type VaultKVArchive struct {
	client      *api.Client
	mountPath   string
	dataPath    string
	log         *slog.Logger
	locationURI string
}

// NewVaultKVArchive creates an archive against the Vault server at address,
// writing under mountPath/dataPath. Token auth; the token comes from config.
func NewVaultKVArchive(address, token, mountPath, dataPath string, log *slog.Logger) (*VaultKVArchive, error) {
	config := api.DefaultConfig()
	config.Address = address

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}

	mountPath = strings.TrimSuffix(mountPath, "/")
	dataPath = strings.Trim(dataPath, "/")

	return &VaultKVArchive{
		client:      client,
		mountPath:   mountPath,
		dataPath:    dataPath,
		log:         log,
		locationURI: fmt.Sprintf("vault://%s/%s/%s", address, mountPath, dataPath),
	}, nil
}

func (a *VaultKVArchive) secretPath(ref string) string {
	return fmt.Sprintf("%s/data/%s/%s", a.mountPath, a.dataPath, ref)
}

func (a *VaultKVArchive) Put(ctx context.Context, key interfaces.FragmentKey, ciphertext []byte) (string, error) {
	ref := key.String()
	payload := map[string]interface{}{
		"data": map[string]interface{}{
			"ciphertext": base64.StdEncoding.EncodeToString(ciphertext),
		},
	}
	if _, err := a.client.Logical().WriteWithContext(ctx, a.secretPath(ref), payload); err != nil {
		return "", fmt.Errorf("failed to write fragment to Vault: %w", err)
	}

	a.log.Debug("Archived fragment to Vault KV",
		slog.String("path", a.secretPath(ref)),
		slog.Int("size", len(ciphertext)))
	return ref, nil
}

func (a *VaultKVArchive) Get(ctx context.Context, ref string) ([]byte, error) {
	secret, err := a.client.Logical().ReadWithContext(ctx, a.secretPath(ref))
	if err != nil {
		return nil, fmt.Errorf("failed to read fragment from Vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, interfaces.ErrNotFound
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected Vault KV response shape at %s", a.secretPath(ref))
	}
	encoded, ok := data["ciphertext"].(string)
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return base64.StdEncoding.DecodeString(encoded)
}

func (a *VaultKVArchive) Available(ctx context.Context) bool {
	health, err := a.client.Sys().HealthWithContext(ctx)
	if err != nil {
		a.log.Debug("Vault archive unavailable", "err", err)
		return false
	}
	return health.Initialized && !health.Sealed
}

func (a *VaultKVArchive) Name() string {
	return fmt.Sprintf("vault-%s", a.mountPath)
}

func (a *VaultKVArchive) LocationURI() string {
	return a.locationURI
}
