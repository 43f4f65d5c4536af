package config

import (
	"fmt"

	"github.com/hashicorp/vault/api"
)

// SecretManager wraps the Vault API client for reading secrets the config
// file itself should never carry in plaintext (NATS/Redis credentials,
// OTLP auth tokens). Adapted from the teacher's shared Vault wrapper.
type SecretManager struct {
	client *api.Client
}

// NewSecretManager creates a Vault client pointed at the given address and
// authenticated with the provided token.
func NewSecretManager(address, token string) (*SecretManager, error) {
	cfg := api.DefaultConfig()
	cfg.Address = address

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault client initialization failed: %w", err)
	}
	client.SetToken(token)

	return &SecretManager{client: client}, nil
}

// getSecret reads a raw secret at path. For KV v2 backends the caller must
// unwrap the nested "data" key; GetKV2 is the only unwrapping this package
// needs, so the raw KV1 shape stays unexported rather than part of the
// public surface.
func (s *SecretManager) getSecret(path string) (map[string]interface{}, error) {
	secret, err := s.client.Logical().Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret at %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("no data found at %s", path)
	}
	return secret.Data, nil
}

// GetKV2 reads path from a KV v2 backend and returns the inner "data" map,
// unwrapping the v2 envelope automatically. This is the only Vault read
// shape the recorder's config overlay needs (VaultSecretPath, spec §6).
func (s *SecretManager) GetKV2(path string) (map[string]interface{}, error) {
	raw, err := s.getSecret(path)
	if err != nil {
		return nil, err
	}
	data, ok := raw["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected data format at %s", path)
	}
	return data, nil
}

// StringValue reads a string field from a Vault data map, falling back to
// fallback if the key is absent (most deployments run without Vault at all).
func StringValue(data map[string]interface{}, key, fallback string) string {
	if v, ok := data[key].(string); ok && v != "" {
		return v
	}
	return fallback
}
