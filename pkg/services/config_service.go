package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ojobatch/ojo/pkg/database"
	"github.com/ojobatch/ojo/pkg/secrets"
)

// encryptionKeyName is the system-config row holding the generated
// at-rest encryption key.
const encryptionKeyName = "encryption_key"

// llmAdapterPrefix namespaces LLM provider credentials inside the
// adapter-config table, keeping one storage path for all secrets.
const llmAdapterPrefix = "llm:"

// ErrNoAPIKey is returned when a user has no stored key for a provider
// and no environment fallback exists.
var ErrNoAPIKey = errors.New("no API key configured for provider")

// ConfigService stores per-(user, adapter) settings, sealing sensitive
// values at rest and decrypting them on read. It implements
// adapter.ConfigProvider and llm.KeyProvider.
type ConfigService struct {
	store *database.AdapterConfigStore
	enc   *secrets.Encryptor
}

// NewConfigService creates the config service.
func NewConfigService(store *database.AdapterConfigStore, enc *secrets.Encryptor) *ConfigService {
	return &ConfigService{store: store, enc: enc}
}

// BootstrapEncryptor resolves the at-rest encryption key: the
// OJO_ENCRYPTION_KEY environment variable wins, otherwise the persisted
// system-config key is used, generating and storing one on first start.
func BootstrapEncryptor(ctx context.Context, sys *database.SystemConfigStore) (*secrets.Encryptor, error) {
	if env := os.Getenv("OJO_ENCRYPTION_KEY"); env != "" {
		return secrets.New([]byte(env))
	}

	key, err := sys.Get(ctx, encryptionKeyName)
	if errors.Is(err, database.ErrNotFound) {
		key, err = secrets.GenerateKey()
		if err != nil {
			return nil, err
		}
		if err := sys.Set(ctx, encryptionKeyName, key); err != nil {
			return nil, fmt.Errorf("persisting generated encryption key: %w", err)
		}
		slog.Info("Generated new at-rest encryption key")
	} else if err != nil {
		return nil, err
	}
	return secrets.New([]byte(key))
}

// IsSensitiveKey reports whether a setting value must be sealed at rest
// and redacted in API responses.
func IsSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, marker := range []string{"password", "api_key", "token", "secret", "cookie"} {
		if strings.Contains(k, marker) {
			return true
		}
	}
	return false
}

// SetAdapterConfig upserts a user's settings for one adapter, sealing
// sensitive values before they reach the database.
func (c *ConfigService) SetAdapterConfig(ctx context.Context, userID int64, adapterName string, values map[string]string) error {
	for key, value := range values {
		if IsSensitiveKey(key) {
			sealed, err := c.enc.Encrypt(value)
			if err != nil {
				return fmt.Errorf("sealing %s/%s: %w", adapterName, key, err)
			}
			value = sealed
		}
		if err := c.store.Set(ctx, userID, adapterName, key, value); err != nil {
			return err
		}
	}
	return nil
}

// AdapterConfig returns a user's settings for one adapter with sensitive
// values decrypted. Implements adapter.ConfigProvider.
func (c *ConfigService) AdapterConfig(ctx context.Context, userID int64, adapterName string) (map[string]string, error) {
	stored, err := c.store.All(ctx, userID, adapterName)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(stored))
	for key, value := range stored {
		plain, err := c.enc.Decrypt(value)
		if err != nil {
			// A key rotation leaves old rows unreadable. Surface the
			// problem but do not fail the whole config read.
			slog.Warn("Failed to decrypt adapter setting",
				"user_id", userID, "adapter", adapterName, "key", key, "error", err)
			continue
		}
		out[key] = plain
	}
	return out, nil
}

// DeleteAdapterConfig removes a user's settings for one adapter.
func (c *ConfigService) DeleteAdapterConfig(ctx context.Context, userID int64, adapterName string) error {
	return c.store.Delete(ctx, userID, adapterName)
}

// SetLLMKey stores a user's API key for one LLM provider.
func (c *ConfigService) SetLLMKey(ctx context.Context, userID int64, provider, key string) error {
	return c.SetAdapterConfig(ctx, userID, llmAdapterPrefix+provider,
		map[string]string{"api_key": key})
}

// APIKey resolves a user's key for an LLM provider, falling back to the
// <PROVIDER>_API_KEY environment variable for single-tenant deployments.
// Implements llm.KeyProvider.
func (c *ConfigService) APIKey(ctx context.Context, userID int64, provider string) (string, error) {
	sealed, err := c.store.Get(ctx, userID, llmAdapterPrefix+provider, "api_key")
	if err == nil {
		plain, err := c.enc.Decrypt(sealed)
		if err != nil {
			return "", fmt.Errorf("decrypting %s API key: %w", provider, err)
		}
		if plain != "" {
			return plain, nil
		}
	} else if !errors.Is(err, database.ErrNotFound) {
		return "", err
	}

	envName := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(provider)) + "_API_KEY"
	if env := os.Getenv(envName); env != "" {
		return env, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNoAPIKey, provider)
}
