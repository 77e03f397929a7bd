package services

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ojobatch/ojo/pkg/database"
	"github.com/ojobatch/ojo/pkg/secrets"
)

func newConfigServiceFixture(t *testing.T) (*ConfigService, *database.Client, int64) {
	t.Helper()
	ctx := context.Background()

	client, err := database.NewClient(ctx, filepath.Join(t.TempDir(), "cfg.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	userID, err := database.NewUserStore(client).Ensure(ctx, "tester")
	require.NoError(t, err)

	enc, err := secrets.New([]byte("test-master-key"))
	require.NoError(t, err)
	return NewConfigService(database.NewAdapterConfigStore(client), enc), client, userID
}

func TestIsSensitiveKey(t *testing.T) {
	for _, key := range []string{"cookie", "api_key", "PASSWORD", "session_token", "client_secret"} {
		assert.True(t, IsSensitiveKey(key), key)
	}
	for _, key := range []string{"base_url", "domain", "id_prefix"} {
		assert.False(t, IsSensitiveKey(key), key)
	}
}

func TestAdapterConfigSealsSensitiveValues(t *testing.T) {
	svc, client, userID := newConfigServiceFixture(t)
	ctx := context.Background()

	require.NoError(t, svc.SetAdapterConfig(ctx, userID, "hydro", map[string]string{
		"base_url": "https://hydro.ac",
		"cookie":   "sid=secret",
	}))

	// The sensitive value is sealed in the database row.
	raw := database.NewAdapterConfigStore(client)
	stored, err := raw.Get(ctx, userID, "hydro", "cookie")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stored, "enc:v1:"))
	assert.NotContains(t, stored, "secret")

	stored, err = raw.Get(ctx, userID, "hydro", "base_url")
	require.NoError(t, err)
	assert.Equal(t, "https://hydro.ac", stored, "plain settings stay readable")

	// Reads transparently decrypt.
	got, err := svc.AdapterConfig(ctx, userID, "hydro")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"base_url": "https://hydro.ac",
		"cookie":   "sid=secret",
	}, got)

	require.NoError(t, svc.DeleteAdapterConfig(ctx, userID, "hydro"))
	got, err = svc.AdapterConfig(ctx, userID, "hydro")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAdapterConfigSkipsUndecryptableRows(t *testing.T) {
	svc, client, userID := newConfigServiceFixture(t)
	ctx := context.Background()

	// A row sealed under a different key survives rotation as an omission,
	// not an error.
	other, err := secrets.New([]byte("rotated-away-key"))
	require.NoError(t, err)
	sealed, err := other.Encrypt("sid=old")
	require.NoError(t, err)
	raw := database.NewAdapterConfigStore(client)
	require.NoError(t, raw.Set(ctx, userID, "hydro", "cookie", sealed))
	require.NoError(t, raw.Set(ctx, userID, "hydro", "domain", "system"))

	got, err := svc.AdapterConfig(ctx, userID, "hydro")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"domain": "system"}, got)
}

func TestAPIKeyResolution(t *testing.T) {
	svc, _, userID := newConfigServiceFixture(t)
	ctx := context.Background()

	_, err := svc.APIKey(ctx, userID, "deepseek")
	assert.ErrorIs(t, err, ErrNoAPIKey)

	t.Setenv("DEEPSEEK_API_KEY", "env-key")
	key, err := svc.APIKey(ctx, userID, "deepseek")
	require.NoError(t, err)
	assert.Equal(t, "env-key", key, "environment fallback for single-tenant setups")

	require.NoError(t, svc.SetLLMKey(ctx, userID, "deepseek", "user-key"))
	key, err = svc.APIKey(ctx, userID, "deepseek")
	require.NoError(t, err)
	assert.Equal(t, "user-key", key, "a stored key wins over the environment")

	// Provider names normalize into the env variable form.
	t.Setenv("MY_PROVIDER_API_KEY", "dashed")
	key, err = svc.APIKey(ctx, userID, "my-provider")
	require.NoError(t, err)
	assert.Equal(t, "dashed", key)
}

func TestBootstrapEncryptor(t *testing.T) {
	_, client, _ := newConfigServiceFixture(t)
	sys := database.NewSystemConfigStore(client)
	ctx := context.Background()

	enc1, err := BootstrapEncryptor(ctx, sys)
	require.NoError(t, err)

	// The generated key is persisted, so a restart decrypts old values.
	sealed, err := enc1.Encrypt("sid=abc")
	require.NoError(t, err)
	enc2, err := BootstrapEncryptor(ctx, sys)
	require.NoError(t, err)
	plain, err := enc2.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "sid=abc", plain)

	// An explicit environment key takes precedence.
	t.Setenv("OJO_ENCRYPTION_KEY", "env-master")
	enc3, err := BootstrapEncryptor(ctx, sys)
	require.NoError(t, err)
	_, err = enc3.Decrypt(sealed)
	assert.Error(t, err, "the env key cannot read rows sealed under the generated key")
}
