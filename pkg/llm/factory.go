package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Known provider endpoints. All speak the OpenAI wire protocol; only the
// base URL and default model differ.
var providerDefaults = map[string]ProviderConfig{
	"deepseek": {
		BaseURL:      "https://api.deepseek.com/v1",
		DefaultModel: "deepseek-reasoner",
	},
	"siliconflow": {
		BaseURL:      "https://api.siliconflow.cn/v1",
		DefaultModel: "deepseek-ai/DeepSeek-R1",
	},
	"openai": {
		BaseURL:      "https://api.openai.com/v1",
		DefaultModel: "gpt-4o",
		Vision:       true,
	},
}

// DefaultProviderName is used when a task does not pick a provider.
const DefaultProviderName = "deepseek"

// KeyProvider resolves a user's API key for a named provider. Keys are
// stored encrypted; implementations return plaintext.
type KeyProvider interface {
	APIKey(ctx context.Context, userID int64, provider string) (string, error)
}

// ProviderOverride adjusts a built-in provider or defines a new one.
type ProviderOverride struct {
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`
	Vision       bool   `yaml:"vision"`
}

// Factory builds per-user clients. Clients are cached by (user, provider,
// key) so a key rotation takes effect without a restart.
type Factory struct {
	keys           KeyProvider
	overrides      map[string]ProviderOverride
	requestTimeout time.Duration

	mu    sync.Mutex
	cache map[string]Client
}

// NewFactory creates a Factory. overrides may be nil.
func NewFactory(keys KeyProvider, overrides map[string]ProviderOverride) *Factory {
	return &Factory{
		keys:      keys,
		overrides: overrides,
		cache:     make(map[string]Client),
	}
}

// SetRequestTimeout applies a per-call timeout to clients built after
// the call. Set it before serving traffic; cached clients keep the
// timeout they were built with.
func (f *Factory) SetRequestTimeout(d time.Duration) {
	f.requestTimeout = d
}

// ProviderNames lists every usable provider name.
func (f *Factory) ProviderNames() []string {
	names := make([]string, 0, len(providerDefaults)+len(f.overrides))
	for name := range providerDefaults {
		names = append(names, name)
	}
	for name := range f.overrides {
		if _, builtin := providerDefaults[name]; !builtin {
			names = append(names, name)
		}
	}
	return names
}

// ClientFor returns a Client for the given user and provider name.
// An empty provider selects DefaultProviderName.
func (f *Factory) ClientFor(ctx context.Context, userID int64, provider string) (Client, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		provider = DefaultProviderName
	}

	cfg, ok := providerDefaults[provider]
	if ov, found := f.overrides[provider]; found {
		ok = true
		if ov.BaseURL != "" {
			cfg.BaseURL = ov.BaseURL
		}
		if ov.DefaultModel != "" {
			cfg.DefaultModel = ov.DefaultModel
		}
		if ov.Vision {
			cfg.Vision = true
		}
	}
	if !ok {
		return nil, fmt.Errorf("unknown LLM provider %q", provider)
	}

	key, err := f.keys.APIKey(ctx, userID, provider)
	if err != nil {
		return nil, fmt.Errorf("resolving API key for provider %s: %w", provider, err)
	}
	if key == "" {
		return nil, fmt.Errorf("no API key configured for provider %s", provider)
	}
	cfg.APIKey = key
	cfg.RequestTimeout = f.requestTimeout

	cacheKey := fmt.Sprintf("%d/%s/%s", userID, provider, key)
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, hit := f.cache[cacheKey]; hit {
		return c, nil
	}
	client, err := NewOpenAICompatible(cfg)
	if err != nil {
		return nil, err
	}
	f.cache[cacheKey] = client
	return client, nil
}
