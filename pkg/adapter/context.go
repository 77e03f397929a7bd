package adapter

import (
	"context"

	"github.com/ojobatch/ojo/pkg/events"
)

// ConfigProvider supplies per-(user, adapter) configuration with
// sensitive fields already decrypted. Adapters read config through this
// on every call; nothing is memoized on the adapter instance.
type ConfigProvider interface {
	AdapterConfig(ctx context.Context, userID int64, adapterName string) (map[string]string, error)
}

// Context carries the per-call data an adapter operation needs. Adapter
// instances are shared across users; everything tenant-specific lives
// here.
type Context struct {
	UserID int64
	Config ConfigProvider
	Bus    *events.Bus
}

// UserConfig reads the calling user's config for the given adapter.
func (c *Context) UserConfig(ctx context.Context, adapterName string) (map[string]string, error) {
	if c.Config == nil {
		return map[string]string{}, nil
	}
	return c.Config.AdapterConfig(ctx, c.UserID, adapterName)
}
