// Package cache provides a read-through Redis cache for compliance configs.
// Gate checks run on every guarded request; the cache keeps them off the
// database. Toggles invalidate the tenant's key before returning, so a stale
// gate decision lives at most one in-flight request, never past a toggle's
// response.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/adverant/nexus-compliance/internal/compliance/models"
	platformredis "github.com/adverant/nexus-compliance/internal/platform/redis"
	id "github.com/adverant/nexus-compliance/pkg/domain"
)

// ConfigCache caches serialized configs by tenant.
type ConfigCache struct {
	client *platformredis.Client
	ttl    time.Duration
}

// New builds a ConfigCache. A nil client yields a nil cache, which every
// method treats as a miss, so callers need no nil checks at call sites.
func New(client *platformredis.Client, ttl time.Duration) *ConfigCache {
	if client == nil {
		return nil
	}
	return &ConfigCache{client: client, ttl: ttl}
}

func key(tenantID id.TenantID) string {
	return "nexus:config:" + tenantID.String()
}

// Get returns the cached config or (nil, false). Cache errors degrade to a
// miss; the store is the source of truth.
func (c *ConfigCache) Get(ctx context.Context, tenantID id.TenantID) (*models.ComplianceConfig, bool) {
	if c == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, key(tenantID)).Bytes()
	if err != nil {
		return nil, false
	}
	var cfg models.ComplianceConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, false
	}
	return &cfg, true
}

// Set stores the config with the cache TTL. Failures are ignored.
func (c *ConfigCache) Set(ctx context.Context, cfg *models.ComplianceConfig) {
	if c == nil {
		return
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return
	}
	c.client.Set(ctx, key(cfg.TenantID), raw, c.ttl)
}

// Invalidate drops the tenant's cached config. Called after every committed
// toggle.
func (c *ConfigCache) Invalidate(ctx context.Context, tenantID id.TenantID) {
	if c == nil {
		return
	}
	c.client.Del(ctx, key(tenantID))
}
