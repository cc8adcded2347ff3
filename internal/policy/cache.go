package policy

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
)

// Cache is the hybrid policy cache: an in-process LRU in front of an optional
// Redis tier, in front of the policy store. Entries have no TTL; they live
// until a permission-mutating write invalidates them. All role/permission
// mutations go through the Cache so that invalidation happens immediately
// after commit, never before.
type Cache struct {
	store *Store
	local *lru.LRU[string, *ResolvedPolicy]
	redis *redis.Client // nil when the external tier is disabled
	log   *logrus.Entry
}

// NewCache creates a Cache. redisClient may be nil for single-process
// deployments; maxEntries bounds the in-process tier only.
func NewCache(store *Store, redisClient *redis.Client, maxEntries int, log *logrus.Entry) *Cache {
	if maxEntries <= 0 {
		maxEntries = 512
	}
	return &Cache{
		store: store,
		local: lru.NewLRU[string, *ResolvedPolicy](maxEntries, nil, 0), // ttl 0: no expiry
		redis: redisClient,
		log:   log.WithField("component", "policy-cache"),
	}
}

func policyKey(roleID uuid.UUID) string {
	return "policy:" + roleID.String()
}

// Resolve returns the resolved policy for a role, loading and caching it on
// miss. Two concurrent misses for the same role may both hit the store; the
// reload is idempotent so the race is benign.
func (c *Cache) Resolve(ctx context.Context, roleID uuid.UUID) (*ResolvedPolicy, error) {
	key := policyKey(roleID)

	if policy, ok := c.local.Get(key); ok {
		return policy, nil
	}

	if c.redis != nil {
		cached, err := c.redis.Get(ctx, key).Result()
		if err == nil {
			var policy ResolvedPolicy
			if err := json.Unmarshal([]byte(cached), &policy); err == nil {
				c.local.Add(key, &policy)
				return &policy, nil
			}
		} else if err != redis.Nil {
			c.log.WithError(err).Warn("redis read failed, falling through to store")
		}
	}

	policy, err := c.store.ResolvePolicy(ctx, roleID)
	if err != nil {
		return nil, fmt.Errorf("resolve policy for role %s: %w", roleID, err)
	}

	c.local.Add(key, policy)
	if c.redis != nil {
		if data, err := json.Marshal(policy); err == nil {
			// no TTL: the entry lives until Invalidate
			if err := c.redis.Set(ctx, key, data, 0).Err(); err != nil {
				c.log.WithError(err).Warn("redis write failed")
			}
		}
	}
	return policy, nil
}

// Invalidate evicts one role's policy from both tiers.
func (c *Cache) Invalidate(ctx context.Context, roleID uuid.UUID) {
	key := policyKey(roleID)
	c.local.Remove(key)
	if c.redis != nil {
		if err := c.redis.Del(ctx, key).Err(); err != nil {
			c.log.WithError(err).WithField("role", roleID).Error("redis invalidation failed")
		}
	}
}

// CreateRole inserts a role row. A brand-new role has nothing cached, but the
// eviction is kept unconditional so a recreate after delete can never serve
// the old policy.
func (c *Cache) CreateRole(ctx context.Context, r *Role) error {
	if err := c.store.createRole(ctx, r); err != nil {
		return err
	}
	c.Invalidate(ctx, r.ID)
	return nil
}

// DeleteRole removes a role row and evicts its policy.
func (c *Cache) DeleteRole(ctx context.Context, id uuid.UUID) error {
	if err := c.store.deleteRole(ctx, id); err != nil {
		return err
	}
	c.Invalidate(ctx, id)
	return nil
}

// UpsertPermission writes a permission row and evicts the owning role's
// policy immediately after the write commits.
func (c *Cache) UpsertPermission(ctx context.Context, p *Permission) error {
	if err := c.store.upsertPermission(ctx, p); err != nil {
		return err
	}
	c.Invalidate(ctx, p.RoleID)
	return nil
}

// DeletePermission removes a permission row and evicts the owning role's
// policy.
func (c *Cache) DeletePermission(ctx context.Context, id uuid.UUID) error {
	roleID, err := c.store.deletePermission(ctx, id)
	if err != nil {
		return err
	}
	c.Invalidate(ctx, roleID)
	return nil
}

// Store exposes read-only access for collaborators (accountability
// resolution, login).
func (c *Cache) Store() *Store {
	return c.store
}
