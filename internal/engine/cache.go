package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	rolesGenKey   = "authz:gen:roles"
	userGenPrefix = "authz:gen:user:"
)

// Cache memoizes decisions and effective role permission sets in Redis.
//
// Entries embed two monotonically increasing generation counters in their
// keys: one per user, one covering all role-derived state. A mutation bumps
// the relevant counter, so every key written before the bump becomes
// unreachable and expires through its TTL. The counters live in shared Redis,
// which gives read-after-write visibility across replicas without any local
// invalidation machinery.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Generations reads the current user and roles counters. A missing counter is
// generation zero.
func (c *Cache) Generations(ctx context.Context, userID uuid.UUID) (userGen, rolesGen int64, err error) {
	if c == nil || c.client == nil {
		return 0, 0, redis.ErrClosed
	}
	values, err := c.client.MGet(ctx, userGenPrefix+userID.String(), rolesGenKey).Result()
	if err != nil {
		return 0, 0, err
	}
	return parseGen(values[0]), parseGen(values[1]), nil
}

// BumpRoles makes every cached entry derived from role state unreachable.
// Called synchronously by catalog mutations before they report success.
func (c *Cache) BumpRoles(ctx context.Context) error {
	if c == nil || c.client == nil {
		return redis.ErrClosed
	}
	return c.client.Incr(ctx, rolesGenKey).Err()
}

// BumpUser makes one user's cached decisions unreachable. Called synchronously
// by override and user mutations before they report success.
func (c *Cache) BumpUser(ctx context.Context, userID uuid.UUID) error {
	if c == nil || c.client == nil {
		return redis.ErrClosed
	}
	return c.client.Incr(ctx, userGenPrefix+userID.String()).Err()
}

// DecisionKey builds the cache key for one check under the given generations.
func (c *Cache) DecisionKey(userID uuid.UUID, permission, scopeKey string, userGen, rolesGen int64) string {
	return fmt.Sprintf("authz:dec:%s:%s:%s:u%d:r%d", userID, permission, scopeKey, userGen, rolesGen)
}

// GetDecision loads a cached decision.
func (c *Cache) GetDecision(ctx context.Context, key string) (Decision, bool, error) {
	if c == nil || c.client == nil {
		return Decision{}, false, redis.ErrClosed
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return Decision{}, false, nil
	}
	if err != nil {
		return Decision{}, false, err
	}
	var d Decision
	if err := json.Unmarshal(payload, &d); err != nil {
		return Decision{}, false, err
	}
	return d, true, nil
}

// PutDecision stores a decision under the cache TTL.
func (c *Cache) PutDecision(ctx context.Context, key string, d Decision) error {
	if c == nil || c.client == nil {
		return redis.ErrClosed
	}
	payload, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, c.ttl).Err()
}

// GetRolePermissions loads a memoized effective permission set.
func (c *Cache) GetRolePermissions(ctx context.Context, roleID uuid.UUID, rolesGen int64) ([]string, bool, error) {
	if c == nil || c.client == nil {
		return nil, false, redis.ErrClosed
	}
	payload, err := c.client.Get(ctx, rolePermsKey(roleID, rolesGen)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var codes []string
	if err := json.Unmarshal(payload, &codes); err != nil {
		return nil, false, err
	}
	return codes, true, nil
}

// PutRolePermissions memoizes an effective permission set.
func (c *Cache) PutRolePermissions(ctx context.Context, roleID uuid.UUID, rolesGen int64, codes []string) error {
	if c == nil || c.client == nil {
		return redis.ErrClosed
	}
	payload, err := json.Marshal(codes)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, rolePermsKey(roleID, rolesGen), payload, c.ttl).Err()
}

func rolePermsKey(roleID uuid.UUID, rolesGen int64) string {
	return fmt.Sprintf("authz:roleperms:%s:r%d", roleID, rolesGen)
}

func parseGen(v any) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	var gen int64
	_, _ = fmt.Sscan(s, &gen)
	return gen
}
