package engine

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, time.Minute)
}

func TestGenerationsStartAtZero(t *testing.T) {
	cache := newTestCache(t)
	userGen, rolesGen, err := cache.Generations(context.Background(), uuid.New())
	require.NoError(t, err)
	require.EqualValues(t, 0, userGen)
	require.EqualValues(t, 0, rolesGen)
}

func TestBumpsChangeDecisionKeys(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()
	userID := uuid.New()

	userGen, rolesGen, err := cache.Generations(ctx, userID)
	require.NoError(t, err)
	before := cache.DecisionKey(userID, "harvest:read", "global", userGen, rolesGen)

	require.NoError(t, cache.BumpUser(ctx, userID))
	userGen, rolesGen, err = cache.Generations(ctx, userID)
	require.NoError(t, err)
	afterUser := cache.DecisionKey(userID, "harvest:read", "global", userGen, rolesGen)
	require.NotEqual(t, before, afterUser)

	require.NoError(t, cache.BumpRoles(ctx))
	userGen, rolesGen, err = cache.Generations(ctx, userID)
	require.NoError(t, err)
	afterRoles := cache.DecisionKey(userID, "harvest:read", "global", userGen, rolesGen)
	require.NotEqual(t, afterUser, afterRoles)

	otherGen, _, err := cache.Generations(ctx, uuid.New())
	require.NoError(t, err)
	require.EqualValues(t, 0, otherGen, "bumping one user must not touch another")
}

func TestDecisionRoundTrip(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()
	key := cache.DecisionKey(uuid.New(), "harvest:read", "global", 0, 0)

	_, ok, err := cache.GetDecision(ctx, key)
	require.NoError(t, err)
	require.False(t, ok)

	overrideID := uuid.New()
	want := Decision{Allowed: true, MatchedOverrideID: &overrideID, ComputedAt: time.Now().UTC().Truncate(time.Second)}
	require.NoError(t, cache.PutDecision(ctx, key, want))

	got, ok, err := cache.GetDecision(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, want.Allowed, got.Allowed)
	require.Equal(t, *want.MatchedOverrideID, *got.MatchedOverrideID)
	require.Nil(t, got.SourceRoleID)
}

func TestRolePermissionsMemoizationIsGenerationScoped(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()
	roleID := uuid.New()

	require.NoError(t, cache.PutRolePermissions(ctx, roleID, 3, []string{"harvest:read"}))

	codes, ok, err := cache.GetRolePermissions(ctx, roleID, 3)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []string{"harvest:read"}, codes)

	_, ok, err = cache.GetRolePermissions(ctx, roleID, 4)
	require.NoError(t, err)
	require.False(t, ok, "a bumped generation must not see the old set")
}

func TestNilCacheFailsExplicitly(t *testing.T) {
	var cache *Cache
	_, _, err := cache.Generations(context.Background(), uuid.New())
	require.ErrorIs(t, err, redis.ErrClosed)
}
