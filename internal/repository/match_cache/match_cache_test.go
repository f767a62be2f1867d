package match_cache

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"community_exchange/internal/domain"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	log := slog.New(slog.NewTextHandler(os.Stdout, nil))

	return New(rdb, log, time.Hour), mr
}

// TestSetAndGetUserMatches тестирует запись и чтение кэша.
func TestSetAndGetUserMatches(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	tenantID := uuid.New()
	userID := uuid.New()
	dist := 3.2

	matches := []CachedMatch{
		{
			MatchID:        uuid.New(),
			ListingID:      uuid.New(),
			Score:          91,
			Classification: domain.ClassificationHot,
			DistanceKm:     &dist,
			Reasons:        []string{"Same category", "Very close: 3.2 km away"},
			CachedAt:       time.Now().UTC(),
		},
	}

	require.NoError(t, cache.SetUserMatches(ctx, tenantID, userID, matches))

	got, ok, err := cache.GetUserMatches(ctx, tenantID, userID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got, 1)
	assert.Equal(t, matches[0].MatchID, got[0].MatchID)
	assert.Equal(t, 91, got[0].Score)
	assert.Equal(t, domain.ClassificationHot, got[0].Classification)
}

// TestGetUserMatchesMiss тестирует промах кэша.
func TestGetUserMatchesMiss(t *testing.T) {
	cache, _ := newTestCache(t)

	_, ok, err := cache.GetUserMatches(context.Background(), uuid.New(), uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestCacheExpiry тестирует истечение TTL.
func TestCacheExpiry(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	tenantID := uuid.New()
	userID := uuid.New()

	require.NoError(t, cache.SetUserMatches(ctx, tenantID, userID, []CachedMatch{{MatchID: uuid.New(), Score: 70}}))

	mr.FastForward(2 * time.Hour)

	_, ok, err := cache.GetUserMatches(ctx, tenantID, userID)
	require.NoError(t, err)
	assert.False(t, ok, "entry should have expired")
}

// TestInvalidateUser тестирует инвалидацию кэша пользователя.
func TestInvalidateUser(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	tenantID := uuid.New()
	userID := uuid.New()

	require.NoError(t, cache.SetUserMatches(ctx, tenantID, userID, []CachedMatch{{MatchID: uuid.New(), Score: 55}}))
	require.NoError(t, cache.InvalidateUser(ctx, tenantID, userID))

	_, ok, err := cache.GetUserMatches(ctx, tenantID, userID)
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestClearTenant тестирует полный сброс кэша тенанта.
func TestClearTenant(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	tenantA := uuid.New()
	tenantB := uuid.New()

	for i := 0; i < 3; i++ {
		require.NoError(t, cache.SetUserMatches(ctx, tenantA, uuid.New(), []CachedMatch{{MatchID: uuid.New(), Score: 60}}))
	}
	otherUser := uuid.New()
	require.NoError(t, cache.SetUserMatches(ctx, tenantB, otherUser, []CachedMatch{{MatchID: uuid.New(), Score: 60}}))

	deleted, err := cache.ClearTenant(ctx, tenantA)
	require.NoError(t, err)
	assert.EqualValues(t, 3, deleted)

	// Другой тенант не затронут
	_, ok, err := cache.GetUserMatches(ctx, tenantB, otherUser)
	require.NoError(t, err)
	assert.True(t, ok)
}

// TestCorruptEntryTreatedAsMiss тестирует обработку битой записи.
func TestCorruptEntryTreatedAsMiss(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	tenantID := uuid.New()
	userID := uuid.New()

	require.NoError(t, mr.Set(userKey(tenantID, userID), "not valid json"))

	_, ok, err := cache.GetUserMatches(ctx, tenantID, userID)
	require.NoError(t, err)
	assert.False(t, ok)
}
