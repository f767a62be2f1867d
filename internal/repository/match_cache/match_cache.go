package match_cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"community_exchange/internal/domain"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Cache — кэш горячих матчей пользователя с TTL.
// Повторяет семантику таблицы match_cache исходной платформы: записи
// живут ограниченное время, инвалидируются при изменении объявлений
// пользователя и целиком сбрасываются из админки.
type Cache struct {
	rdb *redis.Client
	log *slog.Logger
	ttl time.Duration
}

// CachedMatch — закэшированный матч для быстрой выдачи.
type CachedMatch struct {
	MatchID        uuid.UUID             `json:"match_id"`
	ListingID      uuid.UUID             `json:"listing_id"`
	Score          int                   `json:"score"`
	Classification domain.Classification `json:"classification"`
	DistanceKm     *float64              `json:"distance_km,omitempty"`
	Reasons        []string              `json:"reasons,omitempty"`
	CachedAt       time.Time             `json:"cached_at"`
}

func New(rdb *redis.Client, log *slog.Logger, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Cache{rdb: rdb, log: log, ttl: ttl}
}

func userKey(tenantID, userID uuid.UUID) string {
	return fmt.Sprintf("match_cache:%s:%s", tenantID, userID)
}

// SetUserMatches — кэширует матчи пользователя, заменяя предыдущий набор.
func (c *Cache) SetUserMatches(ctx context.Context, tenantID, userID uuid.UUID, matches []CachedMatch) error {
	const op = "match_cache.Cache.SetUserMatches"

	data, err := json.Marshal(matches)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := c.rdb.Set(ctx, userKey(tenantID, userID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// GetUserMatches — возвращает закэшированные матчи пользователя.
// Отсутствие ключа не ошибка: возвращается (nil, false, nil).
func (c *Cache) GetUserMatches(ctx context.Context, tenantID, userID uuid.UUID) ([]CachedMatch, bool, error) {
	const op = "match_cache.Cache.GetUserMatches"

	data, err := c.rdb.Get(ctx, userKey(tenantID, userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}

	var matches []CachedMatch
	if err := json.Unmarshal(data, &matches); err != nil {
		// Битая запись: считаем промахом, чтобы вызывающий пересчитал
		c.log.Warn("corrupt cache entry, dropping", "key", userKey(tenantID, userID), "error", err)
		_ = c.rdb.Del(ctx, userKey(tenantID, userID)).Err()
		return nil, false, nil
	}

	return matches, true, nil
}

// InvalidateUser — сбрасывает кэш одного пользователя.
// Вызывается при изменении его объявлений или предпочтений.
func (c *Cache) InvalidateUser(ctx context.Context, tenantID, userID uuid.UUID) error {
	const op = "match_cache.Cache.InvalidateUser"

	if err := c.rdb.Del(ctx, userKey(tenantID, userID)).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ClearTenant — удаляет все закэшированные матчи тенанта.
// Возвращает количество удалённых записей (для ответа админ-API).
func (c *Cache) ClearTenant(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	const op = "match_cache.Cache.ClearTenant"

	var deleted int64
	pattern := fmt.Sprintf("match_cache:%s:*", tenantID)

	iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := c.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			return deleted, fmt.Errorf("%s: %w", op, err)
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("%s: %w", op, err)
	}

	return deleted, nil
}
