package app

import (
	"strings"

	"community_exchange/internal/config"
	"community_exchange/internal/http/matchingapi"
	"community_exchange/internal/lib/metrics"
	"community_exchange/internal/repository/config_repository"
	"community_exchange/internal/repository/match_cache"
	"community_exchange/internal/repository/match_repository"
	"community_exchange/internal/services/analytics"
	"community_exchange/internal/services/classifier"
	"community_exchange/internal/services/conversion"
	"community_exchange/internal/services/matchconfig"
	"community_exchange/internal/services/matchmaker"
	"community_exchange/internal/services/proximity"
	"community_exchange/internal/services/scoring"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	httpapp "community_exchange/internal/app/httpapp"

	"log/slog"
)

type App struct {
	HTTPServer *httpapp.App

	// Сервисы ядра (экспортированы для встраивания в другие процессы)
	Matchmaker *matchmaker.Service
	Scoring    *scoring.Engine
	Config     *matchconfig.Service
	Conversion *conversion.Tracker
	Analytics  *analytics.Aggregator
	Metrics    *metrics.MatchMetrics
}

func New(log *slog.Logger, pool *pgxpool.Pool, cfg *config.Config) *App {
	matchRepository := match_repository.NewMatchRepository(pool, log)
	configRepository := config_repository.NewConfigRepository(pool, log)

	matchMetrics := metrics.GetMatchMetrics(log)

	// Кэш выдач опционален: без Redis движок работает напрямую из БД
	var cache *match_cache.Cache
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		cache = match_cache.New(rdb, log, cfg.Redis.MatchTTL)
	}

	log.Info("matching engine initialized",
		slog.Bool("cache_enabled", cfg.Redis.Enabled),
		slog.Int("scoring_workers", cfg.Scoring.Workers),
	)

	configService := matchconfig.New(log, configRepository, nilIfNoCache(cache))

	scoringEngine := scoring.New(
		log,
		proximity.New(),
		matchMetrics,
		cfg.Scoring.Workers,
		cfg.Scoring.ChunkSize,
	)

	classifierService := classifier.New(
		log,
		matchRepository,
		classifier.NewLogNotifier(log),
		invalidatorOrNil(cache),
		matchMetrics,
	)

	matchmakerService := matchmaker.New(log, configService, scoringEngine, classifierService, warmerOrNil(cache))
	conversionTracker := conversion.New(log, matchRepository, matchMetrics)
	analyticsAggregator := analytics.New(log, matchRepository)

	apiHandler := matchingapi.New(
		log,
		configService,
		conversionTracker,
		analyticsAggregator,
		matchRepository,
		clearerOrNil(cache),
		matchMetrics,
	)

	origins := strings.Split(cfg.HTTP.AllowedOrigins, ",")
	httpApp := httpapp.New(log, apiHandler.Router(origins), cfg.HTTP)

	return &App{
		HTTPServer: httpApp,
		Matchmaker: matchmakerService,
		Scoring:    scoringEngine,
		Config:     configService,
		Conversion: conversionTracker,
		Analytics:  analyticsAggregator,
		Metrics:    matchMetrics,
	}
}

// Типизированный nil в интерфейсном поле не равен nil: при выключенном
// кэше зависимые сервисы должны получить настоящий nil.
func nilIfNoCache(cache *match_cache.Cache) matchconfig.CacheClearer {
	if cache == nil {
		return nil
	}
	return cache
}

func invalidatorOrNil(cache *match_cache.Cache) classifier.CacheInvalidator {
	if cache == nil {
		return nil
	}
	return cache
}

func clearerOrNil(cache *match_cache.Cache) matchingapi.CacheAdmin {
	if cache == nil {
		return nil
	}
	return cache
}

func warmerOrNil(cache *match_cache.Cache) matchmaker.CacheWarmer {
	if cache == nil {
		return nil
	}
	return cache
}
