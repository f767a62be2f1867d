package matchmaker

import (
	"context"
	"fmt"
	"time"

	"community_exchange/internal/domain"
	"community_exchange/internal/lib/logger/sl"
	"community_exchange/internal/repository/match_cache"
	"community_exchange/internal/services/classifier"
	"log/slog"

	"github.com/google/uuid"
)

// ConfigProvider — активная конфигурация тенанта.
type ConfigProvider interface {
	Get(ctx context.Context, tenantID uuid.UUID) (domain.MatchConfiguration, error)
}

// Scorer — батч-скоринг пар.
type Scorer interface {
	ScoreBatch(ctx context.Context, pairs []domain.ListingPair, cfg domain.MatchConfiguration) ([]domain.MatchScore, error)
}

// Classifier — классификация и персистенция оценённых пар.
type Classifier interface {
	Classify(ctx context.Context, pair domain.ListingPair, score domain.MatchScore, cfg domain.MatchConfiguration) (classifier.Decision, error)
}

// CacheWarmer — прогрев кэша выдач после прогона батча.
type CacheWarmer interface {
	SetUserMatches(ctx context.Context, tenantID, userID uuid.UUID, matches []match_cache.CachedMatch) error
}

// Result — итог прогона батча пар через движок.
type Result struct {
	ConfigVersion int64
	Decisions     []classifier.Decision

	Created          int
	HotMatches       int
	RejectedDistance int
	RejectedScore    int
	Duplicates       int
}

// Service — оркестратор полного цикла матчинга: конфигурация тенанта,
// скоринг батча, классификация каждой пары. Выключенный матчинг у
// тенанта останавливает цикл до скоринга.
type Service struct {
	log        *slog.Logger
	config     ConfigProvider
	scorer     Scorer
	classifier Classifier
	cache      CacheWarmer
}

func New(log *slog.Logger, config ConfigProvider, scorer Scorer, cls Classifier, cache CacheWarmer) *Service {
	return &Service{
		log:        log,
		config:     config,
		scorer:     scorer,
		classifier: cls,
		cache:      cache,
	}
}

// MatchPairs прогоняет пары тенанта через скоринг и классификацию.
// Пары независимы: ошибка классификации одной пары не отменяет
// остальные, первый сбой возвращается после обработки всего батча.
func (s *Service) MatchPairs(ctx context.Context, tenantID uuid.UUID, pairs []domain.ListingPair) (Result, error) {
	const op = "matchmaker.Service.MatchPairs"

	log := s.log.With(
		slog.String("op", op),
		slog.String("tenant_id", tenantID.String()),
	)

	cfg, err := s.config.Get(ctx, tenantID)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", op, err)
	}

	if !cfg.Enabled {
		log.Info("matching disabled for tenant, skipping batch", slog.Int("pairs", len(pairs)))
		return Result{ConfigVersion: cfg.Version}, nil
	}

	scores, err := s.scorer.ScoreBatch(ctx, pairs, cfg)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", op, err)
	}

	result := Result{
		ConfigVersion: cfg.Version,
		Decisions:     make([]classifier.Decision, 0, len(pairs)),
	}

	// Свежая выдача по владельцам для прогрева кэша
	warmup := make(map[uuid.UUID][]match_cache.CachedMatch)

	var firstErr error
	for i, pair := range pairs {
		decision, cerr := s.classifier.Classify(ctx, pair, scores[i], cfg)
		if cerr != nil {
			if firstErr == nil {
				firstErr = cerr
			}
			continue
		}

		result.Decisions = append(result.Decisions, decision)
		if !decision.Rejected() {
			now := time.Now()
			warmup[pair.Offer.OwnerID] = append(warmup[pair.Offer.OwnerID], match_cache.CachedMatch{
				MatchID:        decision.MatchID,
				ListingID:      pair.Request.ID,
				Score:          scores[i].Total,
				Classification: classificationFor(decision.Outcome),
				DistanceKm:     scores[i].DistanceKm,
				Reasons:        scores[i].Reasons,
				CachedAt:       now,
			})
			warmup[pair.Request.OwnerID] = append(warmup[pair.Request.OwnerID], match_cache.CachedMatch{
				MatchID:        decision.MatchID,
				ListingID:      pair.Offer.ID,
				Score:          scores[i].Total,
				Classification: classificationFor(decision.Outcome),
				DistanceKm:     scores[i].DistanceKm,
				Reasons:        scores[i].Reasons,
				CachedAt:       now,
			})
		}
		switch decision.Outcome {
		case classifier.OutcomeRejectedDistance:
			result.RejectedDistance++
		case classifier.OutcomeRejectedScore:
			result.RejectedScore++
		case classifier.OutcomeHot:
			result.HotMatches++
			fallthrough
		case classifier.OutcomeNormal:
			if decision.Duplicate {
				result.Duplicates++
			} else {
				result.Created++
			}
		}
	}

	s.warmCache(ctx, tenantID, warmup, log)

	log.Info("batch matched",
		slog.Int("pairs", len(pairs)),
		slog.Int("created", result.Created),
		slog.Int("hot", result.HotMatches),
		slog.Int("rejected_distance", result.RejectedDistance),
		slog.Int("rejected_score", result.RejectedScore),
		slog.Int("duplicates", result.Duplicates),
	)

	if firstErr != nil {
		return result, fmt.Errorf("%s: %w", op, firstErr)
	}

	return result, nil
}

func classificationFor(outcome classifier.Outcome) domain.Classification {
	if outcome == classifier.OutcomeHot {
		return domain.ClassificationHot
	}
	return domain.ClassificationNormal
}

// warmCache прогревает кэш выдач участников батча.
// Ошибка кэша не фейлит матчинг: выдача поднимется из БД.
func (s *Service) warmCache(ctx context.Context, tenantID uuid.UUID, warmup map[uuid.UUID][]match_cache.CachedMatch, log *slog.Logger) {
	if s.cache == nil {
		return
	}
	for userID, matches := range warmup {
		if err := s.cache.SetUserMatches(ctx, tenantID, userID, matches); err != nil {
			log.Warn("failed to warm match cache",
				slog.String("user_id", userID.String()),
				sl.Err(err),
			)
		}
	}
}
