package classifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"community_exchange/internal/domain"
	"community_exchange/internal/lib/logger/sl"
	"community_exchange/internal/lib/metrics"
	"community_exchange/internal/repository"
	"log/slog"

	"github.com/google/uuid"
)

// Outcome — итог классификации одной оценённой пары.
type Outcome string

const (
	OutcomeRejectedDistance Outcome = "rejected_distance"
	OutcomeRejectedScore    Outcome = "rejected_score"
	OutcomeNormal           Outcome = "normal"
	OutcomeHot              Outcome = "hot"
)

// Decision — решение классификатора по паре.
// Для отклонённых пар MatchID нулевой и запись не создаётся.
type Decision struct {
	Outcome Outcome
	MatchID uuid.UUID
	// Duplicate выставляется, если матч уже существовал: решение
	// идемпотентно и возвращает существующий идентификатор
	Duplicate bool
}

// Rejected сообщает, была ли пара отклонена порогами.
func (d Decision) Rejected() bool {
	return d.Outcome == OutcomeRejectedDistance || d.Outcome == OutcomeRejectedScore
}

// MatchSaver — персистенция записей о матчах.
type MatchSaver interface {
	CreateMatch(ctx context.Context, m domain.MatchRecord) (uuid.UUID, error)
}

// HotMatchNotifier — коллаборатор доставки уведомлений о hot-матчах.
// Механика доставки вне ядра; классификатор только эмитит событие.
type HotMatchNotifier interface {
	NotifyHotMatch(ctx context.Context, event domain.HotMatchEvent)
}

// CacheInvalidator — сброс кэшированных выдач участников пары.
type CacheInvalidator interface {
	InvalidateUser(ctx context.Context, tenantID, userID uuid.UUID) error
}

// Service применяет пороги конфигурации к оценённой паре в строгом
// порядке: сначала дистанция, затем минимальный балл, затем hot-порог.
type Service struct {
	log      *slog.Logger
	matches  MatchSaver
	notifier HotMatchNotifier
	cache    CacheInvalidator
	metrics  *metrics.MatchMetrics
}

func New(log *slog.Logger, matches MatchSaver, notifier HotMatchNotifier, cache CacheInvalidator, m *metrics.MatchMetrics) *Service {
	return &Service{
		log:      log,
		matches:  matches,
		notifier: notifier,
		cache:    cache,
		metrics:  m,
	}
}

// Classify — классифицирует пару по её MatchScore и конфигурации.
// Неизвестная дистанция (LowConfidence) не является блокером: правило
// дистанции срабатывает только по измеренному расстоянию.
func (s *Service) Classify(ctx context.Context, pair domain.ListingPair, score domain.MatchScore, cfg domain.MatchConfiguration) (Decision, error) {
	const op = "classifier.Service.Classify"

	log := s.log.With(
		slog.String("op", op),
		slog.String("offer_id", pair.Offer.ID.String()),
		slog.String("request_id", pair.Request.ID.String()),
	)

	if score.DistanceKm != nil && *score.DistanceKm > cfg.MaxDistanceKm {
		s.recordOutcome(OutcomeRejectedDistance)
		log.Debug("pair rejected by distance",
			slog.Float64("distance_km", *score.DistanceKm),
			slog.Float64("max_distance_km", cfg.MaxDistanceKm),
		)
		return Decision{Outcome: OutcomeRejectedDistance}, nil
	}

	if score.Total < cfg.MinMatchScore {
		s.recordOutcome(OutcomeRejectedScore)
		log.Debug("pair rejected by score",
			slog.Int("total", score.Total),
			slog.Int("min_match_score", cfg.MinMatchScore),
		)
		return Decision{Outcome: OutcomeRejectedScore}, nil
	}

	classification := domain.ClassificationNormal
	outcome := OutcomeNormal
	if score.Total >= cfg.HotMatchThreshold {
		classification = domain.ClassificationHot
		outcome = OutcomeHot
	}

	record := domain.MatchRecord{
		ID:               uuid.New(),
		TenantID:         cfg.TenantID,
		OfferListingID:   pair.Offer.ID,
		RequestListingID: pair.Request.ID,
		CategoryID:       pair.Request.CategoryID,
		Score:            score,
		Classification:   classification,
		FunnelStage:      domain.StageMatched,
		CreatedAt:        time.Now(),
		Version:          1,
	}

	matchID, err := s.matches.CreateMatch(ctx, record)
	if err != nil {
		// Повторная классификация той же пары по той же версии
		// конфигурации идемпотентна
		if errors.Is(err, repository.ErrDuplicateMatch) {
			log.Debug("match already exists", slog.String("match_id", matchID.String()))
			return Decision{Outcome: outcome, MatchID: matchID, Duplicate: true}, nil
		}
		return Decision{}, fmt.Errorf("%s: %w", op, err)
	}

	s.recordOutcome(outcome)
	s.invalidateCaches(ctx, pair)

	log.Info("match created",
		slog.String("match_id", matchID.String()),
		slog.Int("total", score.Total),
		slog.String("classification", classification.String()),
	)

	if classification == domain.ClassificationHot && s.notifier != nil {
		s.notifier.NotifyHotMatch(ctx, domain.HotMatchEvent{
			MatchID:          matchID,
			TenantID:         cfg.TenantID,
			OfferListingID:   pair.Offer.ID,
			RequestListingID: pair.Request.ID,
			Score:            score.Total,
		})
	}

	return Decision{Outcome: outcome, MatchID: matchID}, nil
}

func (s *Service) recordOutcome(outcome Outcome) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordClassification(
		outcome == OutcomeHot,
		outcome == OutcomeRejectedDistance,
		outcome == OutcomeRejectedScore,
	)
}

// invalidateCaches сбрасывает кэшированные выдачи обоих участников.
// Ошибка кэша не фейлит классификацию: запись уже создана.
func (s *Service) invalidateCaches(ctx context.Context, pair domain.ListingPair) {
	if s.cache == nil {
		return
	}
	for _, l := range []domain.ListingSummary{pair.Offer, pair.Request} {
		if err := s.cache.InvalidateUser(ctx, l.TenantID, l.OwnerID); err != nil {
			s.log.Warn("failed to invalidate match cache",
				slog.String("user_id", l.OwnerID.String()),
				sl.Err(err),
			)
		}
	}
}
