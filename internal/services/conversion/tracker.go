package conversion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"community_exchange/internal/domain"
	"community_exchange/internal/lib/metrics"
	"community_exchange/internal/repository"
	"log/slog"

	"github.com/google/uuid"
)

var (
	// ErrUnknownStage — целевая стадия не входит в воронку.
	ErrUnknownStage = errors.New("unknown funnel stage")
	// ErrInvalidTransition — переход нарушает порядок воронки:
	// стадии нельзя пропускать и нельзя откатывать.
	ErrInvalidTransition = errors.New("invalid funnel transition")
)

// MatchStore — подмножество репозитория матчей, нужное трекеру.
type MatchStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (domain.MatchRecord, error)
	AdvanceStage(ctx context.Context, matchID uuid.UUID, stage domain.FunnelStage, at time.Time, expectedVersion int64) (domain.MatchRecord, error)
}

// Tracker продвигает матчи по конверсионной воронке строго вперёд.
// Конкурентные продвижения разрешаются optimistic concurrency: переход
// применяется только если версия записи не изменилась с момента чтения.
type Tracker struct {
	log     *slog.Logger
	matches MatchStore
	metrics *metrics.MatchMetrics
	now     func() time.Time
}

func New(log *slog.Logger, matches MatchStore, m *metrics.MatchMetrics) *Tracker {
	return &Tracker{
		log:     log,
		matches: matches,
		metrics: m,
		now:     time.Now,
	}
}

// Advance переводит матч на стадию target.
// Повторный перевод на текущую стадию идемпотентен и возвращает запись
// без изменений. Конфликт версий возвращает repository.ErrVersionConflict:
// вызывающий перечитывает запись и повторяет попытку.
func (t *Tracker) Advance(ctx context.Context, matchID uuid.UUID, target domain.FunnelStage) (domain.MatchRecord, error) {
	const op = "conversion.Tracker.Advance"

	if !target.IsValid() {
		return domain.MatchRecord{}, fmt.Errorf("%s: %w: %q", op, ErrUnknownStage, target)
	}

	record, err := t.matches.GetByID(ctx, matchID)
	if err != nil {
		return domain.MatchRecord{}, fmt.Errorf("%s: %w", op, err)
	}

	if record.FunnelStage == target {
		return record, nil
	}

	if !record.FunnelStage.CanAdvanceTo(target) {
		return domain.MatchRecord{}, fmt.Errorf("%s: %w: %s -> %s",
			op, ErrInvalidTransition, record.FunnelStage, target)
	}

	updated, err := t.matches.AdvanceStage(ctx, matchID, target, t.now(), record.Version)
	if err != nil {
		conflict := errors.Is(err, repository.ErrVersionConflict)
		if t.metrics != nil && conflict {
			t.metrics.RecordStageAdvance(true)
		}
		if conflict {
			t.log.Debug("stage advance lost the race",
				slog.String("match_id", matchID.String()),
				slog.String("target", target.String()),
			)
		}
		return domain.MatchRecord{}, fmt.Errorf("%s: %w", op, err)
	}

	if t.metrics != nil {
		t.metrics.RecordStageAdvance(false)
	}

	t.log.Info("funnel stage advanced",
		slog.String("match_id", matchID.String()),
		slog.String("from", record.FunnelStage.String()),
		slog.String("to", target.String()),
	)

	return updated, nil
}

// AdvanceWithRetry — Advance с автоматическим повтором при конфликте
// версий. Конфликт означает, что параллельный вызов успел продвинуть
// запись: после перечитывания переход либо станет идемпотентным, либо
// окажется недопустимым.
func (t *Tracker) AdvanceWithRetry(ctx context.Context, matchID uuid.UUID, target domain.FunnelStage, attempts int) (domain.MatchRecord, error) {
	const op = "conversion.Tracker.AdvanceWithRetry"

	if attempts <= 0 {
		attempts = 3
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		record, err := t.Advance(ctx, matchID, target)
		if err == nil {
			return record, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return domain.MatchRecord{}, err
		}
		lastErr = err
	}

	return domain.MatchRecord{}, fmt.Errorf("%s: attempts exhausted: %w", op, lastErr)
}
