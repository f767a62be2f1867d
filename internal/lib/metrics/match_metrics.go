package metrics

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// MatchMetrics — метрики движка матчинга.
type MatchMetrics struct {
	log *slog.Logger

	// Счётчики скоринга
	pairsScoredTotal   int64
	matchesCreated     int64
	hotMatchesTotal    int64
	rejectedByDistance int64
	rejectedByScore    int64

	// Счётчики воронки
	stageAdvancesTotal int64
	stageConflictsTotal int64

	// Счётчики кэша
	cacheHitsTotal   int64
	cacheMissesTotal int64

	// Задержка скоринга (для расчёта среднего)
	scoringLatencyTotalMs int64
	scoringLastLatencyMs  int64
	scoringBatchesTotal   int64
}

var (
	globalMetrics *MatchMetrics
	metricsOnce   sync.Once
)

// GetMatchMetrics возвращает глобальный экземпляр метрик.
func GetMatchMetrics(log *slog.Logger) *MatchMetrics {
	metricsOnce.Do(func() {
		globalMetrics = &MatchMetrics{log: log}
	})
	return globalMetrics
}

// RecordPairScored записывает факт скоринга одной пары.
func (m *MatchMetrics) RecordPairScored() {
	atomic.AddInt64(&m.pairsScoredTotal, 1)
}

// RecordClassification записывает результат классификации.
func (m *MatchMetrics) RecordClassification(hot, rejectedDistance, rejectedScore bool) {
	switch {
	case rejectedDistance:
		atomic.AddInt64(&m.rejectedByDistance, 1)
	case rejectedScore:
		atomic.AddInt64(&m.rejectedByScore, 1)
	default:
		atomic.AddInt64(&m.matchesCreated, 1)
		if hot {
			atomic.AddInt64(&m.hotMatchesTotal, 1)
		}
	}
}

// RecordStageAdvance записывает переход по воронке.
func (m *MatchMetrics) RecordStageAdvance(conflict bool) {
	if conflict {
		atomic.AddInt64(&m.stageConflictsTotal, 1)
		return
	}
	atomic.AddInt64(&m.stageAdvancesTotal, 1)
}

// RecordCacheLookup записывает обращение к кэшу матчей.
func (m *MatchMetrics) RecordCacheLookup(hit bool) {
	if hit {
		atomic.AddInt64(&m.cacheHitsTotal, 1)
		return
	}
	atomic.AddInt64(&m.cacheMissesTotal, 1)
}

// RecordScoringBatch записывает длительность батча скоринга.
func (m *MatchMetrics) RecordScoringBatch(latency time.Duration, pairs int, err error) {
	latencyMs := latency.Milliseconds()

	atomic.AddInt64(&m.scoringBatchesTotal, 1)
	atomic.AddInt64(&m.scoringLatencyTotalMs, latencyMs)
	atomic.StoreInt64(&m.scoringLastLatencyMs, latencyMs)

	if m.log != nil {
		logAttrs := []any{
			slog.Int("pairs", pairs),
			slog.Int64("latency_ms", latencyMs),
		}
		if err != nil {
			logAttrs = append(logAttrs, slog.String("error", err.Error()))
			m.log.Warn("scoring batch failed", logAttrs...)
		} else {
			m.log.Debug("scoring batch completed", logAttrs...)
		}
	}
}

// BatchTimer помогает измерять время батчей скоринга.
type BatchTimer struct {
	metrics   *MatchMetrics
	startTime time.Time
}

// StartBatchTimer начинает измерение батча.
func (m *MatchMetrics) StartBatchTimer() *BatchTimer {
	return &BatchTimer{
		metrics:   m,
		startTime: time.Now(),
	}
}

// Stop останавливает таймер и записывает метрики.
func (t *BatchTimer) Stop(pairs int, err error) {
	latency := time.Since(t.startTime)
	t.metrics.RecordScoringBatch(latency, pairs, err)
}

// Stats — текущая статистика движка.
type Stats struct {
	PairsScoredTotal    int64   `json:"pairs_scored_total"`
	MatchesCreated      int64   `json:"matches_created"`
	HotMatchesTotal     int64   `json:"hot_matches_total"`
	RejectedByDistance  int64   `json:"rejected_by_distance"`
	RejectedByScore     int64   `json:"rejected_by_score"`
	StageAdvancesTotal  int64   `json:"stage_advances_total"`
	StageConflictsTotal int64   `json:"stage_conflicts_total"`
	CacheHitsTotal      int64   `json:"cache_hits_total"`
	CacheMissesTotal    int64   `json:"cache_misses_total"`
	AvgBatchLatencyMs   float64 `json:"avg_batch_latency_ms"`
	LastBatchLatencyMs  int64   `json:"last_batch_latency_ms"`
}

// GetStats возвращает текущую статистику.
func (m *MatchMetrics) GetStats() Stats {
	batches := atomic.LoadInt64(&m.scoringBatchesTotal)
	latencyTotal := atomic.LoadInt64(&m.scoringLatencyTotalMs)

	var avgLatency float64
	if batches > 0 {
		avgLatency = float64(latencyTotal) / float64(batches)
	}

	return Stats{
		PairsScoredTotal:    atomic.LoadInt64(&m.pairsScoredTotal),
		MatchesCreated:      atomic.LoadInt64(&m.matchesCreated),
		HotMatchesTotal:     atomic.LoadInt64(&m.hotMatchesTotal),
		RejectedByDistance:  atomic.LoadInt64(&m.rejectedByDistance),
		RejectedByScore:     atomic.LoadInt64(&m.rejectedByScore),
		StageAdvancesTotal:  atomic.LoadInt64(&m.stageAdvancesTotal),
		StageConflictsTotal: atomic.LoadInt64(&m.stageConflictsTotal),
		CacheHitsTotal:      atomic.LoadInt64(&m.cacheHitsTotal),
		CacheMissesTotal:    atomic.LoadInt64(&m.cacheMissesTotal),
		AvgBatchLatencyMs:   avgLatency,
		LastBatchLatencyMs:  atomic.LoadInt64(&m.scoringLastLatencyMs),
	}
}

// Reset сбрасывает все метрики.
func (m *MatchMetrics) Reset() {
	atomic.StoreInt64(&m.pairsScoredTotal, 0)
	atomic.StoreInt64(&m.matchesCreated, 0)
	atomic.StoreInt64(&m.hotMatchesTotal, 0)
	atomic.StoreInt64(&m.rejectedByDistance, 0)
	atomic.StoreInt64(&m.rejectedByScore, 0)
	atomic.StoreInt64(&m.stageAdvancesTotal, 0)
	atomic.StoreInt64(&m.stageConflictsTotal, 0)
	atomic.StoreInt64(&m.cacheHitsTotal, 0)
	atomic.StoreInt64(&m.cacheMissesTotal, 0)
	atomic.StoreInt64(&m.scoringLatencyTotalMs, 0)
	atomic.StoreInt64(&m.scoringLastLatencyMs, 0)
	atomic.StoreInt64(&m.scoringBatchesTotal, 0)
}

// WrapWithMetrics оборачивает батч-функцию для автоматического сбора метрик.
func WrapWithMetrics[T any](
	ctx context.Context,
	m *MatchMetrics,
	pairs int,
	fn func(ctx context.Context) (T, error),
) (T, error) {
	timer := m.StartBatchTimer()
	result, err := fn(ctx)
	timer.Stop(pairs, err)
	return result, err
}
