package analytics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"community_exchange/internal/domain"
	"community_exchange/internal/services/proximity"
	"log/slog"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Имена корзин распределения итоговых оценок.
const (
	ScoreBucketWeak      = "0-39"
	ScoreBucketModerate  = "40-59"
	ScoreBucketStrong    = "60-79"
	ScoreBucketExcellent = "80-100"
)

// TrendGranularity — шаг агрегации трендов.
type TrendGranularity string

const (
	GranularityDaily  TrendGranularity = "daily"
	GranularityWeekly TrendGranularity = "weekly"
)

// TrendPoint — точка тренда за период.
type TrendPoint struct {
	Period     string `json:"period"`
	Total      int    `json:"total"`
	HotMatches int    `json:"hot_matches"`
}

// FunnelStageStats — стадия воронки в отчёте.
type FunnelStageStats struct {
	Stage domain.FunnelStage `json:"stage"`
	Count int                `json:"count"`
	// PercentOfMatched — доля от числа созданных матчей, один знак
	// после запятой
	PercentOfMatched float64 `json:"percent_of_matched"`
}

// CategoryStats — производительность категории.
type CategoryStats struct {
	CategoryID     uuid.UUID `json:"category_id"`
	Matches        int       `json:"matches"`
	AvgScore       float64   `json:"avg_score"`
	Conversions    int       `json:"conversions"`
	ConversionRate float64   `json:"conversion_rate"`
}

// Report — агрегированный отчёт по матчам тенанта за окно.
// Считается по завершённым событиям и не мутирует исходные записи.
type Report struct {
	TenantID uuid.UUID         `json:"tenant_id"`
	Window   domain.TimeWindow `json:"window"`

	TotalMatches int `json:"total_matches"`
	HotMatches   int `json:"hot_matches"`

	ScoreDistribution    map[string]int     `json:"score_distribution"`
	DistanceDistribution map[string]int     `json:"distance_distribution"`
	Funnel               []FunnelStageStats `json:"funnel"`
	Categories           []CategoryStats    `json:"categories"`

	// AvgTimeToConversionHours — среднее время от матча до завершения
	// обмена; nil, если завершённых обменов нет
	AvgTimeToConversionHours *float64 `json:"avg_time_to_conversion_hours,omitempty"`
}

// MatchReader — выборка матчей для агрегации.
type MatchReader interface {
	ListByWindow(ctx context.Context, tenantID uuid.UUID, window domain.TimeWindow) ([]domain.MatchRecord, error)
}

// Aggregator строит аналитические отчёты по записям матчей.
type Aggregator struct {
	log     *slog.Logger
	matches MatchReader
}

func New(log *slog.Logger, matches MatchReader) *Aggregator {
	return &Aggregator{
		log:     log,
		matches: matches,
	}
}

// BuildReport — полный отчёт по тенанту за окно.
// Пустое окно даёт валидный отчёт с нулями, а не ошибку.
func (a *Aggregator) BuildReport(ctx context.Context, tenantID uuid.UUID, window domain.TimeWindow, tiers domain.ProximityTiers) (Report, error) {
	const op = "analytics.Aggregator.BuildReport"

	records, err := a.matches.ListByWindow(ctx, tenantID, window)
	if err != nil {
		return Report{}, fmt.Errorf("%s: %w", op, err)
	}

	report := Report{
		TenantID:             tenantID,
		Window:               window,
		TotalMatches:         len(records),
		ScoreDistribution:    emptyScoreDistribution(),
		DistanceDistribution: emptyDistanceDistribution(),
	}

	var conversionHours []float64

	for _, m := range records {
		if m.Classification == domain.ClassificationHot {
			report.HotMatches++
		}

		report.ScoreDistribution[scoreBucket(m.Score.Total)]++
		report.DistanceDistribution[proximity.TierFor(m.Score.DistanceKm, tiers)]++

		if d := m.TimeToConversion(); d != nil {
			conversionHours = append(conversionHours, d.Hours())
		}
	}

	report.Funnel = buildFunnel(records)
	report.Categories = buildCategories(records)

	if len(conversionHours) > 0 {
		avg := lo.Sum(conversionHours) / float64(len(conversionHours))
		avg = round1(avg)
		report.AvgTimeToConversionHours = &avg
	}

	return report, nil
}

// Trend — количество матчей и hot-матчей по периодам внутри окна.
// Периоды без матчей присутствуют с нулями, чтобы график не имел дыр.
func (a *Aggregator) Trend(ctx context.Context, tenantID uuid.UUID, window domain.TimeWindow, granularity TrendGranularity) ([]TrendPoint, error) {
	const op = "analytics.Aggregator.Trend"

	records, err := a.matches.ListByWindow(ctx, tenantID, window)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	keyOf := dailyKey
	step := 24 * time.Hour
	if granularity == GranularityWeekly {
		keyOf = weeklyKey
		step = 7 * 24 * time.Hour
	}

	points := make(map[string]*TrendPoint)
	for cursor := window.From; cursor.Before(window.To); cursor = cursor.Add(step) {
		key := keyOf(cursor)
		if _, ok := points[key]; !ok {
			points[key] = &TrendPoint{Period: key}
		}
	}

	for _, m := range records {
		key := keyOf(m.CreatedAt)
		point, ok := points[key]
		if !ok {
			point = &TrendPoint{Period: key}
			points[key] = point
		}
		point.Total++
		if m.Classification == domain.ClassificationHot {
			point.HotMatches++
		}
	}

	result := lo.MapToSlice(points, func(_ string, p *TrendPoint) TrendPoint { return *p })
	sort.Slice(result, func(i, j int) bool { return result[i].Period < result[j].Period })

	return result, nil
}

func dailyKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// weeklyKey — ISO-неделя.
func weeklyKey(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

func scoreBucket(total int) string {
	switch {
	case total < 40:
		return ScoreBucketWeak
	case total < 60:
		return ScoreBucketModerate
	case total < 80:
		return ScoreBucketStrong
	default:
		return ScoreBucketExcellent
	}
}

func emptyScoreDistribution() map[string]int {
	return map[string]int{
		ScoreBucketWeak:      0,
		ScoreBucketModerate:  0,
		ScoreBucketStrong:    0,
		ScoreBucketExcellent: 0,
	}
}

func emptyDistanceDistribution() map[string]int {
	return map[string]int{
		proximity.TierWalking:  0,
		proximity.TierLocal:    0,
		proximity.TierCity:     0,
		proximity.TierRegional: 0,
		proximity.TierMax:      0,
		proximity.TierBeyond:   0,
		proximity.TierUnknown:  0,
	}
}

// buildFunnel — счётчики достижения стадий. Матч на поздней стадии
// засчитывается и во все предшествующие: завершённый обмен был и
// просмотрен, и законтачен.
func buildFunnel(records []domain.MatchRecord) []FunnelStageStats {
	counts := make(map[domain.FunnelStage]int, len(domain.FunnelOrder)+1)
	for _, m := range records {
		for _, stage := range domain.FunnelOrder {
			if m.StageTimestamp(stage) != nil {
				counts[stage]++
			}
		}
		if m.FunnelStage == domain.StageAbandoned {
			counts[domain.StageAbandoned]++
		}
	}

	matched := counts[domain.StageMatched]
	stages := append([]domain.FunnelStage{}, domain.FunnelOrder...)
	stages = append(stages, domain.StageAbandoned)

	funnel := make([]FunnelStageStats, 0, len(stages))
	for _, stage := range stages {
		stats := FunnelStageStats{Stage: stage, Count: counts[stage]}
		if matched > 0 {
			stats.PercentOfMatched = round1(float64(stats.Count) / float64(matched) * 100)
		}
		funnel = append(funnel, stats)
	}

	return funnel
}

func buildCategories(records []domain.MatchRecord) []CategoryStats {
	grouped := lo.GroupBy(records, func(m domain.MatchRecord) uuid.UUID { return m.CategoryID })

	stats := lo.MapToSlice(grouped, func(categoryID uuid.UUID, matches []domain.MatchRecord) CategoryStats {
		totals := lo.SumBy(matches, func(m domain.MatchRecord) int { return m.Score.Total })
		conversions := lo.CountBy(matches, func(m domain.MatchRecord) bool {
			return m.FunnelStage == domain.StageCompleted
		})

		return CategoryStats{
			CategoryID:     categoryID,
			Matches:        len(matches),
			AvgScore:       round1(float64(totals) / float64(len(matches))),
			Conversions:    conversions,
			ConversionRate: round1(float64(conversions) / float64(len(matches)) * 100),
		}
	})

	// Стабильный порядок: сначала крупные категории
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Matches != stats[j].Matches {
			return stats[i].Matches > stats[j].Matches
		}
		return stats[i].CategoryID.String() < stats[j].CategoryID.String()
	})

	return stats
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
