package scoring

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"community_exchange/internal/domain"
	"community_exchange/internal/lib/metrics"
	"community_exchange/internal/services/proximity"
	"log/slog"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Константы фактора свежести.
const (
	freshnessFullHours    = 24  // полная свежесть первые сутки
	freshnessHalfLifeDays = 14  // период полураспада
	freshnessFloor        = 30  // минимальная оценка
	freshnessNeutral      = 50  // нет даты создания
)

// Константы фактора качества.
const (
	qualityBase           = 50
	qualityMinDescription = 50
	qualityRatingBar      = 4.0
)

// Константы фактора взаимности.
const (
	reciprocityMutual      = 100 // обе стороны могут закрыть запросы друг друга
	reciprocityPotential   = 70  // есть встречное пересечение помимо самой пары
	reciprocityNone        = 40  // у контрагента есть объявления, но без пересечений
	reciprocityNoListings  = 30  // у контрагента нет других объявлений
)

const skillNeutral = 50

// Engine вычисляет шесть факторных оценок пары объявлений и сводит их
// во взвешенный итог по активной конфигурации. Скоринг чистый и
// детерминированный: одинаковые входы при одной версии конфигурации
// дают одинаковый результат.
type Engine struct {
	log       *slog.Logger
	proximity *proximity.Calculator
	metrics   *metrics.MatchMetrics

	workers   int
	chunkSize int
}

func New(log *slog.Logger, prox *proximity.Calculator, m *metrics.MatchMetrics, workers, chunkSize int) *Engine {
	if workers <= 0 {
		workers = 4
	}
	if chunkSize <= 0 {
		chunkSize = 100
	}
	return &Engine{
		log:       log,
		proximity: prox,
		metrics:   m,
		workers:   workers,
		chunkSize: chunkSize,
	}
}

// Score — вычисляет MatchScore пары на момент now.
// Отсутствующие данные деградируют отдельный фактор до документированного
// значения и никогда не прерывают расчёт целиком.
func (e *Engine) Score(pair domain.ListingPair, cfg domain.MatchConfiguration, now time.Time) domain.MatchScore {
	score := domain.MatchScore{
		ConfigVersion: cfg.Version,
	}
	var reasons []string

	// 1. Категория
	score.Category = e.calcCategoryScore(pair)
	if score.Category >= 80 {
		reasons = append(reasons, "Same category")
	}

	// 2. Навыки
	score.Skill = e.calcSkillScore(pair.Offer.SkillTags, pair.Request.SkillTags)
	if score.Skill >= 50 {
		reasons = append(reasons, "Skills match the request")
	}

	// 3. Близость
	prox := e.proximity.Score(
		pair.Offer.Latitude, pair.Offer.Longitude,
		pair.Request.Latitude, pair.Request.Longitude,
		cfg.Tiers,
	)
	score.Proximity = prox.Score
	score.DistanceKm = prox.DistanceKm
	score.ProximityLowConfidence = prox.LowConfidence

	if prox.DistanceKm != nil {
		switch {
		case *prox.DistanceKm <= cfg.Tiers.WalkingKm:
			reasons = append(reasons, fmt.Sprintf("Very close: %.1f km away", *prox.DistanceKm))
		case *prox.DistanceKm <= cfg.Tiers.LocalKm:
			reasons = append(reasons, fmt.Sprintf("Nearby: %.1f km away", *prox.DistanceKm))
		}
	}

	// 4. Свежесть
	score.Freshness = e.calcFreshnessScore(pair, now)
	if score.Freshness >= 90 {
		reasons = append(reasons, "Posted recently")
	}

	// 5. Взаимность
	score.Reciprocity = e.calcReciprocityScore(pair)
	if score.Reciprocity >= reciprocityMutual {
		reasons = append(reasons, "Mutual exchange possible")
	}

	// 6. Качество
	score.Quality = e.calcQualityScore(pair)
	if score.Quality >= 80 {
		reasons = append(reasons, "Complete, verified listing")
	}

	score.Total = combine(score, cfg.Weights)
	score.Reasons = reasons

	if e.metrics != nil {
		e.metrics.RecordPairScored()
	}

	return score
}

// ScoreBatch — параллельный скоринг независимых пар.
// Конфигурация снимается один раз на батч: обновление конфигурации в
// середине батча не влияет на уже запущенные расчёты (каждый результат
// несёт версию, по которой считался). Отмена контекста кооперативная,
// между парами.
func (e *Engine) ScoreBatch(ctx context.Context, pairs []domain.ListingPair, cfg domain.MatchConfiguration) ([]domain.MatchScore, error) {
	const op = "scoring.Engine.ScoreBatch"

	if len(pairs) == 0 {
		return nil, nil
	}

	var timer *metrics.BatchTimer
	if e.metrics != nil {
		timer = e.metrics.StartBatchTimer()
	}

	now := time.Now()
	results := make([]domain.MatchScore, len(pairs))

	// Чанки индексов: воркеры пишут в непересекающиеся участки results
	type chunk struct{ from, to int }
	jobs := make(chan chunk)

	var wg sync.WaitGroup
	var cancelled bool
	var once sync.Once

	for w := 0; w < e.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range jobs {
				for i := c.from; i < c.to; i++ {
					if ctx.Err() != nil {
						once.Do(func() { cancelled = true })
						return
					}
					results[i] = e.Score(pairs[i], cfg, now)
				}
			}
		}()
	}

	for from := 0; from < len(pairs); from += e.chunkSize {
		to := from + e.chunkSize
		if to > len(pairs) {
			to = len(pairs)
		}
		select {
		case jobs <- chunk{from: from, to: to}:
		case <-ctx.Done():
			from = len(pairs)
		}
	}
	close(jobs)
	wg.Wait()

	if cancelled || ctx.Err() != nil {
		err := fmt.Errorf("%s: %w", op, ctx.Err())
		if timer != nil {
			timer.Stop(len(pairs), err)
		}
		return nil, err
	}

	if timer != nil {
		timer.Stop(len(pairs), nil)
	}

	return results, nil
}

// calcCategoryScore — 100 за совпадение листовой категории, частичный
// балл за общую родительскую категорию, иначе 0.
func (e *Engine) calcCategoryScore(pair domain.ListingPair) float64 {
	if pair.Offer.CategoryID != uuid.Nil && pair.Offer.CategoryID == pair.Request.CategoryID {
		return 100
	}

	if pair.Offer.ParentCategoryID != nil && pair.Request.ParentCategoryID != nil &&
		*pair.Offer.ParentCategoryID == *pair.Request.ParentCategoryID {
		return 60
	}

	return 0
}

// calcSkillScore — нормализованное пересечение тегов (Jaccard * 100).
// Монотонно по размеру пересечения. Отсутствие тегов у любой из сторон
// даёт нейтральную оценку, а не ноль.
func (e *Engine) calcSkillScore(offerTags, requestTags []string) float64 {
	offer := normalizeTags(offerTags)
	request := normalizeTags(requestTags)

	if len(offer) == 0 || len(request) == 0 {
		return skillNeutral
	}

	intersection := lo.Intersect(offer, request)
	union := lo.Union(offer, request)

	if len(union) == 0 {
		return skillNeutral
	}

	return clampScore(float64(len(intersection)) / float64(len(union)) * 100)
}

func normalizeTags(tags []string) []string {
	normalized := lo.FilterMap(tags, func(tag string, _ int) (string, bool) {
		t := strings.ToLower(strings.TrimSpace(tag))
		return t, t != ""
	})
	return lo.Uniq(normalized)
}

// calcFreshnessScore — монотонно невозрастающая функция возраста пары:
// полный балл первые 24 часа, затем экспоненциальный спад с периодом
// полураспада 14 дней и полом 30. Берётся более старая сторона пары.
func (e *Engine) calcFreshnessScore(pair domain.ListingPair, now time.Time) float64 {
	offer := freshnessOf(pair.Offer.CreatedAt, now)
	request := freshnessOf(pair.Request.CreatedAt, now)
	return math.Min(offer, request)
}

func freshnessOf(createdAt, now time.Time) float64 {
	if createdAt.IsZero() {
		return freshnessNeutral
	}

	ageHours := now.Sub(createdAt).Hours()
	if ageHours < 0 {
		ageHours = 0
	}

	if ageHours <= freshnessFullHours {
		return 100
	}

	halfLifeHours := float64(freshnessHalfLifeDays * 24)
	decay := math.Pow(0.5, (ageHours-freshnessFullHours)/halfLifeHours)

	return math.Max(freshnessFloor, decay*100)
}

// calcReciprocityScore — бонус за взаимность: может ли владелец запроса
// закрыть какой-то запрос владельца предложения своими предложениями.
func (e *Engine) calcReciprocityScore(pair domain.ListingPair) float64 {
	counterpart := pair.Request.OwnerListings
	if len(counterpart) == 0 {
		return reciprocityNoListings
	}

	offerOwnerRequests := categoriesOf(pair.Offer.OwnerListings, domain.ListingTypeRequest)
	offerOwnerOffers := categoriesOf(pair.Offer.OwnerListings, domain.ListingTypeOffer)
	counterpartOffers := categoriesOf(counterpart, domain.ListingTypeOffer)
	counterpartRequests := categoriesOf(counterpart, domain.ListingTypeRequest)

	// Владелец запроса предлагает то, что нужно владельцу предложения:
	// обе стороны выигрывают
	if len(lo.Intersect(counterpartOffers, offerOwnerRequests)) > 0 {
		return reciprocityMutual
	}

	// Встречное пересечение помимо самой пары
	if len(lo.Intersect(offerOwnerOffers, counterpartRequests)) > 0 {
		return reciprocityPotential
	}

	return reciprocityNone
}

func categoriesOf(listings []domain.ListingRef, t domain.ListingType) []uuid.UUID {
	return lo.FilterMap(listings, func(l domain.ListingRef, _ int) (uuid.UUID, bool) {
		return l.CategoryID, l.Type == t
	})
}

// calcQualityScore — эвристика полноты: длина описания, фото,
// верификация владельца, рейтинг. Среднее по обеим сторонам пары.
func (e *Engine) calcQualityScore(pair domain.ListingPair) float64 {
	return (listingQuality(pair.Offer) + listingQuality(pair.Request)) / 2
}

func listingQuality(l domain.ListingSummary) float64 {
	score := float64(qualityBase)

	if l.DescriptionLength >= qualityMinDescription {
		score += 10
	}
	if l.DescriptionLength >= qualityMinDescription*2 {
		score += 10
	}
	if l.HasImage {
		score += 10
	}
	if l.OwnerVerified {
		score += 10
	}
	if l.OwnerRating != nil && *l.OwnerRating >= qualityRatingBar {
		score += 10
	}

	return clampScore(score)
}

// combine — взвешенная сумма факторов, округлённая до целого 0-100.
func combine(s domain.MatchScore, w domain.FactorWeights) int {
	total := float64(w.Category)/100*clampScore(s.Category) +
		float64(w.Skill)/100*clampScore(s.Skill) +
		float64(w.Proximity)/100*clampScore(s.Proximity) +
		float64(w.Freshness)/100*clampScore(s.Freshness) +
		float64(w.Reciprocity)/100*clampScore(s.Reciprocity) +
		float64(w.Quality)/100*clampScore(s.Quality)

	rounded := int(math.Round(total))
	if rounded < 0 {
		return 0
	}
	if rounded > 100 {
		return 100
	}
	return rounded
}

// clampScore приводит оценку фактора к диапазону [0,100].
// Выход за диапазон не распространяется дальше границы расчёта.
func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
