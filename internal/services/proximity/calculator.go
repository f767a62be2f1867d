package proximity

import (
	"community_exchange/internal/domain"
	"community_exchange/internal/lib/geo"
)

// NeutralScore — документированная нейтральная оценка близости при
// отсутствии координат: близость становится слабым сигналом, а не блокером.
const NeutralScore = 50

// Имена дистанционных корзин для аналитики.
const (
	TierWalking  = "walking"
	TierLocal    = "local"
	TierCity     = "city"
	TierRegional = "regional"
	TierMax      = "max"
	TierBeyond   = "beyond"
	TierUnknown  = "unknown"
)

// Result — результат расчёта фактора близости.
type Result struct {
	// DistanceKm — расстояние между сторонами; nil, если координаты неизвестны
	DistanceKm *float64
	// Score — оценка фактора 0-100
	Score float64
	// LowConfidence выставляется при отсутствии координат у любой из сторон
	LowConfidence bool
}

// Calculator конвертирует пару координат и дистанционные пороги тенанта
// в оценку фактора близости.
type Calculator struct{}

func New() *Calculator {
	return &Calculator{}
}

// Score — вычисляет расстояние (гаверсинус) и маппит его на оценку по
// порогам. Оценка монотонно не возрастает с расстоянием при фиксированных
// порогах. Пары дальше MaxKm получают 0 и позже отсекаются классификатором.
func (c *Calculator) Score(lat1, lon1, lat2, lon2 *float64, tiers domain.ProximityTiers) Result {
	if lat1 == nil || lon1 == nil || lat2 == nil || lon2 == nil {
		return Result{
			DistanceKm:    nil,
			Score:         NeutralScore,
			LowConfidence: true,
		}
	}

	distance := geo.Distance(*lat1, *lon1, *lat2, *lon2)
	if distance < 0 {
		distance = 0
	}

	return Result{
		DistanceKm: &distance,
		Score:      scoreForDistance(distance, tiers),
	}
}

func scoreForDistance(distanceKm float64, tiers domain.ProximityTiers) float64 {
	switch {
	case distanceKm <= tiers.WalkingKm:
		return 100
	case distanceKm <= tiers.LocalKm:
		return 90
	case distanceKm <= tiers.CityKm:
		return 70
	case distanceKm <= tiers.RegionalKm:
		return 50
	case distanceKm <= tiers.MaxKm:
		return 30
	default:
		return 0
	}
}

// TierFor возвращает имя дистанционной корзины для расстояния.
// nil означает неизвестное расстояние.
func TierFor(distanceKm *float64, tiers domain.ProximityTiers) string {
	if distanceKm == nil {
		return TierUnknown
	}
	d := *distanceKm
	switch {
	case d <= tiers.WalkingKm:
		return TierWalking
	case d <= tiers.LocalKm:
		return TierLocal
	case d <= tiers.CityKm:
		return TierCity
	case d <= tiers.RegionalKm:
		return TierRegional
	case d <= tiers.MaxKm:
		return TierMax
	default:
		return TierBeyond
	}
}
