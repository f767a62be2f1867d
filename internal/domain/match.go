package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FactorWeights — веса факторов скоринга в целых процентах.
// Каноническое представление: сумма всех весов строго равна 100.
type FactorWeights struct {
	Category    int `json:"category"`
	Skill       int `json:"skill"`
	Proximity   int `json:"proximity"`
	Freshness   int `json:"freshness"`
	Reciprocity int `json:"reciprocity"`
	Quality     int `json:"quality"`
}

// DefaultFactorWeights возвращает веса по умолчанию.
func DefaultFactorWeights() FactorWeights {
	return FactorWeights{
		Category:    25,
		Skill:       20,
		Proximity:   25,
		Freshness:   10,
		Reciprocity: 15,
		Quality:     5,
	}
}

// Sum возвращает сумму всех весов.
func (w FactorWeights) Sum() int {
	return w.Category + w.Skill + w.Proximity + w.Freshness + w.Reciprocity + w.Quality
}

// HasNegative проверяет наличие отрицательных весов.
func (w FactorWeights) HasNegative() bool {
	return w.Category < 0 || w.Skill < 0 || w.Proximity < 0 ||
		w.Freshness < 0 || w.Reciprocity < 0 || w.Quality < 0
}

// ProximityTiers — именованные дистанционные пороги (км) для расчёта
// фактора близости. Инвариант: строго возрастают.
type ProximityTiers struct {
	WalkingKm  float64 `json:"walking_km"`
	LocalKm    float64 `json:"local_km"`
	CityKm     float64 `json:"city_km"`
	RegionalKm float64 `json:"regional_km"`
	MaxKm      float64 `json:"max_km"`
}

// DefaultProximityTiers возвращает пороги по умолчанию.
func DefaultProximityTiers() ProximityTiers {
	return ProximityTiers{
		WalkingKm:  5,
		LocalKm:    15,
		CityKm:     30,
		RegionalKm: 50,
		MaxKm:      100,
	}
}

// StrictlyIncreasing проверяет, что пороги строго возрастают.
func (t ProximityTiers) StrictlyIncreasing() bool {
	return t.WalkingKm > 0 &&
		t.LocalKm > t.WalkingKm &&
		t.CityKm > t.LocalKm &&
		t.RegionalKm > t.CityKm &&
		t.MaxKm > t.RegionalKm
}

// Идентификаторы нарушенных правил валидации конфигурации.
const (
	RuleWeightsNegative        = "weights_negative"
	RuleWeightsSum             = "weights_sum"
	RuleTiersNotIncreasing     = "tiers_not_increasing"
	RuleThresholdOrder         = "threshold_order"
	RuleMaxDistanceNotPositive = "max_distance_not_positive"
	RuleMaxDistanceBelowTier   = "max_distance_below_regional"
)

// ValidationError — ошибка валидации конфигурации с указанием
// конкретного нарушенного правила.
type ValidationError struct {
	Rule    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed (%s): %s", e.Rule, e.Message)
}

// MatchConfiguration — конфигурация матчинга, привязанная к тенанту.
// Версионируется: каждое успешное обновление увеличивает Version.
type MatchConfiguration struct {
	TenantID          uuid.UUID
	Enabled           bool
	Weights           FactorWeights
	Tiers             ProximityTiers
	HotMatchThreshold int
	MinMatchScore     int
	MaxDistanceKm     float64
	Version           int64
	UpdatedAt         time.Time
}

// DefaultMatchConfiguration возвращает документированную конфигурацию
// по умолчанию для тенанта.
func DefaultMatchConfiguration(tenantID uuid.UUID) MatchConfiguration {
	return MatchConfiguration{
		TenantID:          tenantID,
		Enabled:           true,
		Weights:           DefaultFactorWeights(),
		Tiers:             DefaultProximityTiers(),
		HotMatchThreshold: 85,
		MinMatchScore:     40,
		MaxDistanceKm:     50,
		Version:           1,
	}
}

// Validate проверяет все инварианты конфигурации.
// Возвращает первое нарушенное правило или nil.
func (c MatchConfiguration) Validate() *ValidationError {
	if c.Weights.HasNegative() {
		return &ValidationError{
			Rule:    RuleWeightsNegative,
			Message: "factor weights must be non-negative",
		}
	}
	if sum := c.Weights.Sum(); sum != 100 {
		return &ValidationError{
			Rule:    RuleWeightsSum,
			Message: fmt.Sprintf("factor weights must sum to exactly 100, got %d", sum),
		}
	}
	if !c.Tiers.StrictlyIncreasing() {
		return &ValidationError{
			Rule:    RuleTiersNotIncreasing,
			Message: "proximity tiers must be strictly increasing and positive",
		}
	}
	if c.MinMatchScore < 0 || c.MinMatchScore >= c.HotMatchThreshold || c.HotMatchThreshold > 100 {
		return &ValidationError{
			Rule:    RuleThresholdOrder,
			Message: fmt.Sprintf("expected 0 <= min_match_score < hot_match_threshold <= 100, got min=%d hot=%d", c.MinMatchScore, c.HotMatchThreshold),
		}
	}
	if c.MaxDistanceKm <= 0 {
		return &ValidationError{
			Rule:    RuleMaxDistanceNotPositive,
			Message: "max_distance_km must be positive",
		}
	}
	if c.MaxDistanceKm < c.Tiers.RegionalKm {
		return &ValidationError{
			Rule:    RuleMaxDistanceBelowTier,
			Message: fmt.Sprintf("max_distance_km (%.1f) must not be below the regional tier (%.1f)", c.MaxDistanceKm, c.Tiers.RegionalKm),
		}
	}
	return nil
}

// WeightPreset — именованный пресет весов.
type WeightPreset struct {
	ID          string
	Name        string
	Description string
	Weights     FactorWeights
}

// GetWeightPresets возвращает предустановленные наборы весов.
func GetWeightPresets() []WeightPreset {
	return []WeightPreset{
		{ID: "balanced", Name: "Balanced", Description: "Default distribution across all factors", Weights: DefaultFactorWeights()},
		{ID: "proximity_first", Name: "Neighbourhood first", Description: "Prioritise nearby members", Weights: FactorWeights{Category: 20, Skill: 15, Proximity: 40, Freshness: 10, Reciprocity: 10, Quality: 5}},
		{ID: "skills_first", Name: "Skills first", Description: "Prioritise skill and category fit", Weights: FactorWeights{Category: 30, Skill: 35, Proximity: 15, Freshness: 5, Reciprocity: 10, Quality: 5}},
		{ID: "community", Name: "Community builder", Description: "Prioritise mutual exchanges", Weights: FactorWeights{Category: 20, Skill: 15, Proximity: 20, Freshness: 5, Reciprocity: 35, Quality: 5}},
	}
}

// GetWeightPresetByID возвращает пресет по ID.
func GetWeightPresetByID(id string) *WeightPreset {
	for _, p := range GetWeightPresets() {
		if p.ID == id {
			return &p
		}
	}
	return nil
}

// Classification — классификация выжившего после фильтров матча.
type Classification string

const (
	ClassificationNormal Classification = "normal"
	ClassificationHot    Classification = "hot"
)

func (c Classification) String() string {
	return string(c)
}

// FunnelStage — стадия конверсионной воронки матча.
type FunnelStage string

const (
	StageMatched   FunnelStage = "matched"
	StageViewed    FunnelStage = "viewed"
	StageContacted FunnelStage = "contacted"
	StageCompleted FunnelStage = "completed"
	// StageAbandoned — терминальная стадия отказа, достижима из любой
	// нетерминальной стадии.
	StageAbandoned FunnelStage = "abandoned"
)

func (s FunnelStage) String() string {
	return string(s)
}

// FunnelOrder — упорядоченные стадии воронки (без abandoned).
var FunnelOrder = []FunnelStage{StageMatched, StageViewed, StageContacted, StageCompleted}

// IsValid проверяет, что стадия известна.
func (s FunnelStage) IsValid() bool {
	switch s {
	case StageMatched, StageViewed, StageContacted, StageCompleted, StageAbandoned:
		return true
	}
	return false
}

// IsTerminal сообщает, является ли стадия терминальной.
func (s FunnelStage) IsTerminal() bool {
	return s == StageCompleted || s == StageAbandoned
}

// Next возвращает непосредственного преемника стадии в воронке.
// Для терминальных стадий возвращает ok=false.
func (s FunnelStage) Next() (FunnelStage, bool) {
	for i, stage := range FunnelOrder {
		if stage == s && i+1 < len(FunnelOrder) {
			return FunnelOrder[i+1], true
		}
	}
	return "", false
}

// CanAdvanceTo проверяет допустимость перехода к target.
// Разрешены только переход к непосредственному преемнику и уход
// в abandoned из нетерминальной стадии.
func (s FunnelStage) CanAdvanceTo(target FunnelStage) bool {
	if s.IsTerminal() {
		return false
	}
	if target == StageAbandoned {
		return true
	}
	next, ok := s.Next()
	return ok && next == target
}

// MatchScore — результат скоринга пары объявлений.
// Вычисляется заново при каждом вызове и не мутирует.
type MatchScore struct {
	// Пофакторные оценки 0-100
	Category    float64
	Skill       float64
	Proximity   float64
	Freshness   float64
	Reciprocity float64
	Quality     float64

	// Total — взвешенная итоговая оценка, округлённая до целого 0-100
	Total int
	// ConfigVersion — версия конфигурации, использованная при расчёте
	ConfigVersion int64

	// DistanceKm — расстояние между сторонами; nil, если координаты неизвестны
	DistanceKm *float64
	// ProximityLowConfidence выставляется при отсутствии координат:
	// близость становится слабым сигналом, а не блокером
	ProximityLowConfidence bool

	// Reasons — человекочитаемые причины матча для выдачи
	Reasons []string
}

// MatchRecord — персистентная запись о матче.
// Создаётся классификатором один раз, далее мутирует только стадия
// воронки (строго вперёд) через ConversionTracker.
type MatchRecord struct {
	ID               uuid.UUID
	TenantID         uuid.UUID
	OfferListingID   uuid.UUID
	RequestListingID uuid.UUID
	CategoryID       uuid.UUID

	Score          MatchScore
	Classification Classification
	FunnelStage    FunnelStage

	CreatedAt   time.Time
	ViewedAt    *time.Time
	ContactedAt *time.Time
	CompletedAt *time.Time
	AbandonedAt *time.Time

	// Version — версия записи для optimistic concurrency при смене стадии
	Version int64
}

// StageTimestamp возвращает время достижения стадии, если оно зафиксировано.
func (m *MatchRecord) StageTimestamp(stage FunnelStage) *time.Time {
	switch stage {
	case StageMatched:
		t := m.CreatedAt
		return &t
	case StageViewed:
		return m.ViewedAt
	case StageContacted:
		return m.ContactedAt
	case StageCompleted:
		return m.CompletedAt
	case StageAbandoned:
		return m.AbandonedAt
	}
	return nil
}

// TimeToConversion возвращает время от матча до завершения обмена.
func (m *MatchRecord) TimeToConversion() *time.Duration {
	if m.CompletedAt == nil {
		return nil
	}
	d := m.CompletedAt.Sub(m.CreatedAt)
	return &d
}

// HotMatchEvent — событие для коллаборатора нотификаций при hot-матче.
// Механика доставки вне ядра.
type HotMatchEvent struct {
	MatchID          uuid.UUID
	TenantID         uuid.UUID
	OfferListingID   uuid.UUID
	RequestListingID uuid.UUID
	Score            int
}

// MatchFilter — фильтр для выборок матчей.
type MatchFilter struct {
	TenantID       *uuid.UUID
	Classification *Classification
	FunnelStage    *FunnelStage
	CategoryID     *uuid.UUID
	Window         *TimeWindow

	// Пагинация
	Pagination *PaginationParams
}
