package matchingapi

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"community_exchange/internal/domain"

	"github.com/google/uuid"
)

// weightFields — плоское представление весов в API.
type weightFields struct {
	CategoryWeight    float64 `json:"category_weight"`
	SkillWeight       float64 `json:"skill_weight"`
	ProximityWeight   float64 `json:"proximity_weight"`
	FreshnessWeight   float64 `json:"freshness_weight"`
	ReciprocityWeight float64 `json:"reciprocity_weight"`
	QualityWeight     float64 `json:"quality_weight"`
}

func weightsToFields(w domain.FactorWeights) weightFields {
	return weightFields{
		CategoryWeight:    float64(w.Category),
		SkillWeight:       float64(w.Skill),
		ProximityWeight:   float64(w.Proximity),
		FreshnessWeight:   float64(w.Freshness),
		ReciprocityWeight: float64(w.Reciprocity),
		QualityWeight:     float64(w.Quality),
	}
}

// toWeights переводит плоские поля в канонические целые проценты.
// Клиенты исторически шлют веса и долями (0.25), и процентами (25):
// доли распознаются по сумме около единицы и нормализуются на границе,
// дальше ядро работает только с процентами.
func (f weightFields) toWeights() domain.FactorWeights {
	values := []float64{
		f.CategoryWeight, f.SkillWeight, f.ProximityWeight,
		f.FreshnessWeight, f.ReciprocityWeight, f.QualityWeight,
	}

	var sum float64
	for _, v := range values {
		sum += v
	}

	scale := 1.0
	if sum > 0 && sum <= 1.5 {
		scale = 100
	}

	return domain.FactorWeights{
		Category:    int(math.Round(f.CategoryWeight * scale)),
		Skill:       int(math.Round(f.SkillWeight * scale)),
		Proximity:   int(math.Round(f.ProximityWeight * scale)),
		Freshness:   int(math.Round(f.FreshnessWeight * scale)),
		Reciprocity: int(math.Round(f.ReciprocityWeight * scale)),
		Quality:     int(math.Round(f.QualityWeight * scale)),
	}
}

// configRequest — тело PUT /config. Конфигурация заменяется целиком.
type configRequest struct {
	Enabled bool `json:"enabled"`
	weightFields
	WalkingKm         float64 `json:"walking_km"`
	LocalKm           float64 `json:"local_km"`
	CityKm            float64 `json:"city_km"`
	RegionalKm        float64 `json:"regional_km"`
	MaxKm             float64 `json:"max_km"`
	HotMatchThreshold int     `json:"hot_match_threshold"`
	MinMatchScore     int     `json:"min_match_score"`
	MaxDistanceKm     float64 `json:"max_distance_km"`
}

func (r configRequest) toDomain(tenantID uuid.UUID) domain.MatchConfiguration {
	return domain.MatchConfiguration{
		TenantID: tenantID,
		Enabled:  r.Enabled,
		Weights:  r.weightFields.toWeights(),
		Tiers: domain.ProximityTiers{
			WalkingKm:  r.WalkingKm,
			LocalKm:    r.LocalKm,
			CityKm:     r.CityKm,
			RegionalKm: r.RegionalKm,
			MaxKm:      r.MaxKm,
		},
		HotMatchThreshold: r.HotMatchThreshold,
		MinMatchScore:     r.MinMatchScore,
		MaxDistanceKm:     r.MaxDistanceKm,
	}
}

// configResponse — плоское представление конфигурации в ответах.
type configResponse struct {
	TenantID string `json:"tenant_id"`
	Enabled  bool   `json:"enabled"`
	weightFields
	WalkingKm         float64   `json:"walking_km"`
	LocalKm           float64   `json:"local_km"`
	CityKm            float64   `json:"city_km"`
	RegionalKm        float64   `json:"regional_km"`
	MaxKm             float64   `json:"max_km"`
	HotMatchThreshold int       `json:"hot_match_threshold"`
	MinMatchScore     int       `json:"min_match_score"`
	MaxDistanceKm     float64   `json:"max_distance_km"`
	Version           int64     `json:"version"`
	UpdatedAt         time.Time `json:"updated_at,omitzero"`
}

func configToResponse(cfg domain.MatchConfiguration) configResponse {
	return configResponse{
		TenantID:          cfg.TenantID.String(),
		Enabled:           cfg.Enabled,
		weightFields:      weightsToFields(cfg.Weights),
		WalkingKm:         cfg.Tiers.WalkingKm,
		LocalKm:           cfg.Tiers.LocalKm,
		CityKm:            cfg.Tiers.CityKm,
		RegionalKm:        cfg.Tiers.RegionalKm,
		MaxKm:             cfg.Tiers.MaxKm,
		HotMatchThreshold: cfg.HotMatchThreshold,
		MinMatchScore:     cfg.MinMatchScore,
		MaxDistanceKm:     cfg.MaxDistanceKm,
		Version:           cfg.Version,
		UpdatedAt:         cfg.UpdatedAt,
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}
