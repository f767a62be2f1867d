package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

// TestMatchConfigurationValidate тестирует правила валидации конфигурации.
func TestMatchConfigurationValidate(t *testing.T) {
	base := DefaultMatchConfiguration(uuid.New())

	tests := []struct {
		name     string
		mutate   func(c *MatchConfiguration)
		wantRule string
	}{
		{
			name:     "defaults are valid",
			mutate:   func(c *MatchConfiguration) {},
			wantRule: "",
		},
		{
			name: "weights sum above 100",
			mutate: func(c *MatchConfiguration) {
				c.Weights.Category = 30 // 25 -> 30, сумма 105
			},
			wantRule: RuleWeightsSum,
		},
		{
			name: "weights sum below 100",
			mutate: func(c *MatchConfiguration) {
				c.Weights.Quality = 0
			},
			wantRule: RuleWeightsSum,
		},
		{
			name: "negative weight",
			mutate: func(c *MatchConfiguration) {
				c.Weights.Quality = -5
				c.Weights.Category = 35
			},
			wantRule: RuleWeightsNegative,
		},
		{
			name: "tiers not increasing",
			mutate: func(c *MatchConfiguration) {
				c.Tiers.CityKm = c.Tiers.LocalKm
			},
			wantRule: RuleTiersNotIncreasing,
		},
		{
			name: "min above hot threshold",
			mutate: func(c *MatchConfiguration) {
				c.MinMatchScore = 90
			},
			wantRule: RuleThresholdOrder,
		},
		{
			name: "min equals hot threshold",
			mutate: func(c *MatchConfiguration) {
				c.MinMatchScore = c.HotMatchThreshold
			},
			wantRule: RuleThresholdOrder,
		},
		{
			name: "hot threshold above 100",
			mutate: func(c *MatchConfiguration) {
				c.HotMatchThreshold = 105
			},
			wantRule: RuleThresholdOrder,
		},
		{
			name: "max distance zero",
			mutate: func(c *MatchConfiguration) {
				c.MaxDistanceKm = 0
			},
			wantRule: RuleMaxDistanceNotPositive,
		},
		{
			name: "max distance below regional tier",
			mutate: func(c *MatchConfiguration) {
				c.MaxDistanceKm = c.Tiers.RegionalKm - 10
			},
			wantRule: RuleMaxDistanceBelowTier,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantRule == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want rule %s", tt.wantRule)
			}
			if err.Rule != tt.wantRule {
				t.Errorf("Validate() rule = %s, want %s", err.Rule, tt.wantRule)
			}
		})
	}
}

// TestWeightPresets тестирует, что все пресеты валидны.
func TestWeightPresets(t *testing.T) {
	presets := GetWeightPresets()
	if len(presets) == 0 {
		t.Fatal("no weight presets")
	}

	for _, p := range presets {
		if sum := p.Weights.Sum(); sum != 100 {
			t.Errorf("preset %s: weights sum = %d, want 100", p.ID, sum)
		}
		if p.Weights.HasNegative() {
			t.Errorf("preset %s has negative weight", p.ID)
		}
	}

	if preset := GetWeightPresetByID("proximity_first"); preset == nil {
		t.Error("GetWeightPresetByID('proximity_first') returned nil")
	}
	if preset := GetWeightPresetByID("nonexistent"); preset != nil {
		t.Error("GetWeightPresetByID('nonexistent') should return nil")
	}
}

// TestFunnelStageTransitions тестирует допустимость переходов воронки.
func TestFunnelStageTransitions(t *testing.T) {
	tests := []struct {
		from   FunnelStage
		to     FunnelStage
		wantOK bool
	}{
		{StageMatched, StageViewed, true},
		{StageViewed, StageContacted, true},
		{StageContacted, StageCompleted, true},
		{StageMatched, StageContacted, false}, // пропуск стадии
		{StageMatched, StageCompleted, false},
		{StageViewed, StageMatched, false}, // назад нельзя
		{StageCompleted, StageAbandoned, false},
		{StageMatched, StageAbandoned, true},
		{StageContacted, StageAbandoned, true},
		{StageAbandoned, StageViewed, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanAdvanceTo(tt.to); got != tt.wantOK {
				t.Errorf("CanAdvanceTo(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.wantOK)
			}
		})
	}
}

// TestFunnelStageNext тестирует порядок стадий.
func TestFunnelStageNext(t *testing.T) {
	next, ok := StageMatched.Next()
	if !ok || next != StageViewed {
		t.Errorf("StageMatched.Next() = %s, %v", next, ok)
	}
	if _, ok := StageCompleted.Next(); ok {
		t.Error("StageCompleted.Next() should fail, terminal stage")
	}
}

// TestMatchRecordTimestamps тестирует доступ к таймстемпам стадий.
func TestMatchRecordTimestamps(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	completed := created.Add(48 * time.Hour)

	m := MatchRecord{
		CreatedAt:   created,
		CompletedAt: &completed,
		FunnelStage: StageCompleted,
	}

	if ts := m.StageTimestamp(StageMatched); ts == nil || !ts.Equal(created) {
		t.Errorf("StageTimestamp(matched) = %v, want %v", ts, created)
	}
	if ts := m.StageTimestamp(StageViewed); ts != nil {
		t.Errorf("StageTimestamp(viewed) = %v, want nil", ts)
	}

	d := m.TimeToConversion()
	if d == nil || *d != 48*time.Hour {
		t.Errorf("TimeToConversion() = %v, want 48h", d)
	}
}
