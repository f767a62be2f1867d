package analytics

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"community_exchange/internal/domain"
	"community_exchange/internal/services/proximity"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockReader struct {
	records []domain.MatchRecord
	err     error
}

func (m *mockReader) ListByWindow(_ context.Context, _ uuid.UUID, _ domain.TimeWindow) ([]domain.MatchRecord, error) {
	return m.records, m.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func ptr[T any](v T) *T { return &v }

func record(createdAt time.Time, total int, mutate ...func(m *domain.MatchRecord)) domain.MatchRecord {
	m := domain.MatchRecord{
		ID:             uuid.New(),
		CategoryID:     uuid.New(),
		Classification: domain.ClassificationNormal,
		FunnelStage:    domain.StageMatched,
		CreatedAt:      createdAt,
		Score:          domain.MatchScore{Total: total},
		Version:        1,
	}
	for _, fn := range mutate {
		fn(&m)
	}
	return m
}

func completed(at time.Time) func(m *domain.MatchRecord) {
	return func(m *domain.MatchRecord) {
		viewed := m.CreatedAt.Add(time.Hour)
		contacted := m.CreatedAt.Add(2 * time.Hour)
		m.ViewedAt = &viewed
		m.ContactedAt = &contacted
		m.CompletedAt = &at
		m.FunnelStage = domain.StageCompleted
	}
}

func TestBuildReport_Empty(t *testing.T) {
	agg := New(discardLogger(), &mockReader{})
	window := domain.TimeWindow{From: time.Now().Add(-24 * time.Hour), To: time.Now()}

	report, err := agg.BuildReport(context.Background(), uuid.New(), window, domain.DefaultProximityTiers())
	require.NoError(t, err)

	assert.Zero(t, report.TotalMatches)
	assert.Zero(t, report.HotMatches)
	assert.Equal(t, 0, report.ScoreDistribution[ScoreBucketExcellent])
	assert.Nil(t, report.AvgTimeToConversionHours)

	// Все корзины присутствуют даже при нуле матчей
	assert.Len(t, report.ScoreDistribution, 4)
	assert.Len(t, report.DistanceDistribution, 7)
	assert.Len(t, report.Funnel, 5)
}

func TestBuildReport_ScoreDistribution(t *testing.T) {
	now := time.Now()
	reader := &mockReader{records: []domain.MatchRecord{
		record(now, 10),
		record(now, 39),
		record(now, 40),
		record(now, 59),
		record(now, 60),
		record(now, 79),
		record(now, 80),
		record(now, 100),
	}}

	agg := New(discardLogger(), reader)
	report, err := agg.BuildReport(context.Background(), uuid.New(), domain.TimeWindow{From: now.Add(-time.Hour), To: now.Add(time.Hour)}, domain.DefaultProximityTiers())
	require.NoError(t, err)

	assert.Equal(t, 2, report.ScoreDistribution[ScoreBucketWeak])
	assert.Equal(t, 2, report.ScoreDistribution[ScoreBucketModerate])
	assert.Equal(t, 2, report.ScoreDistribution[ScoreBucketStrong])
	assert.Equal(t, 2, report.ScoreDistribution[ScoreBucketExcellent])
	assert.Equal(t, 8, report.TotalMatches)
}

func TestBuildReport_DistanceDistribution(t *testing.T) {
	now := time.Now()
	withDistance := func(km float64) func(m *domain.MatchRecord) {
		return func(m *domain.MatchRecord) { m.Score.DistanceKm = ptr(km) }
	}

	reader := &mockReader{records: []domain.MatchRecord{
		record(now, 50, withDistance(2)),   // walking
		record(now, 50, withDistance(10)),  // local
		record(now, 50, withDistance(25)),  // city
		record(now, 50, withDistance(45)),  // regional
		record(now, 50, withDistance(90)),  // max
		record(now, 50, withDistance(150)), // beyond
		record(now, 50),                    // unknown
	}}

	agg := New(discardLogger(), reader)
	report, err := agg.BuildReport(context.Background(), uuid.New(), domain.TimeWindow{From: now.Add(-time.Hour), To: now.Add(time.Hour)}, domain.DefaultProximityTiers())
	require.NoError(t, err)

	assert.Equal(t, 1, report.DistanceDistribution[proximity.TierWalking])
	assert.Equal(t, 1, report.DistanceDistribution[proximity.TierLocal])
	assert.Equal(t, 1, report.DistanceDistribution[proximity.TierCity])
	assert.Equal(t, 1, report.DistanceDistribution[proximity.TierRegional])
	assert.Equal(t, 1, report.DistanceDistribution[proximity.TierMax])
	assert.Equal(t, 1, report.DistanceDistribution[proximity.TierBeyond])
	assert.Equal(t, 1, report.DistanceDistribution[proximity.TierUnknown])
}

func TestBuildReport_Funnel(t *testing.T) {
	now := time.Now()
	viewed := func(m *domain.MatchRecord) {
		at := m.CreatedAt.Add(time.Hour)
		m.ViewedAt = &at
		m.FunnelStage = domain.StageViewed
	}
	abandoned := func(m *domain.MatchRecord) {
		at := m.CreatedAt.Add(time.Hour)
		m.AbandonedAt = &at
		m.FunnelStage = domain.StageAbandoned
	}

	reader := &mockReader{records: []domain.MatchRecord{
		record(now, 50),
		record(now, 50, viewed),
		record(now, 50, viewed),
		record(now, 50, completed(now.Add(5*time.Hour))),
		record(now, 50, abandoned),
	}}

	agg := New(discardLogger(), reader)
	report, err := agg.BuildReport(context.Background(), uuid.New(), domain.TimeWindow{From: now.Add(-time.Hour), To: now.Add(time.Hour)}, domain.DefaultProximityTiers())
	require.NoError(t, err)

	byStage := make(map[domain.FunnelStage]FunnelStageStats)
	for _, s := range report.Funnel {
		byStage[s.Stage] = s
	}

	// Завершённый матч засчитывается на всех предшествующих стадиях
	assert.Equal(t, 5, byStage[domain.StageMatched].Count)
	assert.Equal(t, 3, byStage[domain.StageViewed].Count)
	assert.Equal(t, 1, byStage[domain.StageContacted].Count)
	assert.Equal(t, 1, byStage[domain.StageCompleted].Count)
	assert.Equal(t, 1, byStage[domain.StageAbandoned].Count)

	assert.Equal(t, 100.0, byStage[domain.StageMatched].PercentOfMatched)
	assert.Equal(t, 60.0, byStage[domain.StageViewed].PercentOfMatched)
	assert.Equal(t, 20.0, byStage[domain.StageCompleted].PercentOfMatched)
}

func TestBuildReport_AvgTimeToConversion(t *testing.T) {
	now := time.Now()
	reader := &mockReader{records: []domain.MatchRecord{
		record(now, 50, completed(now.Add(4*time.Hour))),
		record(now, 50, completed(now.Add(8*time.Hour))),
		record(now, 50), // незавершённый не учитывается
	}}

	agg := New(discardLogger(), reader)
	report, err := agg.BuildReport(context.Background(), uuid.New(), domain.TimeWindow{From: now.Add(-time.Hour), To: now.Add(time.Hour)}, domain.DefaultProximityTiers())
	require.NoError(t, err)

	require.NotNil(t, report.AvgTimeToConversionHours)
	assert.InDelta(t, 6.0, *report.AvgTimeToConversionHours, 0.01)
}

func TestBuildReport_Categories(t *testing.T) {
	now := time.Now()
	catA := uuid.New()
	catB := uuid.New()

	inCategory := func(id uuid.UUID) func(m *domain.MatchRecord) {
		return func(m *domain.MatchRecord) { m.CategoryID = id }
	}

	reader := &mockReader{records: []domain.MatchRecord{
		record(now, 80, inCategory(catA), completed(now.Add(time.Hour*3))),
		record(now, 60, inCategory(catA)),
		record(now, 70, inCategory(catA)),
		record(now, 90, inCategory(catB)),
	}}

	agg := New(discardLogger(), reader)
	report, err := agg.BuildReport(context.Background(), uuid.New(), domain.TimeWindow{From: now.Add(-time.Hour), To: now.Add(time.Hour)}, domain.DefaultProximityTiers())
	require.NoError(t, err)

	require.Len(t, report.Categories, 2)

	// Крупная категория первой
	assert.Equal(t, catA, report.Categories[0].CategoryID)
	assert.Equal(t, 3, report.Categories[0].Matches)
	assert.Equal(t, 70.0, report.Categories[0].AvgScore)
	assert.Equal(t, 1, report.Categories[0].Conversions)
	assert.Equal(t, 33.3, report.Categories[0].ConversionRate)

	assert.Equal(t, catB, report.Categories[1].CategoryID)
	assert.Equal(t, 0.0, report.Categories[1].ConversionRate)
}

func TestBuildReport_ReaderErrorPropagates(t *testing.T) {
	dbErr := errors.New("timeout")
	agg := New(discardLogger(), &mockReader{err: dbErr})

	_, err := agg.BuildReport(context.Background(), uuid.New(), domain.TimeWindow{}, domain.DefaultProximityTiers())
	require.Error(t, err)
	assert.ErrorIs(t, err, dbErr)
}

func TestTrend_Daily(t *testing.T) {
	from := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	window := domain.TimeWindow{From: from, To: from.Add(3 * 24 * time.Hour)}

	hot := func(m *domain.MatchRecord) { m.Classification = domain.ClassificationHot }

	reader := &mockReader{records: []domain.MatchRecord{
		record(from.Add(2*time.Hour), 50),
		record(from.Add(3*time.Hour), 90, hot),
		record(from.Add(26*time.Hour), 50),
	}}

	agg := New(discardLogger(), reader)
	points, err := agg.Trend(context.Background(), uuid.New(), window, GranularityDaily)
	require.NoError(t, err)

	require.Len(t, points, 3)
	assert.Equal(t, "2026-08-01", points[0].Period)
	assert.Equal(t, 2, points[0].Total)
	assert.Equal(t, 1, points[0].HotMatches)
	assert.Equal(t, 1, points[1].Total)

	// День без матчей присутствует с нулями
	assert.Equal(t, "2026-08-03", points[2].Period)
	assert.Zero(t, points[2].Total)
}

func TestTrend_Weekly(t *testing.T) {
	// Две ISO-недели подряд
	from := time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC) // понедельник
	window := domain.TimeWindow{From: from, To: from.Add(14 * 24 * time.Hour)}

	reader := &mockReader{records: []domain.MatchRecord{
		record(from.Add(24*time.Hour), 50),
		record(from.Add(8*24*time.Hour), 50),
		record(from.Add(9*24*time.Hour), 50),
	}}

	agg := New(discardLogger(), reader)
	points, err := agg.Trend(context.Background(), uuid.New(), window, GranularityWeekly)
	require.NoError(t, err)

	require.Len(t, points, 2)
	assert.Equal(t, 1, points[0].Total)
	assert.Equal(t, 2, points[1].Total)
}
