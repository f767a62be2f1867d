package scoring

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"community_exchange/internal/domain"
	"community_exchange/internal/services/proximity"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine() *Engine {
	log := slog.New(slog.NewTextHandler(testWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(log, proximity.New(), nil, 4, 10)
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func ptr[T any](v T) *T { return &v }

func testListing(t domain.ListingType, now time.Time) domain.ListingSummary {
	return domain.ListingSummary{
		ID:         uuid.New(),
		TenantID:   uuid.New(),
		OwnerID:    uuid.New(),
		Type:       t,
		CategoryID: uuid.New(),
		CreatedAt:  now.Add(-time.Hour),
	}
}

func TestCombine_WeightedTotal(t *testing.T) {
	tests := []struct {
		name    string
		score   domain.MatchScore
		weights domain.FactorWeights
		want    int
	}{
		{
			name: "documented example with default weights",
			score: domain.MatchScore{
				Category:    100,
				Skill:       50,
				Proximity:   100,
				Freshness:   80,
				Reciprocity: 0,
				Quality:     60,
			},
			weights: domain.DefaultFactorWeights(),
			want:    71,
		},
		{
			name: "all factors at max",
			score: domain.MatchScore{
				Category: 100, Skill: 100, Proximity: 100,
				Freshness: 100, Reciprocity: 100, Quality: 100,
			},
			weights: domain.DefaultFactorWeights(),
			want:    100,
		},
		{
			name:    "all factors at zero",
			score:   domain.MatchScore{},
			weights: domain.DefaultFactorWeights(),
			want:    0,
		},
		{
			name: "single factor carries full weight",
			score: domain.MatchScore{
				Proximity: 80,
			},
			weights: domain.FactorWeights{Proximity: 100},
			want:    80,
		},
		{
			name: "out of range factor is clamped at the boundary",
			score: domain.MatchScore{
				Category: 250, Skill: -40,
			},
			weights: domain.DefaultFactorWeights(),
			want:    25,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := combine(tt.score, tt.weights)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCalcCategoryScore(t *testing.T) {
	e := newTestEngine()
	now := time.Now()

	leaf := uuid.New()
	parent := uuid.New()
	otherParent := uuid.New()

	tests := []struct {
		name    string
		mutate  func(pair *domain.ListingPair)
		want    float64
	}{
		{
			name: "same leaf category",
			mutate: func(pair *domain.ListingPair) {
				pair.Offer.CategoryID = leaf
				pair.Request.CategoryID = leaf
			},
			want: 100,
		},
		{
			name: "siblings under the same parent",
			mutate: func(pair *domain.ListingPair) {
				pair.Offer.ParentCategoryID = ptr(parent)
				pair.Request.ParentCategoryID = ptr(parent)
			},
			want: 60,
		},
		{
			name: "different parents",
			mutate: func(pair *domain.ListingPair) {
				pair.Offer.ParentCategoryID = ptr(parent)
				pair.Request.ParentCategoryID = ptr(otherParent)
			},
			want: 0,
		},
		{
			name:   "no hierarchy information",
			mutate: func(pair *domain.ListingPair) {},
			want:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pair := domain.ListingPair{
				Offer:   testListing(domain.ListingTypeOffer, now),
				Request: testListing(domain.ListingTypeRequest, now),
			}
			tt.mutate(&pair)
			assert.Equal(t, tt.want, e.calcCategoryScore(pair))
		})
	}
}

func TestCalcSkillScore(t *testing.T) {
	e := newTestEngine()

	tests := []struct {
		name    string
		offer   []string
		request []string
		want    float64
	}{
		{
			name:    "identical tags",
			offer:   []string{"plumbing", "repair"},
			request: []string{"plumbing", "repair"},
			want:    100,
		},
		{
			name:    "half overlap",
			offer:   []string{"a", "b", "c"},
			request: []string{"b", "c", "d"},
			want:    50,
		},
		{
			name:    "no overlap",
			offer:   []string{"a", "b"},
			request: []string{"c", "d"},
			want:    0,
		},
		{
			name:    "both sides without tags degrade to neutral",
			offer:   nil,
			request: nil,
			want:    skillNeutral,
		},
		{
			name:    "one side without tags degrades to neutral",
			offer:   []string{"a"},
			request: nil,
			want:    skillNeutral,
		},
		{
			name:    "case and whitespace are normalized",
			offer:   []string{" Plumbing ", "REPAIR"},
			request: []string{"plumbing", "repair"},
			want:    100,
		},
		{
			name:    "duplicates do not inflate the score",
			offer:   []string{"a", "a", "a"},
			request: []string{"a"},
			want:    100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.calcSkillScore(tt.offer, tt.request)
			assert.InDelta(t, tt.want, got, 0.001)
		})
	}
}

func TestCalcSkillScore_MonotonicInOverlap(t *testing.T) {
	e := newTestEngine()

	request := []string{"a", "b", "c", "d"}
	prev := -1.0
	offer := []string{}
	for _, tag := range request {
		offer = append(offer, tag)
		got := e.calcSkillScore(offer, request)
		require.Greater(t, got, prev, "overlap %d", len(offer))
		prev = got
	}
}

func TestFreshnessOf(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name string
		age  time.Duration
		want float64
	}{
		{name: "just posted", age: time.Minute, want: 100},
		{name: "edge of the full window", age: 24 * time.Hour, want: 100},
		{name: "one half-life past the window", age: 24*time.Hour + 14*24*time.Hour, want: 50},
		{name: "ancient listing hits the floor", age: 365 * 24 * time.Hour, want: freshnessFloor},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := freshnessOf(now.Add(-tt.age), now)
			assert.InDelta(t, tt.want, got, 0.01)
		})
	}

	t.Run("zero timestamp is neutral", func(t *testing.T) {
		assert.Equal(t, float64(freshnessNeutral), freshnessOf(time.Time{}, now))
	})

	t.Run("monotonically non-increasing with age", func(t *testing.T) {
		prev := 101.0
		for age := time.Hour; age < 90*24*time.Hour; age += 12 * time.Hour {
			got := freshnessOf(now.Add(-age), now)
			require.LessOrEqual(t, got, prev, "age %s", age)
			prev = got
		}
	})
}

func TestCalcFreshnessScore_TakesOlderSide(t *testing.T) {
	e := newTestEngine()
	now := time.Now()

	pair := domain.ListingPair{
		Offer:   testListing(domain.ListingTypeOffer, now),
		Request: testListing(domain.ListingTypeRequest, now),
	}
	pair.Offer.CreatedAt = now.Add(-time.Hour)
	pair.Request.CreatedAt = now.Add(-60 * 24 * time.Hour)

	got := e.calcFreshnessScore(pair, now)
	assert.Less(t, got, 100.0)
	assert.Equal(t, freshnessOf(pair.Request.CreatedAt, now), got)
}

func TestCalcReciprocityScore(t *testing.T) {
	e := newTestEngine()
	now := time.Now()

	gardening := uuid.New()
	plumbing := uuid.New()

	tests := []struct {
		name              string
		offerOwnerOthers  []domain.ListingRef
		requestOwnerOthers []domain.ListingRef
		want              float64
	}{
		{
			name: "mutual: counterpart offers what the offer owner requests",
			offerOwnerOthers: []domain.ListingRef{
				{Type: domain.ListingTypeRequest, CategoryID: gardening},
			},
			requestOwnerOthers: []domain.ListingRef{
				{Type: domain.ListingTypeOffer, CategoryID: gardening},
			},
			want: reciprocityMutual,
		},
		{
			name: "potential: offer owner could serve another counterpart request",
			offerOwnerOthers: []domain.ListingRef{
				{Type: domain.ListingTypeOffer, CategoryID: plumbing},
			},
			requestOwnerOthers: []domain.ListingRef{
				{Type: domain.ListingTypeRequest, CategoryID: plumbing},
			},
			want: reciprocityPotential,
		},
		{
			name: "counterpart has listings but nothing lines up",
			offerOwnerOthers: []domain.ListingRef{
				{Type: domain.ListingTypeRequest, CategoryID: plumbing},
			},
			requestOwnerOthers: []domain.ListingRef{
				{Type: domain.ListingTypeOffer, CategoryID: gardening},
			},
			want: reciprocityNone,
		},
		{
			name:               "counterpart has no other listings",
			requestOwnerOthers: nil,
			want:               reciprocityNoListings,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pair := domain.ListingPair{
				Offer:   testListing(domain.ListingTypeOffer, now),
				Request: testListing(domain.ListingTypeRequest, now),
			}
			pair.Offer.OwnerListings = tt.offerOwnerOthers
			pair.Request.OwnerListings = tt.requestOwnerOthers
			assert.Equal(t, tt.want, e.calcReciprocityScore(pair))
		})
	}
}

func TestListingQuality(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(l *domain.ListingSummary)
		want   float64
	}{
		{
			name:   "bare listing gets the base score",
			mutate: func(l *domain.ListingSummary) {},
			want:   50,
		},
		{
			name: "decent description",
			mutate: func(l *domain.ListingSummary) {
				l.DescriptionLength = 60
			},
			want: 60,
		},
		{
			name: "long description counts twice",
			mutate: func(l *domain.ListingSummary) {
				l.DescriptionLength = 150
			},
			want: 70,
		},
		{
			name: "everything filled in",
			mutate: func(l *domain.ListingSummary) {
				l.DescriptionLength = 150
				l.HasImage = true
				l.OwnerVerified = true
				l.OwnerRating = ptr(4.8)
			},
			want: 100,
		},
		{
			name: "low rating earns no boost",
			mutate: func(l *domain.ListingSummary) {
				l.OwnerRating = ptr(3.2)
			},
			want: 50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := testListing(domain.ListingTypeOffer, time.Now())
			tt.mutate(&l)
			assert.Equal(t, tt.want, listingQuality(l))
		})
	}
}

func TestScore_EndToEnd(t *testing.T) {
	e := newTestEngine()
	now := time.Now()

	cfg := domain.DefaultMatchConfiguration(uuid.New())
	cfg.Version = 7

	category := uuid.New()
	gardening := uuid.New()

	offer := testListing(domain.ListingTypeOffer, now)
	offer.CategoryID = category
	offer.SkillTags = []string{"plumbing", "repair"}
	offer.Latitude = ptr(55.7558)
	offer.Longitude = ptr(37.6173)
	offer.CreatedAt = now.Add(-2 * time.Hour)
	offer.DescriptionLength = 150
	offer.HasImage = true
	offer.OwnerVerified = true
	offer.OwnerRating = ptr(4.9)
	offer.OwnerListings = []domain.ListingRef{
		{Type: domain.ListingTypeRequest, CategoryID: gardening},
	}

	request := testListing(domain.ListingTypeRequest, now)
	request.CategoryID = category
	request.SkillTags = []string{"plumbing", "repair"}
	request.Latitude = ptr(55.76)   // сотни метров от offer
	request.Longitude = ptr(37.62)
	request.CreatedAt = now.Add(-3 * time.Hour)
	request.DescriptionLength = 150
	request.HasImage = true
	request.OwnerVerified = true
	request.OwnerRating = ptr(4.7)
	request.OwnerListings = []domain.ListingRef{
		{Type: domain.ListingTypeOffer, CategoryID: gardening},
	}

	score := e.Score(domain.ListingPair{Offer: offer, Request: request}, cfg, now)

	assert.Equal(t, 100.0, score.Category)
	assert.Equal(t, 100.0, score.Skill)
	assert.Equal(t, 100.0, score.Proximity)
	assert.Equal(t, 100.0, score.Freshness)
	assert.Equal(t, float64(reciprocityMutual), score.Reciprocity)
	assert.Equal(t, 100.0, score.Quality)
	assert.Equal(t, 100, score.Total)
	assert.EqualValues(t, 7, score.ConfigVersion)
	assert.False(t, score.ProximityLowConfidence)
	require.NotNil(t, score.DistanceKm)

	assert.Contains(t, score.Reasons, "Same category")
	assert.Contains(t, score.Reasons, "Skills match the request")
	assert.Contains(t, score.Reasons, "Posted recently")
	assert.Contains(t, score.Reasons, "Mutual exchange possible")
}

func TestScore_MissingDataDegradesGracefully(t *testing.T) {
	e := newTestEngine()
	now := time.Now()
	cfg := domain.DefaultMatchConfiguration(uuid.New())

	// Пара вообще без обогащённых данных
	pair := domain.ListingPair{
		Offer:   domain.ListingSummary{ID: uuid.New(), Type: domain.ListingTypeOffer},
		Request: domain.ListingSummary{ID: uuid.New(), Type: domain.ListingTypeRequest},
	}

	score := e.Score(pair, cfg, now)

	assert.Equal(t, float64(skillNeutral), score.Skill)
	assert.Equal(t, float64(proximity.NeutralScore), score.Proximity)
	assert.True(t, score.ProximityLowConfidence)
	assert.Nil(t, score.DistanceKm)
	assert.Equal(t, float64(freshnessNeutral), score.Freshness)
	assert.Equal(t, float64(reciprocityNoListings), score.Reciprocity)
	assert.GreaterOrEqual(t, score.Total, 0)
	assert.LessOrEqual(t, score.Total, 100)
}

func TestScoreBatch(t *testing.T) {
	e := newTestEngine()
	cfg := domain.DefaultMatchConfiguration(uuid.New())
	cfg.Version = 3
	now := time.Now()

	pairs := make([]domain.ListingPair, 37)
	for i := range pairs {
		pairs[i] = domain.ListingPair{
			Offer:   testListing(domain.ListingTypeOffer, now),
			Request: testListing(domain.ListingTypeRequest, now),
		}
	}

	scores, err := e.ScoreBatch(context.Background(), pairs, cfg)
	require.NoError(t, err)
	require.Len(t, scores, len(pairs))

	for i, s := range scores {
		assert.EqualValues(t, 3, s.ConfigVersion, "pair %d", i)
		assert.GreaterOrEqual(t, s.Total, 0)
		assert.LessOrEqual(t, s.Total, 100)
	}
}

func TestScoreBatch_Deterministic(t *testing.T) {
	e := newTestEngine()
	cfg := domain.DefaultMatchConfiguration(uuid.New())
	now := time.Now()

	pair := domain.ListingPair{
		Offer:   testListing(domain.ListingTypeOffer, now),
		Request: testListing(domain.ListingTypeRequest, now),
	}
	pair.Offer.SkillTags = []string{"a", "b"}
	pair.Request.SkillTags = []string{"b", "c"}

	first := e.Score(pair, cfg, now)
	second := e.Score(pair, cfg, now)
	assert.Equal(t, first.Total, second.Total)
	assert.Equal(t, first, second)
}

func TestScoreBatch_EmptyInput(t *testing.T) {
	e := newTestEngine()
	scores, err := e.ScoreBatch(context.Background(), nil, domain.DefaultMatchConfiguration(uuid.New()))
	require.NoError(t, err)
	assert.Nil(t, scores)
}

func TestScoreBatch_ContextCancelled(t *testing.T) {
	e := newTestEngine()
	cfg := domain.DefaultMatchConfiguration(uuid.New())
	now := time.Now()

	pairs := make([]domain.ListingPair, 500)
	for i := range pairs {
		pairs[i] = domain.ListingPair{
			Offer:   testListing(domain.ListingTypeOffer, now),
			Request: testListing(domain.ListingTypeRequest, now),
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.ScoreBatch(ctx, pairs, cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
