package matchingapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"community_exchange/internal/domain"
	"community_exchange/internal/lib/logger/sl"
	"community_exchange/internal/lib/metrics"
	"community_exchange/internal/repository"
	"community_exchange/internal/repository/match_cache"
	"community_exchange/internal/services/analytics"
	"community_exchange/internal/services/conversion"
	"community_exchange/internal/services/matchconfig"
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/cors"
)

// ConfigService — операции над конфигурацией матчинга.
type ConfigService interface {
	Get(ctx context.Context, tenantID uuid.UUID) (domain.MatchConfiguration, error)
	Update(ctx context.Context, cfg domain.MatchConfiguration) (domain.MatchConfiguration, error)
	ApplyPreset(ctx context.Context, tenantID uuid.UUID, presetID string) (domain.MatchConfiguration, error)
	Presets() []domain.WeightPreset
}

// FunnelService — продвижение матчей по воронке.
type FunnelService interface {
	AdvanceWithRetry(ctx context.Context, matchID uuid.UUID, target domain.FunnelStage, attempts int) (domain.MatchRecord, error)
}

// AnalyticsService — построение отчётов.
type AnalyticsService interface {
	BuildReport(ctx context.Context, tenantID uuid.UUID, window domain.TimeWindow, tiers domain.ProximityTiers) (analytics.Report, error)
	Trend(ctx context.Context, tenantID uuid.UUID, window domain.TimeWindow, granularity analytics.TrendGranularity) ([]analytics.TrendPoint, error)
}

// MatchLister — постраничная выборка матчей.
type MatchLister interface {
	ListMatches(ctx context.Context, filter domain.MatchFilter) (*domain.PaginatedResult[domain.MatchRecord], error)
}

// CacheAdmin — чтение и административный сброс кэша выдач.
type CacheAdmin interface {
	GetUserMatches(ctx context.Context, tenantID, userID uuid.UUID) ([]match_cache.CachedMatch, bool, error)
	ClearTenant(ctx context.Context, tenantID uuid.UUID) (int64, error)
}

// Handler — административный HTTP API движка матчинга.
type Handler struct {
	log       *slog.Logger
	config    ConfigService
	funnel    FunnelService
	analytics AnalyticsService
	matches   MatchLister
	cache     CacheAdmin
	metrics   *metrics.MatchMetrics
}

func New(
	log *slog.Logger,
	config ConfigService,
	funnel FunnelService,
	analyticsService AnalyticsService,
	matches MatchLister,
	cache CacheAdmin,
	m *metrics.MatchMetrics,
) *Handler {
	return &Handler{
		log:       log,
		config:    config,
		funnel:    funnel,
		analytics: analyticsService,
		matches:   matches,
		cache:     cache,
		metrics:   m,
	}
}

// Router собирает маршруты API.
func (h *Handler) Router(allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPut, http.MethodPost},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}).Handler)

	r.Route("/api/v2/admin/matching", func(r chi.Router) {
		r.Get("/config", h.getConfig)
		r.Put("/config", h.updateConfig)
		r.Get("/presets", h.listPresets)
		r.Post("/presets/{presetID}/apply", h.applyPreset)
		r.Get("/stats", h.getStats)
		r.Get("/trends", h.getTrends)
		r.Get("/matches", h.listMatches)
		r.Post("/matches/{matchID}/advance", h.advanceMatch)
		r.Get("/cache/users/{userID}", h.getCachedMatches)
		r.Post("/cache/clear", h.clearCache)
		r.Get("/metrics", h.getMetrics)
	})

	return r
}

func (h *Handler) getConfig(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantID(w, r)
	if !ok {
		return
	}

	cfg, err := h.config.Get(r.Context(), tenantID)
	if err != nil {
		h.serverError(w, r, "failed to load config", err)
		return
	}

	writeJSON(w, http.StatusOK, configToResponse(cfg))
}

func (h *Handler) updateConfig(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantID(w, r)
	if !ok {
		return
	}

	var req configRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON")
		return
	}

	updated, err := h.config.Update(r.Context(), req.toDomain(tenantID))
	if err != nil {
		var verr *domain.ValidationError
		switch {
		case errors.As(err, &verr):
			writeError(w, http.StatusUnprocessableEntity, verr.Rule, verr.Message)
		case errors.Is(err, repository.ErrVersionConflict):
			writeError(w, http.StatusConflict, "version_conflict", "config was updated concurrently, reload and retry")
		default:
			h.serverError(w, r, "failed to update config", err)
		}
		return
	}

	writeJSON(w, http.StatusOK, configToResponse(updated))
}

func (h *Handler) listPresets(w http.ResponseWriter, r *http.Request) {
	presets := h.config.Presets()

	type presetResponse struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Description string `json:"description"`
		weightFields
	}

	out := make([]presetResponse, 0, len(presets))
	for _, p := range presets {
		out = append(out, presetResponse{
			ID:           p.ID,
			Name:         p.Name,
			Description:  p.Description,
			weightFields: weightsToFields(p.Weights),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"presets": out})
}

func (h *Handler) applyPreset(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantID(w, r)
	if !ok {
		return
	}

	cfg, err := h.config.ApplyPreset(r.Context(), tenantID, chi.URLParam(r, "presetID"))
	if err != nil {
		if errors.Is(err, matchconfig.ErrUnknownPreset) {
			writeError(w, http.StatusNotFound, "unknown_preset", "no such weight preset")
			return
		}
		h.serverError(w, r, "failed to apply preset", err)
		return
	}

	writeJSON(w, http.StatusOK, configToResponse(cfg))
}

func (h *Handler) getStats(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantID(w, r)
	if !ok {
		return
	}

	days := queryInt(r, "days", 30)
	window := domain.LastDays(time.Now(), days)

	cfg, err := h.config.Get(r.Context(), tenantID)
	if err != nil {
		h.serverError(w, r, "failed to load config", err)
		return
	}

	report, err := h.analytics.BuildReport(r.Context(), tenantID, window, cfg.Tiers)
	if err != nil {
		h.serverError(w, r, "failed to build report", err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) getTrends(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantID(w, r)
	if !ok {
		return
	}

	granularity := analytics.GranularityDaily
	if r.URL.Query().Get("granularity") == string(analytics.GranularityWeekly) {
		granularity = analytics.GranularityWeekly
	}

	days := queryInt(r, "days", 30)
	window := domain.LastDays(time.Now(), days)

	points, err := h.analytics.Trend(r.Context(), tenantID, window, granularity)
	if err != nil {
		h.serverError(w, r, "failed to build trend", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"granularity": granularity,
		"points":      points,
	})
}

func (h *Handler) listMatches(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantID(w, r)
	if !ok {
		return
	}

	filter := domain.MatchFilter{TenantID: &tenantID}

	if raw := r.URL.Query().Get("classification"); raw != "" {
		c := domain.Classification(raw)
		filter.Classification = &c
	}
	if raw := r.URL.Query().Get("stage"); raw != "" {
		stage := domain.FunnelStage(raw)
		if !stage.IsValid() {
			writeError(w, http.StatusBadRequest, "unknown_stage", "unknown funnel stage")
			return
		}
		filter.FunnelStage = &stage
	}

	filter.Pagination = &domain.PaginationParams{
		PageSize:  int32(queryInt(r, "limit", 50)),
		PageToken: r.URL.Query().Get("cursor"),
	}

	page, err := h.matches.ListMatches(r.Context(), filter)
	if err != nil {
		h.serverError(w, r, "failed to list matches", err)
		return
	}

	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) advanceMatch(w http.ResponseWriter, r *http.Request) {
	matchID, err := uuid.Parse(chi.URLParam(r, "matchID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_match_id", "match id must be a UUID")
		return
	}

	var req struct {
		Stage string `json:"stage"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON")
		return
	}

	record, err := h.funnel.AdvanceWithRetry(r.Context(), matchID, domain.FunnelStage(req.Stage), 3)
	if err != nil {
		switch {
		case errors.Is(err, conversion.ErrUnknownStage):
			writeError(w, http.StatusBadRequest, "unknown_stage", "unknown funnel stage")
		case errors.Is(err, conversion.ErrInvalidTransition):
			writeError(w, http.StatusConflict, "invalid_transition", "funnel stages can only move forward, one step at a time")
		case errors.Is(err, repository.ErrMatchNotFound):
			writeError(w, http.StatusNotFound, "match_not_found", "no such match")
		case errors.Is(err, repository.ErrVersionConflict):
			writeError(w, http.StatusConflict, "version_conflict", "match was updated concurrently, retry")
		default:
			h.serverError(w, r, "failed to advance match", err)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"match_id": record.ID,
		"stage":    record.FunnelStage,
		"version":  record.Version,
	})
}

func (h *Handler) getCachedMatches(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantID(w, r)
	if !ok {
		return
	}

	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_user_id", "user id must be a UUID")
		return
	}

	if h.cache == nil {
		writeError(w, http.StatusServiceUnavailable, "cache_disabled", "match cache is not configured")
		return
	}

	matches, hit, err := h.cache.GetUserMatches(r.Context(), tenantID, userID)
	if err != nil {
		h.serverError(w, r, "failed to read match cache", err)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordCacheLookup(hit)
	}

	if !hit {
		writeError(w, http.StatusNotFound, "cache_miss", "no cached matches for this user")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"matches": matches})
}

func (h *Handler) clearCache(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantID(w, r)
	if !ok {
		return
	}

	if h.cache == nil {
		writeError(w, http.StatusServiceUnavailable, "cache_disabled", "match cache is not configured")
		return
	}

	removed, err := h.cache.ClearTenant(r.Context(), tenantID)
	if err != nil {
		h.serverError(w, r, "failed to clear cache", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"entries_removed": removed})
}

func (h *Handler) getMetrics(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		writeError(w, http.StatusServiceUnavailable, "metrics_disabled", "metrics are not configured")
		return
	}
	writeJSON(w, http.StatusOK, h.metrics.GetStats())
}

// tenantID извлекает обязательный параметр tenant_id.
func (h *Handler) tenantID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := r.URL.Query().Get("tenant_id")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "missing_tenant", "tenant_id query parameter is required")
		return uuid.Nil, false
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_tenant", "tenant_id must be a UUID")
		return uuid.Nil, false
	}

	return id, true
}

func (h *Handler) serverError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.log.Error(msg,
		slog.String("path", r.URL.Path),
		sl.Err(err),
	)
	writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
}
