package matchconfig

import (
	"context"
	"errors"
	"fmt"

	"community_exchange/internal/domain"
	"community_exchange/internal/lib/logger/sl"
	"community_exchange/internal/repository"
	"log/slog"

	"github.com/google/uuid"
)

// ErrUnknownPreset — пресет с таким ID не определён.
var ErrUnknownPreset = errors.New("unknown weight preset")

// ConfigStore — персистенция конфигураций матчинга.
type ConfigStore interface {
	GetByTenant(ctx context.Context, tenantID uuid.UUID) (domain.MatchConfiguration, error)
	Save(ctx context.Context, cfg domain.MatchConfiguration, expectedVersion int64) error
}

// CacheClearer — сброс кэшированных выдач тенанта.
type CacheClearer interface {
	ClearTenant(ctx context.Context, tenantID uuid.UUID) (int64, error)
}

// Service — версионируемое хранилище конфигураций матчинга.
// Тенант без сохранённой конфигурации прозрачно получает дефолтную.
// Обновление атомарно заменяет конфигурацию целиком: частичных
// изменений нет, невалидная конфигурация никогда не сохраняется.
type Service struct {
	log   *slog.Logger
	store ConfigStore
	cache CacheClearer
}

func New(log *slog.Logger, store ConfigStore, cache CacheClearer) *Service {
	return &Service{
		log:   log,
		store: store,
		cache: cache,
	}
}

// Get возвращает активную конфигурацию тенанта.
// Отсутствие сохранённой конфигурации не ошибка: возвращается дефолт
// с версией 1, который действует до первого явного обновления.
func (s *Service) Get(ctx context.Context, tenantID uuid.UUID) (domain.MatchConfiguration, error) {
	const op = "matchconfig.Service.Get"

	cfg, err := s.store.GetByTenant(ctx, tenantID)
	if err != nil {
		if errors.Is(err, repository.ErrConfigNotFound) {
			return domain.DefaultMatchConfiguration(tenantID), nil
		}
		return domain.MatchConfiguration{}, fmt.Errorf("%s: %w", op, err)
	}

	return cfg, nil
}

// Update валидирует и сохраняет новую конфигурацию тенанта.
// Версия назначается сервисом: предыдущая плюс один. Ошибка валидации
// возвращается как *domain.ValidationError с нарушенным правилом;
// текущая конфигурация при этом остаётся нетронутой.
func (s *Service) Update(ctx context.Context, cfg domain.MatchConfiguration) (domain.MatchConfiguration, error) {
	const op = "matchconfig.Service.Update"

	log := s.log.With(
		slog.String("op", op),
		slog.String("tenant_id", cfg.TenantID.String()),
	)

	if verr := cfg.Validate(); verr != nil {
		log.Warn("config update rejected", slog.String("rule", verr.Rule))
		return domain.MatchConfiguration{}, verr
	}

	current, err := s.store.GetByTenant(ctx, cfg.TenantID)
	switch {
	case errors.Is(err, repository.ErrConfigNotFound):
		// Первое сохранение: дефолт с версией 1 сменяется версией 2,
		// чтобы оценки по дефолту были отличимы от оценок по явной
		// конфигурации
		cfg.Version = domain.DefaultMatchConfiguration(cfg.TenantID).Version + 1
		err = s.store.Save(ctx, cfg, 0)
	case err == nil:
		cfg.Version = current.Version + 1
		err = s.store.Save(ctx, cfg, current.Version)
	default:
		return domain.MatchConfiguration{}, fmt.Errorf("%s: %w", op, err)
	}

	if err != nil {
		return domain.MatchConfiguration{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("config updated", slog.Int64("version", cfg.Version))

	// Кэшированные выдачи посчитаны по прежней версии
	if s.cache != nil {
		if _, cerr := s.cache.ClearTenant(ctx, cfg.TenantID); cerr != nil {
			log.Warn("failed to clear tenant match cache", sl.Err(cerr))
		}
	}

	return cfg, nil
}

// ApplyPreset заменяет веса конфигурации тенанта на пресет,
// сохраняя остальные поля.
func (s *Service) ApplyPreset(ctx context.Context, tenantID uuid.UUID, presetID string) (domain.MatchConfiguration, error) {
	const op = "matchconfig.Service.ApplyPreset"

	preset := domain.GetWeightPresetByID(presetID)
	if preset == nil {
		return domain.MatchConfiguration{}, fmt.Errorf("%s: %w: %q", op, ErrUnknownPreset, presetID)
	}

	cfg, err := s.Get(ctx, tenantID)
	if err != nil {
		return domain.MatchConfiguration{}, fmt.Errorf("%s: %w", op, err)
	}

	cfg.Weights = preset.Weights
	return s.Update(ctx, cfg)
}

// Presets возвращает доступные пресеты весов.
func (s *Service) Presets() []domain.WeightPreset {
	return domain.GetWeightPresets()
}
