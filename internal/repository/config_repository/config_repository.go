package config_repository

import (
	"context"
	"errors"
	"fmt"

	"community_exchange/internal/domain"
	"community_exchange/internal/repository"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ConfigRepository struct {
	db  *pgxpool.Pool
	log *slog.Logger
}

func NewConfigRepository(db *pgxpool.Pool, log *slog.Logger) *ConfigRepository {
	return &ConfigRepository{db: db, log: log}
}

// GetByTenant — получает конфигурацию матчинга тенанта.
// Веса и пороги хранятся как jsonb (как в исходной JSON-колонке конфигурации).
func (r *ConfigRepository) GetByTenant(ctx context.Context, tenantID uuid.UUID) (domain.MatchConfiguration, error) {
	const op = "ConfigRepository.GetByTenant"

	query := `
		SELECT
			tenant_id, enabled, weights, proximity_tiers,
			hot_match_threshold, min_match_score, max_distance_km,
			version, updated_at
		FROM match_configurations
		WHERE tenant_id = $1
	`

	var c domain.MatchConfiguration
	err := r.db.QueryRow(ctx, query, tenantID).Scan(
		&c.TenantID,
		&c.Enabled,
		&c.Weights,
		&c.Tiers,
		&c.HotMatchThreshold,
		&c.MinMatchScore,
		&c.MaxDistanceKm,
		&c.Version,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MatchConfiguration{}, fmt.Errorf("%s: %w", op, repository.ErrConfigNotFound)
		}
		return domain.MatchConfiguration{}, fmt.Errorf("%s: %w", op, err)
	}

	return c, nil
}

// Save — сохраняет конфигурацию с optimistic concurrency.
// expectedVersion == 0 означает первую запись для тенанта; иначе обновление
// проходит только если текущая версия в БД равна expectedVersion.
func (r *ConfigRepository) Save(ctx context.Context, cfg domain.MatchConfiguration, expectedVersion int64) error {
	const op = "ConfigRepository.Save"

	if expectedVersion == 0 {
		query := `
			INSERT INTO match_configurations (
				tenant_id, enabled, weights, proximity_tiers,
				hot_match_threshold, min_match_score, max_distance_km, version
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`
		_, err := r.db.Exec(ctx, query,
			cfg.TenantID,
			cfg.Enabled,
			cfg.Weights,
			cfg.Tiers,
			cfg.HotMatchThreshold,
			cfg.MinMatchScore,
			cfg.MaxDistanceKm,
			cfg.Version,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%s: %w", op, repository.ErrVersionConflict)
			}
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	}

	query := `
		UPDATE match_configurations
		SET enabled = $1, weights = $2, proximity_tiers = $3,
			hot_match_threshold = $4, min_match_score = $5, max_distance_km = $6,
			version = $7, updated_at = NOW()
		WHERE tenant_id = $8 AND version = $9
	`

	tag, err := r.db.Exec(ctx, query,
		cfg.Enabled,
		cfg.Weights,
		cfg.Tiers,
		cfg.HotMatchThreshold,
		cfg.MinMatchScore,
		cfg.MaxDistanceKm,
		cfg.Version,
		cfg.TenantID,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, repository.ErrVersionConflict)
	}

	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
