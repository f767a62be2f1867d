package match_repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"community_exchange/internal/domain"
	"community_exchange/internal/repository"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type MatchRepository struct {
	db  *pgxpool.Pool
	log *slog.Logger
}

func NewMatchRepository(db *pgxpool.Pool, log *slog.Logger) *MatchRepository {
	return &MatchRepository{db: db, log: log}
}

const matchColumns = `
	match_id, tenant_id, offer_listing_id, request_listing_id, category_id,
	classification, funnel_stage,
	score_category, score_skill, score_proximity, score_freshness,
	score_reciprocity, score_quality, score_total, config_version,
	distance_km, proximity_low_confidence, reasons,
	created_at, viewed_at, contacted_at, completed_at, abandoned_at, version
`

// CreateMatch — создаёт запись о матче.
// Дедупликация по ключу (tenant, offer, request, config_version): повторная
// вставка той же пары возвращает ID существующей записи и ErrDuplicateMatch.
func (r *MatchRepository) CreateMatch(ctx context.Context, m domain.MatchRecord) (uuid.UUID, error) {
	const op = "MatchRepository.CreateMatch"

	query := `
		INSERT INTO match_records (
			tenant_id, offer_listing_id, request_listing_id, category_id,
			classification, funnel_stage,
			score_category, score_skill, score_proximity, score_freshness,
			score_reciprocity, score_quality, score_total, config_version,
			distance_km, proximity_low_confidence, reasons
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (tenant_id, offer_listing_id, request_listing_id, config_version) DO NOTHING
		RETURNING match_id
	`

	var id uuid.UUID
	err := r.db.QueryRow(ctx, query,
		m.TenantID,
		m.OfferListingID,
		m.RequestListingID,
		m.CategoryID,
		m.Classification.String(),
		domain.StageMatched.String(),
		m.Score.Category,
		m.Score.Skill,
		m.Score.Proximity,
		m.Score.Freshness,
		m.Score.Reciprocity,
		m.Score.Quality,
		m.Score.Total,
		m.Score.ConfigVersion,
		m.Score.DistanceKm,
		m.Score.ProximityLowConfidence,
		m.Score.Reasons,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Конфликт по ключу дедупликации: отдаём существующий ID
			existing, lookupErr := r.findExisting(ctx, m)
			if lookupErr != nil {
				return uuid.Nil, fmt.Errorf("%s: %w", op, lookupErr)
			}
			return existing, fmt.Errorf("%s: %w", op, repository.ErrDuplicateMatch)
		}
		return uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}

	return id, nil
}

func (r *MatchRepository) findExisting(ctx context.Context, m domain.MatchRecord) (uuid.UUID, error) {
	query := `
		SELECT match_id FROM match_records
		WHERE tenant_id = $1 AND offer_listing_id = $2 AND request_listing_id = $3 AND config_version = $4
	`

	var id uuid.UUID
	err := r.db.QueryRow(ctx, query, m.TenantID, m.OfferListingID, m.RequestListingID, m.Score.ConfigVersion).Scan(&id)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// GetByID — получает матч по ID.
func (r *MatchRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.MatchRecord, error) {
	const op = "MatchRepository.GetByID"

	query := `SELECT ` + matchColumns + ` FROM match_records WHERE match_id = $1`

	m, err := r.scanMatch(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MatchRecord{}, fmt.Errorf("%s: %w", op, repository.ErrMatchNotFound)
		}
		return domain.MatchRecord{}, fmt.Errorf("%s: %w", op, err)
	}

	return m, nil
}

// stageColumn — таймстемп-колонка для стадии воронки.
func stageColumn(stage domain.FunnelStage) (string, bool) {
	switch stage {
	case domain.StageViewed:
		return "viewed_at", true
	case domain.StageContacted:
		return "contacted_at", true
	case domain.StageCompleted:
		return "completed_at", true
	case domain.StageAbandoned:
		return "abandoned_at", true
	}
	return "", false
}

// AdvanceStage — переводит матч на новую стадию воронки с optimistic
// concurrency: обновление проходит только при совпадении version.
func (r *MatchRepository) AdvanceStage(ctx context.Context, matchID uuid.UUID, stage domain.FunnelStage, at time.Time, expectedVersion int64) (domain.MatchRecord, error) {
	const op = "MatchRepository.AdvanceStage"

	col, ok := stageColumn(stage)
	if !ok {
		return domain.MatchRecord{}, fmt.Errorf("%s: no timestamp column for stage %s", op, stage)
	}

	query := fmt.Sprintf(`
		UPDATE match_records
		SET funnel_stage = $1, %s = $2, version = version + 1
		WHERE match_id = $3 AND version = $4
		RETURNING `+matchColumns, col)

	m, err := r.scanMatch(r.db.QueryRow(ctx, query, stage.String(), at, matchID, expectedVersion))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Либо матча нет, либо версия устарела
			exists, checkErr := r.exists(ctx, matchID)
			if checkErr != nil {
				return domain.MatchRecord{}, fmt.Errorf("%s: %w", op, checkErr)
			}
			if !exists {
				return domain.MatchRecord{}, fmt.Errorf("%s: %w", op, repository.ErrMatchNotFound)
			}
			return domain.MatchRecord{}, fmt.Errorf("%s: %w", op, repository.ErrVersionConflict)
		}
		return domain.MatchRecord{}, fmt.Errorf("%s: %w", op, err)
	}

	return m, nil
}

func (r *MatchRepository) exists(ctx context.Context, matchID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM match_records WHERE match_id = $1)`, matchID).Scan(&exists)
	return exists, err
}

// ListMatches — возвращает матчи по фильтру с keyset-пагинацией.
func (r *MatchRepository) ListMatches(ctx context.Context, filter domain.MatchFilter) (*domain.PaginatedResult[domain.MatchRecord], error) {
	const op = "MatchRepository.ListMatches"

	pageSize := int(domain.DefaultPageSize)
	var cursor *domain.PageCursor
	orderDir := domain.OrderDesc

	if filter.Pagination != nil {
		pageSize = int(domain.NormalizePageSize(filter.Pagination.PageSize))
		orderDir = domain.NormalizeOrderDirection(string(filter.Pagination.OrderDirection))

		if filter.Pagination.PageToken != "" {
			var err error
			cursor, err = domain.DecodePageCursor(filter.Pagination.PageToken)
			if err != nil {
				r.log.Warn("failed to decode page cursor, starting from beginning", "error", err)
				cursor = nil
			}
		}
	}

	// Базовые WHERE условия (без cursor)
	baseWhereClauses := []string{}
	baseParams := []interface{}{}
	paramCount := 1

	if filter.TenantID != nil {
		baseWhereClauses = append(baseWhereClauses, fmt.Sprintf("tenant_id = $%d", paramCount))
		baseParams = append(baseParams, *filter.TenantID)
		paramCount++
	}
	if filter.Classification != nil {
		baseWhereClauses = append(baseWhereClauses, fmt.Sprintf("classification = $%d", paramCount))
		baseParams = append(baseParams, (*filter.Classification).String())
		paramCount++
	}
	if filter.FunnelStage != nil {
		baseWhereClauses = append(baseWhereClauses, fmt.Sprintf("funnel_stage = $%d", paramCount))
		baseParams = append(baseParams, (*filter.FunnelStage).String())
		paramCount++
	}
	if filter.CategoryID != nil {
		baseWhereClauses = append(baseWhereClauses, fmt.Sprintf("category_id = $%d", paramCount))
		baseParams = append(baseParams, *filter.CategoryID)
		paramCount++
	}
	if filter.Window != nil {
		if !filter.Window.From.IsZero() {
			baseWhereClauses = append(baseWhereClauses, fmt.Sprintf("created_at >= $%d", paramCount))
			baseParams = append(baseParams, filter.Window.From)
			paramCount++
		}
		if !filter.Window.To.IsZero() {
			baseWhereClauses = append(baseWhereClauses, fmt.Sprintf("created_at <= $%d", paramCount))
			baseParams = append(baseParams, filter.Window.To)
			paramCount++
		}
	}

	// Получаем total count
	countQuery := "SELECT COUNT(*) FROM match_records"
	if len(baseWhereClauses) > 0 {
		countQuery += " WHERE " + strings.Join(baseWhereClauses, " AND ")
	}

	var totalCount int32
	err := r.db.QueryRow(ctx, countQuery, baseParams...).Scan(&totalCount)
	if err != nil {
		return nil, fmt.Errorf("%s: count failed: %w", op, err)
	}

	whereClauses := append([]string{}, baseWhereClauses...)
	params := append([]interface{}{}, baseParams...)

	// Применяем cursor-based пагинацию: keyset по (created_at, match_id)
	if cursor != nil {
		if orderDir == domain.OrderDesc {
			whereClauses = append(whereClauses,
				fmt.Sprintf("(created_at, match_id) < ($%d, $%d)", paramCount, paramCount+1))
		} else {
			whereClauses = append(whereClauses,
				fmt.Sprintf("(created_at, match_id) > ($%d, $%d)", paramCount, paramCount+1))
		}
		params = append(params, cursor.LastCreatedAt, cursor.LastID)
		paramCount += 2
	}

	query := `SELECT ` + matchColumns + ` FROM match_records`
	if len(whereClauses) > 0 {
		query += " WHERE " + strings.Join(whereClauses, " AND ")
	}

	dirStr := "DESC"
	if orderDir == domain.OrderAsc {
		dirStr = "ASC"
	}
	query += fmt.Sprintf(" ORDER BY created_at %s, match_id %s", dirStr, dirStr)

	// LIMIT +1 для определения has_more
	query += fmt.Sprintf(" LIMIT $%d", paramCount)
	params = append(params, pageSize+1)

	rows, err := r.db.Query(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var matches []domain.MatchRecord
	for rows.Next() {
		m, err := r.scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan failed: %w", op, err)
		}
		matches = append(matches, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows error: %w", op, err)
	}

	hasMore := len(matches) > pageSize
	if hasMore {
		matches = matches[:pageSize]
	}

	var nextPageToken string
	if hasMore && len(matches) > 0 {
		last := matches[len(matches)-1]
		nextCursor := &domain.PageCursor{
			LastID:        last.ID,
			LastCreatedAt: last.CreatedAt,
		}
		nextPageToken = nextCursor.Encode()
	}

	return &domain.PaginatedResult[domain.MatchRecord]{
		Items:         matches,
		NextPageToken: nextPageToken,
		TotalCount:    totalCount,
		HasMore:       hasMore,
	}, nil
}

// ListByWindow — все матчи тенанта за окно, без пагинации.
// Используется аналитикой.
func (r *MatchRepository) ListByWindow(ctx context.Context, tenantID uuid.UUID, window domain.TimeWindow) ([]domain.MatchRecord, error) {
	const op = "MatchRepository.ListByWindow"

	query := `SELECT ` + matchColumns + ` FROM match_records WHERE tenant_id = $1`
	params := []interface{}{tenantID}
	paramCount := 2

	if !window.From.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", paramCount)
		params = append(params, window.From)
		paramCount++
	}
	if !window.To.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", paramCount)
		params = append(params, window.To)
		paramCount++
	}

	query += " ORDER BY created_at ASC"

	rows, err := r.db.Query(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var matches []domain.MatchRecord
	for rows.Next() {
		m, err := r.scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan failed: %w", op, err)
		}
		matches = append(matches, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows error: %w", op, err)
	}

	return matches, nil
}

func (r *MatchRepository) scanMatch(row pgx.Row) (domain.MatchRecord, error) {
	var m domain.MatchRecord
	var classification, stage string

	err := row.Scan(
		&m.ID,
		&m.TenantID,
		&m.OfferListingID,
		&m.RequestListingID,
		&m.CategoryID,
		&classification,
		&stage,
		&m.Score.Category,
		&m.Score.Skill,
		&m.Score.Proximity,
		&m.Score.Freshness,
		&m.Score.Reciprocity,
		&m.Score.Quality,
		&m.Score.Total,
		&m.Score.ConfigVersion,
		&m.Score.DistanceKm,
		&m.Score.ProximityLowConfidence,
		&m.Score.Reasons,
		&m.CreatedAt,
		&m.ViewedAt,
		&m.ContactedAt,
		&m.CompletedAt,
		&m.AbandonedAt,
		&m.Version,
	)
	if err != nil {
		return domain.MatchRecord{}, err
	}

	m.Classification = domain.Classification(classification)
	m.FunnelStage = domain.FunnelStage(stage)

	return m, nil
}
