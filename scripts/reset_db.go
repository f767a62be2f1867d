// Временный скрипт для сброса БД движка матчинга
// Запуск: go run scripts/reset_db.go

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

func main() {
	connStr := os.Getenv("DATABASE_URL")
	if connStr == "" {
		log.Fatal("DATABASE_URL is required")
	}

	fmt.Println("Connecting to database...")
	fmt.Printf("Host: %s\n", extractHost(connStr))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close(ctx)

	fmt.Println("Connected successfully!")

	commands := []string{
		// ЧАСТЬ 1: ПОЛНАЯ ОЧИСТКА
		"DROP TABLE IF EXISTS match_records CASCADE",
		"DROP TABLE IF EXISTS match_configurations CASCADE",

		// ЧАСТЬ 2: СОЗДАНИЕ ТАБЛИЦ
		`CREATE TABLE IF NOT EXISTS match_configurations (
			tenant_id           UUID PRIMARY KEY,
			enabled             BOOLEAN     NOT NULL DEFAULT TRUE,
			weights             JSONB       NOT NULL,
			proximity_tiers     JSONB       NOT NULL,
			hot_match_threshold INT         NOT NULL,
			min_match_score     INT         NOT NULL,
			max_distance_km     DOUBLE PRECISION NOT NULL,
			version             BIGINT      NOT NULL,
			updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS match_records (
			match_id                 UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			tenant_id                UUID        NOT NULL,
			offer_listing_id         UUID        NOT NULL,
			request_listing_id       UUID        NOT NULL,
			category_id              UUID        NOT NULL,
			classification           TEXT        NOT NULL,
			funnel_stage             TEXT        NOT NULL DEFAULT 'matched',
			score_category           DOUBLE PRECISION NOT NULL,
			score_skill              DOUBLE PRECISION NOT NULL,
			score_proximity          DOUBLE PRECISION NOT NULL,
			score_freshness          DOUBLE PRECISION NOT NULL,
			score_reciprocity        DOUBLE PRECISION NOT NULL,
			score_quality            DOUBLE PRECISION NOT NULL,
			score_total              INT         NOT NULL,
			config_version           BIGINT      NOT NULL,
			distance_km              DOUBLE PRECISION,
			proximity_low_confidence BOOLEAN     NOT NULL DEFAULT FALSE,
			reasons                  TEXT[],
			created_at               TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			viewed_at                TIMESTAMPTZ,
			contacted_at             TIMESTAMPTZ,
			completed_at             TIMESTAMPTZ,
			abandoned_at             TIMESTAMPTZ,
			version                  BIGINT      NOT NULL DEFAULT 1
		)`,

		// Ключ дедупликации: одна пара оценивается один раз на версию конфигурации
		`CREATE UNIQUE INDEX IF NOT EXISTS match_records_dedupe_idx
			ON match_records (tenant_id, offer_listing_id, request_listing_id, config_version)`,

		// Keyset-пагинация и аналитические выборки по окну
		`CREATE INDEX IF NOT EXISTS match_records_tenant_created_idx
			ON match_records (tenant_id, created_at DESC, match_id DESC)`,

		`CREATE INDEX IF NOT EXISTS match_records_tenant_stage_idx
			ON match_records (tenant_id, funnel_stage)`,
	}

	fmt.Println("\nExecuting schema commands...")
	for i, cmd := range commands {
		_, err := conn.Exec(ctx, cmd)
		if err != nil {
			log.Printf("Warning on command %d: %v", i+1, err)
		} else {
			fmt.Printf("  [%d/%d] OK\n", i+1, len(commands))
		}
	}

	// ЧАСТЬ 3: ТЕСТОВЫЕ ДАННЫЕ
	fmt.Println("\nInserting test configuration...")
	_, err = conn.Exec(ctx, `
		INSERT INTO match_configurations (tenant_id, enabled, weights, proximity_tiers, hot_match_threshold, min_match_score, max_distance_km, version)
		VALUES (
			'8c6f9c70-9312-4f17-94b0-2a2b9230f5d1',
			TRUE,
			'{"category": 25, "skill": 20, "proximity": 25, "freshness": 10, "reciprocity": 15, "quality": 5}',
			'{"walking_km": 5, "local_km": 15, "city_km": 30, "regional_km": 50, "max_km": 100}',
			85, 40, 50, 2
		)
		ON CONFLICT (tenant_id) DO NOTHING
	`)
	if err != nil {
		log.Printf("Warning inserting configuration: %v", err)
	} else {
		fmt.Println("  Configuration inserted OK")
	}

	fmt.Println("Inserting test matches...")
	_, err = conn.Exec(ctx, `
		INSERT INTO match_records (
			tenant_id, offer_listing_id, request_listing_id, category_id,
			classification, funnel_stage,
			score_category, score_skill, score_proximity, score_freshness,
			score_reciprocity, score_quality, score_total, config_version,
			distance_km, proximity_low_confidence, reasons, viewed_at, contacted_at, completed_at
		)
		VALUES
			('8c6f9c70-9312-4f17-94b0-2a2b9230f5d1', 'a8b55f9d-32c2-4e1f-97c7-341f49b7c012', 'b5d7a10e-418d-42a3-bb32-87e90d4a7a24', 'c7d9e1ff-8a9e-4a4e-9b5c-b47c3fddf311',
			 'hot', 'completed', 100, 80, 100, 90, 100, 70, 92, 2, 2.4, FALSE,
			 ARRAY['Same category', 'Very close: 2.4 km away', 'Mutual exchange possible'],
			 NOW() - INTERVAL '3 days', NOW() - INTERVAL '2 days', NOW() - INTERVAL '1 day'),
			('8c6f9c70-9312-4f17-94b0-2a2b9230f5d1', 'd1a2b3c4-1234-5678-9abc-def012345678', 'd2b3c4d5-2345-6789-abcd-ef0123456789', 'c7d9e1ff-8a9e-4a4e-9b5c-b47c3fddf311',
			 'normal', 'viewed', 60, 50, 70, 100, 40, 60, 59, 2, 22.8, FALSE,
			 ARRAY['Posted recently'],
			 NOW() - INTERVAL '6 hours', NULL, NULL),
			('8c6f9c70-9312-4f17-94b0-2a2b9230f5d1', 'd3c4d5e6-3456-789a-bcde-f01234567890', 'd4d5e6f7-4567-89ab-cdef-012345678901', 'e1b88dcf-1225-4d0d-827f-4ea8fdf99664',
			 'normal', 'matched', 100, 50, 50, 100, 30, 50, 64, 2, NULL, TRUE,
			 ARRAY['Same category', 'Posted recently'],
			 NULL, NULL, NULL)
		ON CONFLICT DO NOTHING
	`)
	if err != nil {
		log.Printf("Warning inserting matches: %v", err)
	} else {
		fmt.Println("  Matches inserted OK")
	}

	// ЧАСТЬ 4: ПРОВЕРКА
	fmt.Println("\n=== VERIFICATION ===")

	var configCount, matchCount, hotCount int
	conn.QueryRow(ctx, "SELECT count(*) FROM match_configurations").Scan(&configCount)
	conn.QueryRow(ctx, "SELECT count(*) FROM match_records").Scan(&matchCount)
	conn.QueryRow(ctx, "SELECT count(*) FROM match_records WHERE classification = 'hot'").Scan(&hotCount)

	fmt.Printf("Configurations: %d\n", configCount)
	fmt.Printf("Matches:        %d\n", matchCount)
	fmt.Printf("Hot matches:    %d\n", hotCount)

	fmt.Println("\n=== DATABASE RESET COMPLETE ===")
}

func extractHost(connStr string) string {
	parts := strings.Split(connStr, "@")
	if len(parts) > 1 {
		hostPart := strings.Split(parts[1], "/")[0]
		return hostPart
	}
	return "unknown"
}
