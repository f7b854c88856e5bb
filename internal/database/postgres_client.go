// Package database wraps the PostgreSQL store for Sources, Pins,
// Interactions, the append-only signal event log, and per-run RunLogs
// (§9 C3, C10, C16).
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fourthplaces/rootsignal-sub002/internal/models"
)

// PostgresStore wraps a PostgreSQL connection pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore creates a PostgreSQL-backed Store from a connection string.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	if connString == "" {
		return nil, fmt.Errorf("postgres connection string is empty")
	}

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	logger := slog.Default().With("component", "postgres")
	logger.Info("postgres client connected")

	return &PostgresStore{pool: pool, logger: logger}, nil
}

// Close closes the PostgreSQL connection pool.
func (c *PostgresStore) Close() error {
	c.pool.Close()
	c.logger.Info("postgres client closed")
	return nil
}

// HealthCheck verifies PostgreSQL connectivity.
func (c *PostgresStore) HealthCheck(ctx context.Context) error {
	if err := c.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres health check failed: %w", err)
	}
	return nil
}

// UpsertSource writes a Source, creating it if new or refreshing its
// scheduling fields otherwise.
func (c *PostgresStore) UpsertSource(ctx context.Context, s *models.Source) error {
	query := `
		INSERT INTO sources (
			id, canonical_key, canonical_value, url, discovery_method, role,
			weight, quality_penalty, cadence_hours, last_scraped, last_produced_signal,
			signals_produced, signals_corroborated, consecutive_empty_runs,
			active, scrape_count, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (id) DO UPDATE SET
			weight = EXCLUDED.weight,
			quality_penalty = EXCLUDED.quality_penalty,
			cadence_hours = EXCLUDED.cadence_hours,
			last_scraped = EXCLUDED.last_scraped,
			last_produced_signal = EXCLUDED.last_produced_signal,
			signals_produced = EXCLUDED.signals_produced,
			signals_corroborated = EXCLUDED.signals_corroborated,
			consecutive_empty_runs = EXCLUDED.consecutive_empty_runs,
			active = EXCLUDED.active,
			scrape_count = EXCLUDED.scrape_count
	`
	_, err := c.pool.Exec(ctx, query,
		s.ID, s.CanonicalKey, s.CanonicalValue, s.URL, string(s.DiscoveryMethod), string(s.Role),
		s.Weight, s.QualityPenalty, s.CadenceHours, s.LastScraped, s.LastProducedSignal,
		s.SignalsProduced, s.SignalsCorroborated, s.ConsecutiveEmptyRuns,
		s.Active, s.ScrapeCount, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert source %s: %w", s.ID, err)
	}
	return nil
}

// FindSourceByCanonicalKey looks up a Source by its dedup identity
// (canonical_key, canonical_value), used to avoid creating duplicate
// Sources during discovery (§4.1).
func (c *PostgresStore) FindSourceByCanonicalKey(ctx context.Context, key, value string) (*models.Source, error) {
	query := `
		SELECT id, canonical_key, canonical_value, url, discovery_method, role,
			weight, quality_penalty, cadence_hours, last_scraped, last_produced_signal,
			signals_produced, signals_corroborated, consecutive_empty_runs,
			active, scrape_count, created_at
		FROM sources WHERE canonical_key = $1 AND canonical_value = $2
	`
	row := c.pool.QueryRow(ctx, query, key, value)
	s, err := scanSource(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find source by canonical key: %w", err)
	}
	return s, nil
}

// EligibleSources returns active Sources whose cadence
// window has elapsed, ordered by effective weight descending — the
// scheduler's candidate pool for a phase (§4.3). When a Source has no
// explicit cadence_hours override, its cadence is derived from
// effective_weight via the same step table internal/scheduler uses
// (CadenceHours): >=0.8 -> 6h, >=0.6 -> 12h, >=0.4 -> 24h, >=0.2 -> 72h,
// else 168h.
func (c *PostgresStore) EligibleSources(ctx context.Context, role models.SourceRole, now time.Time) ([]*models.Source, error) {
	query := `
		SELECT id, canonical_key, canonical_value, url, discovery_method, role,
			weight, quality_penalty, cadence_hours, last_scraped, last_produced_signal,
			signals_produced, signals_corroborated, consecutive_empty_runs,
			active, scrape_count, created_at
		FROM sources
		WHERE active = true
			AND (role = $1 OR role = 'mixed')
			AND (
				last_scraped IS NULL
				OR last_scraped < $2 - (
					COALESCE(cadence_hours,
						CASE
							WHEN weight * quality_penalty >= 0.8 THEN 6
							WHEN weight * quality_penalty >= 0.6 THEN 12
							WHEN weight * quality_penalty >= 0.4 THEN 24
							WHEN weight * quality_penalty >= 0.2 THEN 72
							ELSE 168
						END
					) || ' hours')::interval
			)
		ORDER BY (weight * quality_penalty) DESC
	`
	rows, err := c.pool.Query(ctx, query, string(role), now)
	if err != nil {
		return nil, fmt.Errorf("failed to query eligible sources: %w", err)
	}
	defer rows.Close()

	var sources []*models.Source
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source row: %w", err)
		}
		sources = append(sources, s)
	}
	return sources, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (*models.Source, error) {
	var s models.Source
	var discoveryMethod, role string
	err := row.Scan(
		&s.ID, &s.CanonicalKey, &s.CanonicalValue, &s.URL, &discoveryMethod, &role,
		&s.Weight, &s.QualityPenalty, &s.CadenceHours, &s.LastScraped, &s.LastProducedSignal,
		&s.SignalsProduced, &s.SignalsCorroborated, &s.ConsecutiveEmptyRuns,
		&s.Active, &s.ScrapeCount, &s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.DiscoveryMethod = models.DiscoveryMethod(discoveryMethod)
	s.Role = models.SourceRole(role)
	return &s, nil
}

// CreatePin inserts a new geographic Pin tied to a Source.
func (c *PostgresStore) CreatePin(ctx context.Context, p *models.Pin) error {
	query := `
		INSERT INTO pins (id, lat, lng, source_id, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`
	_, err := c.pool.Exec(ctx, query, p.ID, p.Lat, p.Lng, p.SourceID, p.CreatedBy, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create pin %s: %w", p.ID, err)
	}
	return nil
}

// ConsumePin deletes and returns the next unconsumed Pin for a Source,
// since a Pin is consumed once scraped (§3).
func (c *PostgresStore) ConsumePin(ctx context.Context, sourceID string) (*models.Pin, error) {
	query := `
		DELETE FROM pins
		WHERE id = (SELECT id FROM pins WHERE source_id = $1 ORDER BY created_at LIMIT 1)
		RETURNING id, lat, lng, source_id, created_by, created_at
	`
	row := c.pool.QueryRow(ctx, query, sourceID)
	var p models.Pin
	err := row.Scan(&p.ID, &p.Lat, &p.Lng, &p.SourceID, &p.CreatedBy, &p.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume pin for source %s: %w", sourceID, err)
	}
	return &p, nil
}

// DeletePins removes Pins by id, e.g. ones orphaned by a deactivated
// Source (§4.9 delete_pins).
func (c *PostgresStore) DeletePins(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := c.pool.Exec(ctx, `DELETE FROM pins WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("failed to delete pins: %w", err)
	}
	return nil
}

// InsertInteraction writes an immutable Interaction row — the log of
// every fetch attempt, successful or not (§3, §8 invariant).
func (c *PostgresStore) InsertInteraction(ctx context.Context, i *models.Interaction) error {
	query := `
		INSERT INTO interactions (
			id, run_id, region, kind, target, target_raw, fetcher,
			content_hash, duration_ms, error, response_payload, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`
	_, err := c.pool.Exec(ctx, query,
		i.ID, i.RunID, i.Region, string(i.Kind), i.Target, i.TargetRaw, i.Fetcher,
		i.ContentHash, i.DurationMS, i.Error, i.ResponsePayload, i.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert interaction %s: %w", i.ID, err)
	}
	return nil
}

// AppendSignalEvent appends an entry to the signal event log. The
// read-cache and graph projections are rebuilt from this log (§4.9,
// C10), so the write must never be skipped even when the projection
// write also succeeds — the log is the source of truth.
func (c *PostgresStore) AppendSignalEvent(ctx context.Context, runID, eventType string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	query := `
		INSERT INTO signal_events (run_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err = c.pool.Exec(ctx, query, runID, eventType, body, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to append signal event: %w", err)
	}
	return nil
}

// StartRunLog records the beginning of a pipeline run.
func (c *PostgresStore) StartRunLog(ctx context.Context, r *models.RunLog) error {
	statsJSON, err := json.Marshal(r.Stats)
	if err != nil {
		return fmt.Errorf("failed to marshal run stats: %w", err)
	}
	query := `
		INSERT INTO run_logs (id, run_id, region, started_at, stats)
		VALUES ($1,$2,$3,$4,$5)
	`
	_, err = c.pool.Exec(ctx, query, r.ID, r.RunID, r.Region, r.StartedAt, statsJSON)
	if err != nil {
		return fmt.Errorf("failed to start run log %s: %w", r.RunID, err)
	}
	return nil
}

// FinishRunLog records the end of a pipeline run with its final stats
// and, if the run failed, the terminating error.
func (c *PostgresStore) FinishRunLog(ctx context.Context, runID string, finishedAt time.Time, stats map[string]int, lastErr *string) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal run stats: %w", err)
	}
	query := `
		UPDATE run_logs
		SET finished_at = $1, stats = $2, last_error = $3
		WHERE run_id = $4
	`
	_, err = c.pool.Exec(ctx, query, finishedAt, statsJSON, lastErr, runID)
	if err != nil {
		return fmt.Errorf("failed to finish run log %s: %w", runID, err)
	}
	return nil
}
