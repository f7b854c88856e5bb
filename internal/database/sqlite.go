package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/fourthplaces/rootsignal-sub002/internal/models"
)

// SQLiteStore implements Store using SQLite, for the local/offline run
// mode of the CLI collaborator — same schema as PostgresStore, minus
// the concurrency PostgresStore's pool gives the production backend.
type SQLiteStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a SQLite-backed Store at the given file path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("connect to sqlite: %w", err)
	}

	db.Exec("PRAGMA foreign_keys = ON")
	db.Exec("PRAGMA journal_mode = WAL")

	store := &SQLiteStore{
		db:     db,
		logger: slog.Default().With("component", "sqlite"),
	}

	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sources (
		id TEXT PRIMARY KEY,
		canonical_key TEXT NOT NULL,
		canonical_value TEXT NOT NULL,
		url TEXT,
		discovery_method TEXT,
		role TEXT,
		weight REAL,
		quality_penalty REAL,
		cadence_hours REAL,
		last_scraped DATETIME,
		last_produced_signal DATETIME,
		signals_produced INTEGER,
		signals_corroborated INTEGER,
		consecutive_empty_runs INTEGER,
		active INTEGER,
		scrape_count INTEGER,
		created_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS pins (
		id TEXT PRIMARY KEY,
		lat REAL,
		lng REAL,
		source_id TEXT NOT NULL,
		created_by TEXT,
		created_at DATETIME,
		FOREIGN KEY (source_id) REFERENCES sources(id)
	);

	CREATE TABLE IF NOT EXISTS interactions (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		region TEXT,
		kind TEXT,
		target TEXT,
		target_raw TEXT,
		fetcher TEXT,
		content_hash TEXT,
		duration_ms INTEGER,
		error TEXT,
		response_payload BLOB,
		created_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS signal_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT,
		event_type TEXT,
		payload TEXT,
		created_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS run_logs (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		region TEXT,
		started_at DATETIME,
		finished_at DATETIME,
		stats TEXT,
		last_error TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_pins_source ON pins(source_id);
	CREATE INDEX IF NOT EXISTS idx_interactions_run ON interactions(run_id);
	CREATE INDEX IF NOT EXISTS idx_run_logs_run ON run_logs(run_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the SQLite connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// HealthCheck verifies the SQLite connection is alive.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// sqliteSource mirrors models.Source with driver-friendly field types
// for sqlx scanning (nullable columns, stringly-typed enums).
type sqliteSource struct {
	ID                   string         `db:"id"`
	CanonicalKey         string         `db:"canonical_key"`
	CanonicalValue       string         `db:"canonical_value"`
	URL                  sql.NullString `db:"url"`
	DiscoveryMethod      string         `db:"discovery_method"`
	Role                 string         `db:"role"`
	Weight               float64        `db:"weight"`
	QualityPenalty       float64        `db:"quality_penalty"`
	CadenceHours         sql.NullFloat64 `db:"cadence_hours"`
	LastScraped          sql.NullTime   `db:"last_scraped"`
	LastProducedSignal   sql.NullTime   `db:"last_produced_signal"`
	SignalsProduced      int            `db:"signals_produced"`
	SignalsCorroborated  int            `db:"signals_corroborated"`
	ConsecutiveEmptyRuns int            `db:"consecutive_empty_runs"`
	Active               bool           `db:"active"`
	ScrapeCount          int            `db:"scrape_count"`
	CreatedAt            time.Time      `db:"created_at"`
}

func (r *sqliteSource) toModel() *models.Source {
	s := &models.Source{
		ID:                   r.ID,
		CanonicalKey:         r.CanonicalKey,
		CanonicalValue:       r.CanonicalValue,
		DiscoveryMethod:      models.DiscoveryMethod(r.DiscoveryMethod),
		Role:                 models.SourceRole(r.Role),
		Weight:               r.Weight,
		QualityPenalty:       r.QualityPenalty,
		SignalsProduced:      r.SignalsProduced,
		SignalsCorroborated:  r.SignalsCorroborated,
		ConsecutiveEmptyRuns: r.ConsecutiveEmptyRuns,
		Active:               r.Active,
		ScrapeCount:          r.ScrapeCount,
		CreatedAt:            r.CreatedAt,
	}
	if r.URL.Valid {
		s.URL = &r.URL.String
	}
	if r.CadenceHours.Valid {
		s.CadenceHours = &r.CadenceHours.Float64
	}
	if r.LastScraped.Valid {
		s.LastScraped = &r.LastScraped.Time
	}
	if r.LastProducedSignal.Valid {
		s.LastProducedSignal = &r.LastProducedSignal.Time
	}
	return s
}

// UpsertSource writes a Source, creating it if new or refreshing its
// scheduling fields otherwise.
func (s *SQLiteStore) UpsertSource(ctx context.Context, src *models.Source) error {
	query := `
		INSERT OR REPLACE INTO sources (
			id, canonical_key, canonical_value, url, discovery_method, role,
			weight, quality_penalty, cadence_hours, last_scraped, last_produced_signal,
			signals_produced, signals_corroborated, consecutive_empty_runs,
			active, scrape_count, created_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	`
	_, err := s.db.ExecContext(ctx, query,
		src.ID, src.CanonicalKey, src.CanonicalValue, src.URL, string(src.DiscoveryMethod), string(src.Role),
		src.Weight, src.QualityPenalty, src.CadenceHours, src.LastScraped, src.LastProducedSignal,
		src.SignalsProduced, src.SignalsCorroborated, src.ConsecutiveEmptyRuns,
		src.Active, src.ScrapeCount, src.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert source %s: %w", src.ID, err)
	}
	return nil
}

// FindSourceByCanonicalKey looks up a Source by its dedup identity.
func (s *SQLiteStore) FindSourceByCanonicalKey(ctx context.Context, key, value string) (*models.Source, error) {
	var row sqliteSource
	query := `SELECT * FROM sources WHERE canonical_key = ? AND canonical_value = ?`
	err := s.db.GetContext(ctx, &row, query, key, value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find source by canonical key: %w", err)
	}
	return row.toModel(), nil
}

// EligibleSources returns active Sources whose cadence window has
// elapsed, ordered by effective weight descending. A Source with no
// cadence_hours override falls back to the effective_weight step table
// from internal/scheduler.CadenceHours (§4.3).
func (s *SQLiteStore) EligibleSources(ctx context.Context, role models.SourceRole, now time.Time) ([]*models.Source, error) {
	var rows []sqliteSource
	query := `
		SELECT * FROM sources
		WHERE active = 1
			AND (role = ? OR role = 'mixed')
			AND (
				last_scraped IS NULL
				OR datetime(last_scraped, '+' || (
					CASE
						WHEN cadence_hours IS NOT NULL THEN cadence_hours
						WHEN weight * quality_penalty >= 0.8 THEN 6
						WHEN weight * quality_penalty >= 0.6 THEN 12
						WHEN weight * quality_penalty >= 0.4 THEN 24
						WHEN weight * quality_penalty >= 0.2 THEN 72
						ELSE 168
					END
				) || ' hours') < ?
			)
		ORDER BY (weight * quality_penalty) DESC
	`
	err := s.db.SelectContext(ctx, &rows, query, string(role), now)
	if err != nil {
		return nil, fmt.Errorf("failed to query eligible sources: %w", err)
	}

	sources := make([]*models.Source, 0, len(rows))
	for i := range rows {
		sources = append(sources, rows[i].toModel())
	}
	return sources, nil
}

// CreatePin inserts a new geographic Pin tied to a Source.
func (s *SQLiteStore) CreatePin(ctx context.Context, p *models.Pin) error {
	query := `INSERT INTO pins (id, lat, lng, source_id, created_by, created_at) VALUES (?,?,?,?,?,?)`
	_, err := s.db.ExecContext(ctx, query, p.ID, p.Lat, p.Lng, p.SourceID, p.CreatedBy, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create pin %s: %w", p.ID, err)
	}
	return nil
}

// ConsumePin deletes and returns the next unconsumed Pin for a Source.
func (s *SQLiteStore) ConsumePin(ctx context.Context, sourceID string) (*models.Pin, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var p models.Pin
	selectQuery := `SELECT id, lat, lng, source_id, created_by, created_at FROM pins WHERE source_id = ? ORDER BY created_at LIMIT 1`
	row := tx.QueryRowContext(ctx, selectQuery, sourceID)
	err = row.Scan(&p.ID, &p.Lat, &p.Lng, &p.SourceID, &p.CreatedBy, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find pin for source %s: %w", sourceID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM pins WHERE id = ?`, p.ID); err != nil {
		return nil, fmt.Errorf("failed to consume pin %s: %w", p.ID, err)
	}

	return &p, tx.Commit()
}

// DeletePins removes Pins by id, e.g. ones orphaned by a deactivated
// Source (§4.9 delete_pins).
func (s *SQLiteStore) DeletePins(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`DELETE FROM pins WHERE id IN (?)`, ids)
	if err != nil {
		return fmt.Errorf("build delete pins query: %w", err)
	}
	query = s.db.Rebind(query)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete pins: %w", err)
	}
	return nil
}

// InsertInteraction writes an immutable Interaction row.
func (s *SQLiteStore) InsertInteraction(ctx context.Context, i *models.Interaction) error {
	query := `
		INSERT INTO interactions (
			id, run_id, region, kind, target, target_raw, fetcher,
			content_hash, duration_ms, error, response_payload, created_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
	`
	_, err := s.db.ExecContext(ctx, query,
		i.ID, i.RunID, i.Region, string(i.Kind), i.Target, i.TargetRaw, i.Fetcher,
		i.ContentHash, i.DurationMS, i.Error, i.ResponsePayload, i.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert interaction %s: %w", i.ID, err)
	}
	return nil
}

// AppendSignalEvent appends an entry to the signal event log.
func (s *SQLiteStore) AppendSignalEvent(ctx context.Context, runID, eventType string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}
	query := `INSERT INTO signal_events (run_id, event_type, payload, created_at) VALUES (?,?,?,?)`
	_, err = s.db.ExecContext(ctx, query, runID, eventType, body, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to append signal event: %w", err)
	}
	return nil
}

// StartRunLog records the beginning of a pipeline run.
func (s *SQLiteStore) StartRunLog(ctx context.Context, r *models.RunLog) error {
	statsJSON, err := json.Marshal(r.Stats)
	if err != nil {
		return fmt.Errorf("failed to marshal run stats: %w", err)
	}
	query := `INSERT INTO run_logs (id, run_id, region, started_at, stats) VALUES (?,?,?,?,?)`
	_, err = s.db.ExecContext(ctx, query, r.ID, r.RunID, r.Region, r.StartedAt, statsJSON)
	if err != nil {
		return fmt.Errorf("failed to start run log %s: %w", r.RunID, err)
	}
	return nil
}

// FinishRunLog records the end of a pipeline run.
func (s *SQLiteStore) FinishRunLog(ctx context.Context, runID string, finishedAt time.Time, stats map[string]int, lastErr *string) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal run stats: %w", err)
	}
	query := `UPDATE run_logs SET finished_at = ?, stats = ?, last_error = ? WHERE run_id = ?`
	_, err = s.db.ExecContext(ctx, query, finishedAt, statsJSON, lastErr, runID)
	if err != nil {
		return fmt.Errorf("failed to finish run log %s: %w", runID, err)
	}
	return nil
}
