package database

import (
	"context"
	"errors"
	"time"

	"github.com/fourthplaces/rootsignal-sub002/internal/models"
)

// Common errors
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// Store defines the persistence interface for Sources, Pins,
// Interactions, the signal event log, and RunLogs. PostgresStore is
// the production backend; SQLiteStore serves the local/offline run
// mode for the CLI collaborator (§9, same dual-backend shape the
// teacher uses for its own storage layer).
type Store interface {
	UpsertSource(ctx context.Context, s *models.Source) error
	FindSourceByCanonicalKey(ctx context.Context, key, value string) (*models.Source, error)
	EligibleSources(ctx context.Context, role models.SourceRole, now time.Time) ([]*models.Source, error)

	CreatePin(ctx context.Context, p *models.Pin) error
	ConsumePin(ctx context.Context, sourceID string) (*models.Pin, error)
	DeletePins(ctx context.Context, ids []string) error

	InsertInteraction(ctx context.Context, i *models.Interaction) error

	AppendSignalEvent(ctx context.Context, runID, eventType string, payload any) error

	StartRunLog(ctx context.Context, r *models.RunLog) error
	FinishRunLog(ctx context.Context, runID string, finishedAt time.Time, stats map[string]int, lastErr *string) error

	HealthCheck(ctx context.Context) error
	Close() error
}
