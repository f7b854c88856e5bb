// Package source is the Source/Pin persistence wrapper around
// database.Store (§3, C3), grounded on the teacher's
// internal/storage.Store interface-over-two-backends shape. It owns
// the post-scrape weight/cadence update and dead-source deactivation
// rule from §4.3, kept out of the scheduler package itself since the
// scheduler's Build function is the read side and this is the write
// side of the same Source record.
package source

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fourthplaces/rootsignal-sub002/internal/canon"
	"github.com/fourthplaces/rootsignal-sub002/internal/database"
	"github.com/fourthplaces/rootsignal-sub002/internal/models"
)

// WeightStep is the per-run weight adjustment applied on a productive
// or empty scrape (§4.3).
const (
	WeightStepUp   = 0.05
	WeightStepDown = 0.03
)

// MaxConsecutiveEmptyRuns deactivates a Source once it has produced
// nothing for this many consecutive scrapes (§4.3 "deactivate dead
// sources").
const MaxConsecutiveEmptyRuns = 10

// Manager wraps database.Store with Source/Pin write operations that
// need more than a single upsert: canonical-key-deduped creation,
// post-scrape weight adjustment, and pin lifecycle.
type Manager struct {
	db database.Store
}

func New(db database.Store) *Manager {
	return &Manager{db: db}
}

// Ensure creates a Source for the given raw target if none exists yet
// under its canonical_key, or returns the existing one unchanged. Used
// by the bootstrap sub-phase and by any caller that discovers a target
// without already knowing whether it's been seen (§4.1, §4.15).
func (m *Manager) Ensure(ctx context.Context, raw string, role models.SourceRole, method models.DiscoveryMethod) (*models.Source, error) {
	key := canon.CanonicalValue(raw)

	existing, err := m.db.FindSourceByCanonicalKey(ctx, key, key)
	if err != nil {
		return nil, fmt.Errorf("lookup source %q: %w", key, err)
	}
	if existing != nil {
		return existing, nil
	}

	target := canon.DetectTarget(raw)
	var url *string
	if target.Kind != canon.TargetWebQuery {
		u := target.URL
		url = &u
	}

	s := &models.Source{
		ID:             uuid.NewString(),
		CanonicalKey:   key,
		CanonicalValue: key,
		URL:            url,
		DiscoveryMethod: method,
		Role:           role,
		Weight:         0.5,
		QualityPenalty: 1.0,
		Active:         true,
		CreatedAt:      time.Now().UTC(),
	}
	if err := m.db.UpsertSource(ctx, s); err != nil {
		return nil, fmt.Errorf("create source %q: %w", key, err)
	}
	return s, nil
}

// RecordScrape applies the post-scrape bookkeeping for one Source: bump
// or decay its weight depending on whether the scrape produced any
// signals, track consecutive empty runs, and deactivate once that
// streak crosses MaxConsecutiveEmptyRuns (§4.3). now becomes
// last_scraped; last_produced_signal only advances when signalsProduced
// > 0.
func (m *Manager) RecordScrape(ctx context.Context, s *models.Source, signalsProduced, signalsCorroborated int, now time.Time) error {
	s.LastScraped = &now
	s.ScrapeCount++
	s.SignalsProduced += signalsProduced
	s.SignalsCorroborated += signalsCorroborated

	if signalsProduced > 0 {
		s.LastProducedSignal = &now
		s.ConsecutiveEmptyRuns = 0
		s.Weight = clamp01(s.Weight + WeightStepUp)
	} else {
		s.ConsecutiveEmptyRuns++
		s.Weight = clamp01(s.Weight - WeightStepDown)
	}

	if s.ConsecutiveEmptyRuns >= MaxConsecutiveEmptyRuns {
		s.Active = false
	}

	return m.db.UpsertSource(ctx, s)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// CreatePin persists a geographic seed that promotes a Source to the
// next scrape (§3 Pin).
func (m *Manager) CreatePin(ctx context.Context, lat, lng float64, sourceID, createdBy string) error {
	return m.db.CreatePin(ctx, &models.Pin{
		ID:        uuid.NewString(),
		Lat:       lat,
		Lng:       lng,
		SourceID:  sourceID,
		CreatedBy: createdBy,
		CreatedAt: time.Now().UTC(),
	})
}

// ConsumePin removes and returns the oldest Pin for a Source, nil if
// none exists (§4.9 delete_pins path).
func (m *Manager) ConsumePin(ctx context.Context, sourceID string) (*models.Pin, error) {
	return m.db.ConsumePin(ctx, sourceID)
}

// Eligible loads eligible Sources for a role, delegating to the store's
// cadence-aware query (§4.3).
func (m *Manager) Eligible(ctx context.Context, role models.SourceRole, now time.Time) ([]*models.Source, error) {
	return m.db.EligibleSources(ctx, role, now)
}
