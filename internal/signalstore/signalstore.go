// Package signalstore is the event-sourced Signal store (§4.9, C10):
// every mutation is appended to the run's event log before the graph
// projection is updated, and projection application is idempotent by
// construction — re-applying the same (content_hash, signal_type,
// normalized_title) upsert or the same (signal_id, content_hash)
// evidence attach is a no-op. This composes internal/database's event
// log (the log itself) with internal/graph's Client (the projection),
// the same "log append plus rebuildable projection" pattern the
// teacher applies to its own database+graph split.
package signalstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fourthplaces/rootsignal-sub002/internal/database"
	"github.com/fourthplaces/rootsignal-sub002/internal/dedup"
	"github.com/fourthplaces/rootsignal-sub002/internal/graph"
	"github.com/fourthplaces/rootsignal-sub002/internal/models"
)

// EventKind names the event log entries this store appends.
type EventKind string

const (
	EventSignalUpserted  EventKind = "signal_upserted"
	EventEvidenceCreated EventKind = "evidence_created"
	EventPinsDeleted     EventKind = "pins_deleted"
	EventSignalTagged    EventKind = "signal_tagged"
	EventRespondsTo      EventKind = "responds_to_linked"
)

// Store is the event-sourced Signal store. Idempotency is tracked in
// memory for the Store's lifetime; pipeline.NewRunner builds one Store
// per Runner, so the maps dedupe across every run that Runner executes
// and are emptied only by a restart. The event log itself is the
// durable source of truth; a restart rebuilds the graph projection
// from the log rather than from this in-memory map.
type Store struct {
	db    database.Store
	graph *graph.Client

	mu              sync.Mutex
	appliedUpserts  map[string]string
	appliedEvidence map[string]bool
}

func New(db database.Store, g *graph.Client) *Store {
	return &Store{
		db:              db,
		graph:           g,
		appliedUpserts:  make(map[string]string),
		appliedEvidence: make(map[string]bool),
	}
}

func upsertKey(contentHash string, kind models.SignalKind, title string) string {
	return contentHash + "|" + string(kind) + "|" + dedup.Normalize(title)
}

func evidenceKey(signalID, contentHash string) string {
	return signalID + "|" + contentHash
}

// UpsertSignal appends a signal_upserted event then projects it into
// the graph, keyed by (content_hash, signal_type, normalized_title)
// for idempotency — re-processing the same unchanged page content
// returns the same Signal id without a second graph write.
func (s *Store) UpsertSignal(ctx context.Context, runID, contentHash string, signal *models.Signal) (string, error) {
	key := upsertKey(contentHash, signal.Kind, signal.Title)

	s.mu.Lock()
	if existingID, ok := s.appliedUpserts[key]; ok {
		s.mu.Unlock()
		return existingID, nil
	}
	s.mu.Unlock()

	if signal.ID == "" {
		signal.ID = uuid.NewString()
	}

	if err := s.db.AppendSignalEvent(ctx, runID, string(EventSignalUpserted), signal); err != nil {
		return "", fmt.Errorf("append signal_upserted event: %w", err)
	}
	if err := s.graph.UpsertSignal(ctx, signal); err != nil {
		return "", fmt.Errorf("project signal upsert: %w", err)
	}

	s.mu.Lock()
	s.appliedUpserts[key] = signal.ID
	s.mu.Unlock()
	return signal.ID, nil
}

// CreateEvidence appends an evidence_created event then projects a
// Citation against an existing Signal, keyed by (signal_id,
// content_hash) for idempotency.
func (s *Store) CreateEvidence(ctx context.Context, runID, contentHash string, citation *models.Citation) error {
	key := evidenceKey(citation.SignalID, contentHash)

	s.mu.Lock()
	if s.appliedEvidence[key] {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.db.AppendSignalEvent(ctx, runID, string(EventEvidenceCreated), citation); err != nil {
		return fmt.Errorf("append evidence_created event: %w", err)
	}
	if err := s.graph.Corroborate(ctx, citation.SignalID, citation); err != nil {
		return fmt.Errorf("project evidence create: %w", err)
	}

	s.mu.Lock()
	s.appliedEvidence[key] = true
	s.mu.Unlock()
	return nil
}

// FindDuplicate runs the graph vector index lookup restricted to kind,
// returning the single best match at or above threshold, or nil if
// none qualifies (§4.9, backing §4.8 layer 3). Region bounding-box
// filtering is not pushed down here: internal/graph.Client's vector
// query has no spatial predicate, so candidates returned are
// geography-unfiltered until that query gains one — callers needing a
// tight region bound should post-filter on the resolved Signal's
// about_location themselves.
func (s *Store) FindDuplicate(ctx context.Context, kind models.SignalKind, embedding []float32, threshold float64) (*dedup.Match, error) {
	candidates, err := s.graph.FindSimilarSignals(ctx, kind, embedding, 1)
	if err != nil {
		return nil, fmt.Errorf("find duplicate: %w", err)
	}
	if len(candidates) == 0 || candidates[0].Similarity < threshold {
		return nil, nil
	}
	return &dedup.Match{
		ExistingID:   candidates[0].SignalID,
		ExistingType: kind,
		Similarity:   candidates[0].Similarity,
	}, nil
}

// DeletePins removes Pins by id (§4.9 delete_pins), e.g. ones orphaned
// by a deactivated Source.
func (s *Store) DeletePins(ctx context.Context, ids []string) error {
	return s.db.DeletePins(ctx, ids)
}

// ReapReason names why ReapExpired removed a signal.
type ReapReason string

const (
	ReasonGatheringEnded ReapReason = "gathering_ended"
	ReasonNeedStale      ReapReason = "need_stale"
	ReasonInactive       ReapReason = "inactive"
)

// ReapStats tallies ReapExpired's removals by reason.
type ReapStats struct {
	Removed  int
	ByReason map[ReapReason]int
}

// ShouldReap evaluates the three expiry rules in order against a
// single Signal (§4.9). It is pure — no I/O — so it's independently
// testable against hand-built Signal fixtures.
func ShouldReap(s *models.Signal, now time.Time) (bool, ReapReason) {
	if s.Kind == models.SignalGathering && s.Gathering != nil && s.Gathering.EndsAt != nil &&
		!s.Gathering.IsRecurring && s.Gathering.EndsAt.Before(now.Add(-24*time.Hour)) {
		return true, ReasonGatheringEnded
	}
	if s.Kind == models.SignalNeed && s.LastConfirmedActive.Before(now.Add(-60*24*time.Hour)) {
		return true, ReasonNeedStale
	}
	if s.LastConfirmedActive.Before(now.Add(-180*24*time.Hour)) {
		return true, ReasonInactive
	}
	return false, ""
}

// ReapExpired evaluates ShouldReap over every Signal currently in the
// graph and removes the ones that qualify, tallying stats by reason.
func (s *Store) ReapExpired(ctx context.Context, now time.Time) (ReapStats, error) {
	rows, err := s.graph.ExecuteQuery(ctx, `
		MATCH (n:Signal)
		RETURN n.id AS id, n.kind AS kind, n.is_recurring AS is_recurring,
			n.ends_at AS ends_at, n.last_confirmed_active AS last_confirmed_active
	`, nil)
	if err != nil {
		return ReapStats{}, fmt.Errorf("reap scan: %w", err)
	}

	stats := ReapStats{ByReason: make(map[ReapReason]int)}
	var toDelete []string

	for _, row := range rows {
		signal := reapRowToSignal(row)
		if ok, reason := ShouldReap(signal, now); ok {
			toDelete = append(toDelete, signal.ID)
			stats.ByReason[reason]++
			stats.Removed++
		}
	}

	if len(toDelete) > 0 {
		if _, err := s.graph.ExecuteQuery(ctx, `
			MATCH (n:Signal) WHERE n.id IN $ids
			DETACH DELETE n
		`, map[string]any{"ids": toDelete}); err != nil {
			return stats, fmt.Errorf("reap delete: %w", err)
		}
	}
	return stats, nil
}

func reapRowToSignal(row map[string]any) *models.Signal {
	signal := &models.Signal{}
	if id, ok := row["id"].(string); ok {
		signal.ID = id
	}
	if kind, ok := row["kind"].(string); ok {
		signal.Kind = models.SignalKind(kind)
	}
	if lastActive, ok := row["last_confirmed_active"].(time.Time); ok {
		signal.LastConfirmedActive = lastActive
	}
	if signal.Kind == models.SignalGathering {
		recurring, _ := row["is_recurring"].(bool)
		var endsAt *time.Time
		if t, ok := row["ends_at"].(time.Time); ok {
			endsAt = &t
		}
		signal.Gathering = &models.GatheringFields{IsRecurring: recurring, EndsAt: endsAt}
	}
	return signal
}
