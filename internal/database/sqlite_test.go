package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fourthplaces/rootsignal-sub002/internal/models"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "rootsignal.db")
	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestSource(t *testing.T) *models.Source {
	t.Helper()
	return &models.Source{
		ID:             uuid.NewString(),
		CanonicalKey:   "domain",
		CanonicalValue: "riverbendmutualaid.org",
		DiscoveryMethod: models.DiscoveryColdStart,
		Role:           models.RoleMixed,
		Weight:         1.0,
		QualityPenalty: 1.0,
		Active:         true,
		CreatedAt:      time.Now().UTC(),
	}
}

func TestSQLiteStore_UpsertAndFindSource(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	src := newTestSource(t)
	require.NoError(t, store.UpsertSource(ctx, src))

	found, err := store.FindSourceByCanonicalKey(ctx, src.CanonicalKey, src.CanonicalValue)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, src.ID, found.ID)
	assert.Equal(t, models.RoleMixed, found.Role)
	assert.True(t, found.Active)

	missing, err := store.FindSourceByCanonicalKey(ctx, "domain", "nonexistent.example")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLiteStore_EligibleSources(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	fresh := newTestSource(t)
	cadence := 6.0
	fresh.Role = models.RoleTension
	fresh.CadenceHours = &cadence
	now := time.Now().UTC()
	fresh.LastScraped = &now
	require.NoError(t, store.UpsertSource(ctx, fresh))

	stale := newTestSource(t)
	stale.Role = models.RoleTension
	stale.CadenceHours = &cadence
	tenHoursAgo := now.Add(-10 * time.Hour)
	stale.LastScraped = &tenHoursAgo
	require.NoError(t, store.UpsertSource(ctx, stale))

	neverScraped := newTestSource(t)
	neverScraped.Role = models.RoleTension
	require.NoError(t, store.UpsertSource(ctx, neverScraped))

	eligible, err := store.EligibleSources(ctx, models.RoleTension, now)
	require.NoError(t, err)

	ids := make(map[string]bool)
	for _, s := range eligible {
		ids[s.ID] = true
	}
	assert.True(t, ids[stale.ID], "stale source past its cadence window should be eligible")
	assert.True(t, ids[neverScraped.ID], "never-scraped source should be eligible")
	assert.False(t, ids[fresh.ID], "freshly scraped source should not be eligible yet")
}

func TestSQLiteStore_EligibleSources_FallsBackToWeightDerivedCadence(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// effective_weight = 0.5 -> 24h cadence table tier (>=0.4). No
	// explicit cadence_hours override is set, so the weight-derived
	// table must be applied rather than treating the source as always
	// eligible (the bug the cadence fix addresses).
	tooSoon := newTestSource(t)
	tooSoon.Role = models.RoleTension
	tooSoon.Weight = 0.5
	tooSoon.QualityPenalty = 1.0
	tenHoursAgo := now.Add(-10 * time.Hour)
	tooSoon.LastScraped = &tenHoursAgo
	require.NoError(t, store.UpsertSource(ctx, tooSoon))

	pastWindow := newTestSource(t)
	pastWindow.Role = models.RoleTension
	pastWindow.Weight = 0.5
	pastWindow.QualityPenalty = 1.0
	thirtyHoursAgo := now.Add(-30 * time.Hour)
	pastWindow.LastScraped = &thirtyHoursAgo
	require.NoError(t, store.UpsertSource(ctx, pastWindow))

	eligible, err := store.EligibleSources(ctx, models.RoleTension, now)
	require.NoError(t, err)

	ids := make(map[string]bool)
	for _, s := range eligible {
		ids[s.ID] = true
	}
	assert.False(t, ids[tooSoon.ID], "source within its weight-derived 24h cadence window must not be eligible")
	assert.True(t, ids[pastWindow.ID], "source past its weight-derived 24h cadence window must be eligible")
}

func TestSQLiteStore_PinLifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	src := newTestSource(t)
	require.NoError(t, store.UpsertSource(ctx, src))

	pin := &models.Pin{
		ID:        uuid.NewString(),
		Lat:       37.8044,
		Lng:       -122.2712,
		SourceID:  src.ID,
		CreatedBy: "investigation",
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.CreatePin(ctx, pin))

	consumed, err := store.ConsumePin(ctx, src.ID)
	require.NoError(t, err)
	require.NotNil(t, consumed)
	assert.Equal(t, pin.ID, consumed.ID)

	again, err := store.ConsumePin(ctx, src.ID)
	require.NoError(t, err)
	assert.Nil(t, again, "pin should be consumed exactly once")
}

func TestSQLiteStore_InsertInteraction(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	runID := uuid.NewString()
	interaction := &models.Interaction{
		ID:          uuid.NewString(),
		RunID:       runID,
		Region:      "riverbend",
		Kind:        models.KindPage,
		Target:      "https://riverbendmutualaid.org/updates",
		Fetcher:     "browserless",
		ContentHash: "deadbeef",
		DurationMS:  420,
		CreatedAt:   time.Now().UTC(),
	}
	require.True(t, interaction.Valid())
	require.NoError(t, store.InsertInteraction(ctx, interaction))
}

func TestSQLiteStore_SignalEventLog(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	err := store.AppendSignalEvent(ctx, uuid.NewString(), "signal_created", map[string]string{
		"signal_id": uuid.NewString(),
		"kind":      "tension",
	})
	require.NoError(t, err)
}

func TestSQLiteStore_RunLogLifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	runID := uuid.NewString()
	run := &models.RunLog{
		ID:        uuid.NewString(),
		RunID:     runID,
		Region:    "riverbend",
		StartedAt: time.Now().UTC(),
		Stats:     map[string]int{"sources_scraped": 0},
	}
	require.NoError(t, store.StartRunLog(ctx, run))

	finishedAt := run.StartedAt.Add(2 * time.Minute)
	require.NoError(t, store.FinishRunLog(ctx, runID, finishedAt, map[string]int{
		"sources_scraped": 12,
		"signals_created": 3,
	}, nil))
}

func TestSQLiteStore_HealthCheck(t *testing.T) {
	store := setupTestStore(t)
	require.NoError(t, store.HealthCheck(context.Background()))
}
