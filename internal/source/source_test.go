package source

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fourthplaces/rootsignal-sub002/internal/database"
	"github.com/fourthplaces/rootsignal-sub002/internal/models"
)

type fakeStore struct {
	database.Store
	byKey     map[string]*models.Source
	upserted  []*models.Source
	pins      map[string][]*models.Pin
}

func newFakeStore() *fakeStore {
	return &fakeStore{byKey: make(map[string]*models.Source), pins: make(map[string][]*models.Pin)}
}

func (f *fakeStore) FindSourceByCanonicalKey(ctx context.Context, key, value string) (*models.Source, error) {
	return f.byKey[key], nil
}

func (f *fakeStore) UpsertSource(ctx context.Context, s *models.Source) error {
	f.byKey[s.CanonicalKey] = s
	f.upserted = append(f.upserted, s)
	return nil
}

func (f *fakeStore) CreatePin(ctx context.Context, p *models.Pin) error {
	f.pins[p.SourceID] = append(f.pins[p.SourceID], p)
	return nil
}

func (f *fakeStore) ConsumePin(ctx context.Context, sourceID string) (*models.Pin, error) {
	ps := f.pins[sourceID]
	if len(ps) == 0 {
		return nil, nil
	}
	p := ps[0]
	f.pins[sourceID] = ps[1:]
	return p, nil
}

func TestEnsure_CreatesNewSourceForNovelTarget(t *testing.T) {
	store := newFakeStore()
	m := New(store)

	s, err := m.Ensure(context.Background(), "https://example.org/events", models.RoleTension, models.DiscoveryColdStart)
	require.NoError(t, err)
	assert.True(t, s.Active)
	assert.Equal(t, models.DiscoveryColdStart, s.DiscoveryMethod)
	assert.Len(t, store.upserted, 1)
}

func TestEnsure_ReturnsExistingInsteadOfDuplicating(t *testing.T) {
	store := newFakeStore()
	existing := &models.Source{ID: "s1", CanonicalKey: "https://example.org/events"}
	store.byKey["https://example.org/events"] = existing

	m := New(store)
	s, err := m.Ensure(context.Background(), "https://example.org/events", models.RoleTension, models.DiscoveryColdStart)
	require.NoError(t, err)
	assert.Same(t, existing, s)
	assert.Empty(t, store.upserted)
}

func TestRecordScrape_ProductiveScrapeBoostsWeightAndResetsStreak(t *testing.T) {
	store := newFakeStore()
	m := New(store)
	s := &models.Source{ID: "s1", Weight: 0.5, ConsecutiveEmptyRuns: 3}

	now := time.Now().UTC()
	require.NoError(t, m.RecordScrape(context.Background(), s, 2, 1, now))

	assert.InDelta(t, 0.55, s.Weight, 0.001)
	assert.Equal(t, 0, s.ConsecutiveEmptyRuns)
	assert.Equal(t, &now, s.LastProducedSignal)
	assert.True(t, s.Active)
}

func TestRecordScrape_EmptyScrapeDecaysWeightAndAccumulatesStreak(t *testing.T) {
	store := newFakeStore()
	m := New(store)
	s := &models.Source{ID: "s1", Weight: 0.5}

	now := time.Now().UTC()
	require.NoError(t, m.RecordScrape(context.Background(), s, 0, 0, now))

	assert.InDelta(t, 0.47, s.Weight, 0.001)
	assert.Equal(t, 1, s.ConsecutiveEmptyRuns)
	assert.Nil(t, s.LastProducedSignal)
}

func TestRecordScrape_DeactivatesAfterMaxConsecutiveEmptyRuns(t *testing.T) {
	store := newFakeStore()
	m := New(store)
	s := &models.Source{ID: "s1", Weight: 0.5, ConsecutiveEmptyRuns: MaxConsecutiveEmptyRuns - 1}

	require.NoError(t, m.RecordScrape(context.Background(), s, 0, 0, time.Now().UTC()))

	assert.Equal(t, MaxConsecutiveEmptyRuns, s.ConsecutiveEmptyRuns)
	assert.False(t, s.Active)
}

func TestConsumePin_ReturnsNilWhenNoneQueued(t *testing.T) {
	store := newFakeStore()
	m := New(store)

	p, err := m.ConsumePin(context.Background(), "s1")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestCreatePinThenConsumePin_RoundTrips(t *testing.T) {
	store := newFakeStore()
	m := New(store)

	require.NoError(t, m.CreatePin(context.Background(), 44.9, -93.2, "s1", "admin"))
	p, err := m.ConsumePin(context.Background(), "s1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "s1", p.SourceID)
}
