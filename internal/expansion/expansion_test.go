package expansion

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fourthplaces/rootsignal-sub002/internal/database"
	"github.com/fourthplaces/rootsignal-sub002/internal/models"
)

type fakeStore struct {
	database.Store
	byKey    map[string]*models.Source
	upserted []*models.Source
}

func newFakeStore() *fakeStore {
	return &fakeStore{byKey: make(map[string]*models.Source)}
}

func (f *fakeStore) FindSourceByCanonicalKey(ctx context.Context, key, value string) (*models.Source, error) {
	return f.byKey[key], nil
}

func (f *fakeStore) UpsertSource(ctx context.Context, s *models.Source) error {
	f.byKey[s.CanonicalKey] = s
	f.upserted = append(f.upserted, s)
	return nil
}

func TestExpand_CreatesNewSourceForNovelQuery(t *testing.T) {
	store := newFakeStore()
	e := New(store)

	created, err := e.Expand(context.Background(), []string{"free meals downtown"}, models.DiscoveryTensionSeed, models.RoleResponse)
	require.NoError(t, err)
	assert.Equal(t, 1, created)
	assert.Len(t, store.upserted, 1)
	assert.Equal(t, models.DiscoveryTensionSeed, store.upserted[0].DiscoveryMethod)
	assert.True(t, store.upserted[0].Active)
}

func TestExpand_BoostsExistingSourceInsteadOfDuplicating(t *testing.T) {
	store := newFakeStore()
	existing := &models.Source{ID: "s1", CanonicalKey: "free meals downtown", Weight: 0.5}
	store.byKey["free meals downtown"] = existing

	e := New(store)
	created, err := e.Expand(context.Background(), []string{"free meals downtown"}, models.DiscoveryInvestigation, models.RoleResponse)
	require.NoError(t, err)
	assert.Equal(t, 0, created)
	assert.InDelta(t, 0.55, store.byKey["free meals downtown"].Weight, 0.001)
}

func TestExpand_WeightBoostCapsAtOne(t *testing.T) {
	store := newFakeStore()
	existing := &models.Source{ID: "s1", CanonicalKey: "k", Weight: 0.99}
	store.byKey["k"] = existing

	e := New(store)
	_, err := e.Expand(context.Background(), []string{"k"}, models.DiscoveryTensionSeed, models.RoleResponse)
	require.NoError(t, err)
	assert.Equal(t, 1.0, store.byKey["k"].Weight)
}

func TestExpand_EmptyQuerySkipped(t *testing.T) {
	store := newFakeStore()
	e := New(store)
	created, err := e.Expand(context.Background(), []string{"   "}, models.DiscoveryTensionSeed, models.RoleResponse)
	require.NoError(t, err)
	assert.Equal(t, 0, created)
	assert.Empty(t, store.upserted)
}
