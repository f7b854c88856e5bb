package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fourthplaces/rootsignal-sub002/internal/database"
	"github.com/fourthplaces/rootsignal-sub002/internal/models"
)

func TestCadenceHours_StepTable(t *testing.T) {
	cases := []struct {
		weight float64
		want   float64
	}{
		{0.9, 6},
		{0.8, 6},
		{0.7, 12},
		{0.6, 12},
		{0.5, 24},
		{0.4, 24},
		{0.3, 72},
		{0.2, 72},
		{0.1, 168},
		{0, 168},
	}
	for _, c := range cases {
		got := CadenceHours(c.weight, nil)
		assert.Equal(t, c.want, got, "weight=%v", c.weight)
	}
}

func TestCadenceHours_OverrideWins(t *testing.T) {
	override := 3.0
	assert.Equal(t, 3.0, CadenceHours(0.1, &override))
}

func TestIsEligible(t *testing.T) {
	now := time.Now().UTC()
	never := &models.Source{Weight: 1, QualityPenalty: 1}
	assert.True(t, IsEligible(never, now))

	tenHoursAgo := now.Add(-10 * time.Hour)
	withinWindow := &models.Source{Weight: 0.5, QualityPenalty: 1, LastScraped: &tenHoursAgo}
	assert.False(t, IsEligible(withinWindow, now))

	thirtyHoursAgo := now.Add(-30 * time.Hour)
	pastWindow := &models.Source{Weight: 0.5, QualityPenalty: 1, LastScraped: &thirtyHoursAgo}
	assert.True(t, IsEligible(pastWindow, now))
}

func TestSortByPriority_TieBreak(t *testing.T) {
	now := time.Now().UTC()
	older := now.Add(-48 * time.Hour)
	newer := now.Add(-1 * time.Hour)

	highWeight := &models.Source{ID: "high", Weight: 0.9, QualityPenalty: 1}
	lowWeight := &models.Source{ID: "low", Weight: 0.2, QualityPenalty: 1}
	fewerEmpty := &models.Source{ID: "fewer-empty", Weight: 0.5, QualityPenalty: 1, ConsecutiveEmptyRuns: 0}
	moreEmpty := &models.Source{ID: "more-empty", Weight: 0.5, QualityPenalty: 1, ConsecutiveEmptyRuns: 3}
	olderScrape := &models.Source{ID: "older-scrape", Weight: 0.5, QualityPenalty: 1, LastScraped: &older}
	newerScrape := &models.Source{ID: "newer-scrape", Weight: 0.5, QualityPenalty: 1, LastScraped: &newer}

	sources := []*models.Source{lowWeight, highWeight}
	sortByPriority(sources)
	assert.Equal(t, "high", sources[0].ID)

	sources = []*models.Source{moreEmpty, fewerEmpty}
	sortByPriority(sources)
	assert.Equal(t, "fewer-empty", sources[0].ID)

	sources = []*models.Source{newerScrape, olderScrape}
	sortByPriority(sources)
	assert.Equal(t, "older-scrape", sources[0].ID)
}

func TestExplorationSlice_CapsAtThreeAndFivePercent(t *testing.T) {
	var scheduled []*models.Source
	for i := 0; i < 100; i++ {
		scheduled = append(scheduled, &models.Source{ID: uuid.NewString(), Weight: 1, QualityPenalty: 1, ScrapeCount: 0})
	}
	got := explorationSlice(scheduled)
	assert.Len(t, got, 3, "5%% of 100 is 5 but the hard cap of 3 applies")

	var small []*models.Source
	for i := 0; i < 10; i++ {
		small = append(small, &models.Source{ID: uuid.NewString(), Weight: 1, QualityPenalty: 1, ScrapeCount: 0})
	}
	got = explorationSlice(small)
	assert.Len(t, got, 0, "5%% of 10 rounds down to 0")
}

func TestExplorationSlice_OnlyNeverScraped(t *testing.T) {
	scheduled := []*models.Source{
		{ID: "fresh-1", Weight: 1, QualityPenalty: 1, ScrapeCount: 0},
		{ID: "fresh-2", Weight: 1, QualityPenalty: 1, ScrapeCount: 0},
		{ID: "veteran", Weight: 1, QualityPenalty: 1, ScrapeCount: 40},
	}
	got := explorationSlice(scheduled)
	for _, s := range got {
		assert.Equal(t, 0, s.ScrapeCount)
	}
}

func TestWebQuerySources_FiltersAndCaps(t *testing.T) {
	var sources []*models.Source
	for i := 0; i < 20; i++ {
		sources = append(sources, &models.Source{
			ID: uuid.NewString(), Weight: 1, QualityPenalty: 1,
			CanonicalValue: "mutual aid riverbend",
		})
	}
	sources = append(sources, &models.Source{
		ID: "url-source", Weight: 1, QualityPenalty: 1,
		CanonicalValue: "https://riverbendmutualaid.org",
	})

	got := WebQuerySources(sources)
	assert.Len(t, got, MaxWebQueriesPerRun)
	for _, s := range got {
		assert.NotEqual(t, "url-source", s.ID)
	}
}

type fakeStore struct {
	database.Store
	tension  []*models.Source
	response []*models.Source
}

func (f *fakeStore) EligibleSources(ctx context.Context, role models.SourceRole, now time.Time) ([]*models.Source, error) {
	if role == models.RoleTension {
		return f.tension, nil
	}
	return f.response, nil
}

func TestBuild_UnionsPhasesAndComputesSkipped(t *testing.T) {
	shared := &models.Source{ID: "mixed-1", Role: models.RoleMixed, Weight: 1, QualityPenalty: 1}
	tensionOnly := &models.Source{ID: "tension-1", Role: models.RoleTension, Weight: 1, QualityPenalty: 1}
	responseOnly := &models.Source{ID: "response-1", Role: models.RoleResponse, Weight: 1, QualityPenalty: 1}

	store := &fakeStore{
		tension:  []*models.Source{shared, tensionOnly},
		response: []*models.Source{shared, responseOnly},
	}

	sched, err := Build(context.Background(), store, time.Now().UTC(), 10)
	require.NoError(t, err)
	assert.Len(t, sched.Scheduled, 3, "mixed source must be deduplicated across phases")
	assert.Equal(t, 7, sched.Skipped)
}

func TestBuild_ZeroEligible(t *testing.T) {
	store := &fakeStore{}
	sched, err := Build(context.Background(), store, time.Now().UTC(), 5)
	require.NoError(t, err)
	assert.Empty(t, sched.Scheduled)
	assert.Empty(t, sched.Exploration)
	assert.Equal(t, 5, sched.Skipped)
}
