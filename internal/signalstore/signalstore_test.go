package signalstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fourthplaces/rootsignal-sub002/internal/models"
)

func TestShouldReap_GatheringEndedNotRecurring(t *testing.T) {
	now := time.Now().UTC()
	ended := now.Add(-48 * time.Hour)
	s := &models.Signal{
		Kind:                models.SignalGathering,
		LastConfirmedActive: now,
		Gathering:           &models.GatheringFields{EndsAt: &ended, IsRecurring: false},
	}
	ok, reason := ShouldReap(s, now)
	assert.True(t, ok)
	assert.Equal(t, ReasonGatheringEnded, reason)
}

func TestShouldReap_RecurringGatheringSurvives(t *testing.T) {
	now := time.Now().UTC()
	ended := now.Add(-48 * time.Hour)
	s := &models.Signal{
		Kind:                models.SignalGathering,
		LastConfirmedActive: now,
		Gathering:           &models.GatheringFields{EndsAt: &ended, IsRecurring: true},
	}
	ok, _ := ShouldReap(s, now)
	assert.False(t, ok)
}

func TestShouldReap_NeedStale(t *testing.T) {
	now := time.Now().UTC()
	s := &models.Signal{Kind: models.SignalNeed, LastConfirmedActive: now.Add(-61 * 24 * time.Hour)}
	ok, reason := ShouldReap(s, now)
	assert.True(t, ok)
	assert.Equal(t, ReasonNeedStale, reason)
}

func TestShouldReap_RecentNeedSurvives(t *testing.T) {
	now := time.Now().UTC()
	s := &models.Signal{Kind: models.SignalNeed, LastConfirmedActive: now.Add(-10 * 24 * time.Hour)}
	ok, _ := ShouldReap(s, now)
	assert.False(t, ok)
}

func TestShouldReap_LongInactiveAnyKind(t *testing.T) {
	now := time.Now().UTC()
	s := &models.Signal{Kind: models.SignalTension, LastConfirmedActive: now.Add(-181 * 24 * time.Hour)}
	ok, reason := ShouldReap(s, now)
	assert.True(t, ok)
	assert.Equal(t, ReasonInactive, reason)
}

func TestShouldReap_RecentSignalSurvives(t *testing.T) {
	now := time.Now().UTC()
	s := &models.Signal{Kind: models.SignalTension, LastConfirmedActive: now}
	ok, _ := ShouldReap(s, now)
	assert.False(t, ok)
}

func TestUpsertKey_DiffersByContentTitleAndKind(t *testing.T) {
	a := upsertKey("hash1", models.SignalNeed, "Food Bank")
	b := upsertKey("hash1", models.SignalNeed, "food bank")
	c := upsertKey("hash2", models.SignalNeed, "Food Bank")
	d := upsertKey("hash1", models.SignalAid, "Food Bank")

	assert.Equal(t, a, b, "normalized title must collapse case/whitespace differences")
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
}

func TestEvidenceKey_DiffersBySignalAndContent(t *testing.T) {
	a := evidenceKey("sig1", "hashA")
	b := evidenceKey("sig1", "hashB")
	c := evidenceKey("sig2", "hashA")
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
}
