package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fourthplaces/rootsignal-sub002/internal/models"
)

func TestDedupVerdict_GlobalExactMatchSameURLRefreshes(t *testing.T) {
	global := &Match{ExistingID: "s1", ExistingType: models.SignalNeed, URL: "https://x.org/a", Similarity: 1.0}
	v := DedupVerdict("https://x.org/a", global, nil, nil)
	assert.Equal(t, Refresh, v.Kind)
	assert.Equal(t, 1.0, v.Similarity)
}

func TestDedupVerdict_GlobalExactMatchDifferentURLCorroborates(t *testing.T) {
	global := &Match{ExistingID: "s1", ExistingType: models.SignalNeed, URL: "https://x.org/a"}
	v := DedupVerdict("https://y.org/b", global, nil, nil)
	assert.Equal(t, Corroborate, v.Kind)
	assert.Equal(t, "s1", v.ExistingID)
}

func TestDedupVerdict_CacheMatchBelowThresholdIgnored(t *testing.T) {
	cache := &Match{ExistingID: "s2", URL: "https://x.org/a", Similarity: 0.5}
	v := DedupVerdict("https://x.org/a", nil, cache, nil)
	assert.Equal(t, Create, v.Kind)
}

func TestDedupVerdict_CacheMatchSameURLRefreshesRegardlessOfUpperThreshold(t *testing.T) {
	cache := &Match{ExistingID: "s2", URL: "https://x.org/a", Similarity: 0.86}
	v := DedupVerdict("https://x.org/a", nil, cache, nil)
	assert.Equal(t, Refresh, v.Kind)
	assert.Equal(t, 0.86, v.Similarity)
}

func TestDedupVerdict_CacheMatchDifferentURLBelowCorroborateThresholdFallsThrough(t *testing.T) {
	cache := &Match{ExistingID: "s2", URL: "https://x.org/a", Similarity: 0.88}
	graph := &Match{ExistingID: "s3", URL: "https://y.org/b", Similarity: 0.95}
	v := DedupVerdict("https://z.org/c", nil, cache, graph)
	assert.Equal(t, Corroborate, v.Kind)
	assert.Equal(t, "s3", v.ExistingID, "layer 2 must fall through to layer 3 when below corroborate threshold")
}

func TestDedupVerdict_CacheMatchDifferentURLAboveCorroborateThresholdWins(t *testing.T) {
	cache := &Match{ExistingID: "s2", URL: "https://x.org/a", Similarity: 0.93}
	v := DedupVerdict("https://z.org/c", nil, cache, nil)
	assert.Equal(t, Corroborate, v.Kind)
	assert.Equal(t, "s2", v.ExistingID)
}

func TestDedupVerdict_NoMatchCreates(t *testing.T) {
	v := DedupVerdict("https://x.org/a", nil, nil, nil)
	assert.Equal(t, Create, v.Kind)
}

func TestNormalize_NoPunctuationCollapse(t *testing.T) {
	assert.NotEqual(t, Normalize("Food Shelf"), Normalize("Food-Shelf"))
	assert.Equal(t, "food shelf", Normalize("  Food Shelf  "))
}

func TestBatchTitleDedup_FirstOccurrenceWins(t *testing.T) {
	first := &models.Signal{Title: "Food Bank Open", Kind: models.SignalAid, SourceURL: "https://a.org"}
	dup := &models.Signal{Title: "food bank open", Kind: models.SignalAid, SourceURL: "https://b.org"}
	other := &models.Signal{Title: "Food Bank Open", Kind: models.SignalNeed, SourceURL: "https://c.org"}

	got := BatchTitleDedup([]*models.Signal{first, dup, other})
	assert.Len(t, got, 2)
	assert.Equal(t, "https://a.org", got[0].SourceURL)
	assert.Equal(t, "https://c.org", got[1].SourceURL)
}
