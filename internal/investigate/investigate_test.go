package investigate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fourthplaces/rootsignal-sub002/internal/models"
)

func TestSelectTargets_FlaggedAndElevatedLowCorroboration(t *testing.T) {
	candidates := []TargetCandidate{
		{SignalID: "a", FlaggedAtExtraction: true},
		{SignalID: "b", Sensitivity: models.SensitivityElevated, CorroborationCount: 0},
		{SignalID: "c", Sensitivity: models.SensitivityGeneral, CorroborationCount: 0},
		{SignalID: "d", Sensitivity: models.SensitivityElevated, CorroborationCount: 3},
	}
	targets := SelectTargets(candidates)
	assert.Contains(t, targets, "a")
	assert.Contains(t, targets, "b")
	assert.NotContains(t, targets, "c")
	assert.NotContains(t, targets, "d")
}

func TestSelectTargets_FlaggedPrioritizedOverElevated(t *testing.T) {
	var candidates []TargetCandidate
	for i := 0; i < 6; i++ {
		candidates = append(candidates, TargetCandidate{SignalID: "elevated", Sensitivity: models.SensitivityElevated, CorroborationCount: 0})
	}
	for i := 0; i < 6; i++ {
		candidates = append(candidates, TargetCandidate{SignalID: "flagged", FlaggedAtExtraction: true})
	}
	targets := SelectTargets(candidates)
	assert.Len(t, targets, MaxSignalsInvestigated)
	for _, id := range targets[:6] {
		assert.Equal(t, "flagged", id)
	}
}

func TestAdjustConfidence_DirectBonusCaps(t *testing.T) {
	evals := make([]Evaluation, 10)
	for i := range evals {
		evals[i] = Evaluation{Relevance: RelevanceDirect, Confidence: 0.9}
	}
	result := AdjustConfidence(0.5, evals)
	assert.InDelta(t, 0.65, result, 0.001)
}

func TestAdjustConfidence_SupportingBonusCaps(t *testing.T) {
	evals := make([]Evaluation, 10)
	for i := range evals {
		evals[i] = Evaluation{Relevance: RelevanceSupporting, Confidence: 0.6}
	}
	result := AdjustConfidence(0.5, evals)
	assert.InDelta(t, 0.56, result, 0.001)
}

func TestAdjustConfidence_ContradictingIsUncapped(t *testing.T) {
	evals := make([]Evaluation, 5)
	for i := range evals {
		evals[i] = Evaluation{Relevance: RelevanceContradicting, Confidence: 0.9}
	}
	result := AdjustConfidence(0.9, evals)
	assert.InDelta(t, 0.4, result, 0.001)
}

func TestAdjustConfidence_BelowConfidenceFloorIgnored(t *testing.T) {
	evals := []Evaluation{
		{Relevance: RelevanceDirect, Confidence: 0.4},
		{Relevance: RelevanceSupporting, Confidence: 0.2},
		{Relevance: RelevanceContradicting, Confidence: 0.3},
	}
	result := AdjustConfidence(0.5, evals)
	assert.Equal(t, 0.5, result)
}

func TestAdjustConfidence_ClampedToFloor(t *testing.T) {
	evals := make([]Evaluation, 10)
	for i := range evals {
		evals[i] = Evaluation{Relevance: RelevanceContradicting, Confidence: 0.9}
	}
	result := AdjustConfidence(0.2, evals)
	assert.Equal(t, 0.1, result)
}

func TestFilterSameDomain_DropsOriginatingDomain(t *testing.T) {
	results := []SearchResult{
		{URL: "https://www.example.com/other-page"},
		{URL: "https://other-site.org/story"},
	}
	filtered := FilterSameDomain(results, "https://example.com/original")
	assert.Len(t, filtered, 1)
	assert.Equal(t, "https://other-site.org/story", filtered[0].URL)
}

func TestShouldPersistEvidence_ThresholdAndIrrelevant(t *testing.T) {
	assert.True(t, ShouldPersistEvidence(Evaluation{Relevance: RelevanceSupporting, Confidence: 0.5}))
	assert.False(t, ShouldPersistEvidence(Evaluation{Relevance: RelevanceSupporting, Confidence: 0.49}))
	assert.False(t, ShouldPersistEvidence(Evaluation{Relevance: RelevanceIrrelevant, Confidence: 0.9}))
}
