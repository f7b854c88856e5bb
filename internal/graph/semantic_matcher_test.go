package graph

import (
	"testing"
)

func TestSemanticMatcher_CalculateSimilarity(t *testing.T) {
	sm := NewSemanticMatcher()

	tests := []struct {
		name    string
		text1   string
		text2   string
		wantMin float64
		wantMax float64
		desc    string
	}{
		{
			name:    "identical texts",
			text1:   "free meal distribution at riverbend park",
			text2:   "free meal distribution at riverbend park",
			wantMin: 0.95,
			wantMax: 1.0,
			desc:    "identical texts should have ~100% similarity",
		},
		{
			name:    "high similarity",
			text1:   "food pantry shortage at riverbend shelter",
			text2:   "riverbend shelter running low on food supplies",
			wantMin: 0.15,
			wantMax: 0.80,
			desc:    "overlapping keywords (riverbend, food, shelter) should have moderate-high similarity",
		},
		{
			name:    "zero similarity",
			text1:   "community garden cleanup this saturday",
			text2:   "city council votes on rezoning proposal",
			wantMin: 0.0,
			wantMax: 0.15,
			desc:    "completely different topics should have low similarity",
		},
		{
			name:    "stop words ignored",
			text1:   "the shelter is in the downtown area",
			text2:   "shelter in downtown area",
			wantMin: 0.90,
			wantMax: 1.0,
			desc:    "stop words should be filtered out",
		},
		{
			name:    "case insensitive",
			text1:   "Food Drive Saturday",
			text2:   "food drive saturday",
			wantMin: 0.95,
			wantMax: 1.0,
			desc:    "matching should be case insensitive",
		},
		{
			name:    "stemming works",
			text1:   "organizing volunteers",
			text2:   "organized volunteer",
			wantMin: 0.30,
			wantMax: 0.40,
			desc:    "stemming should match 'organizing' with 'organized' (shared organiz, volunteer: 2 of 6 keywords)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sm.CalculateSimilarity(tt.text1, tt.text2)
			if got < tt.wantMin || got > tt.wantMax {
				t.Errorf("CalculateSimilarity() = %v, want between %v and %v\n  text1: %q\n  text2: %q\n  desc: %s",
					got, tt.wantMin, tt.wantMax, tt.text1, tt.text2, tt.desc)
			}
		})
	}
}

func TestSemanticMatcher_ConfidenceBoost(t *testing.T) {
	sm := NewSemanticMatcher()

	tests := []struct {
		name      string
		textA     string
		textB     string
		wantBoost bool
		desc      string
	}{
		{
			name:      "high similarity boosts confidence",
			textA:     "riverbend shelter food pantry shortage this week",
			textB:     "riverbend shelter reports low food pantry supplies",
			wantBoost: true,
			desc:      "keywords: riverbend, shelter, food, pantry overlap heavily",
		},
		{
			name:      "low similarity gives no boost",
			textA:     "community garden cleanup this saturday",
			textB:     "city council votes on rezoning proposal",
			wantBoost: false,
			desc:      "no keyword overlap",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			boost := sm.ConfidenceBoost(tt.textA, tt.textB)
			if tt.wantBoost && boost <= 0 {
				t.Errorf("ConfidenceBoost() = %v, want >0\n  desc: %s", boost, tt.desc)
			}
			if !tt.wantBoost && boost != 0 {
				t.Errorf("ConfidenceBoost() = %v, want 0\n  desc: %s", boost, tt.desc)
			}
		})
	}
}

func TestSemanticMatcher_CalculateSignalSimilarity(t *testing.T) {
	sm := NewSemanticMatcher()

	tests := []struct {
		name     string
		titleA   string
		summaryA string
		titleB   string
		summaryB string
		wantMin  float64
		desc     string
	}{
		{
			name:     "same gathering reported by two sources",
			titleA:   "Riverbend food pantry shortage",
			summaryA: "The riverbend food pantry is running low on supplies ahead of the weekend",
			titleB:   "Food pantry shortage in Riverbend",
			summaryB: "Riverbend food pantry reports shortage, seeking donations",
			wantMin:  0.3,
			desc:     "strong title overlap even with different wording in summaries",
		},
		{
			name:     "unrelated signals",
			titleA:   "Community garden cleanup",
			summaryA: "Volunteers needed saturday morning",
			titleB:   "City council rezoning vote",
			summaryB: "Council to vote on downtown rezoning proposal",
			wantMin:  0.0,
			desc:     "no overlap",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sm.CalculateSignalSimilarity(tt.titleA, tt.summaryA, tt.titleB, tt.summaryB)
			if got < tt.wantMin {
				t.Errorf("CalculateSignalSimilarity() = %v, want >= %v\n  desc: %s", got, tt.wantMin, tt.desc)
			}
		})
	}
}

func TestExtractKeywords(t *testing.T) {
	sm := NewSemanticMatcher()

	tests := []struct {
		name         string
		text         string
		wantKeywords []string
		desc         string
	}{
		{
			name:         "basic extraction",
			text:         "Food pantry shortage downtown",
			wantKeywords: []string{"food", "pantry", "shortage", "downtown"},
			desc:         "should extract all meaningful words",
		},
		{
			name:         "stop words filtered",
			text:         "The shelter is in the downtown area",
			wantKeywords: []string{"shelter", "downtown", "area"},
			desc:         "should remove stop words: the, is, in",
		},
		{
			name:         "markdown stripped",
			text:         "**Food** _pantry_ in `downtown`",
			wantKeywords: []string{"food", "pantry", "downtown"},
			desc:         "should remove markdown syntax",
		},
		{
			name:         "hyphenated terms",
			text:         "mutual-aid food-pantry",
			wantKeywords: []string{"mutual-aid", "food-pantry"},
			desc:         "should preserve hyphenated terms",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keywords := sm.extractKeywords(tt.text)

			for _, want := range tt.wantKeywords {
				if !keywords[want] && !keywords[simpleStem(want)] {
					t.Errorf("extractKeywords() missing keyword %q\n  text: %q\n  desc: %s",
						want, tt.text, tt.desc)
				}
			}
		})
	}
}
