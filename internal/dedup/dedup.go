// Package dedup decides whether an extracted signal is new, a refresh
// of an existing one, or corroboration of one seen from elsewhere
// (§4.8, C9). It is a pure decision function over already-gathered
// match candidates — the graph/cache lookups that produce those
// candidates live in internal/graph and internal/cache, the same
// separation the teacher draws between its linking phases (which
// decide) and its graph client (which looks up).
package dedup

import (
	"strings"

	"github.com/fourthplaces/rootsignal-sub002/internal/models"
)

// similarityThreshold is the minimum cosine similarity for a cache or
// graph match to be considered at all; corroborateThreshold is the
// higher bar required to corroborate rather than fall through to the
// next layer (§4.8 layer 2/3).
const (
	similarityThreshold  = 0.85
	corroborateThreshold = 0.92
)

// VerdictKind discriminates the three dedup outcomes.
type VerdictKind int

const (
	Create VerdictKind = iota
	Refresh
	Corroborate
)

// Match is a candidate existing signal found by one dedup layer.
type Match struct {
	ExistingID   string
	ExistingType models.SignalKind
	URL          string
	Similarity   float64
}

// Verdict is dedup_verdict's result.
type Verdict struct {
	Kind         VerdictKind
	ExistingID   string
	ExistingType models.SignalKind
	Similarity   float64
}

// DedupVerdict evaluates the three match layers in order — global
// exact title+type, in-memory embedding cache, graph vector index —
// and returns on the first hit (§4.8). A nil match means that layer
// found nothing.
func DedupVerdict(currentURL string, globalMatch, cacheMatch, graphMatch *Match) Verdict {
	if globalMatch != nil {
		if globalMatch.URL != currentURL {
			return Verdict{Kind: Corroborate, ExistingID: globalMatch.ExistingID, ExistingType: globalMatch.ExistingType, Similarity: 1.0}
		}
		return Verdict{Kind: Refresh, ExistingID: globalMatch.ExistingID, ExistingType: globalMatch.ExistingType, Similarity: 1.0}
	}

	if v, ok := evaluateMatch(currentURL, cacheMatch); ok {
		return v
	}
	if v, ok := evaluateMatch(currentURL, graphMatch); ok {
		return v
	}
	return Verdict{Kind: Create}
}

// evaluateMatch applies the layer-2/layer-3 rule: a match below
// similarityThreshold doesn't count; a same-URL match is always a
// Refresh; a cross-URL match needs corroborateThreshold to qualify as
// Corroborate, otherwise the caller falls through to the next layer.
func evaluateMatch(currentURL string, m *Match) (Verdict, bool) {
	if m == nil || m.Similarity < similarityThreshold {
		return Verdict{}, false
	}
	if m.URL == currentURL {
		return Verdict{Kind: Refresh, ExistingID: m.ExistingID, ExistingType: m.ExistingType, Similarity: m.Similarity}, true
	}
	if m.Similarity >= corroborateThreshold {
		return Verdict{Kind: Corroborate, ExistingID: m.ExistingID, ExistingType: m.ExistingType, Similarity: m.Similarity}, true
	}
	return Verdict{}, false
}

// Normalize lowercases and trims a title for exact-match comparison.
// Punctuation is intentionally left alone: "Food Shelf" must not
// collapse onto "Food-Shelf" (§4.8).
func Normalize(title string) string {
	return strings.ToLower(strings.TrimSpace(title))
}

// titleKey identifies a candidate node for batch_title_dedup and the
// global exact-match layer: its normalized title paired with its node
// type.
type titleKey struct {
	title string
	kind  models.SignalKind
}

// BatchTitleDedup reduces nodes to the first occurrence of each
// (normalize(title), node_type) pair within a batch, before any dedup
// layer runs (§4.8 batch pre-pass).
func BatchTitleDedup(signals []*models.Signal) []*models.Signal {
	seen := make(map[titleKey]bool, len(signals))
	out := make([]*models.Signal, 0, len(signals))
	for _, s := range signals {
		key := titleKey{title: Normalize(s.Title), kind: s.Kind}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}
