// Package enrichment computes the post-scrape derived fields that
// don't belong on the extractor's deterministic conversion pass: a
// story's geo centroid, actor resolution from raw text, cause heat
// (§4.12), and situation temperature (§4.13). The cause-heat/
// temperature math is pure — no I/O — the same "derived metric as a
// closed-form function over already-loaded state" shape as the
// teacher's internal/temporal window-novelty scoring and
// internal/metrics composite scores.
package enrichment

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/fourthplaces/rootsignal-sub002/internal/llm"
	"github.com/fourthplaces/rootsignal-sub002/internal/models"
)

// DefaultTau is cause heat's cosine-similarity radiation threshold
// (§4.12).
const DefaultTau = 0.7

// GeoCentroid is the unweighted mean of member signals' about_location,
// ignoring signals without coordinates (§4.10). ok is false if no
// member had coordinates.
func GeoCentroid(members []*models.Signal) (lat, lng float64, ok bool) {
	var sumLat, sumLng float64
	var n int
	for _, m := range members {
		if m.AboutLocation == nil {
			continue
		}
		sumLat += m.AboutLocation.Lat
		sumLng += m.AboutLocation.Lng
		n++
	}
	if n == 0 {
		return 0, 0, false
	}
	return sumLat / float64(n), sumLng / float64(n), true
}

// HeatInput is the minimal per-signal view CauseHeat needs.
type HeatInput struct {
	ID              string
	Embedding       []float32
	SourceDiversity int
}

// CauseHeat computes radiated attention for a set of Tension signals
// (§4.12). Callers must pass only Tension-kind signals — Gatherings,
// Aids, Needs, and Notices never radiate or receive heat, and that
// guarantee is enforced by filtering before calling this function, not
// inside it. A set with fewer than two signals (nothing to corroborate
// with) returns all-zero heat.
func CauseHeat(signals []HeatInput, tau float64) map[string]float64 {
	heat := make(map[string]float64, len(signals))
	maxHeat := 0.0
	for _, i := range signals {
		var h float64
		for _, j := range signals {
			if i.ID == j.ID {
				continue
			}
			cos := cosineSimilarity(i.Embedding, j.Embedding)
			if cos > tau {
				h += cos * float64(j.SourceDiversity)
			}
		}
		heat[i.ID] = h
		if h > maxHeat {
			maxHeat = h
		}
	}
	if maxHeat > 0 {
		for id := range heat {
			heat[id] /= maxHeat
		}
	}
	return heat
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// TemperatureInputs are the aggregates a Situation's temperature is
// computed from (§4.13); callers assemble these from the graph
// projection before calling Temperature.
type TemperatureInputs struct {
	Now       time.Time
	FirstSeen time.Time

	MemberTensionCauseHeats []float64 // cause_heat of member Tensions, for tension_heat_agg

	FastWindowNewEntities int // distinct source-domain entities new in the last 7d
	SlowWindowNewEntities int // distinct source-domain entities new in the last 30d

	TensionsWithin90d       int
	TensionsRespondedTo90d  int

	ExternalOriginDomains int // external-origin source domains referencing this geography

	SupportCount   int // non-debunked member Tensions with cause_heat >= 0.5
	DiversityCount int // distinct source domains among those

	LastUpdated time.Time
	PreviousArc models.Arc
}

// TemperatureResult is Temperature's output.
type TemperatureResult struct {
	Temperature        float64
	TensionHeatAgg     float64
	EntityVelocityNorm float64
	ResponseGapNorm    float64
	AmplificationNorm  float64
	ClarityNeedNorm    float64
	Arc                models.Arc
	Clarity            models.Clarity
}

// Temperature computes a Situation's full temperature, arc, and
// clarity from its member aggregates (§4.13).
func Temperature(in TemperatureInputs) TemperatureResult {
	tensionHeatAgg := mean(in.MemberTensionCauseHeats)

	fast := clamp01(float64(in.FastWindowNewEntities) / 3)
	slow := clamp01(float64(in.SlowWindowNewEntities) / 5)
	entityVelocityNorm := math.Max(fast, slow)

	responseGapNorm := 0.0
	if in.TensionsWithin90d > 0 {
		noResponse := in.TensionsWithin90d - in.TensionsRespondedTo90d
		responseGapNorm = float64(noResponse) / float64(in.TensionsWithin90d)
	}

	amplificationNorm := clamp01(float64(in.ExternalOriginDomains) / 5)

	clarityScore := min1(float64(in.SupportCount)/3) * min1(float64(in.DiversityCount)/2)
	clarityNeedBase := 1 - clarityScore
	clarityNeedNorm := decayClarityNeed(clarityNeedBase, in.Now, in.LastUpdated)

	substance := math.Min(tensionHeatAgg+entityVelocityNorm, 1.0)
	amplificationContribution := amplificationNorm * substance

	temperature := 0.30*tensionHeatAgg +
		0.25*entityVelocityNorm +
		0.15*responseGapNorm +
		0.15*amplificationContribution +
		0.15*clarityNeedNorm

	age := in.Now.Sub(in.FirstSeen)
	arc := deriveArc(in.PreviousArc, temperature, age)
	clarity := deriveClarity(clarityScore)

	return TemperatureResult{
		Temperature:        temperature,
		TensionHeatAgg:      tensionHeatAgg,
		EntityVelocityNorm:  entityVelocityNorm,
		ResponseGapNorm:     responseGapNorm,
		AmplificationNorm:   amplificationNorm,
		ClarityNeedNorm:     clarityNeedNorm,
		Arc:                 arc,
		Clarity:             clarity,
	}
}

// decayClarityNeed applies the "decays to 0 over 60 days after 30 days
// of no updates" rule (§4.13).
func decayClarityNeed(base float64, now, lastUpdated time.Time) float64 {
	daysSinceUpdate := now.Sub(lastUpdated).Hours() / 24
	switch {
	case daysSinceUpdate <= 30:
		return base
	case daysSinceUpdate >= 90:
		return 0
	default:
		decayFrac := 1 - (daysSinceUpdate-30)/60
		return base * decayFrac
	}
}

// deriveArc applies the first-match-wins arc derivation rule (§4.13).
func deriveArc(previous models.Arc, temperature float64, age time.Duration) models.Arc {
	switch {
	case previous == models.ArcCold && temperature >= 0.3:
		return models.ArcDeveloping
	case temperature < 0.1:
		return models.ArcCold
	case temperature < 0.3:
		return models.ArcCooling
	case age < 72*time.Hour:
		return models.ArcEmerging
	case temperature < 0.6:
		return models.ArcDeveloping
	default:
		return models.ArcActive
	}
}

func deriveClarity(score float64) models.Clarity {
	switch {
	case score < 0.3:
		return models.ClarityFuzzy
	case score < 0.7:
		return models.ClaritySharpening
	default:
		return models.ClaritySharp
	}
}

// CentroidMember is one Situation member's contribution to the
// dampened narrative centroid.
type CentroidMember struct {
	Embedding []float32
	AgeDays   float64
	CauseHeat float64
}

// DampedCentroid computes the weighted mean embedding using
// weight = exp(-0.03*age_days) * (0.3 + 0.7*cause_heat) (§4.13).
func DampedCentroid(members []CentroidMember) []float32 {
	if len(members) == 0 {
		return nil
	}
	dim := len(members[0].Embedding)
	sum := make([]float64, dim)
	var totalWeight float64

	for _, m := range members {
		weight := math.Exp(-0.03*m.AgeDays) * (0.3 + 0.7*m.CauseHeat)
		totalWeight += weight
		for i, v := range m.Embedding {
			if i >= dim {
				break
			}
			sum[i] += float64(v) * weight
		}
	}
	if totalWeight == 0 {
		return nil
	}
	out := make([]float32, dim)
	for i, v := range sum {
		out[i] = float32(v / totalWeight)
	}
	return out
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func min1(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}

// ActorCandidate is a named organization or individual the second LLM
// pass identified in a signal's source text (§4.10 actor extraction).
type ActorCandidate struct {
	Name string
	Bio  string
	Type string
}

type actorExtractionResponse struct {
	Actors []ActorCandidate `json:"actors"`
}

const actorSystemPrompt = `You identify named organizations or individuals mentioned in civic community text.
Return a JSON object {"actors": [{"name": "...", "bio": "...", "type": "organization|individual"}]}.
Only include actors explicitly named in the text. Return only JSON, no markdown fences.`

// ExtractActors runs the second LLM extractor pass over source text,
// constrained to named organizations/individuals (§4.10).
func ExtractActors(ctx context.Context, client *llm.Client, text string) ([]ActorCandidate, error) {
	var resp actorExtractionResponse
	if _, err := client.CompleteJSON(ctx, actorSystemPrompt, text, &resp); err != nil {
		return nil, fmt.Errorf("actor extraction: %w", err)
	}
	return resp.Actors, nil
}

// ResolveActor fuzzy-matches a candidate name against existing Actors
// by normalized token overlap, the same keyword-overlap technique
// internal/graph.SemanticMatcher uses for its own soft-match signal.
// A match at or above 0.6 overlap is considered the same Actor;
// otherwise the caller should create a new one.
func ResolveActor(name string, existing []*models.Actor) *models.Actor {
	candidateTokens := tokenize(name)
	if len(candidateTokens) == 0 {
		return nil
	}

	var best *models.Actor
	var bestScore float64
	for _, a := range existing {
		score := tokenOverlap(candidateTokens, tokenize(a.Name))
		if score > bestScore {
			bestScore = score
			best = a
		}
	}
	if bestScore >= 0.6 {
		return best
	}
	return nil
}

func tokenize(s string) map[string]bool {
	tokens := make(map[string]bool)
	for _, field := range strings.Fields(strings.ToLower(s)) {
		tokens[field] = true
	}
	return tokens
}

func tokenOverlap(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for t := range a {
		if b[t] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
