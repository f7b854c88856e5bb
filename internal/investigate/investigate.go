// Package investigate runs the second-pass corroboration loop over
// signals that extraction flagged or that carry elevated sensitivity
// without enough independent corroboration (§4.14, C13). Query
// generation and result evaluation reuse internal/llm.Client the same
// way internal/linking/phase1_extraction.go drives its own two LLM
// passes per item (generate, then evaluate); the confidence adjustment
// formula is grounded on internal/graph.SemanticMatcher's
// threshold-bucketed confidence boosts, generalized from a single
// boost to a capped running total per relevance bucket.
package investigate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fourthplaces/rootsignal-sub002/internal/llm"
	"github.com/fourthplaces/rootsignal-sub002/internal/models"
)

const (
	MaxSignalsInvestigated = 8
	MaxQueriesPerSignal    = 3
	MaxSearchQueriesPerRun = 15

	directCap        = 0.15
	directStep       = 0.05
	directMinConf    = 0.7
	supportingCap    = 0.06
	supportingStep   = 0.02
	supportingMinConf = 0.5
	contradictingStep = -0.10
	contradictingMinConf = 0.7

	evidencePersistMinConfidence = 0.5
)

// TargetCandidate is the minimal view SelectTargets needs of a signal.
type TargetCandidate struct {
	SignalID           string
	FlaggedAtExtraction bool
	Sensitivity        models.Sensitivity
	CorroborationCount int
}

// SelectTargets picks which signals get investigated this run (§4.14):
// flagged at extraction, or Elevated-or-above sensitivity with fewer
// than 2 corroborations — capped at MaxSignalsInvestigated, flagged
// candidates given priority since they're explicit extractor signals,
// not an inferred heuristic.
func SelectTargets(candidates []TargetCandidate) []string {
	var flagged, elevated []string
	for _, c := range candidates {
		eligible := c.FlaggedAtExtraction ||
			(sensitivityRank(c.Sensitivity) >= sensitivityRank(models.SensitivityElevated) && c.CorroborationCount < 2)
		if !eligible {
			continue
		}
		if c.FlaggedAtExtraction {
			flagged = append(flagged, c.SignalID)
		} else {
			elevated = append(elevated, c.SignalID)
		}
	}
	ordered := append(flagged, elevated...)
	if len(ordered) > MaxSignalsInvestigated {
		ordered = ordered[:MaxSignalsInvestigated]
	}
	return ordered
}

func sensitivityRank(s models.Sensitivity) int {
	switch s {
	case models.SensitivitySensitive:
		return 2
	case models.SensitivityElevated:
		return 1
	default:
		return 0
	}
}

// Relevance mirrors models.Citation's relevance enum.
type Relevance string

const (
	RelevanceDirect        Relevance = "DIRECT"
	RelevanceSupporting    Relevance = "SUPPORTING"
	RelevanceContradicting Relevance = "CONTRADICTING"
	RelevanceIrrelevant    Relevance = "irrelevant"
)

// Evaluation is one search result's LLM-assigned relevance and
// confidence (§4.14).
type Evaluation struct {
	URL        string
	Relevance  Relevance
	Confidence float64
	Snippet    string
}

// AdjustConfidence is the pure confidence-adjustment function from
// §4.14: capped bonuses per relevance bucket above its own confidence
// floor, an uncapped penalty for contradiction, clamped to [0.1, 1.0].
func AdjustConfidence(old float64, evaluations []Evaluation) float64 {
	var directBonus, supportingBonus, contradictingPenalty float64

	for _, e := range evaluations {
		switch e.Relevance {
		case RelevanceDirect:
			if e.Confidence >= directMinConf && directBonus < directCap {
				directBonus = minF(directBonus+directStep, directCap)
			}
		case RelevanceSupporting:
			if e.Confidence >= supportingMinConf && supportingBonus < supportingCap {
				supportingBonus = minF(supportingBonus+supportingStep, supportingCap)
			}
		case RelevanceContradicting:
			if e.Confidence >= contradictingMinConf {
				contradictingPenalty += contradictingStep
			}
		}
	}

	adjusted := old + directBonus + supportingBonus + contradictingPenalty
	return clamp(adjusted, 0.1, 1.0)
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// SearchResult is one hit from the search API.
type SearchResult struct {
	URL     string
	Title   string
	Snippet string
}

// SearchClient is a minimal Serper-backed web search client. No Go
// Serper SDK exists in this ecosystem, so this follows internal/embed's
// hand-rolled-HTTP-client shape for a single-endpoint JSON API.
type SearchClient struct {
	apiKey string
	http   *http.Client
}

func NewSearchClient(apiKey string) *SearchClient {
	return &SearchClient{apiKey: apiKey, http: &http.Client{Timeout: 15 * time.Second}}
}

func (c *SearchClient) IsEnabled() bool { return c.apiKey != "" }

type serperRequest struct {
	Q string `json:"q"`
}

type serperResponse struct {
	Organic []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"organic"`
}

const serperEndpoint = "https://google.serper.dev/search"

// Search issues one query against Serper's Google-search endpoint.
func (c *SearchClient) Search(ctx context.Context, query string) ([]SearchResult, error) {
	if !c.IsEnabled() {
		return nil, nil
	}

	body, err := json.Marshal(serperRequest{Q: query})
	if err != nil {
		return nil, fmt.Errorf("marshal serper request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serperEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build serper request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("serper request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read serper response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("serper returned status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed serperResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal serper response: %w", err)
	}

	results := make([]SearchResult, 0, len(parsed.Organic))
	for _, r := range parsed.Organic {
		results = append(results, SearchResult{URL: r.Link, Title: r.Title, Snippet: r.Snippet})
	}
	return results, nil
}

// FilterSameDomain drops search results whose domain matches the
// signal's own source URL (§4.14 "filter out same-domain results") —
// a result from the originating site isn't independent corroboration.
func FilterSameDomain(results []SearchResult, signalSourceURL string) []SearchResult {
	origin := domainOf(signalSourceURL)
	var filtered []SearchResult
	for _, r := range results {
		if domainOf(r.URL) != origin {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

func domainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

type queryGenResponse struct {
	Queries []string `json:"queries"`
}

const querySystemPrompt = `You generate web search queries to corroborate or refute a civic community signal.
Return JSON: {"queries": ["...", "..."]}. Generate up to 3 short, specific search queries. Return only JSON, no markdown fences.`

// GenerateQueries asks the LLM for up to MaxQueriesPerSignal search
// queries that would corroborate or refute a signal.
func GenerateQueries(ctx context.Context, client *llm.Client, signalTitle, signalSummary string) ([]string, error) {
	userPrompt := fmt.Sprintf("Signal: %s\n%s", signalTitle, signalSummary)
	var resp queryGenResponse
	if _, err := client.CompleteJSON(ctx, querySystemPrompt, userPrompt, &resp); err != nil {
		return nil, fmt.Errorf("generate investigation queries: %w", err)
	}
	if len(resp.Queries) > MaxQueriesPerSignal {
		resp.Queries = resp.Queries[:MaxQueriesPerSignal]
	}
	return resp.Queries, nil
}

type evaluationResponse struct {
	Results []struct {
		URL        string  `json:"url"`
		Relevance  string  `json:"relevance"`
		Confidence float64 `json:"confidence"`
	} `json:"results"`
}

const evalSystemPrompt = `You evaluate whether web search results corroborate, support, contradict, or are irrelevant to a civic community signal.
Return JSON: {"results": [{"url": "...", "relevance": "DIRECT|SUPPORTING|CONTRADICTING|irrelevant", "confidence": 0.0}]}.
DIRECT means the result directly confirms the same event/situation. SUPPORTING means related but not conclusive. CONTRADICTING means it disputes the signal. Return only JSON, no markdown fences.`

// EvaluateResults asks the LLM to classify each search result's
// relevance to the signal being investigated.
func EvaluateResults(ctx context.Context, client *llm.Client, signalTitle string, results []SearchResult) ([]Evaluation, error) {
	var userPrompt strings.Builder
	fmt.Fprintf(&userPrompt, "Signal: %s\n\nResults:\n", signalTitle)
	for _, r := range results {
		fmt.Fprintf(&userPrompt, "- %s | %s | %s\n", r.URL, r.Title, r.Snippet)
	}

	var resp evaluationResponse
	if _, err := client.CompleteJSON(ctx, evalSystemPrompt, userPrompt.String(), &resp); err != nil {
		return nil, fmt.Errorf("evaluate investigation results: %w", err)
	}

	bySnippet := make(map[string]string, len(results))
	for _, r := range results {
		bySnippet[r.URL] = r.Snippet
	}

	evaluations := make([]Evaluation, 0, len(resp.Results))
	for _, r := range resp.Results {
		evaluations = append(evaluations, Evaluation{
			URL:        r.URL,
			Relevance:  Relevance(r.Relevance),
			Confidence: r.Confidence,
			Snippet:    bySnippet[r.URL],
		})
	}
	return evaluations, nil
}

// ShouldPersistEvidence reports whether an evaluation clears the bar to
// become a Citation node (§4.14: "persist Evidence nodes for items with
// confidence >= 0.5").
func ShouldPersistEvidence(e Evaluation) bool {
	return e.Relevance != RelevanceIrrelevant && e.Confidence >= evidencePersistMinConfidence
}
