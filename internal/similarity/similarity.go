// Package similarity builds the SIMILAR_TO signal graph and reconciles
// detected communities against existing Stories (§4.11, C12). The
// containment-based reconciliation step is grounded on
// internal/linking/phase2_path_a.go's pattern of combining several
// independent signals into one bounded confidence score before
// deciding whether something is the same entity as before, here
// applied to "is this community the same Story as before" instead of
// "is this PR the same fix as that issue".
package similarity

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/graph/community"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/fourthplaces/rootsignal-sub002/internal/llm"
)

// DefaultThreshold is the default SIMILAR_TO cosine cutoff (§4.11).
const DefaultThreshold = 0.75

// ContainmentThreshold is the asymmetric-containment cutoff for
// reconciling a detected community against an existing Story (§4.11).
const ContainmentThreshold = 0.5

// Node is one embedded signal eligible to participate in the
// SIMILAR_TO graph.
type Node struct {
	ID        string
	Embedding []float32
}

// Edge is a weighted SIMILAR_TO relationship between two signals.
type Edge struct {
	From, To string
	Weight   float64
}

// BuildEdges computes pairwise cosine similarity across all nodes and
// keeps the pairs at or above threshold (§4.11 build_similarity_edges).
// O(n^2); the spec scopes this to "a moderate set" run inline per run,
// matching the teacher's own CPU-bound-steps-run-inline scheduling note.
func BuildEdges(nodes []Node, threshold float64) []Edge {
	var edges []Edge
	for i := 0; i < len(nodes); i++ {
		for j := i + 1; j < len(nodes); j++ {
			sim := cosineSimilarity(nodes[i].Embedding, nodes[j].Embedding)
			if sim >= threshold {
				edges = append(edges, Edge{From: nodes[i].ID, To: nodes[j].ID, Weight: sim})
			}
		}
	}
	return edges
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

// DetectCommunities runs Louvain modularity optimization over the
// SIMILAR_TO edge set and returns each multi-member community as a set
// of signal IDs. Singleton communities are dropped (§4.11) since a
// community with no internal agreement isn't a Story.
//
// gonum's graph/community package implements Louvain, not the spec's
// Leiden — Leiden has no published Go implementation in this
// ecosystem, and Louvain is the closest available primitive (same
// modularity-optimization family; Leiden additionally guarantees
// well-connected communities that Louvain can occasionally split into
// disconnected pieces, a known and accepted gap, see DESIGN.md).
func DetectCommunities(nodeIDs []string, edges []Edge) [][]string {
	if len(nodeIDs) == 0 {
		return nil
	}

	g := simple.NewWeightedUndirectedGraph(0, 0)
	index := make(map[string]int64, len(nodeIDs))
	idByIndex := make(map[int64]string, len(nodeIDs))
	for i, id := range nodeIDs {
		idx := int64(i)
		index[id] = idx
		idByIndex[idx] = id
		g.AddNode(simple.Node(idx))
	}
	for _, e := range edges {
		fromIdx, ok1 := index[e.From]
		toIdx, ok2 := index[e.To]
		if !ok1 || !ok2 || fromIdx == toIdx {
			continue
		}
		g.SetWeightedEdge(g.NewWeightedEdge(simple.Node(fromIdx), simple.Node(toIdx), e.Weight))
	}

	reduced := community.Modularize(g, 1, rand.New(rand.NewSource(1)))

	var communities [][]string
	for _, c := range reduced.Structure() {
		if len(c) < 2 {
			continue
		}
		members := make([]string, 0, len(c))
		for _, n := range c {
			if id, ok := idByIndex[n.ID()]; ok {
				members = append(members, id)
			}
		}
		if len(members) >= 2 {
			communities = append(communities, members)
		}
	}
	return communities
}

// ExistingStory is the minimal view Reconcile needs of a Story already
// in the graph.
type ExistingStory struct {
	ID         string
	MemberIDs  []string
	Headline   string
	Summary    string
	FirstSeen  time.Time
}

// ReconcileDecision is Reconcile's verdict for one detected community.
type ReconcileDecision struct {
	UpdateExisting bool
	ExistingID     string
	FirstSeen      time.Time // preserved from the matched Story, zero if creating new
	Headline       string    // preserved if updating, empty if creating (caller must assign via LLM)
	Summary        string
}

// Reconcile compares a detected community against known Stories by
// asymmetric containment: |old ∩ new| / |old| >= ContainmentThreshold
// means the community is that Story continuing, so its headline,
// summary, and first_seen are preserved; otherwise it's a new Story
// (§4.11).
func Reconcile(community []string, existing []ExistingStory) ReconcileDecision {
	newSet := toSet(community)

	var best ExistingStory
	bestScore := 0.0
	found := false
	for _, story := range existing {
		if len(story.MemberIDs) == 0 {
			continue
		}
		oldSet := toSet(story.MemberIDs)
		intersection := 0
		for id := range oldSet {
			if newSet[id] {
				intersection++
			}
		}
		score := float64(intersection) / float64(len(oldSet))
		if score > bestScore {
			bestScore = score
			best = story
			found = true
		}
	}

	if found && bestScore >= ContainmentThreshold {
		return ReconcileDecision{
			UpdateExisting: true,
			ExistingID:     best.ID,
			FirstSeen:      best.FirstSeen,
			Headline:       best.Headline,
			Summary:        best.Summary,
		}
	}
	return ReconcileDecision{UpdateExisting: false}
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// Velocity is a Story's organization-count growth rate over the last
// week (§4.11).
func Velocity(orgCountNow, orgCount7dAgo int) float64 {
	return float64(orgCountNow-orgCount7dAgo) / 7.0
}

// Energy combines velocity, recency, and source breadth into a single
// momentum score (§4.11): recency decays linearly to 0 over 14 days
// since last update and source breadth saturates at 5 sources, so both
// stay in [0,1]; the velocity term is not clamped, so the score has no
// fixed bound.
func Energy(velocity float64, ageDays float64, sourceCount int) float64 {
	recency := math.Max(0, 1-ageDays/14)
	sourceBreadth := math.Min(float64(sourceCount)/5, 1)
	return 0.5*velocity + 0.3*recency + 0.2*sourceBreadth
}

type storyNamingResponse struct {
	Headline string `json:"headline"`
	Summary  string `json:"summary"`
}

const namingSystemPrompt = `You write a short headline and one-paragraph summary for a cluster of related civic community signals.
Return JSON: {"headline": "...", "summary": "..."}. Headline under 12 words. Return only JSON, no markdown fences.`

// NameStory asks the LLM for a headline and summary for a brand-new
// Story (§4.11: "a new Story is created and an LLM assigns headline +
// summary").
func NameStory(ctx context.Context, client *llm.Client, memberTitles []string) (headline, summary string, err error) {
	userPrompt := "Signals in this cluster:\n"
	for _, t := range memberTitles {
		userPrompt += "- " + t + "\n"
	}
	var resp storyNamingResponse
	if _, err := client.CompleteJSON(ctx, namingSystemPrompt, userPrompt, &resp); err != nil {
		return "", "", fmt.Errorf("name story: %w", err)
	}
	return resp.Headline, resp.Summary, nil
}
