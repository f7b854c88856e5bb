package similarity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBuildEdges_KeepsOnlyAboveThreshold(t *testing.T) {
	nodes := []Node{
		{ID: "a", Embedding: []float32{1, 0}},
		{ID: "b", Embedding: []float32{0.99, 0.01}},
		{ID: "c", Embedding: []float32{0, 1}},
	}
	edges := BuildEdges(nodes, DefaultThreshold)
	assert.Len(t, edges, 1)
	assert.ElementsMatch(t, []string{"a", "b"}, []string{edges[0].From, edges[0].To})
}

func TestBuildEdges_NoneAboveThresholdIsEmpty(t *testing.T) {
	nodes := []Node{
		{ID: "a", Embedding: []float32{1, 0}},
		{ID: "b", Embedding: []float32{0, 1}},
	}
	edges := BuildEdges(nodes, DefaultThreshold)
	assert.Empty(t, edges)
}

func TestDetectCommunities_DropsSingletons(t *testing.T) {
	nodeIDs := []string{"a", "b", "c"}
	edges := []Edge{{From: "a", To: "b", Weight: 0.9}}
	communities := DetectCommunities(nodeIDs, edges)
	for _, c := range communities {
		assert.GreaterOrEqual(t, len(c), 2)
	}
}

func TestDetectCommunities_NoEdgesYieldsNoMultiMemberCommunities(t *testing.T) {
	communities := DetectCommunities([]string{"a", "b", "c"}, nil)
	assert.Empty(t, communities)
}

func TestReconcile_HighContainmentUpdatesExisting(t *testing.T) {
	existing := []ExistingStory{
		{ID: "s1", MemberIDs: []string{"a", "b"}, Headline: "Old headline", FirstSeen: time.Unix(0, 0)},
	}
	decision := Reconcile([]string{"a", "b", "c"}, existing)
	assert.True(t, decision.UpdateExisting)
	assert.Equal(t, "s1", decision.ExistingID)
	assert.Equal(t, "Old headline", decision.Headline)
}

func TestReconcile_LowContainmentCreatesNew(t *testing.T) {
	existing := []ExistingStory{
		{ID: "s1", MemberIDs: []string{"x", "y", "z", "w"}, Headline: "Unrelated"},
	}
	decision := Reconcile([]string{"a", "b", "z"}, existing)
	assert.False(t, decision.UpdateExisting)
}

func TestReconcile_NoExistingStoriesCreatesNew(t *testing.T) {
	decision := Reconcile([]string{"a", "b"}, nil)
	assert.False(t, decision.UpdateExisting)
}

func TestVelocity_PositiveGrowth(t *testing.T) {
	v := Velocity(14, 7)
	assert.Equal(t, 1.0, v)
}

func TestVelocity_NoGrowthIsZero(t *testing.T) {
	assert.Equal(t, 0.0, Velocity(5, 5))
}

func TestEnergy_DecaysWithAge(t *testing.T) {
	fresh := Energy(1.0, 0, 5)
	stale := Energy(1.0, 14, 5)
	assert.Greater(t, fresh, stale)
}

func TestEnergy_SourceBreadthCapsAtOne(t *testing.T) {
	e := Energy(0, 100, 100)
	assert.InDelta(t, 0.2, e, 0.0001)
}
