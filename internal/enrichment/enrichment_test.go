package enrichment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fourthplaces/rootsignal-sub002/internal/models"
)

func TestGeoCentroid_IgnoresMissingCoordinates(t *testing.T) {
	members := []*models.Signal{
		{AboutLocation: &models.GeoPoint{Lat: 10, Lng: 20}},
		{},
		{AboutLocation: &models.GeoPoint{Lat: 20, Lng: 40}},
	}
	lat, lng, ok := GeoCentroid(members)
	assert.True(t, ok)
	assert.Equal(t, 15.0, lat)
	assert.Equal(t, 30.0, lng)
}

func TestGeoCentroid_NoneHaveCoordinates(t *testing.T) {
	_, _, ok := GeoCentroid([]*models.Signal{{}, {}})
	assert.False(t, ok)
}

func TestCauseHeat_LoneTensionGetsZero(t *testing.T) {
	heat := CauseHeat([]HeatInput{{ID: "a", Embedding: []float32{1, 0, 0}, SourceDiversity: 3}}, DefaultTau)
	assert.Equal(t, 0.0, heat["a"])
}

func TestCauseHeat_CorroboratingTensionsRadiate(t *testing.T) {
	signals := []HeatInput{
		{ID: "a", Embedding: []float32{1, 0, 0}, SourceDiversity: 2},
		{ID: "b", Embedding: []float32{0.99, 0.01, 0}, SourceDiversity: 3},
	}
	heat := CauseHeat(signals, 0.7)
	assert.Greater(t, heat["a"], 0.0)
	assert.Greater(t, heat["b"], 0.0)
}

func TestCauseHeat_NormalizedToUnitMax(t *testing.T) {
	signals := []HeatInput{
		{ID: "a", Embedding: []float32{1, 0, 0}, SourceDiversity: 5},
		{ID: "b", Embedding: []float32{1, 0, 0}, SourceDiversity: 1},
		{ID: "c", Embedding: []float32{1, 0, 0}, SourceDiversity: 1},
	}
	heat := CauseHeat(signals, 0.5)
	maxV := 0.0
	for _, v := range heat {
		if v > maxV {
			maxV = v
		}
	}
	assert.Equal(t, 1.0, maxV)
}

func TestCauseHeat_BelowThresholdDoesNotRadiate(t *testing.T) {
	signals := []HeatInput{
		{ID: "a", Embedding: []float32{1, 0, 0}, SourceDiversity: 2},
		{ID: "b", Embedding: []float32{0, 1, 0}, SourceDiversity: 2},
	}
	heat := CauseHeat(signals, 0.7)
	assert.Equal(t, 0.0, heat["a"])
	assert.Equal(t, 0.0, heat["b"])
}

func TestTemperature_ArcColdBelowPoint1(t *testing.T) {
	now := time.Now().UTC()
	result := Temperature(TemperatureInputs{
		Now: now, FirstSeen: now.Add(-240 * time.Hour),
		LastUpdated: now.Add(-100 * 24 * time.Hour), PreviousArc: models.ArcCooling,
	})
	assert.Less(t, result.Temperature, 0.1)
	assert.Equal(t, models.ArcCold, result.Arc)
}

func TestTemperature_ReactivationFromCold(t *testing.T) {
	now := time.Now().UTC()
	result := Temperature(TemperatureInputs{
		Now: now, FirstSeen: now.Add(-240 * time.Hour),
		MemberTensionCauseHeats: []float64{0.9, 0.9},
		FastWindowNewEntities:   3,
		LastUpdated:             now,
		PreviousArc:             models.ArcCold,
	})
	assert.GreaterOrEqual(t, result.Temperature, 0.3)
	assert.Equal(t, models.ArcDeveloping, result.Arc, "reactivation from Cold must land on Developing, not Active/Emerging")
}

func TestTemperature_EmergingWhenYoungAndModerate(t *testing.T) {
	now := time.Now().UTC()
	result := Temperature(TemperatureInputs{
		Now: now, FirstSeen: now.Add(-10 * time.Hour),
		MemberTensionCauseHeats: []float64{0.8},
		FastWindowNewEntities:   2,
		LastUpdated:             now,
		PreviousArc:             models.ArcEmerging,
	})
	assert.Equal(t, models.ArcEmerging, result.Arc)
}

func TestTemperature_ActiveWhenHot(t *testing.T) {
	now := time.Now().UTC()
	result := Temperature(TemperatureInputs{
		Now: now, FirstSeen: now.Add(-500 * time.Hour),
		MemberTensionCauseHeats: []float64{1.0, 1.0},
		FastWindowNewEntities:   5,
		SlowWindowNewEntities:   10,
		TensionsWithin90d:       10,
		TensionsRespondedTo90d:  0,
		ExternalOriginDomains:   10,
		SupportCount:            5,
		DiversityCount:          5,
		LastUpdated:             now,
		PreviousArc:             models.ArcActive,
	})
	assert.GreaterOrEqual(t, result.Temperature, 0.6)
	assert.Equal(t, models.ArcActive, result.Arc)
}

func TestTemperature_ClarityBuckets(t *testing.T) {
	now := time.Now().UTC()
	sharp := Temperature(TemperatureInputs{Now: now, FirstSeen: now, SupportCount: 3, DiversityCount: 2, LastUpdated: now})
	assert.Equal(t, models.ClaritySharp, sharp.Clarity)

	fuzzy := Temperature(TemperatureInputs{Now: now, FirstSeen: now, SupportCount: 0, DiversityCount: 0, LastUpdated: now})
	assert.Equal(t, models.ClarityFuzzy, fuzzy.Clarity)
}

func TestTemperature_ClarityNeedDecaysAfter30Days(t *testing.T) {
	now := time.Now().UTC()
	fresh := Temperature(TemperatureInputs{Now: now, FirstSeen: now, LastUpdated: now})
	decaying := Temperature(TemperatureInputs{Now: now, FirstSeen: now, LastUpdated: now.Add(-60 * 24 * time.Hour)})
	expired := Temperature(TemperatureInputs{Now: now, FirstSeen: now, LastUpdated: now.Add(-100 * 24 * time.Hour)})

	assert.Greater(t, fresh.ClarityNeedNorm, decaying.ClarityNeedNorm)
	assert.Equal(t, 0.0, expired.ClarityNeedNorm)
}

func TestDampedCentroid_RecentHotSignalDominates(t *testing.T) {
	centroid := DampedCentroid([]CentroidMember{
		{Embedding: []float32{1, 0}, AgeDays: 0, CauseHeat: 1.0},
		{Embedding: []float32{0, 1}, AgeDays: 200, CauseHeat: 0.0},
	})
	assert.Greater(t, centroid[0], centroid[1])
}

func TestResolveActor_MatchesOnTokenOverlap(t *testing.T) {
	existing := []*models.Actor{{ID: "a1", Name: "Riverbend Mutual Aid Collective"}}
	match := ResolveActor("Riverbend Mutual Aid", existing)
	assert.NotNil(t, match)
	assert.Equal(t, "a1", match.ID)
}

func TestResolveActor_NoMatchBelowThreshold(t *testing.T) {
	existing := []*models.Actor{{ID: "a1", Name: "Riverbend Mutual Aid Collective"}}
	match := ResolveActor("Downtown Business Association", existing)
	assert.Nil(t, match)
}
