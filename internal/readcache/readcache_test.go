package readcache

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fourthplaces/rootsignal-sub002/internal/models"
)

func TestIsDisplayable_SensitiveNeedsTwoCorroborations(t *testing.T) {
	now := time.Now().UTC()
	s := &models.Signal{Sensitivity: models.SensitivitySensitive, CorroborationCount: 1, LastConfirmedActive: now}
	assert.False(t, IsDisplayable(s, now))

	s.CorroborationCount = 2
	assert.True(t, IsDisplayable(s, now))
}

func TestIsDisplayable_StaleHiddenUnlessOngoingAidOrRecurringGathering(t *testing.T) {
	now := time.Now().UTC()
	stale := now.Add(-(FreshnessMaxDays + 5) * 24 * time.Hour)

	need := &models.Signal{Kind: models.SignalNeed, LastConfirmedActive: stale}
	assert.False(t, IsDisplayable(need, now))

	ongoingAid := &models.Signal{Kind: models.SignalAid, LastConfirmedActive: stale, Aid: &models.AidFields{IsOngoing: true}}
	assert.True(t, IsDisplayable(ongoingAid, now))

	nonOngoingAid := &models.Signal{Kind: models.SignalAid, LastConfirmedActive: stale, Aid: &models.AidFields{IsOngoing: false}}
	assert.False(t, IsDisplayable(nonOngoingAid, now))

	recurringGathering := &models.Signal{Kind: models.SignalGathering, LastConfirmedActive: stale, Gathering: &models.GatheringFields{IsRecurring: true}}
	assert.True(t, IsDisplayable(recurringGathering, now))
}

func TestIsDisplayable_FreshSignalAlwaysShown(t *testing.T) {
	now := time.Now().UTC()
	s := &models.Signal{Kind: models.SignalTension, LastConfirmedActive: now}
	assert.True(t, IsDisplayable(s, now))
}

func TestFuzzCoordinates_GeneralNeverJittered(t *testing.T) {
	s := &models.Signal{Sensitivity: models.SensitivityGeneral, AboutLocation: &models.GeoPoint{Lat: 40, Lng: -73}}
	FuzzCoordinates(s)
	assert.Equal(t, 40.0, s.AboutLocation.Lat)
	assert.Equal(t, -73.0, s.AboutLocation.Lng)
}

func TestFuzzCoordinates_ElevatedStaysWithinRadius(t *testing.T) {
	for i := 0; i < 50; i++ {
		s := &models.Signal{Sensitivity: models.SensitivityElevated, AboutLocation: &models.GeoPoint{Lat: 40, Lng: -73}}
		FuzzCoordinates(s)
		distKM := haversineKM(40, -73, s.AboutLocation.Lat, s.AboutLocation.Lng)
		assert.LessOrEqual(t, distKM, fuzzRadiusKM[models.SensitivityElevated]+0.01)
	}
}

func TestFuzzCoordinates_NoCoordinatesIsNoop(t *testing.T) {
	s := &models.Signal{Sensitivity: models.SensitivitySensitive}
	FuzzCoordinates(s)
	assert.Nil(t, s.AboutLocation)
}

func haversineKM(lat1, lng1, lat2, lng2 float64) float64 {
	const earthRadiusKM = 6371.0
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKM * c
}
