package extractor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fourthplaces/rootsignal-sub002/internal/models"
)

func TestConvert_JunkFilter(t *testing.T) {
	_, _, _, _, _, reason := convert(rawSignal{Title: "Unable to extract content", SignalType: "notice"}, "https://x.org")
	assert.Equal(t, "junk_extraction", reason)
}

func TestConvert_FirsthandFilter(t *testing.T) {
	no := false
	_, _, _, _, _, reason := convert(rawSignal{Title: "t", SignalType: "tension", IsFirsthand: &no}, "https://x.org")
	assert.Equal(t, "not_firsthand", reason)

	yes := true
	signal, _, _, _, _, reason := convert(rawSignal{Title: "t", SignalType: "tension", IsFirsthand: &yes}, "https://x.org")
	assert.Empty(t, reason)
	assert.NotNil(t, signal)
}

func TestConvert_UnknownTypeSilentlyDropped(t *testing.T) {
	signal, _, _, _, _, reason := convert(rawSignal{Title: "t", SignalType: "bogus"}, "https://x.org")
	assert.Nil(t, signal)
	assert.Empty(t, reason, "unknown signal_type must be dropped silently, not rejected")
}

func TestConvert_EnumFallbackToNeutral(t *testing.T) {
	signal, _, _, _, _, _ := convert(rawSignal{Title: "t", SignalType: "tension", Sensitivity: "bogus", Severity: "bogus"}, "https://x.org")
	assert.Equal(t, models.SensitivityGeneral, signal.Sensitivity)
	assert.Equal(t, models.SeverityMedium, signal.Tension.Severity)
}

func TestConvert_SourceURLFallback(t *testing.T) {
	signal, _, _, _, _, _ := convert(rawSignal{Title: "t", SignalType: "tension"}, "https://x.org/page")
	assert.Equal(t, "https://x.org/page", signal.SourceURL)
}

func TestConvert_LocationRequiresBothCoords(t *testing.T) {
	lat := 44.9
	signal, _, _, _, _, _ := convert(rawSignal{Title: "t", SignalType: "tension", Latitude: &lat}, "https://x.org")
	assert.Nil(t, signal.AboutLocation, "latitude without longitude must not set about_location")
}

func TestConvert_ActionURLFallbackForGathering(t *testing.T) {
	signal, _, _, _, _, _ := convert(rawSignal{Title: "t", SignalType: "gathering"}, "https://x.org/page")
	assert.Equal(t, "https://x.org/page", signal.Gathering.ActionURL)
}

func TestConvert_Defaults(t *testing.T) {
	aid, _, _, _, _, _ := convert(rawSignal{Title: "t", SignalType: "aid"}, "https://x.org")
	assert.True(t, aid.Aid.IsOngoing, "aid defaults is_ongoing to true when omitted")

	gathering, _, _, _, _, _ := convert(rawSignal{Title: "t", SignalType: "gathering"}, "https://x.org")
	assert.False(t, gathering.Gathering.IsRecurring, "gathering defaults is_recurring to false when omitted")
}

func TestConvert_TagsSlugified(t *testing.T) {
	_, tags, _, _, _, _ := convert(rawSignal{Title: "t", SignalType: "need", Tags: []string{"Mutual Aid!!", "Food  Bank"}}, "https://x.org")
	assert.Equal(t, []string{"mutual-aid", "food-bank"}, tags)
}

func TestConvert_RRULEValidatedAgainstDTSTART(t *testing.T) {
	starts := "2026-08-01T18:00:00Z"
	_, _, _, schedule, _, _ := convert(rawSignal{
		Title: "t", SignalType: "gathering",
		StartsAt: starts, RRULE: "FREQ=WEEKLY;BYDAY=SA", ScheduleText: "every Saturday",
	}, "https://x.org")
	assert.NotNil(t, schedule)
	assert.Equal(t, "FREQ=WEEKLY;BYDAY=SA", schedule.RRULE)
	assert.Equal(t, "every Saturday", schedule.DisplayText)
}

func TestConvert_InvalidRRULEKeepsDisplayText(t *testing.T) {
	_, _, _, schedule, _, _ := convert(rawSignal{
		Title: "t", SignalType: "gathering",
		RRULE: "not a valid rrule", ScheduleText: "every Saturday",
	}, "https://x.org")
	assert.NotNil(t, schedule)
	assert.Empty(t, schedule.RRULE, "rrule with no starts_at to build a DTSTART from must be discarded")
	assert.Equal(t, "every Saturday", schedule.DisplayText)
}

func TestConvert_NonScheduleTypeNeverProducesSchedule(t *testing.T) {
	_, _, _, schedule, _, _ := convert(rawSignal{
		Title: "t", SignalType: "tension",
		RRULE: "FREQ=DAILY", ScheduleText: "daily",
	}, "https://x.org")
	assert.Nil(t, schedule)
}

func TestConvert_DateParsing(t *testing.T) {
	signal, _, _, _, _, _ := convert(rawSignal{
		Title: "t", SignalType: "gathering", StartsAt: "not-a-date",
	}, "https://x.org")
	assert.Nil(t, signal.Gathering.StartsAt)
}

func TestExtractResult_ImpliedQueriesDedup(t *testing.T) {
	result := Result{}
	impliedSeen := make(map[string]bool)
	for _, qs := range [][]string{{"food bank riverbend", "shelter"}, {"food bank riverbend"}} {
		for _, q := range qs {
			if impliedSeen[q] {
				continue
			}
			impliedSeen[q] = true
			result.ImpliedQueries = append(result.ImpliedQueries, q)
		}
	}
	assert.Equal(t, []string{"food bank riverbend", "shelter"}, result.ImpliedQueries)
}

func TestParseTime_RFC3339(t *testing.T) {
	got := parseTime("2026-08-01T18:00:00Z")
	assert.NotNil(t, got)
	assert.Equal(t, 2026, got.Year())
	assert.Equal(t, time.August, got.Month())
}
