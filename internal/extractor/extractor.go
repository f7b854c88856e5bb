// Package extractor turns fetched page text into typed civic Signals
// via a single LLM call with a fixed JSON contract, then applies a
// deterministic, I/O-free conversion pass over the raw response (§4.5,
// C6). The single-call-then-deterministic-convert shape follows the
// teacher's old extraction prompt contract (one JSON object, one set
// of conversion rules applied in Go afterward, never re-prompted for
// cleanup).
package extractor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/teambition/rrule-go"

	"github.com/fourthplaces/rootsignal-sub002/internal/llm"
	"github.com/fourthplaces/rootsignal-sub002/internal/models"
)

// Resource is a signal's linked resource reference (a location, org,
// or service mentioned alongside it).
type Resource struct {
	Slug       string
	Role       string
	Confidence float64
}

// Schedule is an accepted signal's recurrence, when one was both
// provided and validated against its starts_at.
type Schedule struct {
	RRULE       string
	DisplayText string
}

// Rejected records a signal the conversion pass dropped, with enough
// of the original payload to audit the decision (§4.5).
type Rejected struct {
	Reason              string
	OriginalJSONSnippet string
}

// Result is extract's output: accepted Signals plus their per-signal
// tag/resource/schedule side tables (keyed by the generated Signal.ID),
// the implied-query aggregate, and the rejection list.
type Result struct {
	Signals        []*models.Signal
	SignalTags     map[string][]string
	ResourceTags   map[string][]Resource
	Schedules      map[string]Schedule
	ImpliedQueries []string
	Rejected       []Rejected
}

// rawSignal mirrors the extractor prompt's fixed JSON contract (§4.5)
// field for field, using pointers so "omitted" and "explicit zero
// value" stay distinguishable through the conversion rules below.
type rawSignal struct {
	SignalType     string     `json:"signal_type"`
	Title          string     `json:"title"`
	Summary        string     `json:"summary"`
	Sensitivity    string     `json:"sensitivity"`
	Severity       string     `json:"severity"`
	Urgency        string     `json:"urgency"`
	Category       string     `json:"category"`
	IsFirsthand    *bool      `json:"is_firsthand"`
	StartsAt       string     `json:"starts_at"`
	EndsAt         string     `json:"ends_at"`
	Latitude       *float64   `json:"latitude"`
	Longitude      *float64   `json:"longitude"`
	GeoPrecision   string     `json:"geo_precision"`
	SourceURL      string     `json:"source_url"`
	IsOngoing      *bool      `json:"is_ongoing"`
	IsRecurring    *bool      `json:"is_recurring"`
	ActionURL      string     `json:"action_url"`
	RRULE          string     `json:"rrule"`
	ScheduleText   string     `json:"schedule_text"`
	Tags           []string   `json:"tags"`
	Resources      []rawResource `json:"resources"`
	ImpliedQueries []string   `json:"implied_queries"`
	WhatWouldHelp  string     `json:"what_would_help"`
	WhatNeeded     string     `json:"what_needed"`
	Goal           string     `json:"goal"`
}

type rawResource struct {
	Slug       string  `json:"slug"`
	Role       string  `json:"role"`
	Confidence float64 `json:"confidence"`
}

type rawResponse struct {
	Signals []rawSignal `json:"signals"`
}

// junkTitlePrefixes are meta-failure titles the model sometimes
// returns instead of a real extraction (§4.5 junk filter).
var junkTitlePrefixes = []string{
	"unable to extract",
	"page not found",
	"no content",
	"error:",
	"cannot extract",
	"failed to extract",
}

// Extractor runs the prompt call and the deterministic conversion.
type Extractor struct {
	client *llm.Client
}

func New(client *llm.Client) *Extractor {
	return &Extractor{client: client}
}

// Extract converts page text into a Result. sourceURL is the page the
// text came from, used as the source_url/action_url fallback.
func (e *Extractor) Extract(ctx context.Context, text, sourceURL string) (Result, error) {
	var resp rawResponse
	raw, err := e.client.CompleteJSON(ctx, systemPrompt, userPrompt(text), &resp)
	if err != nil {
		return Result{}, fmt.Errorf("extractor llm call: %w", err)
	}

	result := Result{
		SignalTags:   make(map[string][]string),
		ResourceTags: make(map[string][]Resource),
		Schedules:    make(map[string]Schedule),
	}

	impliedSeen := make(map[string]bool)
	for _, rs := range resp.Signals {
		signal, tags, resources, schedule, impliedQueries, rejectReason := convert(rs, sourceURL)
		if rejectReason != "" {
			result.Rejected = append(result.Rejected, Rejected{
				Reason:              rejectReason,
				OriginalJSONSnippet: snippet(raw, rs.Title),
			})
			continue
		}
		if signal == nil {
			// unknown signal_type: silently dropped, not rejected (§4.5).
			continue
		}

		result.Signals = append(result.Signals, signal)
		if len(tags) > 0 {
			result.SignalTags[signal.ID] = tags
		}
		if len(resources) > 0 {
			result.ResourceTags[signal.ID] = resources
		}
		if schedule != nil {
			result.Schedules[signal.ID] = *schedule
		}
		for _, q := range impliedQueries {
			if q == "" || impliedSeen[q] {
				continue
			}
			impliedSeen[q] = true
			result.ImpliedQueries = append(result.ImpliedQueries, q)
		}
	}

	return result, nil
}

// convert applies every deterministic conversion rule in §4.5 to one
// raw signal. A non-empty rejectReason means the signal was dropped
// with an audit trail; a nil signal with empty rejectReason means an
// unknown signal_type, silently dropped per the Open Question decision
// documented in DESIGN.md.
func convert(rs rawSignal, pageURL string) (signal *models.Signal, tags []string, resources []Resource, schedule *Schedule, impliedQueries []string, rejectReason string) {
	if isJunkTitle(rs.Title) {
		return nil, nil, nil, nil, nil, "junk_extraction"
	}
	if rs.IsFirsthand != nil && !*rs.IsFirsthand {
		return nil, nil, nil, nil, nil, "not_firsthand"
	}

	kind, ok := parseKind(rs.SignalType)
	if !ok {
		return nil, nil, nil, nil, nil, ""
	}

	s := &models.Signal{
		ID:          uuid.NewString(),
		Kind:        kind,
		Title:       rs.Title,
		Summary:     rs.Summary,
		Sensitivity: parseSensitivity(rs.Sensitivity),
		ExtractedAt: time.Now().UTC(),
	}

	s.SourceURL = rs.SourceURL
	if strings.TrimSpace(s.SourceURL) == "" {
		s.SourceURL = pageURL
	}

	if rs.Latitude != nil && rs.Longitude != nil {
		s.AboutLocation = &models.GeoPoint{
			Lat:       *rs.Latitude,
			Lng:       *rs.Longitude,
			Precision: parseGeoPrecision(rs.GeoPrecision),
		}
	}

	startsAt := parseTime(rs.StartsAt)
	endsAt := parseTime(rs.EndsAt)

	switch kind {
	case models.SignalGathering:
		actionURL := rs.ActionURL
		if strings.TrimSpace(actionURL) == "" {
			actionURL = pageURL
		}
		isRecurring := false
		if rs.IsRecurring != nil {
			isRecurring = *rs.IsRecurring
		}
		s.Gathering = &models.GatheringFields{
			StartsAt:    startsAt,
			EndsAt:      endsAt,
			IsRecurring: isRecurring,
			ActionURL:   actionURL,
		}
		if sched := buildSchedule(rs.RRULE, rs.ScheduleText, startsAt); sched != nil {
			schedule = sched
		}
	case models.SignalAid:
		isOngoing := true
		if rs.IsOngoing != nil {
			isOngoing = *rs.IsOngoing
		}
		s.Aid = &models.AidFields{
			IsOngoing: isOngoing,
			ActionURL: rs.ActionURL,
		}
	case models.SignalNeed:
		s.Need = &models.NeedFields{
			Urgency:    parseUrgency(rs.Urgency),
			WhatNeeded: rs.WhatNeeded,
			Goal:       rs.Goal,
			ActionURL:  rs.ActionURL,
		}
	case models.SignalNotice:
		s.Notice = &models.NoticeFields{
			Category: rs.Category,
			Severity: parseSeverity(rs.Severity),
		}
	case models.SignalTension:
		s.Tension = &models.TensionFields{
			Severity:      parseSeverity(rs.Severity),
			Category:      rs.Category,
			WhatWouldHelp: rs.WhatWouldHelp,
		}
	}

	for _, t := range rs.Tags {
		tags = append(tags, slug.Make(t))
	}
	for _, r := range rs.Resources {
		resources = append(resources, Resource{Slug: slug.Make(r.Slug), Role: r.Role, Confidence: r.Confidence})
	}
	impliedQueries = rs.ImpliedQueries

	return s, tags, resources, schedule, impliedQueries, ""
}

func isJunkTitle(title string) bool {
	lower := strings.ToLower(strings.TrimSpace(title))
	for _, prefix := range junkTitlePrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

func parseKind(s string) (models.SignalKind, bool) {
	switch models.SignalKind(strings.ToLower(strings.TrimSpace(s))) {
	case models.SignalGathering:
		return models.SignalGathering, true
	case models.SignalAid:
		return models.SignalAid, true
	case models.SignalNeed:
		return models.SignalNeed, true
	case models.SignalNotice:
		return models.SignalNotice, true
	case models.SignalTension:
		return models.SignalTension, true
	default:
		return "", false
	}
}

func parseSensitivity(s string) models.Sensitivity {
	switch models.Sensitivity(strings.ToLower(strings.TrimSpace(s))) {
	case models.SensitivityElevated:
		return models.SensitivityElevated
	case models.SensitivitySensitive:
		return models.SensitivitySensitive
	default:
		return models.SensitivityGeneral
	}
}

func parseSeverity(s string) models.Severity {
	switch models.Severity(strings.ToLower(strings.TrimSpace(s))) {
	case models.SeverityLow:
		return models.SeverityLow
	case models.SeverityHigh:
		return models.SeverityHigh
	case models.SeverityCritical:
		return models.SeverityCritical
	default:
		return models.SeverityMedium
	}
}

func parseUrgency(s string) models.Urgency {
	switch models.Urgency(strings.ToLower(strings.TrimSpace(s))) {
	case models.UrgencyLow:
		return models.UrgencyLow
	case models.UrgencyHigh:
		return models.UrgencyHigh
	case models.UrgencyCritical:
		return models.UrgencyCritical
	default:
		return models.UrgencyMedium
	}
}

func parseGeoPrecision(s string) models.GeoPrecision {
	switch models.GeoPrecision(strings.ToLower(strings.TrimSpace(s))) {
	case models.GeoPrecisionExact:
		return models.GeoPrecisionExact
	case models.GeoPrecisionRegional:
		return models.GeoPrecisionRegional
	default:
		return models.GeoPrecisionApproximate
	}
}

func parseTime(s string) *time.Time {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}

// buildSchedule validates an RRULE against a DTSTART derived from
// starts_at and keeps the display text regardless of whether the
// RRULE itself validates (§4.5).
func buildSchedule(rruleStr, displayText string, startsAt *time.Time) *Schedule {
	if strings.TrimSpace(rruleStr) == "" && strings.TrimSpace(displayText) == "" {
		return nil
	}
	validated := rruleStr
	if rruleStr != "" {
		if startsAt == nil || !validateRRULE(rruleStr, *startsAt) {
			validated = ""
		}
	}
	return &Schedule{RRULE: validated, DisplayText: displayText}
}

func validateRRULE(rruleStr string, startsAt time.Time) bool {
	dtstart := startsAt.UTC().Format("20060102T150405Z")
	spec := fmt.Sprintf("DTSTART:%s\nRRULE:%s", dtstart, strings.TrimPrefix(rruleStr, "RRULE:"))
	_, err := rrule.StrToRRuleSet(spec)
	return err == nil
}

func snippet(raw string, title string) string {
	const maxLen = 400
	if title != "" {
		idx := strings.Index(raw, title)
		if idx >= 0 {
			end := idx + len(title) + 200
			if end > len(raw) {
				end = len(raw)
			}
			start := idx - 100
			if start < 0 {
				start = 0
			}
			return raw[start:end]
		}
	}
	if len(raw) > maxLen {
		return raw[:maxLen]
	}
	return raw
}

const systemPrompt = `You extract civic signals from web page text for a community intelligence pipeline.
Return a single JSON object with a "signals" array. Each element must follow the fixed schema:
signal_type (gathering|aid|need|notice|tension), title, summary, sensitivity, severity, urgency,
category, is_firsthand, starts_at, ends_at, latitude, longitude, geo_precision, source_url,
is_ongoing, is_recurring, action_url, rrule, schedule_text, tags, resources, implied_queries,
what_would_help, what_needed, goal. Omit fields that do not apply to a signal's type. Return only
JSON, no markdown fences, no commentary.`

func userPrompt(text string) string {
	return fmt.Sprintf("Page text:\n\n%s", text)
}
