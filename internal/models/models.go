// Package models holds the shared domain entities described in the data
// model: Source, Interaction, Signal (and its five kinds), Citation,
// Actor, Story, Situation, Pin, Region, and RunLog. All identities are
// UUIDs; timestamps are UTC instants.
package models

import "time"

// DiscoveryMethod is how a Source came to exist.
type DiscoveryMethod string

const (
	DiscoveryColdStart      DiscoveryMethod = "cold_start"
	DiscoveryHumanSubmission DiscoveryMethod = "human_submission"
	DiscoveryTensionSeed    DiscoveryMethod = "tension_seed"
	DiscoveryCurated        DiscoveryMethod = "curated"
	DiscoveryLinked         DiscoveryMethod = "linked"
	DiscoveryInvestigation  DiscoveryMethod = "investigation"
)

// SourceRole determines which scheduling phase a Source belongs to.
type SourceRole string

const (
	RoleTension  SourceRole = "tension"
	RoleResponse SourceRole = "response"
	RoleMixed    SourceRole = "mixed"
)

// Source is a recurring handle onto the outside world.
type Source struct {
	ID                  string
	CanonicalKey        string
	CanonicalValue      string
	URL                 *string
	DiscoveryMethod     DiscoveryMethod
	Role                SourceRole
	Weight              float64
	QualityPenalty      float64
	CadenceHours        *float64
	LastScraped         *time.Time
	LastProducedSignal  *time.Time
	SignalsProduced     int
	SignalsCorroborated int
	ConsecutiveEmptyRuns int
	Active              bool
	ScrapeCount         int
	CreatedAt           time.Time
}

// EffectiveWeight implements the invariant effective_weight = weight *
// quality_penalty, clamped to [0,1] against adversarial inputs.
func (s *Source) EffectiveWeight() float64 {
	w := s.Weight * s.QualityPenalty
	if w < 0 {
		return 0
	}
	if w > 1 {
		return 1
	}
	return w
}

// Pin is a geographic seed tied to a Source, consumed once that Source is
// scraped.
type Pin struct {
	ID        string
	Lat       float64
	Lng       float64
	SourceID  string
	CreatedBy string
	CreatedAt time.Time
}

// Region (ScoutScope) defines the geographic window a run targets.
type Region struct {
	CenterLat float64
	CenterLng float64
	RadiusKM  float64
	Name      string
	GeoTerms  []string
}

// InteractionKind is the content kind a fetch targeted.
type InteractionKind string

const (
	KindPage   InteractionKind = "page"
	KindFeed   InteractionKind = "feed"
	KindSearch InteractionKind = "search"
	KindSocial InteractionKind = "social"
	KindPDF    InteractionKind = "pdf"
	KindRaw    InteractionKind = "raw"
)

// Interaction is one immutable row per fetch attempt, successful or not.
type Interaction struct {
	ID              string
	RunID           string
	Region          string
	Kind            InteractionKind
	Target          string
	TargetRaw       string
	Fetcher         string
	ContentHash     string
	DurationMS      int64
	Error           *string
	ResponsePayload []byte
	CreatedAt       time.Time
}

// Valid enforces the Interaction invariant: error == nil implies a
// non-empty content hash.
func (i *Interaction) Valid() bool {
	if i.Error == nil {
		return i.ContentHash != ""
	}
	return true
}

// SignalKind is the five-way discriminant of the Signal union.
type SignalKind string

const (
	SignalGathering SignalKind = "gathering"
	SignalAid       SignalKind = "aid"
	SignalNeed      SignalKind = "need"
	SignalNotice    SignalKind = "notice"
	SignalTension   SignalKind = "tension"
)

// Sensitivity gates the display filter (§3 invariant, §4.16).
type Sensitivity string

const (
	SensitivityGeneral   Sensitivity = "general"
	SensitivityElevated  Sensitivity = "elevated"
	SensitivitySensitive Sensitivity = "sensitive"
)

// Severity is used by Notice and Tension.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Urgency is used by Need.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// GeoPrecision describes how precisely a signal's coordinates are known.
type GeoPrecision string

const (
	GeoPrecisionExact       GeoPrecision = "exact"
	GeoPrecisionApproximate GeoPrecision = "approximate"
	GeoPrecisionRegional    GeoPrecision = "regional"
)

// ReviewStatus tracks human curation state.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewFlagged  ReviewStatus = "flagged"
	ReviewDismissed ReviewStatus = "dismissed"
)

// GeoPoint is a lat/lng pair with a precision tag.
type GeoPoint struct {
	Lat       float64
	Lng       float64
	Precision GeoPrecision
}

// Signal is the atomic civic observation. Kind-specific fields live on
// the embedded per-kind struct pointers; exactly one is non-nil for a
// given Kind.
type Signal struct {
	ID          string
	Kind        SignalKind
	Title       string
	Summary     string
	Sensitivity Sensitivity
	Confidence  float64

	CorroborationCount int
	SourceDomains      map[string]bool
	SourceDiversity    int
	ChannelDiversity    int

	AboutLocation *GeoPoint
	FromLocation  *GeoPoint

	SourceURL           string
	ExtractedAt         time.Time
	LastConfirmedActive time.Time

	CauseHeat      float64
	ReviewStatus   ReviewStatus
	MentionedActors []string
	ImpliedQueries  []string

	Embedding []float32

	Gathering *GatheringFields
	Aid       *AidFields
	Need      *NeedFields
	Notice    *NoticeFields
	Tension   *TensionFields
}

// GatheringFields are the Gathering-specific attributes.
type GatheringFields struct {
	StartsAt    *time.Time
	EndsAt      *time.Time
	IsRecurring bool
	ActionURL   string
}

// AidFields are the Aid-specific attributes.
type AidFields struct {
	IsOngoing    bool
	Availability string
	ActionURL    string
}

// NeedFields are the Need-specific attributes.
type NeedFields struct {
	Urgency    Urgency
	WhatNeeded string
	Goal       string
	ActionURL  string
}

// NoticeFields are the Notice-specific attributes.
type NoticeFields struct {
	Category string
	Severity Severity
}

// TensionFields are the Tension-specific attributes.
type TensionFields struct {
	Severity     Severity
	Category     string
	WhatWouldHelp string
}

// NormalizedSourceDiversity recomputes SourceDiversity from SourceDomains,
// enforcing the invariant source_diversity = |source_domains|.
func (s *Signal) NormalizedSourceDiversity() int {
	return len(s.SourceDomains)
}

// EvidenceRelevance classifies a Citation against the signal it supports.
type EvidenceRelevance string

const (
	RelevanceDirect       EvidenceRelevance = "direct"
	RelevanceSupporting   EvidenceRelevance = "supporting"
	RelevanceContradicting EvidenceRelevance = "contradicting"
)

// Citation (Evidence) is a second-source corroboration pointer attached
// to a Signal via SOURCED_FROM.
type Citation struct {
	ID                string
	SignalID          string
	SourceURL         string
	RetrievedAt       time.Time
	ContentHash       string
	Snippet           string
	Relevance         EvidenceRelevance
	EvidenceConfidence float64
	ChannelType       string
}

// Actor is a named organization or individual associated with signals.
type Actor struct {
	ID             string
	Name           string
	Bio            string
	LocationName   string
	LocationLat    *float64
	LocationLng    *float64
	ActorType      string
	SignalCount    int
	LastActive     time.Time
	DiscoveryDepth int
}

// StoryStatus is the Story lifecycle.
type StoryStatus string

const (
	StoryEmerging  StoryStatus = "emerging"
	StoryConfirmed StoryStatus = "confirmed"
	StoryArchived  StoryStatus = "archived"
)

// Story is an aggregation of similar signals.
type Story struct {
	ID            string
	Headline      string
	Summary       string
	SignalCount   int
	OrgCount      int
	SourceCount   int
	SourceDomains []string
	CentroidLat   float64
	CentroidLng   float64
	Velocity      float64
	Energy        float64
	Status        StoryStatus
	DominantType  SignalKind
	FirstSeen     time.Time
	LastUpdated   time.Time
}

// Arc is a Situation's lifecycle phase.
type Arc string

const (
	ArcCold       Arc = "cold"
	ArcCooling    Arc = "cooling"
	ArcEmerging   Arc = "emerging"
	ArcDeveloping Arc = "developing"
	ArcActive     Arc = "active"
)

// Clarity is how well-supported a Situation's causal thesis is.
type Clarity string

const (
	ClarityFuzzy      Clarity = "fuzzy"
	ClaritySharpening Clarity = "sharpening"
	ClaritySharp      Clarity = "sharp"
)

// Situation is a coarser grouping with thermodynamic temperature
// dynamics (§4.13).
type Situation struct {
	ID      string
	Arc     Arc
	Clarity Clarity

	Temperature          float64
	TensionHeatAgg       float64
	EntityVelocityNorm   float64
	ResponseGapNorm      float64
	AmplificationNorm    float64
	ClarityNeedNorm      float64

	NarrativeCentroid []float32
	CentroidLat       float64
	CentroidLng       float64

	FirstSeen   time.Time
	LastUpdated time.Time
}

// RunLog records per-run and per-source counters (§2 C16).
type RunLog struct {
	ID         string
	RunID      string
	Region     string
	StartedAt  time.Time
	FinishedAt *time.Time
	Stats      map[string]int
	LastError  *string
}
