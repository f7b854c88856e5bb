// Package readcache is the serving-side in-memory projection of the
// graph (§4.16, C15): a periodically-rebuilt, atomically-swapped
// snapshot that read endpoints query without ever touching Neo4j
// directly. Generalized from internal/cache's Redis wrapper — same
// "one small client type owning the external resource, exposing typed
// accessors" shape — but the resource here is an in-process snapshot
// rather than a remote store, so the swap is an atomic pointer instead
// of a network round trip.
package readcache

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/fourthplaces/rootsignal-sub002/internal/graph"
	"github.com/fourthplaces/rootsignal-sub002/internal/models"
)

// FreshnessMaxDays bounds how stale a Signal can be before the display
// filter hides it, unless it's an ongoing Aid or recurring Gathering
// (§4.16).
const FreshnessMaxDays = 45

// Snapshot is one immutable projection of the graph, safe to share
// across readers without locking.
type Snapshot struct {
	BuiltAt time.Time

	Signals     []*models.Signal
	SignalsByID map[string]*models.Signal

	Stories     []*models.Story
	StoriesByID map[string]*models.Story

	Actors     []*models.Actor
	ActorsByID map[string]*models.Actor

	EvidenceBySignal map[string][]*models.Citation
	ActorsBySignal   map[string][]string
	StoryBySignal    map[string]string
	SignalsByStory   map[string][]string
	TagsByStory      map[string][]string
	ActorsByRegion   map[string][]string
}

// Cache holds an atomically-swappable Snapshot plus the reload gate.
type Cache struct {
	graph  *graph.Client
	logger *slog.Logger

	snapshot atomic.Pointer[Snapshot]
	reloadMu sync.Mutex
	reloading atomic.Bool

	cron *cron.Cron
}

// New creates a Cache wrapping the graph client. Call Reload once
// synchronously before serving reads, then StartReloader to keep it
// fresh.
func New(g *graph.Client) *Cache {
	return &Cache{
		graph:  g,
		logger: slog.Default().With("component", "readcache"),
	}
}

// Get returns the current snapshot, or nil if Reload has never
// succeeded.
func (c *Cache) Get() *Snapshot {
	return c.snapshot.Load()
}

// Reload builds a new snapshot and atomically swaps it in. A second
// concurrent call while one is already in flight is dropped rather
// than queued (§4.16's compare-and-set gate) — the in-flight reload
// will produce an equally fresh snapshot momentarily.
func (c *Cache) Reload(ctx context.Context) error {
	if !c.reloading.CompareAndSwap(false, true) {
		c.logger.Warn("reload already in progress, dropping concurrent request")
		return nil
	}
	defer c.reloading.Store(false)

	snap, err := c.build(ctx)
	if err != nil {
		return fmt.Errorf("build snapshot: %w", err)
	}
	c.snapshot.Store(snap)
	c.logger.Info("readcache snapshot rebuilt", "signals", len(snap.Signals), "stories", len(snap.Stories))
	return nil
}

// StartReloader schedules periodic rebuilds via robfig/cron, the same
// cron-expression scheduling the teacher uses for its own recurring
// jobs. interval <= 0 defaults to 1 hour per §4.16.
func (c *Cache) StartReloader(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Hour
	}
	c.cron = cron.New()
	spec := fmt.Sprintf("@every %s", interval.String())
	_, err := c.cron.AddFunc(spec, func() {
		if err := c.Reload(ctx); err != nil {
			c.logger.Error("scheduled readcache reload failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule readcache reload: %w", err)
	}
	c.cron.Start()
	return nil
}

// StopReloader halts the periodic reload schedule.
func (c *Cache) StopReloader() {
	if c.cron != nil {
		c.cron.Stop()
	}
}

func (c *Cache) build(ctx context.Context) (*Snapshot, error) {
	rows, err := c.graph.ExecuteQuery(ctx, `
		MATCH (n:Signal)
		RETURN n.id AS id, n.kind AS kind, n.title AS title, n.sensitivity AS sensitivity,
			n.confidence AS confidence, n.corroboration_count AS corroboration_count,
			n.last_confirmed_active AS last_confirmed_active,
			n.is_ongoing AS is_ongoing, n.is_recurring AS is_recurring,
			n.lat AS lat, n.lng AS lng
	`, nil)
	if err != nil {
		return nil, fmt.Errorf("load signals: %w", err)
	}

	snap := &Snapshot{
		BuiltAt:          time.Now().UTC(),
		SignalsByID:      make(map[string]*models.Signal),
		StoriesByID:      make(map[string]*models.Story),
		ActorsByID:       make(map[string]*models.Actor),
		EvidenceBySignal: make(map[string][]*models.Citation),
		ActorsBySignal:   make(map[string][]string),
		StoryBySignal:    make(map[string]string),
		SignalsByStory:   make(map[string][]string),
		TagsByStory:      make(map[string][]string),
		ActorsByRegion:   make(map[string][]string),
	}

	for _, row := range rows {
		signal := rowToSignal(row)
		FuzzCoordinates(signal)
		snap.Signals = append(snap.Signals, signal)
		snap.SignalsByID[signal.ID] = signal
	}

	return snap, nil
}

func rowToSignal(row map[string]any) *models.Signal {
	s := &models.Signal{}
	if v, ok := row["id"].(string); ok {
		s.ID = v
	}
	if v, ok := row["kind"].(string); ok {
		s.Kind = models.SignalKind(v)
	}
	if v, ok := row["title"].(string); ok {
		s.Title = v
	}
	if v, ok := row["sensitivity"].(string); ok {
		s.Sensitivity = models.Sensitivity(v)
	}
	if v, ok := row["confidence"].(float64); ok {
		s.Confidence = v
	}
	if v, ok := row["corroboration_count"].(int64); ok {
		s.CorroborationCount = int(v)
	}
	if v, ok := row["last_confirmed_active"].(time.Time); ok {
		s.LastConfirmedActive = v
	}
	lat, hasLat := row["lat"].(float64)
	lng, hasLng := row["lng"].(float64)
	if hasLat && hasLng {
		s.AboutLocation = &models.GeoPoint{Lat: lat, Lng: lng}
	}
	isOngoing, _ := row["is_ongoing"].(bool)
	if s.Kind == models.SignalAid {
		s.Aid = &models.AidFields{IsOngoing: isOngoing}
	}
	isRecurring, _ := row["is_recurring"].(bool)
	if s.Kind == models.SignalGathering {
		s.Gathering = &models.GatheringFields{IsRecurring: isRecurring}
	}
	return s
}

// IsDisplayable applies the §4.16 display filter: a Sensitive signal
// needs 2+ corroborations, and anything beyond FreshnessMaxDays is
// hidden unless it's an ongoing Aid or recurring Gathering.
func IsDisplayable(s *models.Signal, now time.Time) bool {
	if s.Sensitivity == models.SensitivitySensitive && s.CorroborationCount < 2 {
		return false
	}

	stale := now.Sub(s.LastConfirmedActive) > FreshnessMaxDays*24*time.Hour
	if !stale {
		return true
	}

	if s.Kind == models.SignalAid && s.Aid != nil && s.Aid.IsOngoing {
		return true
	}
	if s.Kind == models.SignalGathering && s.Gathering != nil && s.Gathering.IsRecurring {
		return true
	}
	return false
}

// fuzzRadiusKM maps sensitivity to a jitter radius, in kilometers
// (§4.16 "sensitivity-dependent radius"). General signals are never
// fuzzed.
var fuzzRadiusKM = map[models.Sensitivity]float64{
	models.SensitivityElevated:  0.5,
	models.SensitivitySensitive: 2.0,
}

// FuzzCoordinates jitters a signal's AboutLocation in place by a
// sensitivity-dependent radius, uniformly at random within a disc
// (§4.16 "pre-loaded fuzzing"). No-op for General sensitivity or
// signals with no coordinates.
func FuzzCoordinates(s *models.Signal) {
	if s.AboutLocation == nil {
		return
	}
	radiusKM, ok := fuzzRadiusKM[s.Sensitivity]
	if !ok {
		return
	}

	angle := rand.Float64() * 2 * math.Pi
	distance := radiusKM * math.Sqrt(rand.Float64())

	const kmPerDegreeLat = 111.0
	latOffset := (distance * math.Cos(angle)) / kmPerDegreeLat
	lngOffset := (distance * math.Sin(angle)) / (kmPerDegreeLat * math.Cos(s.AboutLocation.Lat*math.Pi/180))

	s.AboutLocation.Lat += latOffset
	s.AboutLocation.Lng += lngOffset
}
