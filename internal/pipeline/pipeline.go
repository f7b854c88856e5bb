// Package pipeline is the scout run orchestrator (§4.17, C17): one
// Runner.Run call per region executes the reap -> schedule -> scrape ->
// discover -> enrich -> persist sequence described there, holding the
// per-region distributed lock for its duration. It composes every
// other package built so far the way the teacher's
// internal/ingestion.Orchestrator composes its own collaborators —
// fan out per-item work with errgroup, record structured log fields at
// each phase boundary, and let a cooperative cancellation flag (here,
// ctx.Err()) cut a run short between phases rather than mid-phase.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/fourthplaces/rootsignal-sub002/internal/archive"
	"github.com/fourthplaces/rootsignal-sub002/internal/budget"
	"github.com/fourthplaces/rootsignal-sub002/internal/cache"
	"github.com/fourthplaces/rootsignal-sub002/internal/database"
	"github.com/fourthplaces/rootsignal-sub002/internal/embed"
	"github.com/fourthplaces/rootsignal-sub002/internal/errors"
	"github.com/fourthplaces/rootsignal-sub002/internal/expansion"
	"github.com/fourthplaces/rootsignal-sub002/internal/extractor"
	"github.com/fourthplaces/rootsignal-sub002/internal/graph"
	"github.com/fourthplaces/rootsignal-sub002/internal/investigate"
	"github.com/fourthplaces/rootsignal-sub002/internal/llm"
	"github.com/fourthplaces/rootsignal-sub002/internal/models"
	"github.com/fourthplaces/rootsignal-sub002/internal/runlog"
	"github.com/fourthplaces/rootsignal-sub002/internal/scheduler"
	"github.com/fourthplaces/rootsignal-sub002/internal/signalstore"
	"github.com/fourthplaces/rootsignal-sub002/internal/source"
)

// maxSourceConcurrency bounds the errgroup fan-out within a single
// scheduling phase (§5: per-Source work is independent, but a whole
// region's Source list must not all fire at once against one archive
// backend pool).
const maxSourceConcurrency = 6

// Runner owns every collaborator a single region's run needs. It holds
// no per-run state itself — each Run call builds its own run-scoped
// dedupCache and runlog.Recorder — so one Runner is safe to reuse
// across regions and across scheduled invocations.
type Runner struct {
	db        database.Store
	graph     *graph.Client
	cache     *cache.Client
	archive   *archive.Archive
	sources   *source.Manager
	signals   *signalstore.Store
	expander  *expansion.Expander
	extractor *extractor.Extractor
	llm       *llm.Client
	embed     *embed.Client
	search    *investigate.SearchClient

	searchLimiter *rate.Limiter
	log           *logrus.Logger
}

// NewRunner wires a Runner from its already-constructed collaborators.
// cmd/scout is responsible for building each of these from config.
func NewRunner(db database.Store, g *graph.Client, c *cache.Client, a *archive.Archive, llmClient *llm.Client, embedClient *embed.Client, searchClient *investigate.SearchClient) *Runner {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	return &Runner{
		db:        db,
		graph:     g,
		cache:     c,
		archive:   a,
		sources:   source.New(db),
		signals:   signalstore.New(db, g),
		expander:  expansion.New(db),
		extractor: extractor.New(llmClient),
		llm:       llmClient,
		embed:     embedClient,
		search:    searchClient,

		// Paces Serper calls at one per 2s regardless of how many
		// WebQuery Sources or investigation queries want to fire this
		// run, shared across both (§5 shared-resource list, §4.14).
		searchLimiter: rate.NewLimiter(rate.Every(2*time.Second), 1),
		log:           log,
	}
}

// Result is one run's final outcome.
type Result struct {
	RunID     string
	Stats     map[string]int
	Cancelled bool
}

// Run executes the fourteen-step orchestration for one region (§4.17).
// lockTTL should exceed the caller's own scheduling interval by a
// safety margin so a crashed run's lock expires before the next
// scheduled invocation would otherwise skip the region entirely.
func (r *Runner) Run(ctx context.Context, region models.Region, dailyBudgetCents int64, lockTTL time.Duration) (Result, error) {
	runID := uuid.NewString()
	log := r.log.WithFields(logrus.Fields{"run_id": runID, "region": region.Name})
	recorder := runlog.New(runID, region.Name)
	tracker := budget.NewTracker(dailyBudgetCents)

	acquired, err := r.cache.AcquireScoutLock(ctx, region.Name, runID, lockTTL)
	if err != nil {
		return Result{}, errors.Fatal(err, "scout lock acquire")
	}
	if !acquired {
		log.Info("scout lock already held, skipping run")
		return Result{RunID: runID}, nil
	}
	defer func() {
		if err := r.cache.ReleaseScoutLock(context.Background(), region.Name, runID); err != nil {
			log.WithError(err).Warn("scout lock release failed")
		}
	}()

	startedAt := time.Now().UTC()
	if err := recorder.Start(ctx, r.db, startedAt); err != nil {
		return Result{}, errors.Fatal(err, "start run log")
	}

	runErr := r.run(ctx, log, runID, region, tracker, recorder)
	cancelled := ctx.Err() != nil

	finishedAt := time.Now().UTC()
	if err := recorder.Finish(ctx, r.db, finishedAt, runErr); err != nil {
		log.WithError(err).Warn("finish run log failed")
	}

	return Result{RunID: runID, Stats: recorder.Snapshot(), Cancelled: cancelled}, runErr
}

// run is Run's body, split out so the lock/runlog bookkeeping above
// stays uncluttered by the step sequence itself.
func (r *Runner) run(ctx context.Context, log *logrus.Entry, runID string, region models.Region, tracker *budget.Tracker, recorder *runlog.Recorder) error {
	dedup := newDedupCache()

	// Step 1: reap expired signals (§4.9).
	if stats, err := r.signals.ReapExpired(ctx, time.Now().UTC()); err != nil {
		log.WithError(err).Warn("reap expired signals failed")
	} else {
		recorder.Incr("signals_reaped", stats.Removed)
		log.WithField("removed", stats.Removed).Info("reap complete")
	}
	if err := ctx.Err(); err != nil {
		return errors.Cancelled()
	}

	// Step 2: load sources, bootstrapping the region if none exist yet
	// (§4.17 bootstrap sub-phase).
	tension, err := r.sources.Eligible(ctx, models.RoleTension, time.Now().UTC())
	if err != nil {
		return errors.DatabaseError(err, "load tension sources")
	}
	response, err := r.sources.Eligible(ctx, models.RoleResponse, time.Now().UTC())
	if err != nil {
		return errors.DatabaseError(err, "load response sources")
	}
	if len(tension) == 0 && len(response) == 0 {
		created, err := r.bootstrap(ctx, log, region, tracker)
		if err != nil {
			log.WithError(err).Warn("bootstrap sub-phase failed")
		}
		recorder.Incr("sources_bootstrapped", created)
	}
	if err := ctx.Err(); err != nil {
		return errors.Cancelled()
	}

	// Step 3: schedule. totalActive is passed as 0 — database.Store has
	// no region-wide "count all active sources" query, only the
	// cadence-aware EligibleSources one, so the Schedule.Skipped stat is
	// always 0 rather than a true skip count (documented simplification,
	// see DESIGN.md).
	sched, err := scheduler.Build(ctx, r.db, time.Now().UTC(), 0)
	if err != nil {
		return errors.DatabaseError(err, "build schedule")
	}
	recorder.Incr("sources_scheduled", len(sched.Scheduled))
	log.WithFields(logrus.Fields{
		"tension":  len(sched.TensionPhase),
		"response": len(sched.ResponsePhase),
	}).Info("schedule built")

	// Step 4: Phase A (tension sources), fully complete before Phase B
	// begins (§5 ordering guarantee).
	phaseA := r.scrapePhase(ctx, log, runID, region, sched.TensionPhase, tracker, recorder, dedup)
	if err := ctx.Err(); err != nil {
		return errors.Cancelled()
	}

	// Step 5: mid-run discovery from Phase A's implied queries (§4.15).
	if len(phaseA.impliedQueries) > 0 {
		created, err := r.expander.Expand(ctx, phaseA.impliedQueries, models.DiscoveryTensionSeed, models.RoleTension)
		if err != nil {
			log.WithError(err).Warn("mid-run discovery failed")
		}
		recorder.Incr("sources_discovered_midrun", created)
	}
	if err := ctx.Err(); err != nil {
		return errors.Cancelled()
	}

	// Step 6: Phase B (response sources).
	phaseB := r.scrapePhase(ctx, log, runID, region, sched.ResponsePhase, tracker, recorder, dedup)
	if err := ctx.Err(); err != nil {
		return errors.Cancelled()
	}

	// Step 7: delete pins consumed by either phase.
	allOutcomes := append(append([]scrapeOutcome{}, phaseA.outcomes...), phaseB.outcomes...)
	var consumedPinIDs []string
	for _, o := range allOutcomes {
		if o.consumedPin != nil {
			consumedPinIDs = append(consumedPinIDs, o.consumedPin.ID)
		}
	}
	if len(consumedPinIDs) > 0 {
		if err := r.signals.DeletePins(ctx, consumedPinIDs); err != nil {
			log.WithError(err).Warn("delete consumed pins failed")
		}
		recorder.Incr("pins_consumed", len(consumedPinIDs))
	}
	if err := ctx.Err(); err != nil {
		return errors.Cancelled()
	}

	// Step 8: actor enrichment (§4.10).
	r.enrichActors(ctx, log, allOutcomes, tracker, recorder)
	if err := ctx.Err(); err != nil {
		return errors.Cancelled()
	}

	// Step 9: embedding enrichment backfill for signals that extraction
	// produced without one (e.g. budget exhausted mid-phase, §4.9/§4.12
	// prerequisite for cause heat).
	r.backfillEmbeddings(ctx, log, tracker, recorder)
	if err := ctx.Err(); err != nil {
		return errors.Cancelled()
	}

	// Step 10: metric enrichment — cause heat, situation temperature,
	// the investigation loop, and similarity clustering (§4.12-§4.14;
	// none of these are standalone orchestrator steps in their own
	// right, so they're grouped here as the "parallel synthesis" fan-out
	// group §5 describes).
	r.enrichMetrics(ctx, log, region, allOutcomes, tracker, recorder)
	if err := ctx.Err(); err != nil {
		return errors.Cancelled()
	}

	// Step 11: weight/cadence update and dead-source deactivation (§4.3).
	for _, o := range allOutcomes {
		if err := r.sources.RecordScrape(ctx, o.source, o.signalsProduced, o.signalsCorroborated, time.Now().UTC()); err != nil {
			log.WithError(err).WithField("source_id", o.source.ID).Warn("record scrape failed")
		}
	}
	if err := ctx.Err(); err != nil {
		return errors.Cancelled()
	}

	// Step 12 (signal expansion) has no Expander.Expand call of its own:
	// enrichMetrics's investigation loop persists Citations but passes
	// no leads to the expander. Step 13 (end-of-run discovery) below
	// expands Phase B's implied queries the same way step 5 expanded
	// Phase A's.
	if len(phaseB.impliedQueries) > 0 {
		created, err := r.expander.Expand(ctx, phaseB.impliedQueries, models.DiscoveryTensionSeed, models.RoleResponse)
		if err != nil {
			log.WithError(err).Warn("end-of-run discovery failed")
		}
		recorder.Incr("sources_discovered_endofrun", created)
	}

	log.WithField("stats", recorder.Snapshot()).Info("run complete")
	return nil
}
