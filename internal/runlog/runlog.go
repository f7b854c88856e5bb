// Package runlog accumulates per-run and per-source counters over the
// course of a pipeline run (§2 C16), then hands them to
// database.Store's StartRunLog/FinishRunLog the same way the teacher's
// database layer appends individual metric-use rows one call at a
// time rather than computing a report after the fact.
package runlog

import (
	"context"
	"sync"
	"time"

	"github.com/fourthplaces/rootsignal-sub002/internal/database"
	"github.com/fourthplaces/rootsignal-sub002/internal/models"
)

// Recorder accumulates counters for a single run. Safe for concurrent
// use by the pipeline's fan-out phases.
type Recorder struct {
	mu    sync.Mutex
	stats map[string]int

	bySource map[string]map[string]int

	runID  string
	region string
}

// New starts a new run-scoped Recorder.
func New(runID, region string) *Recorder {
	return &Recorder{
		stats:    make(map[string]int),
		bySource: make(map[string]map[string]int),
		runID:    runID,
		region:   region,
	}
}

// Incr bumps a run-wide counter (e.g. "signals_extracted", "sources_scraped").
func (r *Recorder) Incr(counter string, delta int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats[counter] += delta
}

// IncrSource bumps a per-source counter in addition to its run-wide
// total, so both granularities stay available without a second pass.
func (r *Recorder) IncrSource(sourceID, counter string, delta int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats[counter] += delta
	if r.bySource[sourceID] == nil {
		r.bySource[sourceID] = make(map[string]int)
	}
	r.bySource[sourceID][counter] += delta
}

// Snapshot returns a copy of the accumulated run-wide counters.
func (r *Recorder) Snapshot() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.stats))
	for k, v := range r.stats {
		out[k] = v
	}
	return out
}

// SourceCounters returns a copy of one source's accumulated counters.
func (r *Recorder) SourceCounters(sourceID string) map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	src := r.bySource[sourceID]
	out := make(map[string]int, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// Start persists the RunLog row marking this run as begun.
func (r *Recorder) Start(ctx context.Context, db database.Store, startedAt time.Time) error {
	return db.StartRunLog(ctx, &models.RunLog{
		RunID:     r.runID,
		Region:    r.region,
		StartedAt: startedAt,
	})
}

// Finish persists the accumulated counters and marks the run complete.
// lastErr is nil on a clean run.
func (r *Recorder) Finish(ctx context.Context, db database.Store, finishedAt time.Time, lastErr error) error {
	var errMsg *string
	if lastErr != nil {
		msg := lastErr.Error()
		errMsg = &msg
	}
	return db.FinishRunLog(ctx, r.runID, finishedAt, r.Snapshot(), errMsg)
}
