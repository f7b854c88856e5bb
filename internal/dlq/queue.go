// Package dlq records per-source fetch and extraction failures as an
// audit trail, so a later investigation (a human reading the event
// log) can see which sources keep failing and why, without
// that detail getting lost in a "failed" log line that scrolls off
// (§7 "per-source errors don't abort the phase"). It's a thin wrapper
// over database.Store.AppendSignalEvent's generic event log rather
// than its own table: the teacher's retry-queue version of this
// (repo_id/commit_sha, retry_count, resolved-on-success) assumed a
// consumer that replayed entries; this pipeline has no equivalent
// retry loop for a failed fetch, so there's nothing to dequeue — this
// keeps the write side (recording what failed) and drops the
// read/retry side (see DESIGN.md).
package dlq

import (
	"context"
	"time"

	"github.com/fourthplaces/rootsignal-sub002/internal/database"
)

// EventType is the signal_events event_type every Record call writes
// under, so a query against the event log can isolate failures from
// the other event types the pipeline appends.
const EventType = "source_failure"

// Stage names one point in a Source's processing where a failure can
// occur.
type Stage string

const (
	StageFetch      Stage = "fetch"
	StageExtraction Stage = "extraction"
)

// entry is one failure's JSON payload.
type entry struct {
	SourceID  string    `json:"source_id"`
	Stage     Stage     `json:"stage"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// Record appends one failure to the run's event log. A failure here
// never aborts the run (§7) — this is strictly an audit trail, not a
// retry mechanism.
func Record(ctx context.Context, db database.Store, runID, sourceID string, stage Stage, err error) error {
	return db.AppendSignalEvent(ctx, runID, EventType, entry{
		SourceID:  sourceID,
		Stage:     stage,
		Error:     err.Error(),
		Timestamp: time.Now().UTC(),
	})
}
