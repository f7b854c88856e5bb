// Package scheduler picks which Sources to scrape in a run, split into
// a tension phase and a response phase, with an exploration slice for
// never-scraped Sources and a separate tiered budget for web-query
// Sources (§4.3, C4). The decision function itself does no I/O — it
// operates over Sources already loaded by the caller — tested the way
// the teacher tests pure scoring functions in internal/metrics.
package scheduler

import (
	"context"
	"sort"
	"time"

	"github.com/fourthplaces/rootsignal-sub002/internal/canon"
	"github.com/fourthplaces/rootsignal-sub002/internal/database"
	"github.com/fourthplaces/rootsignal-sub002/internal/models"
)

// CadenceHours returns the rescrape interval for a Source, given its
// explicit override (if any) and its effective_weight, per the
// weight-derived step table (§4.3). database.PostgresStore/SQLiteStore
// apply the same table in SQL for the EligibleSources query; this is
// the pure, directly-testable restatement used by the scheduler and by
// tests of property 5 (§8).
func CadenceHours(effectiveWeight float64, override *float64) float64 {
	if override != nil {
		return *override
	}
	switch {
	case effectiveWeight >= 0.8:
		return 6
	case effectiveWeight >= 0.6:
		return 12
	case effectiveWeight >= 0.4:
		return 24
	case effectiveWeight >= 0.2:
		return 72
	default:
		return 168
	}
}

// IsEligible reports whether a Source's cadence window has elapsed
// (§4.3, §8 property 5).
func IsEligible(s *models.Source, now time.Time) bool {
	if s.LastScraped == nil {
		return true
	}
	cadence := CadenceHours(s.EffectiveWeight(), s.CadenceHours)
	return now.Sub(*s.LastScraped) >= time.Duration(cadence*float64(time.Hour))
}

// Schedule is the scheduler's output: the deduplicated set of Sources
// to scrape this run, partitioned into phases, plus the exploration
// slice and a skipped count for observability.
type Schedule struct {
	Scheduled     []*models.Source
	Exploration   []*models.Source
	TensionPhase  []*models.Source
	ResponsePhase []*models.Source
	Skipped       int
}

// MaxWebQueriesPerRun caps the number of distinct search-API calls a
// single run may issue, across both phases (§4.3 web-query tiered
// scheduling).
const MaxWebQueriesPerRun = 15

// Build loads eligible Sources for both phases from the store and
// partitions them per §4.3. `totalActive` is the count of all active
// Sources in the region (eligible or not), used to compute the
// exploration-slice cap and the skipped count.
func Build(ctx context.Context, store database.Store, now time.Time, totalActive int) (Schedule, error) {
	tension, err := store.EligibleSources(ctx, models.RoleTension, now)
	if err != nil {
		return Schedule{}, err
	}
	response, err := store.EligibleSources(ctx, models.RoleResponse, now)
	if err != nil {
		return Schedule{}, err
	}

	sortByPriority(tension)
	sortByPriority(response)

	sched := Schedule{TensionPhase: tension, ResponsePhase: response}
	sched.Scheduled = unionByID(tension, response)
	sched.Exploration = explorationSlice(sched.Scheduled)
	sched.Skipped = totalActive - len(sched.Scheduled)
	if sched.Skipped < 0 {
		sched.Skipped = 0
	}
	return sched, nil
}

// explorationSlice picks up to min(3, 5% of scheduled) never-scraped
// Sources from the already-scheduled set, so newly-discovered Sources
// get a first try (§4.3).
func explorationSlice(scheduled []*models.Source) []*models.Source {
	limit := len(scheduled) * 5 / 100
	if limit > 3 {
		limit = 3
	}
	if limit <= 0 {
		return nil
	}

	var fresh []*models.Source
	for _, s := range scheduled {
		if s.ScrapeCount == 0 {
			fresh = append(fresh, s)
		}
	}
	sortByPriority(fresh)
	if len(fresh) > limit {
		fresh = fresh[:limit]
	}
	return fresh
}

// WebQuerySources filters a Source slice down to web-query targets
// (as opposed to URL or social targets) and caps the result at
// MaxWebQueriesPerRun, prioritized by effective_weight descending
// (§4.3 web-query tiered scheduling).
func WebQuerySources(sources []*models.Source) []*models.Source {
	var queries []*models.Source
	for _, s := range sources {
		if canon.DetectTarget(s.CanonicalValue).Kind == canon.TargetWebQuery {
			queries = append(queries, s)
		}
	}
	sortByPriority(queries)
	if len(queries) > MaxWebQueriesPerRun {
		queries = queries[:MaxWebQueriesPerRun]
	}
	return queries
}

// sortByPriority orders Sources by the scheduler's tie-break rule:
// higher effective_weight first, then fewer consecutive_empty_runs,
// then older last_scraped (§4.3).
func sortByPriority(sources []*models.Source) {
	sort.SliceStable(sources, func(i, j int) bool {
		a, b := sources[i], sources[j]
		if a.EffectiveWeight() != b.EffectiveWeight() {
			return a.EffectiveWeight() > b.EffectiveWeight()
		}
		if a.ConsecutiveEmptyRuns != b.ConsecutiveEmptyRuns {
			return a.ConsecutiveEmptyRuns < b.ConsecutiveEmptyRuns
		}
		return lastScrapedBefore(a.LastScraped, b.LastScraped)
	})
}

func lastScrapedBefore(a, b *time.Time) bool {
	if a == nil {
		return true
	}
	if b == nil {
		return false
	}
	return a.Before(*b)
}

func unionByID(lists ...[]*models.Source) []*models.Source {
	seen := make(map[string]bool)
	var out []*models.Source
	for _, list := range lists {
		for _, s := range list {
			if seen[s.ID] {
				continue
			}
			seen[s.ID] = true
			out = append(out, s)
		}
	}
	return out
}
