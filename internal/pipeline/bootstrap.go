package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/fourthplaces/rootsignal-sub002/internal/budget"
	"github.com/fourthplaces/rootsignal-sub002/internal/models"
)

// platformStandardSources are civic-response platforms worth a
// standing WebQuery Source in every region regardless of what the
// bootstrap LLM calls surface, matching the curated seed list the
// original bootstrapper ships with (§4.17).
var platformStandardSources = []string{
	"site:eventbrite.com community event",
	"site:volunteermatch.org volunteer opportunity",
	"site:gofundme.com mutual aid fund",
	"linktree community resource directory",
}

type queryGenResponse struct {
	Queries []string `json:"queries"`
}

type subredditResponse struct {
	Subreddits []string `json:"subreddits"`
}

type newsOutletResponse struct {
	Outlets []string `json:"outlets"`
}

const tensionQuerySystemPrompt = `You generate web search queries that surface civic tensions — protests, evictions, labor disputes, policing incidents, environmental hazards — for a specific geographic region.
Return JSON: {"queries": ["...", ...]}. Generate 5-8 distinct, specific queries. Return only JSON, no markdown fences.`

const responseQuerySystemPrompt = `You generate web search queries that surface civic responses to local tensions — mutual aid, community organizing, public hearings, nonprofit relief efforts — for a specific geographic region.
Return JSON: {"queries": ["...", ...]}. Generate 5-8 distinct, specific queries. Return only JSON, no markdown fences.`

const socialQuerySystemPrompt = `You generate short social-media search terms (hashtags, neighborhood names, local slang for unrest) that would surface civic tension or response posts for a specific geographic region.
Return JSON: {"queries": ["...", ...]}. Generate 5-8 distinct, specific terms. Return only JSON, no markdown fences.`

const subredditSystemPrompt = `You name subreddits (without the r/ prefix) that discuss local civic life for a specific geographic region: the city subreddit, neighborhood subreddits, mutual aid subreddits.
Return JSON: {"subreddits": ["..."]}. Generate up to 5. Return only JSON, no markdown fences.`

const newsOutletSystemPrompt = `You name local news outlet homepages (bare domains, no scheme) that cover a specific geographic region: the paper of record, an alt-weekly, a public radio affiliate.
Return JSON: {"outlets": ["example.com", ...]}. Generate up to 5. Return only JSON, no markdown fences.`

// bootstrap runs the zero-source sub-phase for a region (§4.17): three
// LLM calls generate tension/response/social search queries, each
// becoming a WebQuery Source; a curated platform list and
// LLM-discovered subreddits are added unconditionally; and
// LLM-discovered news outlets are resolved to a feed URL by fetching
// their homepage and looking for a parseable feed, discarding any
// outlet that doesn't actually parse.
func (r *Runner) bootstrap(ctx context.Context, log *logrus.Entry, region models.Region, tracker *budget.Tracker) (int, error) {
	if !r.llm.IsEnabled() {
		return 0, fmt.Errorf("bootstrap requires an llm client")
	}
	created := 0

	tensionQueries, err := r.bootstrapQueries(ctx, tensionQuerySystemPrompt, region, tracker)
	if err != nil {
		log.WithError(err).Warn("bootstrap tension query generation failed")
	}
	created += r.ensureSources(ctx, log, tensionQueries, models.RoleTension)

	responseQueries, err := r.bootstrapQueries(ctx, responseQuerySystemPrompt, region, tracker)
	if err != nil {
		log.WithError(err).Warn("bootstrap response query generation failed")
	}
	created += r.ensureSources(ctx, log, responseQueries, models.RoleResponse)

	socialQueries, err := r.bootstrapQueries(ctx, socialQuerySystemPrompt, region, tracker)
	if err != nil {
		log.WithError(err).Warn("bootstrap social query generation failed")
	}
	created += r.ensureSources(ctx, log, socialQueries, models.RoleTension)

	created += r.ensureSources(ctx, log, platformStandardSources, models.RoleResponse)

	if tracker.HasBudget(budget.DefaultCosts.LLMBootstrap) {
		var subs subredditResponse
		if _, err := r.llm.CompleteJSON(ctx, subredditSystemPrompt, region.Name, &subs); err != nil {
			log.WithError(err).Debug("bootstrap subreddit discovery failed")
		} else {
			tracker.Charge(budget.DefaultCosts.LLMBootstrap)
			var handles []string
			for _, name := range subs.Subreddits {
				name = strings.TrimPrefix(strings.TrimSpace(name), "r/")
				if name == "" {
					continue
				}
				handles = append(handles, fmt.Sprintf("https://www.reddit.com/r/%s", name))
			}
			created += r.ensureSources(ctx, log, handles, models.RoleTension)
		}
	}

	created += r.bootstrapFeeds(ctx, log, region, tracker)

	return created, nil
}

// bootstrapQueries issues one CompleteJSON call for a query-generation
// system prompt, charging the bootstrap LLM cost once per call.
func (r *Runner) bootstrapQueries(ctx context.Context, systemPrompt string, region models.Region, tracker *budget.Tracker) ([]string, error) {
	if !tracker.HasBudget(budget.DefaultCosts.LLMBootstrap) {
		return nil, fmt.Errorf("bootstrap budget exhausted")
	}
	userPrompt := fmt.Sprintf("Region: %s (terms: %s)", region.Name, strings.Join(region.GeoTerms, ", "))
	var resp queryGenResponse
	if _, err := r.llm.CompleteJSON(ctx, systemPrompt, userPrompt, &resp); err != nil {
		return nil, fmt.Errorf("generate bootstrap queries: %w", err)
	}
	tracker.Charge(budget.DefaultCosts.LLMBootstrap)
	return resp.Queries, nil
}

// ensureSources upserts one Source per raw target via
// source.Manager.Ensure, deduplicating against anything already seeded
// under the same canonical key, and returns the number actually
// created (as opposed to an already-existing Source that was skipped).
func (r *Runner) ensureSources(ctx context.Context, log *logrus.Entry, raws []string, role models.SourceRole) int {
	created := 0
	for _, raw := range raws {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		src, err := r.sources.Ensure(ctx, raw, role, models.DiscoveryColdStart)
		if err != nil {
			log.WithError(err).WithField("target", raw).Warn("bootstrap source ensure failed")
			continue
		}
		if src.ScrapeCount == 0 && src.LastScraped == nil {
			created++
		}
	}
	return created
}

// bootstrapFeeds asks the LLM for candidate news outlet homepages, then
// for each one tries the conventional feed paths and only persists a
// feed Source once one of them has actually been fetched and parsed
// (§4.17). This skips the <link rel="alternate"> homepage-scan step
// the rule also names — archive.discoverFeedURL implements that scan
// but needs a homepage's raw HTML, which no PageBackend exposes past
// its own visible-text reduction, so this drives discovery through
// SourceHandle.Feed against the fallback paths only (documented
// simplification, see DESIGN.md).
func (r *Runner) bootstrapFeeds(ctx context.Context, log *logrus.Entry, region models.Region, tracker *budget.Tracker) int {
	if !tracker.HasBudget(budget.DefaultCosts.LLMBootstrap) {
		return 0
	}
	var outlets newsOutletResponse
	if _, err := r.llm.CompleteJSON(ctx, newsOutletSystemPrompt, region.Name, &outlets); err != nil {
		log.WithError(err).Debug("bootstrap news outlet discovery failed")
		return 0
	}
	tracker.Charge(budget.DefaultCosts.LLMBootstrap)

	created := 0
	for _, domain := range outlets.Outlets {
		domain = strings.TrimSpace(domain)
		if domain == "" {
			continue
		}
		feedURL, ok := r.discoverFeed(ctx, domain)
		if !ok {
			continue
		}
		if _, err := r.sources.Ensure(ctx, feedURL, models.RoleTension, models.DiscoveryColdStart); err != nil {
			log.WithError(err).WithField("feed", feedURL).Warn("bootstrap feed ensure failed")
			continue
		}
		created++
	}
	return created
}

// discoverFeed tries the conventional feed paths under a bare domain,
// validating each candidate by fetching it once through a throwaway
// Source handle before accepting it; only a candidate that actually
// parses as a feed is returned.
func (r *Runner) discoverFeed(ctx context.Context, domain string) (string, bool) {
	candidates := []string{
		"https://" + domain + "/feed",
		"https://" + domain + "/rss",
		"https://" + domain + "/rss.xml",
	}
	for _, candidate := range candidates {
		probe := &models.Source{ID: "bootstrap-probe", CanonicalKey: candidate, CanonicalValue: candidate, URL: &candidate}
		handle := r.archive.Source(probe)
		feed, _, err := handle.Feed(ctx, "bootstrap", "bootstrap", "")
		if err == nil && feed != nil {
			return candidate, true
		}
	}
	return "", false
}
