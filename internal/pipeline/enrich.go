package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/fourthplaces/rootsignal-sub002/internal/budget"
	"github.com/fourthplaces/rootsignal-sub002/internal/enrichment"
	"github.com/fourthplaces/rootsignal-sub002/internal/investigate"
	"github.com/fourthplaces/rootsignal-sub002/internal/models"
	"github.com/fourthplaces/rootsignal-sub002/internal/runlog"
	"github.com/fourthplaces/rootsignal-sub002/internal/similarity"
)

// enrichActors runs the second LLM pass over every signal this run
// resolved, extracting named organizations/individuals and linking
// them into the graph (§4.10). Actor resolution is scoped to this
// run's own candidates — internal/enrichment.ResolveActor's fuzzy
// match runs against whatever Actors this loop has already upserted,
// not the whole graph, since no Client method lists all Actors by
// name prefix yet (documented simplification, see DESIGN.md).
func (r *Runner) enrichActors(ctx context.Context, log *logrus.Entry, outcomes []scrapeOutcome, tracker *budget.Tracker, recorder *runlog.Recorder) {
	var resolved []*models.Actor

	for _, o := range outcomes {
		for _, sig := range o.signals {
			if err := ctx.Err(); err != nil {
				return
			}
			if !tracker.HasBudget(budget.DefaultCosts.LLMExtraction) {
				recorder.Incr("actor_extraction_skipped_budget", 1)
				continue
			}

			text := sig.title + ". " + sig.summary
			candidates, err := enrichment.ExtractActors(ctx, r.llm, text)
			if err != nil {
				log.WithError(err).Debug("actor extraction failed")
				continue
			}
			tracker.Charge(budget.DefaultCosts.LLMExtraction)

			for _, c := range candidates {
				actor := enrichment.ResolveActor(c.Name, resolved)
				if actor == nil {
					actor = &models.Actor{
						ID:             uuid.NewString(),
						Name:           c.Name,
						Bio:            c.Bio,
						ActorType:      c.Type,
						LastActive:     time.Now().UTC(),
						DiscoveryDepth: 0,
					}
					resolved = append(resolved, actor)
				}
				actor.SignalCount++
				actor.LastActive = time.Now().UTC()

				if err := r.graph.UpsertActor(ctx, actor); err != nil {
					log.WithError(err).Warn("actor upsert failed")
					continue
				}
				if err := r.graph.LinkActorToSignal(ctx, actor.ID, sig.id); err != nil {
					log.WithError(err).Warn("actor link failed")
					continue
				}
				recorder.Incr("actors_linked", 1)
			}
		}
	}
}

// backfillEmbeddings computes embeddings for any signal this run
// resolved without one — extraction-time embedding (internal/pipeline's
// scrape.go resolveSignal) is the common path, so this step is a
// catch-up pass for budget-exhausted or embedding-disabled cases, not
// the primary embedding path (documented Open Question resolution, see
// DESIGN.md). It operates by re-scanning the graph for Signals missing
// an embedding rather than re-threading scrapeOutcome state, since a
// signal resolved via the Corroborate verdict never had its own
// embedding recorded against the existing node in the first place.
func (r *Runner) backfillEmbeddings(ctx context.Context, log *logrus.Entry, tracker *budget.Tracker, recorder *runlog.Recorder) {
	if !r.embed.IsEnabled() {
		return
	}

	rows, err := r.graph.ExecuteQuery(ctx, `
		MATCH (s:Signal)
		WHERE s.embedding IS NULL OR size(s.embedding) = 0
		RETURN s.id AS id, s.title AS title, s.summary AS summary
		LIMIT 200
	`, nil)
	if err != nil {
		log.WithError(err).Warn("embedding backfill scan failed")
		return
	}

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return
		}
		id, _ := row["id"].(string)
		title, _ := row["title"].(string)
		summary, _ := row["summary"].(string)
		if id == "" || !tracker.HasBudget(budget.DefaultCosts.Embedding) {
			continue
		}

		vec, err := r.embed.Embed(ctx, title+". "+summary)
		if err != nil {
			log.WithError(err).Debug("backfill embedding failed")
			continue
		}
		tracker.Charge(budget.DefaultCosts.Embedding)

		if _, err := r.graph.ExecuteQuery(ctx, `
			MATCH (s:Signal {id: $id}) SET s.embedding = $embedding
		`, map[string]any{"id": id, "embedding": vec}); err != nil {
			log.WithError(err).Warn("backfill embedding write failed")
			continue
		}
		recorder.Incr("embeddings_backfilled", 1)
	}
}

// enrichMetrics runs the run's "parallel synthesis" group (§4.12-§4.14):
// cause heat over the region's Tension neighborhood, the investigation
// loop over this run's flagged/under-corroborated signals, and
// similarity clustering into Stories and Situations. None of these
// three carry their own numbered orchestrator step, so they're grouped
// here the way §5 describes a synthesis phase running after both
// scrape phases complete.
func (r *Runner) enrichMetrics(ctx context.Context, log *logrus.Entry, region models.Region, outcomes []scrapeOutcome, tracker *budget.Tracker, recorder *runlog.Recorder) {
	r.enrichCauseHeat(ctx, log, region, recorder)
	if err := ctx.Err(); err != nil {
		return
	}
	r.investigateSignals(ctx, log, outcomes, tracker, recorder)
	if err := ctx.Err(); err != nil {
		return
	}
	r.clusterStories(ctx, log, tracker, recorder)
}

// enrichCauseHeat computes and persists cause_heat for every Tension
// signal in the graph (§4.12): radiated attention only ever flows
// between Tension signals, so internal/graph.Client.TensionNeighborhood
// scopes the query to that kind before internal/enrichment.CauseHeat
// runs its pairwise cosine pass.
func (r *Runner) enrichCauseHeat(ctx context.Context, log *logrus.Entry, region models.Region, recorder *runlog.Recorder) {
	tensions, err := r.graph.TensionNeighborhood(ctx, region.Name)
	if err != nil {
		log.WithError(err).Warn("tension neighborhood query failed")
		return
	}
	if len(tensions) < 2 {
		return
	}

	inputs := make([]enrichment.HeatInput, 0, len(tensions))
	for _, t := range tensions {
		inputs = append(inputs, enrichment.HeatInput{
			ID:              t.ID,
			Embedding:       t.Embedding,
			SourceDiversity: t.SourceDiversity,
		})
	}
	heat := enrichment.CauseHeat(inputs, enrichment.DefaultTau)

	for id, h := range heat {
		if _, err := r.graph.ExecuteQuery(ctx, `
			MATCH (s:Signal {id: $id}) SET s.cause_heat = $heat
		`, map[string]any{"id": id, "heat": h}); err != nil {
			log.WithError(err).Warn("cause heat write failed")
			continue
		}
	}
	recorder.Incr("signals_cause_heat_updated", len(heat))
}

// investigateSignals runs the second-pass corroboration loop over this
// run's own flagged/under-corroborated signals (§4.14). Scoping to
// outcomes rather than a region-wide query keeps this run's
// investigation budget spent only on signals the run itself just
// touched, which is the common case the teacher's own
// internal/linking per-item confidence passes follow: act on what you
// just saw, not on the whole store.
func (r *Runner) investigateSignals(ctx context.Context, log *logrus.Entry, outcomes []scrapeOutcome, tracker *budget.Tracker, recorder *runlog.Recorder) {
	if r.search == nil || !r.search.IsEnabled() {
		return
	}

	var candidates []investigate.TargetCandidate
	bySignal := make(map[string]signalRef)
	for _, o := range outcomes {
		for _, sig := range o.signals {
			bySignal[sig.id] = sig
			candidates = append(candidates, investigate.TargetCandidate{
				SignalID:            sig.id,
				FlaggedAtExtraction: sig.sensitivity == models.SensitivitySensitive,
				Sensitivity:         sig.sensitivity,
			})
		}
	}
	targets := investigate.SelectTargets(candidates)

	queriesIssued := 0
	for _, signalID := range targets {
		if err := ctx.Err(); err != nil {
			return
		}
		sig := bySignal[signalID]
		if !tracker.HasBudget(budget.DefaultCosts.LLMInvestigate) {
			recorder.Incr("investigations_skipped_budget", 1)
			continue
		}

		queries, err := investigate.GenerateQueries(ctx, r.llm, sig.title, sig.summary)
		if err != nil {
			log.WithError(err).Debug("investigation query generation failed")
			continue
		}
		tracker.Charge(budget.DefaultCosts.LLMInvestigate)

		var allResults []investigate.SearchResult
		for _, q := range queries {
			if queriesIssued >= investigate.MaxSearchQueriesPerRun {
				break
			}
			if err := r.searchLimiter.Wait(ctx); err != nil {
				return
			}
			if !tracker.HasBudget(budget.DefaultCosts.SearchQuery) {
				break
			}
			results, err := r.search.Search(ctx, q)
			if err != nil {
				log.WithError(err).Debug("investigation search failed")
				continue
			}
			tracker.Charge(budget.DefaultCosts.SearchQuery)
			queriesIssued++
			allResults = append(allResults, investigate.FilterSameDomain(results, sig.sourceURL)...)
		}
		if len(allResults) == 0 {
			continue
		}

		evaluations, err := investigate.EvaluateResults(ctx, r.llm, sig.title, allResults)
		if err != nil {
			log.WithError(err).Debug("investigation evaluation failed")
			continue
		}
		tracker.Charge(budget.DefaultCosts.LLMInvestigate)

		for _, e := range evaluations {
			if !investigate.ShouldPersistEvidence(e) {
				continue
			}
			citation := &models.Citation{
				ID:                 uuid.NewString(),
				SignalID:           signalID,
				SourceURL:          e.URL,
				RetrievedAt:        time.Now().UTC(),
				ContentHash:        contentHash(e.URL + e.Snippet),
				Snippet:            e.Snippet,
				Relevance:          mapRelevance(e.Relevance),
				EvidenceConfidence: e.Confidence,
				ChannelType:        "investigation",
			}
			if err := r.signals.CreateEvidence(ctx, "", citation.ContentHash, citation); err != nil {
				log.WithError(err).Warn("investigation evidence persist failed")
				continue
			}
			recorder.Incr("evidence_from_investigation", 1)
		}

		recorder.Incr("signals_investigated", 1)
	}
}

// mapRelevance translates internal/investigate's all-caps relevance
// labels (independently modeled on the investigation prompt contract)
// to internal/models' lowercase Citation.Relevance values.
func mapRelevance(r investigate.Relevance) models.EvidenceRelevance {
	switch r {
	case investigate.RelevanceDirect:
		return models.RelevanceDirect
	case investigate.RelevanceSupporting:
		return models.RelevanceSupporting
	case investigate.RelevanceContradicting:
		return models.RelevanceContradicting
	default:
		return models.RelevanceSupporting
	}
}

// clusterStories builds the SIMILAR_TO graph over embedded signals,
// detects communities, and rolls each into a Story and then a
// Situation (§4.11, §4.13). Reconcile is given no existing Stories, so
// every community becomes a new Story; Stories from earlier runs are
// not matched. This is
// necessarily a best-effort synthesis: no single orchestrator step in
// §4.17 names clustering as its own numbered phase the way scraping or
// reaping are named, so it runs here scoped to what the graph holds
// right now rather than a dedicated incremental feed (documented
// simplification, see DESIGN.md).
func (r *Runner) clusterStories(ctx context.Context, log *logrus.Entry, tracker *budget.Tracker, recorder *runlog.Recorder) {
	rows, err := r.graph.ExecuteQuery(ctx, `
		MATCH (s:Signal)
		WHERE s.embedding IS NOT NULL AND size(s.embedding) > 0
		RETURN s.id AS id, s.embedding AS embedding, s.title AS title
		LIMIT 500
	`, nil)
	if err != nil {
		log.WithError(err).Warn("similarity candidate scan failed")
		return
	}
	if len(rows) < 2 {
		return
	}

	nodes := make([]similarity.Node, 0, len(rows))
	titles := make(map[string]string, len(rows))
	for _, row := range rows {
		id, _ := row["id"].(string)
		title, _ := row["title"].(string)
		if id == "" {
			continue
		}
		titles[id] = title
		nodes = append(nodes, similarity.Node{ID: id, Embedding: toFloat32Slice(row["embedding"])})
	}

	edges := similarity.BuildEdges(nodes, similarity.DefaultThreshold)
	for _, e := range edges {
		if err := r.graph.CreateSimilarEdge(ctx, e.From, e.To, e.Weight); err != nil {
			log.WithError(err).Debug("similar edge write failed")
		}
	}

	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	communities := similarity.DetectCommunities(ids, edges)
	recorder.Incr("communities_detected", len(communities))

	for _, members := range communities {
		if err := ctx.Err(); err != nil {
			return
		}
		decision := similarity.Reconcile(members, nil)

		storyID := decision.ExistingID
		headline, summaryText := decision.Headline, decision.Summary
		firstSeen := decision.FirstSeen
		if !decision.UpdateExisting {
			storyID = uuid.NewString()
			firstSeen = time.Now().UTC()
			if tracker.HasBudget(budget.DefaultCosts.LLMExtraction) {
				memberTitles := make([]string, 0, len(members))
				for _, id := range members {
					memberTitles = append(memberTitles, titles[id])
				}
				if h, s, err := similarity.NameStory(ctx, r.llm, memberTitles); err == nil {
					headline, summaryText = h, s
					tracker.Charge(budget.DefaultCosts.LLMExtraction)
				} else {
					log.WithError(err).Debug("story naming failed")
				}
			}
		}

		story := &models.Story{
			ID:         storyID,
			Headline:   headline,
			Summary:    summaryText,
			SignalCount: len(members),
			FirstSeen:  firstSeen,
			LastUpdated: time.Now().UTC(),
			Status:     models.StoryEmerging,
		}
		if err := r.graph.UpsertStory(ctx, story); err != nil {
			log.WithError(err).Warn("story upsert failed")
			continue
		}
		for _, signalID := range members {
			if err := r.graph.LinkSignalToStory(ctx, story.ID, signalID); err != nil {
				log.WithError(err).Debug("story link failed")
			}
		}
		recorder.Incr("stories_upserted", 1)

		r.rollupSituation(ctx, log, story)
	}
}

// rollupSituation derives a Situation from a single Story (§4.13).
// Grouping several related Stories under one Situation needs a
// geography/topic clustering step the spec names but doesn't give an
// algorithm for beyond "Stories sharing a geography and timeframe", so
// this keeps the simpler one Situation per Story mapping for now
// (documented simplification, see DESIGN.md) while still exercising
// enrichment.Temperature and the UpsertSituation/LinkStoryToSituation
// projection.
func (r *Runner) rollupSituation(ctx context.Context, log *logrus.Entry, story *models.Story) {
	result := enrichment.Temperature(enrichment.TemperatureInputs{
		Now:                     time.Now().UTC(),
		FirstSeen:               story.FirstSeen,
		MemberTensionCauseHeats: nil,
		LastUpdated:             story.LastUpdated,
		PreviousArc:             models.ArcCold,
	})

	situation := &models.Situation{
		ID:                 uuid.NewString(),
		Arc:                result.Arc,
		Clarity:            result.Clarity,
		Temperature:        result.Temperature,
		TensionHeatAgg:     result.TensionHeatAgg,
		EntityVelocityNorm: result.EntityVelocityNorm,
		ResponseGapNorm:    result.ResponseGapNorm,
		AmplificationNorm:  result.AmplificationNorm,
		ClarityNeedNorm:    result.ClarityNeedNorm,
		CentroidLat:        story.CentroidLat,
		CentroidLng:        story.CentroidLng,
		FirstSeen:          story.FirstSeen,
		LastUpdated:        time.Now().UTC(),
	}
	if err := r.graph.UpsertSituation(ctx, situation); err != nil {
		log.WithError(err).Warn("situation upsert failed")
		return
	}
	if err := r.graph.LinkStoryToSituation(ctx, situation.ID, story.ID); err != nil {
		log.WithError(err).Debug("situation link failed")
	}
}

func toFloat32Slice(v any) []float32 {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]float32, 0, len(raw))
	for _, x := range raw {
		if f, ok := x.(float64); ok {
			out = append(out, float32(f))
		}
	}
	return out
}
