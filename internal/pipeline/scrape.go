package pipeline

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/fourthplaces/rootsignal-sub002/internal/archive"
	"github.com/fourthplaces/rootsignal-sub002/internal/budget"
	"github.com/fourthplaces/rootsignal-sub002/internal/canon"
	"github.com/fourthplaces/rootsignal-sub002/internal/dedup"
	"github.com/fourthplaces/rootsignal-sub002/internal/dlq"
	"github.com/fourthplaces/rootsignal-sub002/internal/errors"
	"github.com/fourthplaces/rootsignal-sub002/internal/models"
	"github.com/fourthplaces/rootsignal-sub002/internal/runlog"
)

// signalRef is the minimal view of one resolved signal that downstream
// enrichment steps (actor extraction, embedding backfill, the
// investigation loop) need without re-querying the graph for every
// signal a phase just touched.
type signalRef struct {
	id          string
	kind        models.SignalKind
	title       string
	summary     string
	sourceURL   string
	sensitivity models.Sensitivity
	embedding   []float32
}

// scrapeOutcome is one Source's contribution to a scheduling phase:
// the per-source counters RecordScrape needs, any pin it consumed, the
// implied queries its extraction surfaced for discovery, and a
// reference to each signal it resolved this run.
type scrapeOutcome struct {
	source              *models.Source
	signalsProduced     int
	signalsCorroborated int
	impliedQueries      []string
	consumedPin         *models.Pin
	signals             []signalRef
}

// phaseResult aggregates a scheduling phase's outcomes for the caller.
type phaseResult struct {
	outcomes       []scrapeOutcome
	impliedQueries []string
}

// scrapePhase fans a list of Sources out across bounded goroutines
// (§5: Source work is independent, Phase A and Phase B are not), fetch
// -> extract -> dedup -> store strictly ordered within each Source.
func (r *Runner) scrapePhase(ctx context.Context, log *logrus.Entry, runID string, region models.Region, sources []*models.Source, tracker *budget.Tracker, recorder *runlog.Recorder, dc *dedupCache) phaseResult {
	outcomes := make([]scrapeOutcome, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxSourceConcurrency)

	for i, s := range sources {
		i, s := i, s
		g.Go(func() error {
			outcomes[i] = r.processSource(gctx, log, runID, region, s, tracker, recorder, dc)
			return nil
		})
	}
	_ = g.Wait() // per-source errors are captured in each outcome, never aborting the phase (§7)

	result := phaseResult{outcomes: outcomes}
	for _, o := range outcomes {
		result.impliedQueries = append(result.impliedQueries, o.impliedQueries...)
	}
	return result
}

// processSource fetches one Source's content, extracts Signals from
// it, resolves each through the three-layer dedup cascade, and
// persists the result. It never returns an error: a failed fetch or
// extraction is logged and reflected in the zero-valued outcome
// counters, consistent with §7's "per-source errors don't abort the
// phase" policy.
func (r *Runner) processSource(ctx context.Context, log *logrus.Entry, runID string, region models.Region, s *models.Source, tracker *budget.Tracker, recorder *runlog.Recorder, dc *dedupCache) scrapeOutcome {
	outcome := scrapeOutcome{source: s}
	slog := log.WithField("source_id", s.ID)

	if pin, err := r.sources.ConsumePin(ctx, s.ID); err == nil && pin != nil {
		outcome.consumedPin = pin
	}

	handle := r.archive.Source(s)
	text, err := r.fetchText(ctx, handle, runID, region.Name, s)
	if err != nil {
		if errors.GetType(err) == errors.ErrorTypeUnsupported {
			slog.Debug("source fetch unsupported, skipping")
		} else {
			slog.WithError(err).Warn("source fetch failed")
			if dlqErr := dlq.Record(ctx, r.db, runID, s.ID, dlq.StageFetch, err); dlqErr != nil {
				slog.WithError(dlqErr).Debug("dlq record failed")
			}
		}
		return outcome
	}
	if strings.TrimSpace(text) == "" {
		return outcome
	}

	if !tracker.HasBudget(budget.DefaultCosts.LLMExtraction) {
		recorder.Incr("extractions_skipped_budget", 1)
		return outcome
	}
	result, err := r.extractor.Extract(ctx, text, canonicalSourceURL(s))
	if err != nil {
		slog.WithError(err).Warn("extraction failed")
		recorder.Incr("extractions_failed", 1)
		if dlqErr := dlq.Record(ctx, r.db, runID, s.ID, dlq.StageExtraction, err); dlqErr != nil {
			slog.WithError(dlqErr).Debug("dlq record failed")
		}
		return outcome
	}
	tracker.Charge(budget.DefaultCosts.LLMExtraction)
	recorder.IncrSource(s.ID, "pages_extracted", 1)
	outcome.impliedQueries = result.ImpliedQueries

	fetchHash := contentHash(text)
	for _, signal := range dedup.BatchTitleDedup(result.Signals) {
		ref, produced, corroborated := r.resolveSignal(ctx, slog, runID, s.ID, fetchHash, signal, tracker, recorder, dc)
		if produced {
			outcome.signalsProduced++
		}
		if corroborated {
			outcome.signalsCorroborated++
		}
		if ref.id != "" {
			outcome.signals = append(outcome.signals, ref)
		}
	}

	return outcome
}

// fetchText dispatches a Source to the right archive.SourceHandle
// method based on canon.DetectTarget's classification, reducing
// whatever comes back to one block of text for the extractor (§4.1,
// §4.2).
func (r *Runner) fetchText(ctx context.Context, h *archive.SourceHandle, runID, region string, s *models.Source) (string, error) {
	target := canon.DetectTarget(s.CanonicalValue)

	switch target.Kind {
	case canon.TargetWebQuery:
		if err := r.searchLimiter.Wait(ctx); err != nil {
			return "", err
		}
		res, err := h.Search(ctx, runID, region)
		if err != nil {
			return "", err
		}
		var b strings.Builder
		for _, hit := range res.Results {
			b.WriteString(hit.Title)
			b.WriteString(". ")
			b.WriteString(hit.Snippet)
			b.WriteString("\n")
		}
		return b.String(), nil

	case canon.TargetSocial:
		posts, err := h.Posts(ctx, runID, region, archive.Platform(target.Platform), target.Identifier, 25)
		if err != nil {
			return "", err
		}
		var b strings.Builder
		for _, p := range posts {
			b.WriteString(p.Text)
			b.WriteString("\n")
		}
		return b.String(), nil

	default: // canon.TargetURL
		if canon.DetectContentKind("", target.URL) == canon.ContentFeed {
			feed, changed, err := h.Feed(ctx, runID, region, "")
			if err != nil {
				return "", err
			}
			if !changed {
				return "", nil
			}
			var b strings.Builder
			b.WriteString(feed.Title)
			b.WriteString("\n")
			for _, item := range feed.Items {
				b.WriteString(item.Title)
				b.WriteString(". ")
				b.WriteString(item.Description)
				b.WriteString("\n")
			}
			return b.String(), nil
		}

		page, changed, err := h.Page(ctx, runID, region, "")
		if err != nil {
			return "", err
		}
		if !changed {
			return "", nil
		}
		return page.Title + "\n" + page.Text, nil
	}
}

func canonicalSourceURL(s *models.Source) string {
	if s.URL != nil {
		return *s.URL
	}
	return s.CanonicalValue
}

// dedupCacheEntry is one run's worth of already-resolved signal
// identity, kept for dedup layer 2 (§4.8).
type dedupCacheEntry struct {
	id        string
	url       string
	embedding []float32
}

// dedupCache is the per-run in-memory embedding cache shared across
// the errgroup fan-out within a phase, guarded by its own mutex since
// Phase A/B Sources resolve concurrently.
type dedupCache struct {
	mu      sync.Mutex
	byKind  map[models.SignalKind][]dedupCacheEntry
}

func newDedupCache() *dedupCache {
	return &dedupCache{byKind: make(map[models.SignalKind][]dedupCacheEntry)}
}

// cosineSimilarity matches internal/enrichment's own unexported
// definition (itself duplicated again in internal/similarity) rather
// than introducing a shared package for one small function three
// packages already carry their own copy of.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// bestMatch scans this run's cache for the best same-kind embedding
// match, mirroring internal/graph.Client.FindSimilarSignals' shape but
// over in-memory entries instead of the vector index (§4.8 layer 2).
func (c *dedupCache) bestMatch(kind models.SignalKind, embedding []float32) *dedup.Match {
	c.mu.Lock()
	defer c.mu.Unlock()

	var best *dedup.Match
	for _, e := range c.byKind[kind] {
		sim := cosineSimilarity(embedding, e.embedding)
		if best == nil || sim > best.Similarity {
			best = &dedup.Match{ExistingID: e.id, ExistingType: kind, URL: e.url, Similarity: sim}
		}
	}
	return best
}

func (c *dedupCache) record(kind models.SignalKind, id, url string, embedding []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byKind[kind] = append(c.byKind[kind], dedupCacheEntry{id: id, url: url, embedding: embedding})
}

// resolveSignal runs one extracted signal through the embed -> three
// layer dedup -> persist sequence and reports whether it counts as a
// newly produced signal or a corroboration for the caller's
// bookkeeping (§4.8, §4.9).
func (r *Runner) resolveSignal(ctx context.Context, log *logrus.Entry, runID, sourceID, fetchHash string, signal *models.Signal, tracker *budget.Tracker, recorder *runlog.Recorder, dc *dedupCache) (ref signalRef, produced, corroborated bool) {
	if signal.Confidence == 0 {
		signal.Confidence = 0.6
	}
	if signal.LastConfirmedActive.IsZero() {
		signal.LastConfirmedActive = time.Now().UTC()
	}
	if signal.SourceDomains == nil {
		signal.SourceDomains = map[string]bool{}
	}

	embedText := signal.Title + ". " + signal.Summary
	if r.embed.IsEnabled() && tracker.HasBudget(budget.DefaultCosts.Embedding) {
		if vec, err := r.embed.Embed(ctx, embedText); err == nil {
			signal.Embedding = vec
			tracker.Charge(budget.DefaultCosts.Embedding)
		} else {
			log.WithError(err).Debug("signal embedding failed")
		}
	}

	globalMatch, err := r.exactTitleMatch(ctx, signal.Kind, signal.Title)
	if err != nil {
		log.WithError(err).Debug("exact-match dedup query failed")
	}
	cacheMatch := dc.bestMatch(signal.Kind, signal.Embedding)
	var graphMatch *dedup.Match
	if len(signal.Embedding) > 0 {
		graphMatch, err = r.signals.FindDuplicate(ctx, signal.Kind, signal.Embedding, 0)
		if err != nil {
			log.WithError(err).Debug("graph dedup query failed")
		}
	}

	verdict := dedup.DedupVerdict(signal.SourceURL, globalMatch, cacheMatch, graphMatch)

	var signalID string
	switch verdict.Kind {
	case dedup.Create:
		id, err := r.signals.UpsertSignal(ctx, runID, fetchHash, signal)
		if err != nil {
			log.WithError(err).Warn("signal create failed")
			return signalRef{}, false, false
		}
		signalID = id
		produced = true
	case dedup.Refresh:
		signal.ID = verdict.ExistingID
		id, err := r.signals.UpsertSignal(ctx, runID, fetchHash, signal)
		if err != nil {
			log.WithError(err).Warn("signal refresh failed")
			return signalRef{}, false, false
		}
		signalID = id
	case dedup.Corroborate:
		signalID = verdict.ExistingID
		corroborated = true
	}

	dc.record(signal.Kind, signalID, signal.SourceURL, signal.Embedding)

	citation := &models.Citation{
		ID:                 uuid.NewString(),
		SignalID:           signalID,
		SourceURL:          signal.SourceURL,
		RetrievedAt:        time.Now().UTC(),
		ContentHash:        fetchHash,
		Snippet:            truncate(signal.Summary, 280),
		Relevance:          models.RelevanceDirect,
		EvidenceConfidence: signal.Confidence,
		ChannelType:        string(signal.Kind),
	}
	if err := r.signals.CreateEvidence(ctx, runID, fetchHash, citation); err != nil {
		log.WithError(err).Warn("create evidence failed")
	}

	recorder.IncrSource(sourceID, "signals_"+verdictLabel(verdict.Kind), 1)
	ref = signalRef{
		id:          signalID,
		kind:        signal.Kind,
		title:       signal.Title,
		summary:     signal.Summary,
		sourceURL:   signal.SourceURL,
		sensitivity: signal.Sensitivity,
		embedding:   signal.Embedding,
	}
	return ref, produced, corroborated
}

func verdictLabel(k dedup.VerdictKind) string {
	switch k {
	case dedup.Create:
		return "created"
	case dedup.Refresh:
		return "refreshed"
	case dedup.Corroborate:
		return "corroborated"
	default:
		return "unknown"
	}
}

// exactTitleMatch is dedup layer 1: an exact (normalized title, kind)
// match anywhere in the graph. No internal/graph.Client method covers
// this narrow a lookup, so it runs over the generic ExecuteQuery the
// same way internal/signalstore.ReapExpired does its own ad hoc scan.
func (r *Runner) exactTitleMatch(ctx context.Context, kind models.SignalKind, title string) (*dedup.Match, error) {
	rows, err := r.graph.ExecuteQuery(ctx, `
		MATCH (s:Signal {kind: $kind})
		WHERE toLower(s.title) = toLower($title)
		RETURN s.id AS id, s.source_url AS url
		LIMIT 1
	`, map[string]any{"kind": string(kind), "title": title})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	id, _ := rows[0]["id"].(string)
	url, _ := rows[0]["url"].(string)
	if id == "" {
		return nil, nil
	}
	return &dedup.Match{ExistingID: id, ExistingType: kind, URL: url, Similarity: 1.0}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// contentHash matches internal/archive's own unexported hash shape
// (FNV-1a, the project-wide convention), computed independently here
// since extracted text, not the raw fetched body, is what the
// extraction-keyed citations below are stamped with.
func contentHash(s string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return fmt.Sprintf("%016x", h.Sum64())
}
