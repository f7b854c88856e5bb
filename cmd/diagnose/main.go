// Command diagnose traces a single Source through every scout stage —
// fetch, LLM extraction, quality scoring, geo-filter, and the
// three-layer dedup cascade — printing what survives and what gets
// killed at each one, without persisting anything. It exists for the
// same reason the teacher ships narrow one-off binaries under cmd/ for
// tracing a single suspicious edge through its linking pipeline
// (cmd/test-extraction, cmd/investigate-edge): when a signal that
// should have been produced wasn't, or one that should have been
// killed wasn't, this is where you find out which stage did it.
package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fourthplaces/rootsignal-sub002/internal/archive"
	"github.com/fourthplaces/rootsignal-sub002/internal/canon"
	"github.com/fourthplaces/rootsignal-sub002/internal/database"
	"github.com/fourthplaces/rootsignal-sub002/internal/dedup"
	"github.com/fourthplaces/rootsignal-sub002/internal/embed"
	"github.com/fourthplaces/rootsignal-sub002/internal/extractor"
	"github.com/fourthplaces/rootsignal-sub002/internal/graph"
	"github.com/fourthplaces/rootsignal-sub002/internal/investigate"
	"github.com/fourthplaces/rootsignal-sub002/internal/llm"
	"github.com/fourthplaces/rootsignal-sub002/internal/models"
	"github.com/fourthplaces/rootsignal-sub002/internal/quality"
)

var (
	sourceFlag string
	regionName string
	centerLat  float64
	centerLng  float64
	radiusKM   float64
	postLimit  int
)

var rootCmd = &cobra.Command{
	Use:           "diagnose",
	Short:         "Trace one source through the scout pipeline stage by stage",
	RunE:          runDiagnose,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Flags().StringVar(&sourceFlag, "source", "", "raw source target: a URL, a subreddit URL, or a web-query string (required)")
	rootCmd.Flags().StringVar(&regionName, "region", "", "region name (required)")
	rootCmd.Flags().Float64Var(&centerLat, "lat", 0, "region center latitude")
	rootCmd.Flags().Float64Var(&centerLng, "lng", 0, "region center longitude")
	rootCmd.Flags().Float64Var(&radiusKM, "radius-km", 30, "region radius in kilometers")
	rootCmd.Flags().IntVar(&postLimit, "limit", 25, "max social posts to request, when source is a social target")
	_ = rootCmd.MarkFlagRequired("source")
	_ = rootCmd.MarkFlagRequired("region")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runDiagnose(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY not set")
	}
	voyageKey := os.Getenv("VOYAGE_API_KEY")
	serperKey := os.Getenv("SERPER_API_KEY")
	apifyKey := os.Getenv("APIFY_API_KEY")
	neo4jURI := os.Getenv("NEO4J_URI")
	neo4jUser := envOrDefault("NEO4J_USER", "neo4j")
	neo4jPassword := os.Getenv("NEO4J_PASSWORD")
	neo4jDatabase := envOrDefault("NEO4J_DATABASE", "neo4j")

	var g *graph.Client
	if neo4jURI != "" {
		var err error
		g, err = graph.NewClientWithDatabase(ctx, neo4jURI, neo4jUser, neo4jPassword, neo4jDatabase)
		if err != nil {
			return fmt.Errorf("connect neo4j: %w", err)
		}
		defer g.Close(ctx)
	} else {
		fmt.Println("(no NEO4J_URI set — stage 6/7 graph lookups will report no matches)")
	}

	var db database.Store
	if postgresURL := os.Getenv("POSTGRES_URL"); postgresURL != "" {
		store, err := database.NewPostgresStore(ctx, postgresURL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()
		db = store
	}

	var socialBackend archive.SocialBackend
	if apifyKey != "" {
		socialBackend = archive.NewApifySocialBackend(apifyKey)
	}
	searchClient := investigate.NewSearchClient(serperKey)
	var searchBackend archive.SearchBackend
	if searchClient.IsEnabled() {
		searchBackend = archive.NewSerperSearchBackend(searchClient)
	}
	a := archive.New(db, archive.NewChromePageBackend(), archive.NewGofeedBackend(), searchBackend, socialBackend)

	llmClient := llm.NewClient(apiKey, "")
	embedClient := embed.NewClient(voyageKey)
	ext := extractor.New(llmClient)

	region := models.Region{
		Name:      regionName,
		CenterLat: centerLat,
		CenterLng: centerLng,
		RadiusKM:  radiusKM,
	}

	d := &diagnostic{
		ctx: ctx, archive: a, extractor: ext, embed: embedClient, graph: g, region: region,
	}
	return d.run(sourceFlag)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// diagnostic holds the collaborators one trace run needs. It never
// writes to Postgres, Neo4j, or the cache — every dedup candidate it
// finds is reported, not consumed.
type diagnostic struct {
	ctx       context.Context
	archive   *archive.Archive
	extractor *extractor.Extractor
	embed     *embed.Client
	graph     *graph.Client
	region    models.Region
}

func (d *diagnostic) run(raw string) error {
	target := canon.DetectTarget(raw)
	probe := &models.Source{
		ID:             "diagnose-probe",
		CanonicalKey:   raw,
		CanonicalValue: raw,
		Weight:         0.5,
		QualityPenalty: 1.0,
	}
	if target.Kind != canon.TargetWebQuery {
		u := target.URL
		probe.URL = &u
	}

	// STAGE 1: fetch.
	banner("STAGE 1: Fetch")
	text, err := d.fetch(probe, target)
	if err != nil {
		return fmt.Errorf("fetch failed: %w", err)
	}
	fmt.Printf("Fetched %d chars of text.\n\n", len(text))
	if strings.TrimSpace(text) == "" {
		fmt.Println("No text extracted. Done.")
		return nil
	}

	// STAGE 2: LLM extraction.
	banner("STAGE 2: LLM Extraction")
	result, err := d.extractor.Extract(d.ctx, text, canonicalURL(probe))
	if err != nil {
		return fmt.Errorf("extraction failed: %w", err)
	}
	fmt.Printf("Extracted %d signals, %d implied queries, %d rejected.\n\n", len(result.Signals), len(result.ImpliedQueries), len(result.Rejected))
	for i, s := range result.Signals {
		fmt.Printf("  %2d. [%s] %q (sensitivity=%s)\n", i+1, s.Kind, s.Title, s.Sensitivity)
	}
	for _, r := range result.Rejected {
		fmt.Printf("  rejected: %s — %s\n", r.Reason, truncate(r.OriginalJSONSnippet, 80))
	}
	fmt.Println()
	if len(result.Signals) == 0 {
		return nil
	}

	// STAGE 3: quality scoring.
	banner("STAGE 3: Quality Scoring")
	now := time.Now().UTC()
	for _, s := range result.Signals {
		if s.ExtractedAt.IsZero() {
			s.ExtractedAt = now
		}
		q := quality.Score(s, probe.Weight, probe.QualityPenalty, now)
		fmt.Printf("  [%s] conf=%.3f %q\n", s.Kind, q, truncate(s.Title, 60))
	}
	fmt.Println()

	// STAGE 4: geo-filter.
	banner("STAGE 4: Geo-Filter")
	passed := d.geoFilter(result.Signals)
	fmt.Printf("\nGeo result: %d passed, %d killed.\n\n", len(passed), len(result.Signals)-len(passed))

	// STAGE 5: within-batch title dedup.
	banner("STAGE 5: Within-Batch Title Dedup")
	deduped := dedup.BatchTitleDedup(passed)
	fmt.Printf("\nBatch title dedup result: %d passed, %d killed.\n\n", len(deduped), len(passed)-len(deduped))

	// STAGE 6: global title+type dedup against the graph.
	banner("STAGE 6: Global Title+Type Dedup (vs graph)")
	survivors := d.globalTitleDedup(deduped, canonicalURL(probe))
	fmt.Printf("\nGlobal dedup result: %d passed, %d killed/corroborated.\n\n", len(survivors), len(deduped)-len(survivors))

	// STAGE 7: embedding dedup against the graph vector index.
	banner("STAGE 7: Embedding Dedup (vs graph)")
	stored := d.embeddingDedup(survivors)

	banner("SUMMARY")
	fmt.Printf("  Fetched:                  %d chars\n", len(text))
	fmt.Printf("  LLM signals extracted:    %d\n", len(result.Signals))
	fmt.Printf("  After geo-filter:         %d\n", len(passed))
	fmt.Printf("  After batch title dedup:  %d\n", len(deduped))
	fmt.Printf("  After global title dedup: %d\n", len(survivors))
	fmt.Printf("  WOULD BE STORED:          %d\n", len(stored))
	for _, s := range stored {
		fmt.Printf("    [%s] %q\n", s.Kind, s.Title)
	}
	return nil
}

// fetch dispatches the probe Source to the right archive.SourceHandle
// method, mirroring internal/pipeline.(*Runner).fetchText's dispatch
// (C17) but standalone: diagnose traces a single source directly
// against the archive rather than through the orchestrator, the same
// way the original tool drove its scraper and extractor directly
// instead of going through the full scout binary.
func (d *diagnostic) fetch(s *models.Source, target canon.DetectedTarget) (string, error) {
	handle := d.archive.Source(s)
	const runID, region = "diagnose", "diagnose"

	switch target.Kind {
	case canon.TargetWebQuery:
		res, err := handle.Search(d.ctx, runID, region)
		if err != nil {
			return "", err
		}
		fmt.Printf("Search returned %d results.\n", len(res.Results))
		var b strings.Builder
		for i, hit := range res.Results {
			fmt.Printf("  %2d. %s\n", i+1, hit.Title)
			b.WriteString(hit.Title)
			b.WriteString(". ")
			b.WriteString(hit.Snippet)
			b.WriteString("\n")
		}
		return b.String(), nil

	case canon.TargetSocial:
		posts, err := handle.Posts(d.ctx, runID, region, archive.Platform(target.Platform), target.Identifier, postLimit)
		if err != nil {
			return "", err
		}
		fmt.Printf("Apify returned %d posts.\n", len(posts))
		var b strings.Builder
		for i, p := range posts {
			fmt.Printf("  %2d. (%4d chars) %s\n", i+1, len(p.Text), truncate(p.Text, 100))
			b.WriteString(p.Text)
			b.WriteString("\n")
		}
		return b.String(), nil

	default:
		if canon.DetectContentKind("", target.URL) == canon.ContentFeed {
			feed, _, err := handle.Feed(d.ctx, runID, region, "")
			if err != nil {
				return "", err
			}
			fmt.Printf("Feed %q returned %d items.\n", feed.Title, len(feed.Items))
			var b strings.Builder
			for _, item := range feed.Items {
				b.WriteString(item.Title)
				b.WriteString(". ")
				b.WriteString(item.Description)
				b.WriteString("\n")
			}
			return b.String(), nil
		}
		page, _, err := handle.Page(d.ctx, runID, region, "")
		if err != nil {
			return "", err
		}
		return page.Title + "\n" + page.Text, nil
	}
}

// geoFilter applies the region radius check inline, printing a line
// per signal explaining the verdict. Signals with coordinates pass only
// inside the radius; signals without coordinates always pass (no
// geo-term check is applied).
func (d *diagnostic) geoFilter(signals []*models.Signal) []*models.Signal {
	var passed []*models.Signal
	for _, s := range signals {
		if s.AboutLocation != nil {
			dist := haversineKM(d.region.CenterLat, d.region.CenterLng, s.AboutLocation.Lat, s.AboutLocation.Lng)
			if dist <= d.region.RadiusKM {
				fmt.Printf("  PASS (coords in radius, %.1fkm) %q\n", dist, s.Title)
				passed = append(passed, s)
			} else {
				fmt.Printf("  KILLED (coords outside radius, %.1fkm) %q\n", dist, s.Title)
			}
			continue
		}
		fmt.Printf("  PASS (no coords — benefit of doubt) %q\n", s.Title)
		passed = append(passed, s)
	}
	return passed
}

// globalTitleDedup reproduces internal/pipeline's exactTitleMatch
// query directly against the graph, so diagnose doesn't need a
// pipeline.Runner to report stage 6's verdicts.
func (d *diagnostic) globalTitleDedup(signals []*models.Signal, currentURL string) []*models.Signal {
	var survivors []*models.Signal
	for _, s := range signals {
		if d.graph == nil {
			fmt.Printf("  PASS (no graph configured) %q\n", s.Title)
			survivors = append(survivors, s)
			continue
		}
		rows, err := d.graph.ExecuteQuery(d.ctx, `
			MATCH (s:Signal {kind: $kind})
			WHERE toLower(s.title) = toLower($title)
			RETURN s.id AS id, s.source_url AS url
			LIMIT 1
		`, map[string]any{"kind": string(s.Kind), "title": s.Title})
		if err != nil {
			fmt.Printf("  ? ERROR checking graph: %v — %q\n", err, s.Title)
			survivors = append(survivors, s)
			continue
		}
		if len(rows) == 0 {
			fmt.Printf("  PASS (no global title match) %q\n", s.Title)
			survivors = append(survivors, s)
			continue
		}
		id, _ := rows[0]["id"].(string)
		url, _ := rows[0]["url"].(string)
		if url == currentURL {
			fmt.Printf("  KILLED (same-source title match, id=%s) %q\n", id, s.Title)
		} else {
			fmt.Printf("  CORROBORATE (cross-source title match, id=%s, from %s) %q\n", id, truncate(url, 50), s.Title)
		}
	}
	return survivors
}

// embeddingDedup embeds each surviving signal and checks it against
// the graph vector index via the same graph.Client.FindSimilarSignals
// call internal/signalstore.Store.FindDuplicate wraps, mirroring
// internal/pipeline's resolveSignal layer 2/3 but reporting rather
// than persisting. FindSimilarSignals doesn't return the matched
// signal's source URL, so — same as the live pipeline — a match can
// never be distinguished as same-source here; every match at or above
// the corroborate threshold reports as cross-source.
func (d *diagnostic) embeddingDedup(signals []*models.Signal) []*models.Signal {
	if !d.embed.IsEnabled() {
		fmt.Println("  (no embedding client configured — skipping)")
		return signals
	}
	var stored []*models.Signal
	for i, s := range signals {
		vec, err := d.embed.Embed(d.ctx, s.Title+". "+s.Summary)
		if err != nil {
			fmt.Printf("  %2d. ? embedding failed: %v — %q\n", i+1, err, s.Title)
			stored = append(stored, s)
			continue
		}
		s.Embedding = vec

		if d.graph == nil {
			fmt.Printf("  %2d. PASS (no graph configured) %q\n", i+1, s.Title)
			stored = append(stored, s)
			continue
		}
		candidates, err := d.graph.FindSimilarSignals(d.ctx, s.Kind, vec, 1)
		if err != nil {
			fmt.Printf("  %2d. ? ERROR checking graph index: %v — %q\n", i+1, err, s.Title)
			stored = append(stored, s)
			continue
		}
		if len(candidates) == 0 || candidates[0].Similarity < 0.85 {
			fmt.Printf("  %2d. PASS (no embedding match) %q\n", i+1, s.Title)
			stored = append(stored, s)
			continue
		}
		match := candidates[0]
		if match.Similarity >= 0.92 {
			fmt.Printf("  %2d. CORROBORATE (sim=%.3f, id=%s) %q\n", i+1, match.Similarity, match.SignalID, s.Title)
		} else {
			fmt.Printf("  %2d. NEAR-MISS (sim=%.3f, below 0.92) %q — would still be stored\n", i+1, match.Similarity, s.Title)
			stored = append(stored, s)
		}
	}
	return stored
}

func canonicalURL(s *models.Source) string {
	if s.URL != nil {
		return *s.URL
	}
	return s.CanonicalValue
}

// haversineKM matches internal/readcache's test-local helper of the
// same name (itself grounded on the original's rootsignal_common::
// haversine_km) — no shared package exposes this yet (see DESIGN.md).
func haversineKM(lat1, lng1, lat2, lng2 float64) float64 {
	const earthRadiusKM = 6371.0
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	sinLat, sinLng := math.Sin(dLat/2), math.Sin(dLng/2)
	a := sinLat*sinLat + math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*sinLng*sinLng
	c := 2 * math.Asin(math.Sqrt(a))
	return earthRadiusKM * c
}

func banner(title string) {
	fmt.Println(strings.Repeat("=", 66))
	fmt.Println(title)
	fmt.Println(strings.Repeat("=", 66))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
