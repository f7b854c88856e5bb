package graph

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/fourthplaces/rootsignal-sub002/internal/models"
)

// Client wraps the Neo4j driver with the domain query surface the
// pipeline needs: signal upsert, vector-index dedup lookup, similarity
// edges, and the enrichment/cause-heat reads.
type Client struct {
	driver   neo4j.DriverWithContext
	logger   *slog.Logger
	database string
}

// NewClient creates a Neo4j client from environment-sourced credentials.
func NewClient(ctx context.Context, uri, user, password string) (*Client, error) {
	return NewClientWithDatabase(ctx, uri, user, password, "neo4j")
}

// NewClientWithDatabase creates a Neo4j client with a specific database.
func NewClientWithDatabase(ctx context.Context, uri, user, password, database string) (*Client, error) {
	if uri == "" || user == "" || password == "" {
		return nil, fmt.Errorf("neo4j credentials missing: uri=%s, user=%s", uri, user)
	}

	driver, err := neo4j.NewDriverWithContext(uri,
		neo4j.BasicAuth(user, password, ""),
		func(config *neo4j.Config) {
			config.MaxConnectionPoolSize = 50
			config.ConnectionAcquisitionTimeout = 60 * time.Second
			config.MaxConnectionLifetime = 3600 * time.Second
			config.ConnectionLivenessCheckTimeout = 5 * time.Second
			config.SocketConnectTimeout = 5 * time.Second
			config.SocketKeepalive = true
		})
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to connect to neo4j at %s: %w", uri, err)
	}

	logger := slog.Default().With("component", "neo4j")
	logger.Info("neo4j client connected", "uri", uri, "user", user, "database", database)

	return &Client{
		driver:   driver,
		logger:   logger,
		database: database,
	}, nil
}

// Close closes the Neo4j driver connection.
func (c *Client) Close(ctx context.Context) error {
	if err := c.driver.Close(ctx); err != nil {
		return fmt.Errorf("failed to close neo4j driver: %w", err)
	}
	c.logger.Info("neo4j client closed")
	return nil
}

// HealthCheck verifies Neo4j connectivity.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.driver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("neo4j health check failed: %w", err)
	}
	return nil
}

// Driver returns the underlying Neo4j driver, used by lazy_query.go for
// projection reads.
func (c *Client) Driver() neo4j.DriverWithContext {
	return c.driver
}

// Database returns the configured database name.
func (c *Client) Database() string {
	return c.database
}

func (c *Client) queryCtx(ctx context.Context, operation string) (context.Context, context.CancelFunc) {
	txConfig := GetConfigForOperation(operation)
	if txConfig.Timeout <= 0 {
		return ctx, func() {}
	}
	qctx, cancel := context.WithTimeout(ctx, txConfig.Timeout)
	return qctx, cancel
}

// EnsureConstraints creates the uniqueness constraints and vector index
// the pipeline relies on. Called once at startup.
func (c *Client) EnsureConstraints(ctx context.Context) error {
	qctx, cancel := c.queryCtx(ctx, "index_creation")
	defer cancel()

	statements := []string{
		`CREATE CONSTRAINT signal_id IF NOT EXISTS FOR (s:Signal) REQUIRE s.id IS UNIQUE`,
		`CREATE CONSTRAINT actor_id IF NOT EXISTS FOR (a:Actor) REQUIRE a.id IS UNIQUE`,
		`CREATE CONSTRAINT story_id IF NOT EXISTS FOR (st:Story) REQUIRE st.id IS UNIQUE`,
		`CREATE CONSTRAINT situation_id IF NOT EXISTS FOR (si:Situation) REQUIRE si.id IS UNIQUE`,
		`CREATE CONSTRAINT source_id IF NOT EXISTS FOR (src:Source) REQUIRE src.id IS UNIQUE`,
		`CREATE VECTOR INDEX signal_embedding IF NOT EXISTS
			FOR (s:Signal) ON (s.embedding)
			OPTIONS {indexConfig: {` + "`vector.dimensions`" + `: 1024, ` + "`vector.similarity_function`" + `: 'cosine'}}`,
	}

	for _, stmt := range statements {
		if _, err := neo4j.ExecuteQuery(qctx, c.driver, stmt, nil, neo4j.EagerResultTransformer); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	return nil
}

// DedupCandidate is a vector-index match returned for a prospective
// Signal, used to decide between Create/Refresh/Corroborate (§4.8 layer
// 4, §4.9).
type DedupCandidate struct {
	SignalID   string
	Similarity float64
}

// FindSimilarSignals runs the vector-index ANN lookup restricted to the
// same SignalKind, the final dedup layer after exact/in-batch/in-memory
// checks have missed (§4.8).
func (c *Client) FindSimilarSignals(ctx context.Context, kind models.SignalKind, embedding []float32, topK int) ([]DedupCandidate, error) {
	qctx, cancel := c.queryCtx(ctx, "vector_search")
	defer cancel()

	query := `
		CALL db.index.vector.queryNodes('signal_embedding', $topK, $embedding)
		YIELD node, score
		WHERE node.kind = $kind
		RETURN node.id AS id, score
		ORDER BY score DESC
	`
	result, err := neo4j.ExecuteQuery(qctx, c.driver, query,
		map[string]any{"topK": topK, "embedding": embedding, "kind": string(kind)},
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithReadersRouting())
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	candidates := make([]DedupCandidate, 0, len(result.Records))
	for _, rec := range result.Records {
		id, _ := rec.Get("id")
		score, _ := rec.Get("score")
		idStr, ok := id.(string)
		if !ok {
			continue
		}
		scoreF, ok := score.(float64)
		if !ok {
			continue
		}
		candidates = append(candidates, DedupCandidate{SignalID: idStr, Similarity: scoreF})
	}
	return candidates, nil
}

// UpsertSignal writes a new Signal node (Create verdict) or refreshes an
// existing one's mutable fields (Refresh verdict), per §4.9.
func (c *Client) UpsertSignal(ctx context.Context, s *models.Signal) error {
	qctx, cancel := c.queryCtx(ctx, "signal_upsert")
	defer cancel()

	query := `
		MERGE (s:Signal {id: $id})
		SET s.kind = $kind,
			s.title = $title,
			s.summary = $summary,
			s.sensitivity = $sensitivity,
			s.confidence = $confidence,
			s.corroboration_count = $corroboration_count,
			s.source_diversity = $source_diversity,
			s.channel_diversity = $channel_diversity,
			s.extracted_at = $extracted_at,
			s.last_confirmed_active = $last_confirmed_active,
			s.cause_heat = $cause_heat,
			s.review_status = $review_status,
			s.embedding = $embedding
	`
	params := map[string]any{
		"id":                    s.ID,
		"kind":                  string(s.Kind),
		"title":                 s.Title,
		"summary":               s.Summary,
		"sensitivity":           string(s.Sensitivity),
		"confidence":            s.Confidence,
		"corroboration_count":   s.CorroborationCount,
		"source_diversity":      s.SourceDiversity,
		"channel_diversity":     s.ChannelDiversity,
		"extracted_at":          s.ExtractedAt.UTC().Format(time.RFC3339),
		"last_confirmed_active": s.LastConfirmedActive.UTC().Format(time.RFC3339),
		"cause_heat":            s.CauseHeat,
		"review_status":         string(s.ReviewStatus),
		"embedding":             s.Embedding,
	}

	if _, err := neo4j.ExecuteQuery(qctx, c.driver, query, params, neo4j.EagerResultTransformer); err != nil {
		return fmt.Errorf("signal upsert failed for %s: %w", s.ID, err)
	}
	return nil
}

// Corroborate attaches a Citation to an existing Signal via SOURCED_FROM
// and bumps its corroboration counters (§4.9 Corroborate verdict).
func (c *Client) Corroborate(ctx context.Context, signalID string, citation *models.Citation) error {
	qctx, cancel := c.queryCtx(ctx, "corroborate")
	defer cancel()

	query := `
		MATCH (s:Signal {id: $signal_id})
		CREATE (cit:Citation {
			id: $id,
			source_url: $source_url,
			retrieved_at: $retrieved_at,
			content_hash: $content_hash,
			snippet: $snippet,
			relevance: $relevance,
			evidence_confidence: $evidence_confidence,
			channel_type: $channel_type
		})
		CREATE (s)-[:SOURCED_FROM]->(cit)
		SET s.corroboration_count = s.corroboration_count + 1
	`
	params := map[string]any{
		"signal_id":           signalID,
		"id":                  citation.ID,
		"source_url":          citation.SourceURL,
		"retrieved_at":        citation.RetrievedAt.UTC().Format(time.RFC3339),
		"content_hash":        citation.ContentHash,
		"snippet":             citation.Snippet,
		"relevance":           string(citation.Relevance),
		"evidence_confidence": citation.EvidenceConfidence,
		"channel_type":        citation.ChannelType,
	}
	if _, err := neo4j.ExecuteQuery(qctx, c.driver, query, params, neo4j.EagerResultTransformer); err != nil {
		return fmt.Errorf("corroborate failed for signal %s: %w", signalID, err)
	}
	return nil
}

// CreateSimilarEdge writes a SIMILAR_TO edge between two signals with a
// cosine-similarity weight, the substrate for community detection (§4.12).
func (c *Client) CreateSimilarEdge(ctx context.Context, signalA, signalB string, weight float64) error {
	qctx, cancel := c.queryCtx(ctx, "similarity_write")
	defer cancel()

	query := `
		MATCH (a:Signal {id: $a}), (b:Signal {id: $b})
		MERGE (a)-[r:SIMILAR_TO]-(b)
		SET r.weight = $weight
	`
	params := map[string]any{"a": signalA, "b": signalB, "weight": weight}
	if _, err := neo4j.ExecuteQuery(qctx, c.driver, query, params, neo4j.EagerResultTransformer); err != nil {
		return fmt.Errorf("similarity edge write failed (%s,%s): %w", signalA, signalB, err)
	}
	return nil
}

// TensionNeighborhood returns the id, embedding, confidence and source
// diversity of every Tension-kind signal in the graph, for cause-heat
// scoring (§4.12): cause heat only ever radiates from Tension signals.
// regionName is passed as a query parameter, but the query does not
// filter on it.
func (c *Client) TensionNeighborhood(ctx context.Context, regionName string) ([]models.Signal, error) {
	qctx, cancel := c.queryCtx(ctx, "enrichment_query")
	defer cancel()

	query := `
		MATCH (s:Signal {kind: 'tension'})
		RETURN s.id AS id, s.embedding AS embedding, s.confidence AS confidence,
			s.source_diversity AS source_diversity
	`
	result, err := neo4j.ExecuteQuery(qctx, c.driver, query,
		map[string]any{"region": regionName},
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithReadersRouting())
	if err != nil {
		return nil, fmt.Errorf("tension neighborhood query failed: %w", err)
	}

	signals := make([]models.Signal, 0, len(result.Records))
	for _, rec := range result.Records {
		id, _ := rec.Get("id")
		idStr, _ := id.(string)

		s := models.Signal{ID: idStr, Kind: models.SignalTension}

		if confidence, ok := rec.Get("confidence"); ok {
			if f, ok := confidence.(float64); ok {
				s.Confidence = f
			}
		}
		if diversity, ok := rec.Get("source_diversity"); ok {
			switch v := diversity.(type) {
			case int64:
				s.SourceDiversity = int(v)
			case float64:
				s.SourceDiversity = int(v)
			}
		}
		if embedding, ok := rec.Get("embedding"); ok {
			if raw, ok := embedding.([]any); ok {
				vec := make([]float32, 0, len(raw))
				for _, v := range raw {
					if f, ok := v.(float64); ok {
						vec = append(vec, float32(f))
					}
				}
				s.Embedding = vec
			}
		}

		signals = append(signals, s)
	}
	return signals, nil
}

// UpsertActor writes an Actor node, keyed by id (§4.10 actor resolution).
func (c *Client) UpsertActor(ctx context.Context, a *models.Actor) error {
	qctx, cancel := c.queryCtx(ctx, "actor_upsert")
	defer cancel()

	query := `
		MERGE (a:Actor {id: $id})
		SET a.name = $name,
			a.bio = $bio,
			a.location_name = $location_name,
			a.actor_type = $actor_type,
			a.signal_count = $signal_count,
			a.last_active = $last_active,
			a.discovery_depth = $discovery_depth
	`
	params := map[string]any{
		"id":              a.ID,
		"name":            a.Name,
		"bio":             a.Bio,
		"location_name":   a.LocationName,
		"actor_type":      a.ActorType,
		"signal_count":    a.SignalCount,
		"last_active":     a.LastActive.UTC().Format(time.RFC3339),
		"discovery_depth": a.DiscoveryDepth,
	}
	if _, err := neo4j.ExecuteQuery(qctx, c.driver, query, params, neo4j.EagerResultTransformer); err != nil {
		return fmt.Errorf("actor upsert failed for %s: %w", a.ID, err)
	}
	return nil
}

// LinkActorToSignal connects a resolved Actor to the Signal it was
// mentioned in and bumps the Actor's signal_count (§4.10).
func (c *Client) LinkActorToSignal(ctx context.Context, actorID, signalID string) error {
	qctx, cancel := c.queryCtx(ctx, "actor_link")
	defer cancel()

	query := `
		MATCH (a:Actor {id: $actor_id}), (s:Signal {id: $signal_id})
		MERGE (a)-[:MENTIONED_IN]->(s)
		SET a.signal_count = a.signal_count + 1
	`
	params := map[string]any{"actor_id": actorID, "signal_id": signalID}
	if _, err := neo4j.ExecuteQuery(qctx, c.driver, query, params, neo4j.EagerResultTransformer); err != nil {
		return fmt.Errorf("actor link failed (%s,%s): %w", actorID, signalID, err)
	}
	return nil
}

// UpsertStory writes a Story node, keyed by id (§4.11 community
// reconciliation).
func (c *Client) UpsertStory(ctx context.Context, st *models.Story) error {
	qctx, cancel := c.queryCtx(ctx, "story_upsert")
	defer cancel()

	query := `
		MERGE (st:Story {id: $id})
		SET st.headline = $headline,
			st.summary = $summary,
			st.signal_count = $signal_count,
			st.org_count = $org_count,
			st.source_count = $source_count,
			st.source_domains = $source_domains,
			st.centroid_lat = $centroid_lat,
			st.centroid_lng = $centroid_lng,
			st.velocity = $velocity,
			st.energy = $energy,
			st.status = $status,
			st.dominant_type = $dominant_type,
			st.first_seen = $first_seen,
			st.last_updated = $last_updated
	`
	params := map[string]any{
		"id":             st.ID,
		"headline":       st.Headline,
		"summary":        st.Summary,
		"signal_count":   st.SignalCount,
		"org_count":      st.OrgCount,
		"source_count":   st.SourceCount,
		"source_domains": st.SourceDomains,
		"centroid_lat":   st.CentroidLat,
		"centroid_lng":   st.CentroidLng,
		"velocity":       st.Velocity,
		"energy":         st.Energy,
		"status":         string(st.Status),
		"dominant_type":  string(st.DominantType),
		"first_seen":     st.FirstSeen.UTC().Format(time.RFC3339),
		"last_updated":   st.LastUpdated.UTC().Format(time.RFC3339),
	}
	if _, err := neo4j.ExecuteQuery(qctx, c.driver, query, params, neo4j.EagerResultTransformer); err != nil {
		return fmt.Errorf("story upsert failed for %s: %w", st.ID, err)
	}
	return nil
}

// LinkSignalToStory attaches a member Signal to its Story (§4.11).
func (c *Client) LinkSignalToStory(ctx context.Context, storyID, signalID string) error {
	qctx, cancel := c.queryCtx(ctx, "story_link")
	defer cancel()

	query := `
		MATCH (st:Story {id: $story_id}), (s:Signal {id: $signal_id})
		MERGE (st)-[:MEMBER]->(s)
	`
	params := map[string]any{"story_id": storyID, "signal_id": signalID}
	if _, err := neo4j.ExecuteQuery(qctx, c.driver, query, params, neo4j.EagerResultTransformer); err != nil {
		return fmt.Errorf("story link failed (%s,%s): %w", storyID, signalID, err)
	}
	return nil
}

// UpsertSituation writes a Situation node, keyed by id (§4.13 temperature
// enrichment).
func (c *Client) UpsertSituation(ctx context.Context, si *models.Situation) error {
	qctx, cancel := c.queryCtx(ctx, "situation_upsert")
	defer cancel()

	query := `
		MERGE (si:Situation {id: $id})
		SET si.arc = $arc,
			si.clarity = $clarity,
			si.temperature = $temperature,
			si.tension_heat_agg = $tension_heat_agg,
			si.entity_velocity_norm = $entity_velocity_norm,
			si.response_gap_norm = $response_gap_norm,
			si.amplification_norm = $amplification_norm,
			si.clarity_need_norm = $clarity_need_norm,
			si.narrative_centroid = $narrative_centroid,
			si.centroid_lat = $centroid_lat,
			si.centroid_lng = $centroid_lng,
			si.first_seen = $first_seen,
			si.last_updated = $last_updated
	`
	params := map[string]any{
		"id":                   si.ID,
		"arc":                  string(si.Arc),
		"clarity":              string(si.Clarity),
		"temperature":          si.Temperature,
		"tension_heat_agg":     si.TensionHeatAgg,
		"entity_velocity_norm": si.EntityVelocityNorm,
		"response_gap_norm":    si.ResponseGapNorm,
		"amplification_norm":   si.AmplificationNorm,
		"clarity_need_norm":    si.ClarityNeedNorm,
		"narrative_centroid":   si.NarrativeCentroid,
		"centroid_lat":         si.CentroidLat,
		"centroid_lng":         si.CentroidLng,
		"first_seen":           si.FirstSeen.UTC().Format(time.RFC3339),
		"last_updated":         si.LastUpdated.UTC().Format(time.RFC3339),
	}
	if _, err := neo4j.ExecuteQuery(qctx, c.driver, query, params, neo4j.EagerResultTransformer); err != nil {
		return fmt.Errorf("situation upsert failed for %s: %w", si.ID, err)
	}
	return nil
}

// LinkStoryToSituation groups a Story under its Situation (§4.13).
func (c *Client) LinkStoryToSituation(ctx context.Context, situationID, storyID string) error {
	qctx, cancel := c.queryCtx(ctx, "situation_link")
	defer cancel()

	query := `
		MATCH (si:Situation {id: $situation_id}), (st:Story {id: $story_id})
		MERGE (si)-[:COMPRISES]->(st)
	`
	params := map[string]any{"situation_id": situationID, "story_id": storyID}
	if _, err := neo4j.ExecuteQuery(qctx, c.driver, query, params, neo4j.EagerResultTransformer); err != nil {
		return fmt.Errorf("situation link failed (%s,%s): %w", situationID, storyID, err)
	}
	return nil
}

// ExecuteQuery executes a generic Cypher query with parameters, used by
// the read-cache projection rebuild and ad hoc diagnostics.
func (c *Client) ExecuteQuery(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	qctx, cancel := c.queryCtx(ctx, "projection_read")
	defer cancel()

	result, err := neo4j.ExecuteQuery(qctx, c.driver, query, params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithReadersRouting())
	if err != nil {
		return nil, fmt.Errorf("query execution failed: %w", err)
	}

	records := make([]map[string]any, 0, len(result.Records))
	for _, record := range result.Records {
		records = append(records, record.AsMap())
	}

	c.logger.Debug("query executed", "record_count", len(records))
	return records, nil
}
