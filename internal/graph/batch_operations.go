package graph

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// BatchNodeCreator handles efficient batch node creation with UNWIND.
//
// The UNWIND pattern is the most efficient way to create multiple nodes:
// instead of one MERGE per node, we send one statement with a list
// parameter and let Neo4j batch the writes server-side.
type BatchNodeCreator struct {
	driver   neo4j.DriverWithContext
	database string
	config   BatchConfig
	logger   *slog.Logger
}

// NewBatchNodeCreator creates a batch operation handler.
func NewBatchNodeCreator(driver neo4j.DriverWithContext, database string, config BatchConfig) *BatchNodeCreator {
	return &BatchNodeCreator{
		driver:   driver,
		database: database,
		config:   config,
		logger:   slog.Default().With("component", "graph.batch"),
	}
}

func (b *BatchNodeCreator) runBatches(ctx context.Context, nodes []GraphNode, batchSize int, query string) error {
	if len(nodes) == 0 {
		return nil
	}

	nodeParams := make([]map[string]any, len(nodes))
	for i, node := range nodes {
		nodeParams[i] = node.Properties
	}

	for i := 0; i < len(nodeParams); i += batchSize {
		end := i + batchSize
		if end > len(nodeParams) {
			end = len(nodeParams)
		}
		batch := nodeParams[i:end]

		_, err := neo4j.ExecuteQuery(ctx, b.driver, query,
			map[string]any{"nodes": batch},
			neo4j.EagerResultTransformer,
			neo4j.ExecuteQueryWithDatabase(b.database))
		if err != nil {
			return fmt.Errorf("batch write failed (batch %d-%d): %w", i, end, err)
		}
	}
	return nil
}

// CreateSignalNodes writes Signal nodes in batches, keyed on id.
func (b *BatchNodeCreator) CreateSignalNodes(ctx context.Context, nodes []GraphNode) error {
	query := `
		UNWIND $nodes AS node
		MERGE (s:Signal {id: node.id})
		SET s += node
		RETURN count(s) as created
	`
	return b.runBatches(ctx, nodes, b.config.SignalBatchSize, query)
}

// CreateActorNodes writes Actor nodes in batches, keyed on name (the
// canonical identity until an actor registry exists — §4.14).
func (b *BatchNodeCreator) CreateActorNodes(ctx context.Context, nodes []GraphNode) error {
	query := `
		UNWIND $nodes AS node
		MERGE (a:Actor {name: node.name})
		SET a += node
		RETURN count(a) as created
	`
	return b.runBatches(ctx, nodes, b.config.ActorBatchSize, query)
}

// CreateStoryNodes writes Story nodes in batches, keyed on id.
func (b *BatchNodeCreator) CreateStoryNodes(ctx context.Context, nodes []GraphNode) error {
	query := `
		UNWIND $nodes AS node
		MERGE (st:Story {id: node.id})
		SET st += node
		RETURN count(st) as created
	`
	return b.runBatches(ctx, nodes, b.config.StoryBatchSize, query)
}

// CreateSituationNodes writes Situation nodes in batches, keyed on id.
func (b *BatchNodeCreator) CreateSituationNodes(ctx context.Context, nodes []GraphNode) error {
	query := `
		UNWIND $nodes AS node
		MERGE (si:Situation {id: node.id})
		SET si += node
		RETURN count(si) as created
	`
	return b.runBatches(ctx, nodes, b.config.SituationBatchSize, query)
}

// CreateCitationNodes writes Citation nodes in batches, keyed on id.
func (b *BatchNodeCreator) CreateCitationNodes(ctx context.Context, nodes []GraphNode) error {
	query := `
		UNWIND $nodes AS node
		MERGE (c:Citation {id: node.id})
		SET c += node
		RETURN count(c) as created
	`
	return b.runBatches(ctx, nodes, b.config.CitationBatchSize, query)
}

// CreateEdgesBatch creates edges in optimized batches using UNWIND,
// grouping by edge type.
func (b *BatchNodeCreator) CreateEdgesBatch(ctx context.Context, edges []GraphEdge) error {
	if len(edges) == 0 {
		return nil
	}

	edgesByType := make(map[string][]GraphEdge)
	for _, edge := range edges {
		edgesByType[edge.Label] = append(edgesByType[edge.Label], edge)
	}

	for edgeType, edgeList := range edgesByType {
		if err := b.createEdgesBatchByType(ctx, edgeType, edgeList); err != nil {
			return err
		}
	}
	return nil
}

func (b *BatchNodeCreator) createEdgesBatchByType(ctx context.Context, edgeType string, edges []GraphEdge) error {
	batchSize := b.config.EdgeBatchSize

	for i := 0; i < len(edges); i += batchSize {
		end := i + batchSize
		if end > len(edges) {
			end = len(edges)
		}
		batch := edges[i:end]

		edgeParams := make([]map[string]any, len(batch))
		for j, edge := range batch {
			fromLabel, fromID := parseNodeID(edge.From)
			toLabel, toID := parseNodeID(edge.To)

			fromKey := getUniqueKey(fromLabel)
			toKey := getUniqueKey(toLabel)

			edgeParams[j] = map[string]any{
				"from_key":   fromKey,
				"from_id":    fromID,
				"from_label": fromLabel,
				"to_key":     toKey,
				"to_id":      toID,
				"to_label":   toLabel,
				"props":      edge.Properties,
			}
		}

		query := fmt.Sprintf(`
			UNWIND $edges AS edge
			MATCH (from)
			WHERE edge.from_label IN labels(from) AND from[edge.from_key] = edge.from_id
			MATCH (to)
			WHERE edge.to_label IN labels(to) AND to[edge.to_key] = edge.to_id
			MERGE (from)-[r:%s]->(to)
			SET r += edge.props
			RETURN count(r) as created
		`, sanitizeLabel(edgeType))

		result, err := neo4j.ExecuteQuery(ctx, b.driver, query,
			map[string]any{"edges": edgeParams},
			neo4j.EagerResultTransformer,
			neo4j.ExecuteQueryWithDatabase(b.database))
		if err != nil {
			return fmt.Errorf("batch edge creation failed for %s (batch %d-%d): %w",
				edgeType, i, end, err)
		}

		if len(result.Records) > 0 {
			if created, ok := result.Records[0].Get("created"); ok {
				if createdCount, ok := created.(int64); ok && createdCount < int64(len(batch)) {
					b.logger.Warn("partial edge batch write",
						"edge_type", edgeType, "created", createdCount, "requested", len(batch),
						"batch_start", i, "batch_end", end)
				}
			}
		}
	}
	return nil
}

// sanitizeLabel ensures label is safe for Cypher (already validated by
// CypherBuilder, but extra safety for dynamically built edge labels).
func sanitizeLabel(label string) string {
	result := strings.Builder{}
	for _, r := range label {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			result.WriteRune(r)
		}
	}
	return result.String()
}
