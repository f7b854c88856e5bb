package graph

import "context"

// Backend defines the interface for graph database operations over the
// Signal/Actor/Story/Situation/Citation schema. Neo4jBackend is the only
// implementation; the interface exists so pipeline stages depend on a
// seam rather than the driver directly.
type Backend interface {
	// CreateNode creates a single node in the graph
	CreateNode(ctx context.Context, node GraphNode) (string, error)

	// CreateNodes creates multiple nodes in batch
	CreateNodes(ctx context.Context, nodes []GraphNode) ([]string, error)

	// CreateEdge creates a single edge in the graph
	CreateEdge(ctx context.Context, edge GraphEdge) error

	// CreateEdges creates multiple edges in batch
	CreateEdges(ctx context.Context, edges []GraphEdge) error

	// ExecuteBatch executes multiple commands in a single transaction
	ExecuteBatch(ctx context.Context, commands []string) error

	// Query executes a query and returns results
	Query(ctx context.Context, query string) (interface{}, error)

	// Close closes the backend connection
	Close(ctx context.Context) error
}

// GraphNode represents a node in the graph.
type GraphNode struct {
	Label      string                 // Node type: "Signal", "Actor", "Story", "Situation", "Citation"
	ID         string                 // Unique identifier for the node
	Properties map[string]interface{} // Node properties
}

// GraphEdge represents an edge in the graph.
type GraphEdge struct {
	Label      string                 // Edge type: "SIMILAR_TO", "SOURCED_FROM", "MENTIONS", "PART_OF", etc.
	From       string                 // Source node ID, e.g. "signal:<uuid>"
	To         string                 // Target node ID
	Properties map[string]interface{} // Edge properties
}
