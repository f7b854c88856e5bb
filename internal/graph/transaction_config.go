package graph

import (
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// TransactionConfig defines timeout and metadata for transactions
// Reference: NEO4J_PERFORMANCE_OPTIMIZATION_GUIDE.md Phase 5
//
// Transaction metadata is logged by Neo4j and visible in query.log
// This helps with debugging slow queries and categorizing operations.
type TransactionConfig struct {
	Timeout  time.Duration
	Metadata map[string]any
}

// DefaultTransactionConfigs returns recommended configs per operation type.
func DefaultTransactionConfigs() map[string]TransactionConfig {
	return map[string]TransactionConfig{
		// Signal upsert: Create/Refresh/Corroborate verdict write (§4.9).
		"signal_upsert": {
			Timeout: 30 * time.Second,
			Metadata: map[string]any{
				"operation": "signal_upsert",
				"type":      "write",
			},
		},

		// Vector index lookup for dedup candidates (§4.8 layer 4).
		"vector_search": {
			Timeout: 10 * time.Second,
			Metadata: map[string]any{
				"operation": "vector_search",
				"type":      "read",
			},
		},

		// SIMILAR_TO edge creation and community-detection edge reads (§4.12).
		"similarity_write": {
			Timeout: 2 * time.Minute,
			Metadata: map[string]any{
				"operation": "similarity_write",
				"type":      "write",
			},
		},

		// Corroborate: attach a Citation to an existing Signal (§4.9).
		"corroborate": {
			Timeout: 15 * time.Second,
			Metadata: map[string]any{
				"operation": "corroborate",
				"type":      "write",
			},
		},

		// Cause heat / situation temperature recompute (§4.12, §4.13).
		"enrichment_query": {
			Timeout: 60 * time.Second,
			Metadata: map[string]any{
				"operation": "enrichment_query",
				"type":      "read",
			},
		},

		// Read-cache snapshot rebuild projection (§4.16, C15).
		"projection_read": {
			Timeout: 3 * time.Minute,
			Metadata: map[string]any{
				"operation": "projection_read",
				"type":      "read",
			},
		},

		// Batch UNWIND operations (node/edge creation).
		"batch_create": {
			Timeout: 3 * time.Minute,
			Metadata: map[string]any{
				"operation": "batch_create",
				"type":      "write",
			},
		},

		// Constraint and vector index creation at startup.
		"index_creation": {
			Timeout: 5 * time.Minute,
			Metadata: map[string]any{
				"operation": "index_creation",
				"type":      "schema",
			},
		},

		// Health checks.
		"health_check": {
			Timeout: 5 * time.Second,
			Metadata: map[string]any{
				"operation": "health_check",
				"type":      "read",
			},
		},
	}
}

// AsNeo4jConfig converts to Neo4j transaction config functions
// Use with ExecuteQuery or ExecuteRead/ExecuteWrite
func (tc TransactionConfig) AsNeo4jConfig() []func(*neo4j.TransactionConfig) {
	configs := []func(*neo4j.TransactionConfig){}

	// Add timeout if specified
	if tc.Timeout > 0 {
		configs = append(configs, neo4j.WithTxTimeout(tc.Timeout))
	}

	// Add metadata if specified
	if len(tc.Metadata) > 0 {
		configs = append(configs, neo4j.WithTxMetadata(tc.Metadata))
	}

	return configs
}

// AsExecuteQueryOptions converts to ExecuteQuery option functions
// Note: ExecuteQuery API doesn't support per-query timeout/metadata directly
// Use context.WithTimeout() for timeout control instead
// This method is kept for API compatibility but returns empty slice
func (tc TransactionConfig) AsExecuteQueryOptions() []func(*neo4j.ExecuteQueryConfiguration) {
	// ExecuteQuery doesn't support WithTxTimeout or WithTxMetadata options
	// Timeouts should be implemented via context.WithTimeout()
	return []func(*neo4j.ExecuteQueryConfiguration){}
}

// GetConfigForOperation retrieves the appropriate transaction config
// Returns default config if operation not found
func GetConfigForOperation(operation string) TransactionConfig {
	configs := DefaultTransactionConfigs()
	if config, ok := configs[operation]; ok {
		return config
	}

	// Default fallback config
	return TransactionConfig{
		Timeout: 60 * time.Second,
		Metadata: map[string]any{
			"operation": operation,
			"type":      "unknown",
		},
	}
}

// WithCustomMetadata creates a config with custom metadata
// Useful for adding context-specific information
func (tc TransactionConfig) WithCustomMetadata(key string, value any) TransactionConfig {
	// Create a copy of the config
	newConfig := TransactionConfig{
		Timeout:  tc.Timeout,
		Metadata: make(map[string]any),
	}

	// Copy existing metadata
	for k, v := range tc.Metadata {
		newConfig.Metadata[k] = v
	}

	// Add custom metadata
	newConfig.Metadata[key] = value

	return newConfig
}

// WithTimeout creates a config with a custom timeout
// Overrides the default timeout for the operation
func (tc TransactionConfig) WithTimeout(timeout time.Duration) TransactionConfig {
	return TransactionConfig{
		Timeout:  timeout,
		Metadata: tc.Metadata,
	}
}
