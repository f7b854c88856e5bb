package graph

// BatchConfig defines optimal batch sizes for different node types.
//
// These batch sizes follow Neo4j UNWIND best practice:
// - Small batches (100-200): complex nodes with many properties
// - Medium batches (500-1000): simple nodes with few properties
// - Large batches (1000-5000): edges with minimal properties
type BatchConfig struct {
	SignalBatchSize    int // Optimal: 500-1000
	ActorBatchSize     int // Optimal: 200-500
	StoryBatchSize     int // Optimal: 100-200
	SituationBatchSize int // Optimal: 50-100
	CitationBatchSize  int // Optimal: 500-1000
	EdgeBatchSize      int // Optimal: 1000-5000
}

// DefaultBatchConfig returns batch sizes sized for a single region's
// per-run signal volume.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		SignalBatchSize:    1000,
		ActorBatchSize:     500,
		StoryBatchSize:     200,
		SituationBatchSize: 100,
		CitationBatchSize:  1000,
		EdgeBatchSize:      5000,
	}
}

// SmallRunBatchConfig is for sparse regions producing few signals per run.
func SmallRunBatchConfig() BatchConfig {
	return BatchConfig{
		SignalBatchSize:    200,
		ActorBatchSize:     100,
		StoryBatchSize:     50,
		SituationBatchSize: 50,
		CitationBatchSize:  200,
		EdgeBatchSize:      1000,
	}
}

// LargeRunBatchConfig is for dense regions or multi-region backfills.
func LargeRunBatchConfig() BatchConfig {
	return BatchConfig{
		SignalBatchSize:    2000,
		ActorBatchSize:     1000,
		StoryBatchSize:     500,
		SituationBatchSize: 200,
		CitationBatchSize:  2000,
		EdgeBatchSize:      10000,
	}
}

// GetBatchSizeForLabel returns the appropriate batch size for a given
// node label.
func (bc BatchConfig) GetBatchSizeForLabel(label string) int {
	switch label {
	case "Signal":
		return bc.SignalBatchSize
	case "Actor":
		return bc.ActorBatchSize
	case "Story":
		return bc.StoryBatchSize
	case "Situation":
		return bc.SituationBatchSize
	case "Citation":
		return bc.CitationBatchSize
	default:
		return 500
	}
}
