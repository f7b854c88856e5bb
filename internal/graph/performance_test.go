package graph

import (
	"context"
	"testing"
	"time"
)

// TestPerformanceBaselines verifies critical queries meet performance
// targets. Requires a populated Neo4j instance, so it is skipped outside
// integration runs.
func TestPerformanceBaselines(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping performance test in short mode")
	}
	t.Skip("requires Neo4j test database")

	ctx := context.Background()
	profiler := NewPerformanceProfiler()

	t.Run("vector_search", func(t *testing.T) {
		maxDuration := 150 * time.Millisecond
		_ = ctx
		_ = profiler
		_ = maxDuration
	})
}

// BenchmarkVectorSearch benchmarks the dedup vector-index lookup (§4.8
// layer 4).
func BenchmarkVectorSearch(b *testing.B) {
	b.Skip("requires Neo4j test database")

	ctx := context.Background()
	_ = ctx

	for i := 0; i < b.N; i++ {
	}
}

// BenchmarkBatchCreate benchmarks batch Signal node creation.
func BenchmarkBatchCreate(b *testing.B) {
	b.Skip("requires Neo4j test database")

	ctx := context.Background()
	_ = ctx

	nodes := make([]GraphNode, 100)
	for i := 0; i < 100; i++ {
		nodes[i] = GraphNode{
			Label: "Signal",
			Properties: map[string]any{
				"id":   "test-signal",
				"kind": "tension",
			},
		}
	}
	_ = nodes

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
	}
}

// TestRegressionDetection tests the regression detector.
func TestRegressionDetection(t *testing.T) {
	detector := NewRegressionDetector()

	profile1 := PerformanceProfile{
		Operation:    "vector_search",
		Duration:     100 * time.Millisecond,
		RecordsCount: 50,
	}
	isRegression, _ := detector.Check(profile1)
	if isRegression {
		t.Error("Expected no regression for profile within baseline")
	}

	profile2 := PerformanceProfile{
		Operation:    "vector_search",
		Duration:     200 * time.Millisecond, // exceeds 150ms baseline
		RecordsCount: 50,
	}
	isRegression, message := detector.Check(profile2)
	if !isRegression {
		t.Error("Expected regression for profile exceeding duration baseline")
	}
	if message == "" {
		t.Error("Expected regression message")
	}

	profile3 := PerformanceProfile{
		Operation:    "unknown_operation",
		Duration:     5 * time.Second,
		RecordsCount: 10000,
	}
	isRegression, _ = detector.Check(profile3)
	if isRegression {
		t.Error("Expected no regression for unknown operation (no baseline)")
	}
}

// TestPerformanceProfiler tests the profiler functionality.
func TestPerformanceProfiler(t *testing.T) {
	profiler := NewPerformanceProfiler()

	_, err := profiler.Profile(context.Background(), "test_op", "SELECT 1", func() (any, error) {
		time.Sleep(10 * time.Millisecond)
		return 42, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	profiles := profiler.GetProfiles()
	if len(profiles) != 1 {
		t.Errorf("Expected 1 profile, got %d", len(profiles))
	}

	stats := profiler.GetStats("test_op")
	if stats == nil {
		t.Fatal("Expected stats for test_op")
	}
	if stats.SampleCount != 1 {
		t.Errorf("Expected 1 sample, got %d", stats.SampleCount)
	}
	if stats.AvgDuration < 10*time.Millisecond {
		t.Errorf("Expected duration >= 10ms, got %v", stats.AvgDuration)
	}
}

// TestPerformanceStats tests stats calculation.
func TestPerformanceStats(t *testing.T) {
	profiler := NewPerformanceProfiler()

	for i := 0; i < 5; i++ {
		duration := time.Duration(i+1) * 10 * time.Millisecond
		profiler.profiles = append(profiler.profiles, PerformanceProfile{
			Operation:    "test_op",
			Duration:     duration,
			RecordsCount: i * 10,
		})
	}

	stats := profiler.GetStats("test_op")
	if stats.SampleCount != 5 {
		t.Errorf("Expected 5 samples, got %d", stats.SampleCount)
	}
	if stats.MinDuration != 10*time.Millisecond {
		t.Errorf("Expected min duration 10ms, got %v", stats.MinDuration)
	}
	if stats.MaxDuration != 50*time.Millisecond {
		t.Errorf("Expected max duration 50ms, got %v", stats.MaxDuration)
	}

	expectedAvg := 30 * time.Millisecond
	if stats.AvgDuration != expectedAvg {
		t.Errorf("Expected avg duration %v, got %v", expectedAvg, stats.AvgDuration)
	}
}
