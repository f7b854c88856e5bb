package runlog

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecorder_IncrAccumulates(t *testing.T) {
	r := New("run-1", "region-1")
	r.Incr("signals_extracted", 3)
	r.Incr("signals_extracted", 2)
	assert.Equal(t, 5, r.Snapshot()["signals_extracted"])
}

func TestRecorder_IncrSourceTracksBothLevels(t *testing.T) {
	r := New("run-1", "region-1")
	r.IncrSource("src-a", "signals_produced", 4)
	r.IncrSource("src-b", "signals_produced", 1)

	assert.Equal(t, 5, r.Snapshot()["signals_produced"])
	assert.Equal(t, 4, r.SourceCounters("src-a")["signals_produced"])
	assert.Equal(t, 1, r.SourceCounters("src-b")["signals_produced"])
}

func TestRecorder_SnapshotIsACopy(t *testing.T) {
	r := New("run-1", "region-1")
	r.Incr("x", 1)
	snap := r.Snapshot()
	snap["x"] = 100
	assert.Equal(t, 1, r.Snapshot()["x"])
}

func TestRecorder_ConcurrentIncrIsSafe(t *testing.T) {
	r := New("run-1", "region-1")
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Incr("concurrent", 1)
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, r.Snapshot()["concurrent"])
}
