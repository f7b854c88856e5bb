package budget

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTracker_ZeroBudgetIsUnlimited(t *testing.T) {
	tr := NewTracker(0)
	assert.False(t, tr.IsActive())
	assert.True(t, tr.HasBudget(1_000_000))
	assert.True(t, tr.Charge(1_000_000))
}

func TestTracker_HasBudgetAndCharge(t *testing.T) {
	tr := NewTracker(10)
	assert.True(t, tr.IsActive())
	assert.True(t, tr.HasBudget(5))
	assert.True(t, tr.Charge(5))
	assert.Equal(t, int64(5), tr.Remaining())
	assert.Equal(t, int64(5), tr.Spent())

	assert.False(t, tr.HasBudget(6))
	assert.False(t, tr.Charge(6), "charge must fail rather than go negative")
	assert.Equal(t, int64(5), tr.Remaining())
}

func TestTracker_ChargeOnlyAfterSuccess(t *testing.T) {
	tr := NewTracker(10)
	simulateOperation := func(succeeds bool, cost int64) bool {
		if !succeeds {
			return false
		}
		return tr.Charge(cost)
	}
	assert.False(t, simulateOperation(false, 5))
	assert.Equal(t, int64(10), tr.Remaining(), "failed operation must not charge")

	assert.True(t, simulateOperation(true, 5))
	assert.Equal(t, int64(5), tr.Remaining())
}

func TestTracker_ConcurrentCharge(t *testing.T) {
	tr := NewTracker(100)
	var wg sync.WaitGroup
	successes := make(chan bool, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			successes <- tr.Charge(1)
		}()
	}
	wg.Wait()
	close(successes)

	count := 0
	for ok := range successes {
		if ok {
			count++
		}
	}
	assert.Equal(t, 100, count)
	assert.Equal(t, int64(0), tr.Remaining())
}
