// Package budget tracks the remaining per-run LLM/search/embedding
// spend in cents and gates operations against it (§4.4, C5). The
// counter is mutex-protected rather than a bare atomic.Int64 since
// has_budget and charge together form a check-then-act sequence that
// must not race — the same "protect the compound operation, not just
// the read" call the teacher makes for its own budget-adjacent state
// in internal/config.
package budget

import "sync"

// Cost is the per-operation cost table, in cents, charged against the
// tracker after a successful call to the corresponding external
// provider.
type Cost struct {
	LLMExtraction   int64
	LLMInvestigate  int64
	LLMBootstrap    int64
	Embedding       int64
	SearchQuery     int64
	BrowserFetch    int64
}

// DefaultCosts is a conservative per-operation cost table for the
// providers this pipeline calls (Anthropic Haiku completions, Voyage
// embeddings, a search API, and a remote headless-browser fetch).
var DefaultCosts = Cost{
	LLMExtraction:  2,
	LLMInvestigate: 1,
	LLMBootstrap:   3,
	Embedding:      1,
	SearchQuery:    1,
	BrowserFetch:   1,
}

// Tracker is a run-scoped budget counter. A zero-value dailyBudget
// means unlimited (§4.4): IsActive returns false, HasBudget always
// returns true, and Charge always succeeds without decrementing.
type Tracker struct {
	mu        sync.Mutex
	remaining int64
	unlimited bool
	spent     int64
}

// NewTracker builds a Tracker from a daily budget in cents. A budget
// of 0 means unlimited.
func NewTracker(dailyBudgetCents int64) *Tracker {
	if dailyBudgetCents <= 0 {
		return &Tracker{unlimited: true}
	}
	return &Tracker{remaining: dailyBudgetCents}
}

// IsActive reports whether the budget is enforced at all.
func (t *Tracker) IsActive() bool {
	return !t.unlimited
}

// HasBudget is a read: it reports whether cost cents are currently
// available without reserving them.
func (t *Tracker) HasBudget(cost int64) bool {
	if t.unlimited {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining >= cost
}

// Charge decrements the counter by cost and returns true on success.
// Callers must only call Charge after the operation it pays for has
// already succeeded (§4.4 ordering guarantee: failed operations never
// charge). Charge is safe for concurrent use.
func (t *Tracker) Charge(cost int64) bool {
	if t.unlimited {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.remaining < cost {
		return false
	}
	t.remaining -= cost
	t.spent += cost
	return true
}

// Remaining returns the current remaining cents. Meaningless (always
// 0) when the tracker is unlimited.
func (t *Tracker) Remaining() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining
}

// Spent returns the total cents charged so far this run.
func (t *Tracker) Spent() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.spent
}
