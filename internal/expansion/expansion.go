// Package expansion turns an accepted extraction's implied_queries into
// new WebQuery Sources (§4.15, C14), closing the loop the pipeline
// orchestrator needs between "extraction found a lead" and "scheduler
// now has a Source to follow it". Grounded on internal/source's
// canonical-key upsert: a Source is looked up by canonical_key first,
// and the call either boosts an existing Source's weight or creates a
// new one — never both.
package expansion

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fourthplaces/rootsignal-sub002/internal/canon"
	"github.com/fourthplaces/rootsignal-sub002/internal/database"
	"github.com/fourthplaces/rootsignal-sub002/internal/models"
)

// weightBoost is added to an existing Source's weight when a query
// implies it again; Expand caps the stored weight at 1.0.
const weightBoost = 0.05

// Expander converts implied queries into Sources.
type Expander struct {
	db database.Store
}

func New(db database.Store) *Expander {
	return &Expander{db: db}
}

// Expand upserts one WebQuery Source per implied query, deduplicating
// by canonical_key (§4.15). discoveryMethod should be
// models.DiscoveryTensionSeed for queries surfaced during normal
// extraction, or models.DiscoveryInvestigation when the investigation
// loop is what surfaced them.
func (e *Expander) Expand(ctx context.Context, queries []string, discoveryMethod models.DiscoveryMethod, role models.SourceRole) (int, error) {
	created := 0
	for _, q := range queries {
		key := canon.CanonicalValue(q)
		if key == "" {
			continue
		}

		existing, err := e.db.FindSourceByCanonicalKey(ctx, key, key)
		if err != nil {
			return created, fmt.Errorf("lookup source %q: %w", key, err)
		}

		if existing != nil {
			existing.Weight = minF(existing.Weight+weightBoost, 1.0)
			if err := e.db.UpsertSource(ctx, existing); err != nil {
				return created, fmt.Errorf("boost source %q: %w", key, err)
			}
			continue
		}

		src := &models.Source{
			ID:              uuid.NewString(),
			CanonicalKey:    key,
			CanonicalValue:  key,
			DiscoveryMethod: discoveryMethod,
			Role:            role,
			Weight:          0.5,
			QualityPenalty:  1.0,
			Active:          true,
			CreatedAt:       time.Now().UTC(),
		}
		if err := e.db.UpsertSource(ctx, src); err != nil {
			return created, fmt.Errorf("create source %q: %w", key, err)
		}
		created++
	}
	return created, nil
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
