package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/variantlab/variantlab/internal/store"
)

// AssignmentEngine hands out variants on the traffic-serving path. It is
// stateless; every call is a function of the store's contents plus the
// injected bucketer.
type AssignmentEngine struct {
	store  store.Store
	bucket Bucketer
	log    *zap.Logger
}

func NewAssignmentEngine(s store.Store, b Bucketer, log *zap.Logger) *AssignmentEngine {
	if b == nil {
		b = HashBucketer{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &AssignmentEngine{store: s, bucket: b, log: log}
}

// Assign returns the visitor's variant for the experiment, creating the
// assignment on first exposure. The result is stable: once a visitor has
// been assigned, every later call returns the same variant.
func (e *AssignmentEngine) Assign(ctx context.Context, tenantID, experimentID, visitorID string) (*store.Variant, error) {
	variants, err := e.store.ListVariants(ctx, tenantID, experimentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list variants: %w", err)
	}
	if len(variants) == 0 {
		// A running experiment without variants is a configuration error.
		return nil, fmt.Errorf("experiment %s: %w", experimentID, store.ErrNotFound)
	}
	store.SortVariantsStable(variants)

	if existing, err := e.store.GetAssignment(ctx, tenantID, experimentID, visitorID); err == nil {
		return variantByID(variants, existing.VariantID)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}

	chosen := pickVariant(variants, e.bucket.Bucket(experimentID, visitorID))

	assignment, inserted, err := e.store.InsertAssignmentIfAbsent(ctx, tenantID, experimentID, visitorID, chosen.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to persist assignment: %w", err)
	}

	if !inserted && assignment.VariantID != chosen.ID {
		// Lost a race with a concurrent first exposure; the stored row wins.
		e.log.Debug("assignment race resolved",
			zap.String("experiment_id", experimentID),
			zap.String("visitor_id", visitorID),
			zap.String("variant_id", assignment.VariantID))
		return variantByID(variants, assignment.VariantID)
	}

	return chosen, nil
}

// pickVariant walks the variants in stable order accumulating traffic
// percentages and returns the first whose cumulative weight covers r.
// Rounding can leave the cumulative sum fractionally under 100, so the
// last variant is the fallback; the draw never fails.
func pickVariant(variants []store.Variant, r float64) *store.Variant {
	cumulative := 0.0
	for i := range variants {
		cumulative += variants[i].TrafficPercentage
		if cumulative >= r {
			return &variants[i]
		}
	}
	return &variants[len(variants)-1]
}

func variantByID(variants []store.Variant, id string) (*store.Variant, error) {
	for i := range variants {
		if variants[i].ID == id {
			return &variants[i], nil
		}
	}
	return nil, fmt.Errorf("variant %s: %w", id, store.ErrNotFound)
}
