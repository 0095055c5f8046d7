package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/variantlab/variantlab/internal/store"
)

// ConversionRecorder marks a visitor's assignment as converted. Recording
// is idempotent per (experiment, visitor): later calls may update the
// value, but aggregation counts distinct converted assignments, so a
// visitor is never counted twice.
type ConversionRecorder struct {
	store store.Store
	log   *zap.Logger
}

func NewConversionRecorder(s store.Store, log *zap.Logger) *ConversionRecorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &ConversionRecorder{store: s, log: log}
}

// Record flips the assignment's converted flag, storing value if provided
// (last write wins). A conversion for a visitor with no prior assignment
// cannot be attributed; it is logged as a warning and dropped rather than
// failing the request.
func (r *ConversionRecorder) Record(ctx context.Context, tenantID, experimentID, visitorID string, value *float64) error {
	found, err := r.store.UpdateAssignmentConversion(ctx, tenantID, experimentID, visitorID, value)
	if err != nil {
		return fmt.Errorf("failed to record conversion: %w", err)
	}

	if !found {
		r.log.Warn("conversion without prior assignment",
			zap.String("tenant_id", tenantID),
			zap.String("experiment_id", experimentID),
			zap.String("visitor_id", visitorID))
	}

	return nil
}
