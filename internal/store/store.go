package store

import (
	"context"
	"time"
)

// Store defines the interface for experiment storage operations. Every
// operation is scoped to a tenant; an experiment id from another tenant
// behaves as if it does not exist.
type Store interface {
	// Experiment operations
	CreateExperiment(ctx context.Context, params CreateExperimentParams) (*Experiment, error)
	GetExperiment(ctx context.Context, tenantID, experimentID string) (*Experiment, error)
	ListExperiments(ctx context.Context, tenantID string) ([]*Experiment, error)
	UpdateExperimentStatus(ctx context.Context, tenantID, experimentID string, status ExperimentStatus, winnerVariantID *string) error

	// Variant operations
	ListVariants(ctx context.Context, tenantID, experimentID string) ([]Variant, error)

	// Assignment operations
	GetAssignment(ctx context.Context, tenantID, experimentID, visitorID string) (*Assignment, error)
	// InsertAssignmentIfAbsent atomically creates the assignment unless one
	// already exists for the (experiment, visitor) pair, in which case the
	// existing row is returned unchanged. The bool reports whether a new
	// row was inserted.
	InsertAssignmentIfAbsent(ctx context.Context, tenantID, experimentID, visitorID, variantID string) (*Assignment, bool, error)
	// UpdateAssignmentConversion flips the assignment's converted flag and
	// stores the value if provided (last write wins). The bool reports
	// whether an assignment existed.
	UpdateAssignmentConversion(ctx context.Context, tenantID, experimentID, visitorID string, value *float64) (bool, error)

	// Result rollups
	UpsertResult(ctx context.Context, tenantID string, result Result) error
	ListResults(ctx context.Context, tenantID, experimentID string, from, to *time.Time) ([]Result, error)

	// Lifecycle
	Close() error
}
