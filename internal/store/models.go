package store

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
)

type ExperimentStatus string

const (
	StatusDraft     ExperimentStatus = "draft"
	StatusRunning   ExperimentStatus = "running"
	StatusPaused    ExperimentStatus = "paused"
	StatusCompleted ExperimentStatus = "completed"
	StatusArchived  ExperimentStatus = "archived"
)

// statusRank orders statuses for the forward-only transition rule.
// running and paused share a rank because they may flip back and forth.
var statusRank = map[ExperimentStatus]int{
	StatusDraft:     0,
	StatusRunning:   1,
	StatusPaused:    1,
	StatusCompleted: 2,
	StatusArchived:  3,
}

// CanTransition reports whether an experiment may move from one status to
// another. Transitions are monotonic forward except running <-> paused.
func CanTransition(from, to ExperimentStatus) bool {
	fromRank, ok := statusRank[from]
	if !ok {
		return false
	}
	toRank, ok := statusRank[to]
	if !ok {
		return false
	}
	if from == to {
		return false
	}
	if fromRank == toRank {
		// running <-> paused
		return true
	}
	return toRank > fromRank
}

type ExperimentType string

const (
	TypeVisual  ExperimentType = "visual"
	TypeContent ExperimentType = "content"
	TypeLayout  ExperimentType = "layout"
	TypePricing ExperimentType = "pricing"
	TypeFeature ExperimentType = "feature"
)

type Experiment struct {
	ID                  string
	TenantID            string
	Name                string
	Status              ExperimentStatus
	Type                ExperimentType
	TargetMetric        string
	TrafficAllocation   float64 // 0-100, share of eligible visitors entering at all
	MinSampleSize       int
	ConfidenceThreshold float64 // e.g. 95
	WinnerVariantID     *string
	StartDate           *time.Time
	EndDate             *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
	Variants            []Variant
}

type Variant struct {
	ID                string
	ExperimentID      string
	Name              string
	IsControl         bool
	TrafficPercentage float64
	Config            map[string]any // opaque to the engine, decoded from JSON
	Position          int            // stable assignment order, control first
}

// Assignment binds one (experiment, visitor) pair to one variant for the
// life of the experiment. At most one row exists per pair.
type Assignment struct {
	ID              int64
	TenantID        string
	ExperimentID    string
	VisitorID       string
	VariantID       string
	AssignedAt      time.Time
	Converted       bool
	ConversionValue *float64
	ConvertedAt     *time.Time
}

// Result is a daily rollup per (experiment, variant), produced by the
// external event tracker and consumed by the aggregator.
type Result struct {
	ID            int64
	ExperimentID  string
	VariantID     string
	Date          time.Time // date component only
	Visitors      int
	Conversions   int
	Revenue       float64
	BounceRate    *float64
	AvgTimeOnPage *float64
}

// trafficEpsilon is the tolerance when checking that variant traffic
// percentages sum to 100.
const trafficEpsilon = 0.01

var ErrValidation = errors.New("validation failed")

type CreateVariantParams struct {
	Name              string  `validate:"required"`
	IsControl         bool
	TrafficPercentage float64 `validate:"gte=0,lte=100"`
	Config            map[string]any
}

type CreateExperimentParams struct {
	TenantID            string                `validate:"required"`
	Name                string                `validate:"required"`
	Type                ExperimentType        `validate:"required,oneof=visual content layout pricing feature"`
	TargetMetric        string                `validate:"required"`
	TrafficAllocation   float64               `validate:"gte=0,lte=100"`
	MinSampleSize       int                   `validate:"gte=0"`
	ConfidenceThreshold float64               `validate:"gt=0,lte=100"`
	Variants            []CreateVariantParams `validate:"required,min=2,dive"`
}

var validate = validator.New()

// Validate checks structural constraints plus the two invariants the tag
// syntax cannot express: exactly one control variant, and traffic
// percentages summing to 100 within epsilon.
func (p CreateExperimentParams) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	controls := 0
	sum := 0.0
	for _, v := range p.Variants {
		if v.IsControl {
			controls++
		}
		sum += v.TrafficPercentage
	}

	if controls != 1 {
		return fmt.Errorf("%w: exactly one control variant required, got %d", ErrValidation, controls)
	}
	if math.Abs(sum-100) > trafficEpsilon {
		return fmt.Errorf("%w: variant traffic percentages sum to %.2f, want 100", ErrValidation, sum)
	}

	return nil
}
