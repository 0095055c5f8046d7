package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validParams() CreateExperimentParams {
	return CreateExperimentParams{
		TenantID:            "t1",
		Name:                "hero",
		Type:                TypeContent,
		TargetMetric:        "signup",
		TrafficAllocation:   100,
		MinSampleSize:       1000,
		ConfidenceThreshold: 95,
		Variants: []CreateVariantParams{
			{Name: "Control", IsControl: true, TrafficPercentage: 50},
			{Name: "Challenger", TrafficPercentage: 50},
		},
	}
}

func TestValidate_OK(t *testing.T) {
	require.NoError(t, validParams().Validate())
}

func TestValidate_TrafficSum(t *testing.T) {
	tests := []struct {
		name    string
		weights [2]float64
		wantErr bool
	}{
		{"exactly 100", [2]float64{50, 50}, false},
		{"uneven but 100", [2]float64{70, 30}, false},
		{"sums to 99", [2]float64{50, 49}, true},
		{"sums to 101", [2]float64{50, 51}, true},
		{"within epsilon", [2]float64{33.335, 66.665}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validParams()
			p.Variants[0].TrafficPercentage = tt.weights[0]
			p.Variants[1].TrafficPercentage = tt.weights[1]

			err := p.Validate()
			if tt.wantErr {
				require.ErrorIs(t, err, ErrValidation)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestValidate_ControlCount(t *testing.T) {
	p := validParams()
	p.Variants[0].IsControl = false
	require.ErrorIs(t, p.Validate(), ErrValidation, "no control")

	p = validParams()
	p.Variants[1].IsControl = true
	require.ErrorIs(t, p.Validate(), ErrValidation, "two controls")
}

func TestValidate_StructuralFields(t *testing.T) {
	p := validParams()
	p.Name = ""
	require.ErrorIs(t, p.Validate(), ErrValidation)

	p = validParams()
	p.Type = "banner"
	require.ErrorIs(t, p.Validate(), ErrValidation)

	p = validParams()
	p.Variants = p.Variants[:1]
	require.ErrorIs(t, p.Validate(), ErrValidation)
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to ExperimentStatus
		want     bool
	}{
		{StatusDraft, StatusRunning, true},
		{StatusRunning, StatusPaused, true},
		{StatusPaused, StatusRunning, true},
		{StatusRunning, StatusCompleted, true},
		{StatusPaused, StatusCompleted, true},
		{StatusCompleted, StatusArchived, true},
		{StatusDraft, StatusArchived, true},
		{StatusCompleted, StatusRunning, false},
		{StatusArchived, StatusRunning, false},
		{StatusRunning, StatusDraft, false},
		{StatusRunning, StatusRunning, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}
