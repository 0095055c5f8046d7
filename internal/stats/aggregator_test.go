package stats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/variantlab/variantlab/internal/store"
)

func TestComputeStats_SumsRollups(t *testing.T) {
	s := openTestStore(t)
	exp := seedExperiment(t, s, []string{"Control", "B"}, []int{100, 100}, []int{10, 20})
	ctx := context.Background()

	// add a second day per variant
	day2 := time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC)
	for i, v := range exp.Variants {
		require.NoError(t, s.UpsertResult(ctx, "t1", store.Result{
			ExperimentID: exp.ID,
			VariantID:    v.ID,
			Date:         day2,
			Visitors:     100,
			Conversions:  10 * (i + 1),
			Revenue:      50,
		}))
	}

	agg := NewAggregator(s, &stubCalculator{})
	stats, err := agg.ComputeStats(ctx, "t1", exp.ID)
	require.NoError(t, err)
	require.Len(t, stats, 2)

	control := stats[0]
	assert.True(t, control.IsControl)
	assert.Equal(t, 200, control.Visitors)
	assert.Equal(t, 20, control.Conversions)
	assert.Equal(t, 50.0, control.Revenue)
	assert.InDelta(t, 0.10, control.ConversionRate, 0.001)
	assert.Nil(t, control.Improvement, "control has no improvement")

	challenger := stats[1]
	assert.Equal(t, 200, challenger.Visitors)
	assert.Equal(t, 40, challenger.Conversions)
	require.NotNil(t, challenger.Improvement)
	assert.InDelta(t, 100.0, *challenger.Improvement, 0.001)
}

func TestComputeStats_ImprovementFiftyPercent(t *testing.T) {
	s := openTestStore(t)
	exp := seedExperiment(t, s, []string{"Control", "A"}, []int{500, 500}, []int{20, 30})

	agg := NewAggregator(s, &stubCalculator{})
	stats, err := agg.ComputeStats(context.Background(), "t1", exp.ID)
	require.NoError(t, err)

	require.NotNil(t, stats[1].Improvement)
	assert.InDelta(t, 50.0, *stats[1].Improvement, 0.001)
}

func TestComputeStats_ZeroControlRateLeavesImprovementUnset(t *testing.T) {
	s := openTestStore(t)
	exp := seedExperiment(t, s, []string{"Control", "B"}, []int{100, 100}, []int{0, 20})

	agg := NewAggregator(s, &stubCalculator{})
	stats, err := agg.ComputeStats(context.Background(), "t1", exp.ID)
	require.NoError(t, err)

	assert.Nil(t, stats[0].Improvement)
	assert.Nil(t, stats[1].Improvement, "division by zero must leave improvement unset")
}

func TestComputeStats_CalculatorVerdictApplied(t *testing.T) {
	s := openTestStore(t)
	exp := seedExperiment(t, s, []string{"Control", "B"}, []int{500, 500}, []int{20, 30})

	calc := &stubCalculator{entries: []Significance{
		{VariantID: exp.Variants[1].ID, ConversionRate: 0.06, CILower: 0.045, CIUpper: 0.078, Confidence: 96, IsSignificant: true},
	}}

	agg := NewAggregator(s, calc)
	stats, err := agg.ComputeStats(context.Background(), "t1", exp.ID)
	require.NoError(t, err)

	assert.Equal(t, 96.0, stats[1].Confidence)
	assert.True(t, stats[1].IsSignificant)
	assert.Equal(t, 0.045, stats[1].CILower)
	assert.Equal(t, 0.078, stats[1].CIUpper)
}

func TestComputeStats_UnknownExperiment(t *testing.T) {
	s := openTestStore(t)

	agg := NewAggregator(s, &stubCalculator{})
	_, err := agg.ComputeStats(context.Background(), "t1", "nope")
	require.ErrorIs(t, err, store.ErrNotFound)
}
