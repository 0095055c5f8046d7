package stats

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProportionTest_ClearWinner(t *testing.T) {
	// 10% vs 5% at 1000 views each: very confident A beats B
	confidence := ProportionTest(100, 1000, 50, 1000)
	assert.Greater(t, confidence, 0.95)
}

func TestProportionTest_EqualRates(t *testing.T) {
	confidence := ProportionTest(50, 1000, 50, 1000)
	assert.LessOrEqual(t, confidence, 0.60)
}

func TestProportionTest_SmallSample(t *testing.T) {
	// different rates, tiny sample: no significance
	confidence := ProportionTest(5, 20, 2, 20)
	assert.Less(t, confidence, 0.95)
}

func TestProportionTest_NoData(t *testing.T) {
	assert.Equal(t, 0.5, ProportionTest(0, 0, 0, 0))
	assert.Equal(t, 0.5, ProportionTest(10, 100, 0, 0))
}

func TestZTestCalculator_Deterministic(t *testing.T) {
	s := openTestStore(t)
	exp := seedExperiment(t, s, []string{"Control", "B"}, []int{1000, 1000}, []int{50, 100})

	calc := NewZTestCalculator(s)

	first, err := calc.ComputeSignificance(context.Background(), "t1", exp.ID)
	require.NoError(t, err)
	second, err := calc.ComputeSignificance(context.Background(), "t1", exp.ID)
	require.NoError(t, err)

	assert.Equal(t, first, second, "same snapshot, same output")
}

func TestZTestCalculator_WinnerDetected(t *testing.T) {
	s := openTestStore(t)
	exp := seedExperiment(t, s, []string{"Control", "B"}, []int{1000, 1000}, []int{50, 100})

	calc := NewZTestCalculator(s)
	sig, err := calc.ComputeSignificance(context.Background(), "t1", exp.ID)
	require.NoError(t, err)
	require.Len(t, sig, 2)

	control, challenger := sig[0], sig[1]
	assert.Equal(t, exp.Variants[0].ID, control.VariantID)
	assert.InDelta(t, 0.05, control.ConversionRate, 0.001)
	assert.False(t, control.IsSignificant, "control carries no verdict")

	assert.InDelta(t, 0.10, challenger.ConversionRate, 0.001)
	assert.Greater(t, challenger.Confidence, 95.0)
	assert.True(t, challenger.IsSignificant)
}

func TestZTestCalculator_ConfidenceIntervals(t *testing.T) {
	s := openTestStore(t)
	exp := seedExperiment(t, s, []string{"Control", "B"}, []int{1000, 1000}, []int{50, 100})

	calc := NewZTestCalculator(s)
	sig, err := calc.ComputeSignificance(context.Background(), "t1", exp.ID)
	require.NoError(t, err)
	require.Len(t, sig, 2)

	control, challenger := sig[0], sig[1]
	assert.Less(t, control.CILower, control.ConversionRate)
	assert.Greater(t, control.CIUpper, control.ConversionRate)
	assert.Less(t, challenger.CILower, challenger.ConversionRate)
	assert.Greater(t, challenger.CIUpper, challenger.ConversionRate)

	// 5% vs 10% at 1000 views each: the intervals should not overlap
	assert.Less(t, control.CIUpper, challenger.CILower)
}

func TestZTestCalculator_NoResults(t *testing.T) {
	s := openTestStore(t)
	exp := seedExperiment(t, s, []string{"Control", "B"}, []int{0, 0}, []int{0, 0})

	calc := NewZTestCalculator(s)
	sig, err := calc.ComputeSignificance(context.Background(), "t1", exp.ID)
	require.NoError(t, err)
	require.Len(t, sig, 2)

	assert.Equal(t, 50.0, sig[1].Confidence, "no data means coin-flip confidence")
	assert.False(t, sig[1].IsSignificant)
}
