package stats

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/variantlab/variantlab/internal/store"
)

// stubCalculator returns canned significance entries, standing in for the
// external calculator.
type stubCalculator struct {
	entries []Significance
}

func (c *stubCalculator) ComputeSignificance(_ context.Context, _, _ string) ([]Significance, error) {
	return c.entries, nil
}

func openTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

// seedExperiment creates an experiment with the given variant names
// (first one control, even split) and per-variant rollup totals.
func seedExperiment(t *testing.T, s *store.SQLiteStore, names []string, visitors, conversions []int) *store.Experiment {
	t.Helper()
	ctx := context.Background()

	params := store.CreateExperimentParams{
		TenantID:            "t1",
		Name:                "hero",
		Type:                store.TypeContent,
		TargetMetric:        "signup",
		TrafficAllocation:   100,
		MinSampleSize:       1000,
		ConfidenceThreshold: 95,
	}
	for i, n := range names {
		params.Variants = append(params.Variants, store.CreateVariantParams{
			Name:              n,
			IsControl:         i == 0,
			TrafficPercentage: 100.0 / float64(len(names)),
		})
	}

	exp, err := s.CreateExperiment(ctx, params)
	require.NoError(t, err)

	day := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i, v := range exp.Variants {
		require.NoError(t, s.UpsertResult(ctx, "t1", store.Result{
			ExperimentID: exp.ID,
			VariantID:    v.ID,
			Date:         day,
			Visitors:     visitors[i],
			Conversions:  conversions[i],
		}))
	}

	return exp
}
