package stats

import (
	"context"
	"fmt"
	"math"

	"github.com/variantlab/variantlab/internal/store"
)

// Significance is one calculator entry for a single variant. Confidence
// is a 0-100 percentage; CILower/CIUpper bound the conversion rate (0-1)
// at the experiment's confidence level.
type Significance struct {
	VariantID      string
	ConversionRate float64 // 0-1
	CILower        float64
	CIUpper        float64
	Confidence     float64
	IsSignificant  bool
}

// Calculator computes per-variant confidence and significance for an
// experiment. Implementations must be deterministic for a fixed data
// snapshot and free of side effects; the aggregator treats the output as
// authoritative and never reimplements the statistical test.
type Calculator interface {
	ComputeSignificance(ctx context.Context, tenantID, experimentID string) ([]Significance, error)
}

// ZTestCalculator is the default Calculator: a pooled two-proportion
// z-test of each variant against the control, on lifetime totals from the
// daily rollups. Swap in another implementation for a different test.
type ZTestCalculator struct {
	store store.Store
}

func NewZTestCalculator(s store.Store) *ZTestCalculator {
	return &ZTestCalculator{store: s}
}

func (c *ZTestCalculator) ComputeSignificance(ctx context.Context, tenantID, experimentID string) ([]Significance, error) {
	exp, err := c.store.GetExperiment(ctx, tenantID, experimentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get experiment: %w", err)
	}

	variants, err := c.store.ListVariants(ctx, tenantID, experimentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list variants: %w", err)
	}
	store.SortVariantsStable(variants)

	results, err := c.store.ListResults(ctx, tenantID, experimentID, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}

	type totals struct{ visitors, conversions int }
	byVariant := make(map[string]totals, len(variants))
	for _, r := range results {
		t := byVariant[r.VariantID]
		t.visitors += r.Visitors
		t.conversions += r.Conversions
		byVariant[r.VariantID] = t
	}

	var control totals
	for _, v := range variants {
		if v.IsControl {
			control = byVariant[v.ID]
			break
		}
	}

	out := make([]Significance, 0, len(variants))
	for _, v := range variants {
		t := byVariant[v.ID]

		rate := 0.0
		if t.visitors > 0 {
			rate = float64(t.conversions) / float64(t.visitors)
		}

		sig := Significance{VariantID: v.ID, ConversionRate: rate}
		sig.CILower, sig.CIUpper = WilsonInterval(t.conversions, t.visitors, exp.ConfidenceThreshold/100)
		if !v.IsControl {
			sig.Confidence = ProportionTest(t.conversions, t.visitors, control.conversions, control.visitors) * 100
			sig.IsSignificant = sig.Confidence >= exp.ConfidenceThreshold
		}
		out = append(out, sig)
	}

	return out, nil
}

// ProportionTest performs a pooled two-proportion z-test and returns the
// confidence (0-1) that variant A converts better than variant B.
func ProportionTest(aConv, aViews, bConv, bViews int) float64 {
	if aViews == 0 || bViews == 0 {
		return 0.5 // need data from both sides
	}

	pA := float64(aConv) / float64(aViews)
	pB := float64(bConv) / float64(bViews)

	// Pooled proportion under the null hypothesis pA = pB
	pooled := float64(aConv+bConv) / float64(aViews+bViews)
	se := math.Sqrt(pooled * (1 - pooled) * (1/float64(aViews) + 1/float64(bViews)))

	if se == 0 {
		switch {
		case pA > pB:
			return 1.0
		case pA < pB:
			return 0.0
		default:
			return 0.5
		}
	}

	z := (pA - pB) / se
	return normalCDF(z)
}

// normalCDF approximates the standard normal CDF using Abramowitz and
// Stegun formula 7.1.26.
func normalCDF(x float64) float64 {
	a1 := 0.254829592
	a2 := -0.284496736
	a3 := 1.421413741
	a4 := -1.453152027
	a5 := 1.061405429
	p := 0.3275911

	sign := 1.0
	if x < 0 {
		sign = -1.0
	}
	x = math.Abs(x) / math.Sqrt(2)

	t := 1.0 / (1.0 + p*x)
	y := 1.0 - (((((a5*t+a4)*t)+a3)*t+a2)*t+a1)*t*math.Exp(-x*x)

	return 0.5 * (1.0 + sign*y)
}
