package stats

import (
	"context"
	"fmt"

	"github.com/variantlab/variantlab/internal/store"
)

// VariantStat is the derived per-variant view: lifetime totals summed
// from the daily rollups plus the calculator's verdict. Improvement is
// relative to the control's conversion rate and is nil for the control
// itself, and for every variant when the control rate is zero.
type VariantStat struct {
	VariantID      string   `json:"variant_id"`
	VariantName    string   `json:"variant_name"`
	IsControl      bool     `json:"is_control"`
	Visitors       int      `json:"visitors"`
	Conversions    int      `json:"conversions"`
	Revenue        float64  `json:"revenue"`
	ConversionRate float64  `json:"conversion_rate"`
	CILower        float64  `json:"ci_lower"`
	CIUpper        float64  `json:"ci_upper"`
	Confidence     float64  `json:"confidence"`
	IsSignificant  bool     `json:"is_significant"`
	Improvement    *float64 `json:"improvement,omitempty"`
}

// Aggregator combines rollups into lifetime per-variant stats. The
// significance calculator is injected and its output taken as
// authoritative.
type Aggregator struct {
	store store.Store
	calc  Calculator
}

func NewAggregator(s store.Store, calc Calculator) *Aggregator {
	return &Aggregator{store: s, calc: calc}
}

// ComputeStats returns one entry per variant, control included, in
// stable variant order.
func (a *Aggregator) ComputeStats(ctx context.Context, tenantID, experimentID string) ([]VariantStat, error) {
	variants, err := a.store.ListVariants(ctx, tenantID, experimentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list variants: %w", err)
	}
	if len(variants) == 0 {
		return nil, fmt.Errorf("experiment %s: %w", experimentID, store.ErrNotFound)
	}
	store.SortVariantsStable(variants)

	results, err := a.store.ListResults(ctx, tenantID, experimentID, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}

	stats := make([]VariantStat, len(variants))
	index := make(map[string]int, len(variants))
	for i, v := range variants {
		stats[i] = VariantStat{
			VariantID:   v.ID,
			VariantName: v.Name,
			IsControl:   v.IsControl,
		}
		index[v.ID] = i
	}

	for _, r := range results {
		i, ok := index[r.VariantID]
		if !ok {
			continue
		}
		stats[i].Visitors += r.Visitors
		stats[i].Conversions += r.Conversions
		stats[i].Revenue += r.Revenue
	}

	for i := range stats {
		if stats[i].Visitors > 0 {
			stats[i].ConversionRate = float64(stats[i].Conversions) / float64(stats[i].Visitors)
		}
	}

	significance, err := a.calc.ComputeSignificance(ctx, tenantID, experimentID)
	if err != nil {
		return nil, fmt.Errorf("significance calculator: %w", err)
	}
	for _, sig := range significance {
		i, ok := index[sig.VariantID]
		if !ok {
			continue
		}
		stats[i].CILower = sig.CILower
		stats[i].CIUpper = sig.CIUpper
		stats[i].Confidence = sig.Confidence
		stats[i].IsSignificant = sig.IsSignificant
	}

	controlRate := 0.0
	for i := range stats {
		if stats[i].IsControl {
			controlRate = stats[i].ConversionRate
			break
		}
	}

	// Improvement is undefined when the control never converted; leaving
	// it nil avoids Inf/NaN leaking into the analysis path.
	if controlRate > 0 {
		for i := range stats {
			if stats[i].IsControl {
				continue
			}
			imp := (stats[i].ConversionRate - controlRate) / controlRate * 100
			stats[i].Improvement = &imp
		}
	}

	return stats, nil
}
