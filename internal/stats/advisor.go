package stats

import (
	"context"
	"fmt"

	"github.com/variantlab/variantlab/internal/store"
)

// Action is the advisor's recommendation. It is recomputed on every call
// and never persisted.
type Action string

const (
	ActionContinue         Action = "continue"
	ActionStopWinner       Action = "stop_winner"
	ActionStopInconclusive Action = "stop_inconclusive"
	// ActionExtend is reachable only through an explicit operator
	// override (the extend command); the decision logic never selects it.
	ActionExtend Action = "extend"
)

// insightThreshold is the absolute improvement (percent) above which a
// variant's trend is worth calling out.
const insightThreshold = 10.0

// Advice is the analysis-path output consumed by the admin surface.
type Advice struct {
	ExperimentID      string        `json:"experiment_id"`
	WinnerVariantID   *string       `json:"winner_variant_id,omitempty"`
	WinnerName        string        `json:"winner_name,omitempty"`
	Confidence        float64       `json:"confidence"`
	SampleSizeMet     bool          `json:"sample_size_met"`
	RecommendedAction Action        `json:"recommended_action"`
	Insights          []string      `json:"insights"`
	Variants          []VariantStat `json:"variants"`
}

// Advisor derives a recommendation from the aggregated stats and the
// experiment's configured thresholds.
type Advisor struct {
	store store.Store
	agg   *Aggregator
}

func NewAdvisor(s store.Store, agg *Aggregator) *Advisor {
	return &Advisor{store: s, agg: agg}
}

func (a *Advisor) Analyze(ctx context.Context, tenantID, experimentID string) (*Advice, error) {
	exp, err := a.store.GetExperiment(ctx, tenantID, experimentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get experiment: %w", err)
	}

	stats, err := a.agg.ComputeStats(ctx, tenantID, experimentID)
	if err != nil {
		return nil, err
	}

	totalVisitors := 0
	for _, s := range stats {
		totalVisitors += s.Visitors
	}
	sampleSizeMet := totalVisitors >= exp.MinSampleSize

	// A winner is a non-control variant that is significant, improving,
	// and at or above the experiment's confidence threshold. Ties break
	// on highest improvement. The minimum sample size gates the winner:
	// significance reached early keeps the experiment running.
	var winner *VariantStat
	maxConfidence := 0.0
	for i := range stats {
		s := &stats[i]
		if s.IsControl {
			continue
		}
		if s.Confidence > maxConfidence {
			maxConfidence = s.Confidence
		}
		if !sampleSizeMet || !s.IsSignificant || s.Improvement == nil || *s.Improvement <= 0 || s.Confidence < exp.ConfidenceThreshold {
			continue
		}
		if winner == nil || *s.Improvement > *winner.Improvement {
			winner = s
		}
	}

	advice := &Advice{
		ExperimentID:      exp.ID,
		Confidence:        maxConfidence,
		SampleSizeMet:     sampleSizeMet,
		RecommendedAction: ActionContinue,
		Insights:          []string{},
		Variants:          stats,
	}

	switch {
	case winner != nil:
		advice.RecommendedAction = ActionStopWinner
		advice.WinnerVariantID = &winner.VariantID
		advice.WinnerName = winner.VariantName
		advice.Confidence = winner.Confidence
	case sampleSizeMet && maxConfidence < exp.ConfidenceThreshold:
		advice.RecommendedAction = ActionStopInconclusive
	}

	advice.Insights = buildInsights(exp, stats, winner, totalVisitors)

	return advice, nil
}

func buildInsights(exp *store.Experiment, stats []VariantStat, winner *VariantStat, totalVisitors int) []string {
	insights := []string{}

	for _, s := range stats {
		if s.Improvement == nil {
			continue
		}
		switch {
		case *s.Improvement > insightThreshold:
			insights = append(insights, fmt.Sprintf("%s shows a positive trend: %.1f%% above control", s.VariantName, *s.Improvement))
		case *s.Improvement < -insightThreshold:
			insights = append(insights, fmt.Sprintf("%s shows a negative trend: %.1f%% below control", s.VariantName, -*s.Improvement))
		}
	}

	if winner != nil {
		insights = append(insights, fmt.Sprintf("%s is the winner with %.1f%% confidence", winner.VariantName, winner.Confidence))
	} else if totalVisitors < exp.MinSampleSize {
		insights = append(insights, fmt.Sprintf("needs %d more visitors to reach the minimum sample size", exp.MinSampleSize-totalVisitors))
	}

	return insights
}
