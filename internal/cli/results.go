package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/variantlab/variantlab/internal/stats"
	"github.com/variantlab/variantlab/internal/store"
)

var resultsCmd = &cobra.Command{
	Use:   "results <experiment-id>",
	Short: "Show per-variant results for an experiment",
	Long:  `Show lifetime per-variant totals, conversion rates, and confidence.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runResults,
}

func init() {
	rootCmd.AddCommand(resultsCmd)
}

func runResults(cmd *cobra.Command, args []string) error {
	experimentID := args[0]

	return withStore(func(s *store.SQLiteStore) error {
		ctx := context.Background()

		exp, err := s.GetExperiment(ctx, tenantID, experimentID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("experiment '%s' not found", experimentID)
			}
			return fmt.Errorf("failed to get experiment: %w", err)
		}

		aggregator := stats.NewAggregator(s, stats.NewZTestCalculator(s))
		variantStats, err := aggregator.ComputeStats(ctx, tenantID, experimentID)
		if err != nil {
			return fmt.Errorf("failed to compute stats: %w", err)
		}

		fmt.Printf("EXPERIMENT: %s\n", exp.Name)
		fmt.Printf("STATUS: %s\n", strings.ToUpper(string(exp.Status)))
		fmt.Printf("METRIC: %s\n", exp.TargetMetric)
		fmt.Printf("CREATED: %s\n", exp.CreatedAt.Format("2006-01-02"))
		fmt.Println()

		fmt.Println("VARIANT           VISITORS  CONVERSIONS  RATE     INTERVAL        CONFIDENCE  IMPROVEMENT")
		fmt.Println(strings.Repeat("─", 92))

		for _, v := range variantStats {
			name := v.VariantName
			if v.IsControl {
				name += " *"
			}
			if len(name) > 16 {
				name = name[:13] + "..."
			}

			improvement := "—"
			if v.Improvement != nil {
				improvement = fmt.Sprintf("%+.1f%%", *v.Improvement)
			}

			confidence := "—"
			if !v.IsControl {
				confidence = fmt.Sprintf("%.1f%%", v.Confidence)
				if v.IsSignificant {
					confidence += " ✓"
				}
			}

			fmt.Printf("%-17s %-9s %-12s %-8s %-15s %-11s %s\n",
				name,
				formatNumber(v.Visitors),
				formatNumber(v.Conversions),
				fmt.Sprintf("%.2f%%", v.ConversionRate*100),
				fmt.Sprintf("%.2f–%.2f%%", v.CILower*100, v.CIUpper*100),
				confidence,
				improvement,
			)
		}

		fmt.Println()
		fmt.Println("* control")

		return nil
	})
}
