package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/variantlab/variantlab/internal/stats"
	"github.com/variantlab/variantlab/internal/store"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <experiment-id>",
	Short: "Recommend an action for an experiment",
	Long: `Analyze an experiment's results and recommend an action:
continue, stop_winner, or stop_inconclusive.`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	experimentID := args[0]

	return withStore(func(s *store.SQLiteStore) error {
		ctx := context.Background()

		aggregator := stats.NewAggregator(s, stats.NewZTestCalculator(s))
		advisor := stats.NewAdvisor(s, aggregator)

		advice, err := advisor.Analyze(ctx, tenantID, experimentID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("experiment '%s' not found", experimentID)
			}
			return fmt.Errorf("analysis failed: %w", err)
		}

		fmt.Printf("RECOMMENDED ACTION: %s\n", advice.RecommendedAction)
		if advice.WinnerName != "" {
			fmt.Printf("WINNER: %s (%.1f%% confidence)\n", advice.WinnerName, advice.Confidence)
		}
		fmt.Printf("SAMPLE SIZE MET: %v\n", advice.SampleSizeMet)
		fmt.Println()

		if len(advice.Insights) > 0 {
			fmt.Println("INSIGHTS:")
			for _, insight := range advice.Insights {
				fmt.Printf("  - %s\n", insight)
			}
		}

		return nil
	})
}
