package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/variantlab/variantlab/internal/store"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all experiments",
	Long:  `List the tenant's experiments with their status and lifetime totals.`,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	return withStore(func(s *store.SQLiteStore) error {
		ctx := context.Background()

		experiments, err := s.ListExperiments(ctx, tenantID)
		if err != nil {
			return fmt.Errorf("failed to list experiments: %w", err)
		}

		if len(experiments) == 0 {
			fmt.Println("No experiments yet.")
			fmt.Println()
			fmt.Println("Create one with:")
			fmt.Println("  vlab create hero --variants \"Control,Challenger\"")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSTATUS\tTYPE\tVARIANTS\tVISITORS\tCONVERSIONS\tCREATED")

		for _, exp := range experiments {
			results, err := s.ListResults(ctx, tenantID, exp.ID, nil, nil)
			if err != nil {
				return fmt.Errorf("failed to get results for %s: %w", exp.Name, err)
			}

			totalVisitors := 0
			totalConversions := 0
			for _, r := range results {
				totalVisitors += r.Visitors
				totalConversions += r.Conversions
			}

			variants, err := s.ListVariants(ctx, tenantID, exp.ID)
			if err != nil {
				return fmt.Errorf("failed to get variants for %s: %w", exp.Name, err)
			}

			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
				exp.Name,
				strings.ToUpper(string(exp.Status)),
				exp.Type,
				len(variants),
				formatNumber(totalVisitors),
				formatNumber(totalConversions),
				exp.CreatedAt.Format("2006-01-02"),
			)
		}

		w.Flush()
		return nil
	})
}
