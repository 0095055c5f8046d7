package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/variantlab/variantlab/internal/store"
)

func init() {
	rootCmd.AddCommand(newCreateCmd())
}

func newCreateCmd() *cobra.Command {
	var (
		variants    string
		weights     string
		expType     string
		metric      string
		traffic     float64
		minSample   int
		confidence  float64
		interactive bool
	)

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new experiment",
		Long: `Create a new experiment with the specified name and variants.
The first variant is the control. Weights default to an even split and
must sum to 100.

Examples:
  vlab create hero --variants "Ship Faster,Build Better"
  vlab create pricing --variants "Monthly,Annual" --weights "70,30" --type pricing
  vlab create cta --variants "A,B,C" --metric signup --min-sample 2000
  vlab create hero -i`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			var variantParams []store.CreateVariantParams
			var err error

			if interactive || variants == "" {
				variantParams, err = promptVariants()
			} else {
				variantParams, err = parseVariants(variants, weights)
			}
			if err != nil {
				return err
			}

			return withStore(func(s *store.SQLiteStore) error {
				exp, err := s.CreateExperiment(context.Background(), store.CreateExperimentParams{
					TenantID:            tenantID,
					Name:                name,
					Type:                store.ExperimentType(expType),
					TargetMetric:        metric,
					TrafficAllocation:   traffic,
					MinSampleSize:       minSample,
					ConfidenceThreshold: confidence,
					Variants:            variantParams,
				})
				if err != nil {
					return fmt.Errorf("failed to create experiment: %w", err)
				}

				fmt.Printf("Created experiment '%s' (%s) with %d variants:\n", exp.Name, exp.ID, len(exp.Variants))
				for _, v := range exp.Variants {
					marker := ""
					if v.IsControl {
						marker = " (control)"
					}
					fmt.Printf("  %s: %.1f%%%s\n", v.Name, v.TrafficPercentage, marker)
				}
				fmt.Println("\nThe experiment is a draft. Run 'vlab start' to begin serving traffic.")

				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&variants, "variants", "v", "", "comma-separated variant names, control first")
	cmd.Flags().StringVarP(&weights, "weights", "w", "", "comma-separated traffic percentages (default: even split)")
	cmd.Flags().StringVar(&expType, "type", "content", "experiment type (visual|content|layout|pricing|feature)")
	cmd.Flags().StringVar(&metric, "metric", "conversion", "target metric name")
	cmd.Flags().Float64Var(&traffic, "traffic", 100, "share of eligible visitors entering the experiment (0-100)")
	cmd.Flags().IntVar(&minSample, "min-sample", 1000, "minimum sample size before a decision")
	cmd.Flags().Float64Var(&confidence, "confidence", 95, "confidence threshold (0-100)")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "prompt for variants interactively")

	return cmd
}

func parseVariants(variants, weights string) ([]store.CreateVariantParams, error) {
	names := strings.Split(variants, ",")
	for i := range names {
		names[i] = strings.TrimSpace(names[i])
	}
	if len(names) < 2 {
		return nil, fmt.Errorf("need at least 2 variants. Example: --variants \"Control,B\"")
	}

	shares := make([]float64, len(names))
	if weights == "" {
		for i := range shares {
			shares[i] = 100.0 / float64(len(names))
		}
	} else {
		parts := strings.Split(weights, ",")
		if len(parts) != len(names) {
			return nil, fmt.Errorf("got %d weights for %d variants", len(parts), len(names))
		}
		for i, p := range parts {
			w, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err != nil {
				return nil, fmt.Errorf("invalid weight %q: %w", p, err)
			}
			shares[i] = w
		}
	}

	params := make([]store.CreateVariantParams, len(names))
	for i, n := range names {
		params[i] = store.CreateVariantParams{
			Name:              n,
			IsControl:         i == 0,
			TrafficPercentage: shares[i],
		}
	}

	return params, nil
}

func promptVariants() ([]store.CreateVariantParams, error) {
	countPrompt := promptui.Prompt{
		Label:   "Number of variants (including control)",
		Default: "2",
		Validate: func(s string) error {
			n, err := strconv.Atoi(s)
			if err != nil || n < 2 {
				return fmt.Errorf("enter a number >= 2")
			}
			return nil
		},
	}
	countStr, err := countPrompt.Run()
	if err != nil {
		return nil, err
	}
	count, _ := strconv.Atoi(countStr)

	params := make([]store.CreateVariantParams, count)
	for i := 0; i < count; i++ {
		label := fmt.Sprintf("Variant %d name", i+1)
		if i == 0 {
			label = "Control variant name"
		}

		namePrompt := promptui.Prompt{
			Label: label,
			Validate: func(s string) error {
				if strings.TrimSpace(s) == "" {
					return fmt.Errorf("name required")
				}
				return nil
			},
		}
		name, err := namePrompt.Run()
		if err != nil {
			return nil, err
		}

		params[i] = store.CreateVariantParams{
			Name:              strings.TrimSpace(name),
			IsControl:         i == 0,
			TrafficPercentage: 100.0 / float64(count),
		}
	}

	return params, nil
}
