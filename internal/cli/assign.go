package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/variantlab/variantlab/internal/engine"
	"github.com/variantlab/variantlab/internal/store"
)

func init() {
	rootCmd.AddCommand(newAssignCmd())
	rootCmd.AddCommand(newConvertCmd())
}

func newAssignCmd() *cobra.Command {
	var visitorID string

	cmd := &cobra.Command{
		Use:   "assign <experiment-id>",
		Short: "Assign a visitor to a variant",
		Long: `Assign a visitor to a variant. Repeated calls for the same
visitor always return the same variant.

Example:
  vlab assign 4f7c... --visitor alice`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			experimentID := args[0]

			return withStore(func(s *store.SQLiteStore) error {
				eng := engine.NewAssignmentEngine(s, engine.HashBucketer{}, logger)

				variant, err := eng.Assign(context.Background(), tenantID, experimentID, visitorID)
				if err != nil {
					if errors.Is(err, store.ErrNotFound) {
						return fmt.Errorf("experiment '%s' not found or has no variants", experimentID)
					}
					return fmt.Errorf("assignment failed: %w", err)
				}

				marker := ""
				if variant.IsControl {
					marker = " (control)"
				}
				fmt.Printf("Visitor '%s' -> variant '%s'%s [%s]\n", visitorID, variant.Name, marker, variant.ID)

				return nil
			})
		},
	}

	cmd.Flags().StringVar(&visitorID, "visitor", "", "visitor id (required)")
	cmd.MarkFlagRequired("visitor")

	return cmd
}

func newConvertCmd() *cobra.Command {
	var (
		visitorID string
		value     float64
	)

	cmd := &cobra.Command{
		Use:   "convert <experiment-id>",
		Short: "Record a conversion for a visitor",
		Long: `Record a conversion for an assigned visitor, optionally with a
monetary value. Recording twice never double-counts the visitor.

Example:
  vlab convert 4f7c... --visitor alice --value 49.99`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			experimentID := args[0]

			return withStore(func(s *store.SQLiteStore) error {
				recorder := engine.NewConversionRecorder(s, logger)

				var v *float64
				if cmd.Flags().Changed("value") {
					v = &value
				}

				if err := recorder.Record(context.Background(), tenantID, experimentID, visitorID, v); err != nil {
					return fmt.Errorf("failed to record conversion: %w", err)
				}

				fmt.Printf("Recorded conversion for visitor '%s'\n", visitorID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&visitorID, "visitor", "", "visitor id (required)")
	cmd.Flags().Float64Var(&value, "value", 0, "conversion value (optional)")
	cmd.MarkFlagRequired("visitor")

	return cmd
}
