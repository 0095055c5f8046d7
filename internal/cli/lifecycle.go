package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/variantlab/variantlab/internal/store"
)

func init() {
	rootCmd.AddCommand(newStatusCmd("start", store.StatusRunning,
		"Start (or resume) an experiment", "Experiment '%s' is now running."))
	rootCmd.AddCommand(newStatusCmd("pause", store.StatusPaused,
		"Pause a running experiment", "Experiment '%s' is paused."))
	rootCmd.AddCommand(newStatusCmd("archive", store.StatusArchived,
		"Archive a completed experiment", "Experiment '%s' archived."))
	rootCmd.AddCommand(newCompleteCmd())
	rootCmd.AddCommand(newExtendCmd())
}

// newStatusCmd builds the simple one-transition commands. Transition
// rules themselves live in the store; invalid moves come back as
// validation errors.
func newStatusCmd(use string, status store.ExperimentStatus, short, doneMsg string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <experiment-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			experimentID := args[0]

			return withStore(func(s *store.SQLiteStore) error {
				err := s.UpdateExperimentStatus(context.Background(), tenantID, experimentID, status, nil)
				if err != nil {
					if errors.Is(err, store.ErrNotFound) {
						return fmt.Errorf("experiment '%s' not found", experimentID)
					}
					return err
				}

				fmt.Printf(doneMsg+"\n", experimentID)
				return nil
			})
		},
	}
}

func newCompleteCmd() *cobra.Command {
	var winnerVariantID string

	cmd := &cobra.Command{
		Use:   "complete <experiment-id>",
		Short: "Complete an experiment, optionally declaring a winner",
		Long: `Complete an experiment. Pass --winner to record the winning
variant; without it the experiment completes inconclusively.

Example:
  vlab complete 4f7c... --winner 9a1e...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			experimentID := args[0]

			return withStore(func(s *store.SQLiteStore) error {
				ctx := context.Background()

				var winner *string
				if winnerVariantID != "" {
					variants, err := s.ListVariants(ctx, tenantID, experimentID)
					if err != nil {
						return fmt.Errorf("failed to list variants: %w", err)
					}
					found := false
					for _, v := range variants {
						if v.ID == winnerVariantID {
							found = true
							break
						}
					}
					if !found {
						return fmt.Errorf("variant '%s' does not belong to experiment '%s'", winnerVariantID, experimentID)
					}
					winner = &winnerVariantID
				}

				err := s.UpdateExperimentStatus(ctx, tenantID, experimentID, store.StatusCompleted, winner)
				if err != nil {
					if errors.Is(err, store.ErrNotFound) {
						return fmt.Errorf("experiment '%s' not found", experimentID)
					}
					return err
				}

				if winner != nil {
					fmt.Printf("Experiment '%s' completed. Winner: %s\n", experimentID, *winner)
				} else {
					fmt.Printf("Experiment '%s' completed without a winner.\n", experimentID)
				}

				return nil
			})
		},
	}

	cmd.Flags().StringVar(&winnerVariantID, "winner", "", "winning variant id")

	return cmd
}

// newExtendCmd is the operator override for a stop recommendation. The
// advisor never selects extend on its own; extending just keeps a
// running experiment running, so nothing is persisted.
func newExtendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extend <experiment-id>",
		Short: "Keep an experiment running despite a stop recommendation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			experimentID := args[0]

			return withStore(func(s *store.SQLiteStore) error {
				exp, err := s.GetExperiment(context.Background(), tenantID, experimentID)
				if err != nil {
					if errors.Is(err, store.ErrNotFound) {
						return fmt.Errorf("experiment '%s' not found", experimentID)
					}
					return err
				}

				if exp.Status != store.StatusRunning && exp.Status != store.StatusPaused {
					return fmt.Errorf("experiment '%s' is %s and cannot be extended", experimentID, exp.Status)
				}

				fmt.Printf("Experiment '%s' extended; it keeps collecting traffic.\n", exp.Name)
				return nil
			})
		},
	}
}
