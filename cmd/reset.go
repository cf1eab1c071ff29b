package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/newscorpus/internal/harvest"
)

// newResetCmd creates the 'reset' subcommand, which returns skipped
// candidates of a category to pending so a later crawl retries them.
func newResetCmd() *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Return skipped candidates of a category to pending",
		Long: `Candidates that were attempted but never accepted are marked pending
again. Accepted candidates keep their state, so the dataset is never
duplicated.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			appInstance, err := resolveApp(ctx)
			if err != nil {
				return err
			}
			store, err := appInstance.Store(ctx, true)
			if err != nil {
				return err
			}
			n, err := store.Reset(ctx, harvest.Category(category))
			if err != nil {
				return fmt.Errorf("reset %s: %w", category, err)
			}
			appInstance.Logger().Info("candidates reset",
				zap.String("category", category),
				zap.Int64("count", n),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "%d %s candidates returned to pending\n", n, category)
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "category to reset")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}
