package cmd

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/newscorpus/internal/output"
)

// newStatsCmd creates the 'stats' subcommand, which prints record store and
// dataset counts.
func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show candidate and dataset counts per category",
		Args:  cobra.NoArgs,
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
			stats, err := store.Stats(ctx)
			if err != nil {
				return fmt.Errorf("store stats: %w", err)
			}
			writer, err := appInstance.Writer(ctx)
			if err != nil {
				return err
			}

			categories := appInstance.Config().Categories()
			for category := range stats.ByCategory {
				if !slices.Contains(categories, category) {
					categories = append(categories, category)
				}
			}
			slices.Sort(categories)

			dataset, err := output.CollectStats(ctx, writer, categories)
			if err != nil {
				return fmt.Errorf("dataset stats: %w", err)
			}
			renderStoreStats(cmd.OutOrStdout(), stats, categories)
			renderDatasetStats(cmd.OutOrStdout(), dataset, categories)
			return nil
		},
	}
}
