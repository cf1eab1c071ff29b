package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newRunCmd creates the 'run' subcommand: one collection followed by a crawl.
func newRunCmd() *cobra.Command {
	var opts crawlOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Collect feeds, then crawl",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			appInstance, err := resolveApp(ctx)
			if err != nil {
				return err
			}
			ing, err := appInstance.Ingestor(ctx)
			if err != nil {
				return err
			}
			collected, err := ing.Run(ctx)
			if err != nil {
				return fmt.Errorf("collect: %w", err)
			}
			renderCollect(cmd.OutOrStdout(), collected)
			return runCrawl(cmd, &opts)
		},
	}
	opts.bind(cmd)
	return cmd
}
