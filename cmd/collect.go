package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/newscorpus/internal/feed"
)

// newCollectCmd creates the 'collect' subcommand, which pulls every
// configured feed into the record store once or on a cron schedule.
func newCollectCmd() *cobra.Command {
	var cronExpr string
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Discover article links from the configured RSS feeds",
		Long: `Fetches every configured feed and records new article links as pending
candidates. Links already known are left untouched. With --cron the
collection repeats on the schedule until interrupted, which grows the
candidate pool beyond what a single feed snapshot lists.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCollect(cmd, cronExpr)
		},
	}
	cmd.Flags().StringVar(&cronExpr, "cron", "", `repeat on a cron schedule, e.g. "0 */2 * * *" or "@hourly"`)
	return cmd
}

func runCollect(cmd *cobra.Command, cronExpr string) error {
	ctx := cmd.Context()
	appInstance, err := resolveApp(ctx)
	if err != nil {
		return err
	}
	if cronExpr != "" {
		if err := feed.ValidateSchedule(cronExpr); err != nil {
			return err
		}
	}
	ing, err := appInstance.Ingestor(ctx)
	if err != nil {
		return err
	}

	if cronExpr != "" {
		return feed.Schedule(ctx, ing, cronExpr, appInstance.Logger().Named("schedule"))
	}

	report, err := ing.Run(ctx)
	if err != nil {
		return fmt.Errorf("collect: %w", err)
	}
	renderCollect(cmd.OutOrStdout(), report)
	return nil
}
