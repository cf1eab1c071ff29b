package cmd

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/newscorpus/internal/config"
	"github.com/JakeFAU/newscorpus/internal/harvest"
)

type crawlOptions struct {
	categories []string
	train      int
	test       int
}

func (o *crawlOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&o.categories, "category", nil, "restrict the crawl to these categories (repeatable)")
	cmd.Flags().IntVar(&o.train, "train", 0, "override the train quota of the selected categories")
	cmd.Flags().IntVar(&o.test, "test", 0, "override the test quota of the selected categories")
}

// resolve returns the categories to crawl, in configured order, and the
// quota overrides requested on the command line.
func (o *crawlOptions) resolve(cmd *cobra.Command, cfg config.Config) ([]harvest.Category, map[harvest.Category]harvest.Quota, error) {
	selected := cfg.Categories()
	if len(o.categories) > 0 {
		for _, name := range o.categories {
			if _, ok := cfg.Feeds[name]; !ok {
				return nil, nil, fmt.Errorf("unknown category %q", name)
			}
		}
		selected = slices.DeleteFunc(selected, func(c harvest.Category) bool {
			return !slices.Contains(o.categories, string(c))
		})
	}

	trainSet := cmd.Flags().Changed("train")
	testSet := cmd.Flags().Changed("test")
	if (trainSet && o.train < 0) || (testSet && o.test < 0) {
		return nil, nil, fmt.Errorf("quotas must not be negative")
	}
	if !trainSet && !testSet {
		return selected, nil, nil
	}
	overrides := make(map[harvest.Category]harvest.Quota, len(selected))
	for _, category := range selected {
		q := cfg.QuotaFor(category)
		if trainSet {
			q.Train = o.train
		}
		if testSet {
			q.Test = o.test
		}
		overrides[category] = q
	}
	return selected, overrides, nil
}

// newCrawlCmd creates the 'crawl' subcommand, which fills the train and
// test splits from the pending candidates.
func newCrawlCmd() *cobra.Command {
	var opts crawlOptions
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Fetch pending candidates into the train and test splits",
		Long: `Walks the pending candidates of each category oldest first, fetches and
extracts every article, and writes accepted text to the train split until
its quota is met and then to the test split. Quota shortfalls are reported
but do not fail the command. The record store must already exist; run
'collect' first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, &opts)
		},
	}
	opts.bind(cmd)
	return cmd
}

func runCrawl(cmd *cobra.Command, opts *crawlOptions) error {
	ctx := cmd.Context()
	appInstance, err := resolveApp(ctx)
	if err != nil {
		return err
	}
	categories, overrides, err := opts.resolve(cmd, appInstance.Config())
	if err != nil {
		return err
	}
	orch, err := appInstance.Orchestrator(ctx, overrides)
	if err != nil {
		return err
	}
	report, err := orch.Run(ctx, categories)
	renderCrawl(cmd.OutOrStdout(), report)
	if err != nil {
		return fmt.Errorf("crawl: %w", err)
	}
	return nil
}
