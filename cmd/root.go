// Package cmd defines and implements the CLI commands of the newscorpus
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/newscorpus/internal/allocator"
	"github.com/JakeFAU/newscorpus/internal/app"
	"github.com/JakeFAU/newscorpus/internal/config"
	"github.com/JakeFAU/newscorpus/internal/feed"
	"github.com/JakeFAU/newscorpus/internal/harvest"
	"github.com/JakeFAU/newscorpus/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what the commands need from the service container. Tests inject
// their own implementation through newApp.
type App interface {
	Config() config.Config
	Logger() *zap.Logger
	Store(ctx context.Context, mustExist bool) (harvest.RecordStore, error)
	Writer(ctx context.Context) (harvest.Writer, error)
	Ingestor(ctx context.Context) (*feed.Ingestor, error)
	Orchestrator(ctx context.Context, overrides map[harvest.Category]harvest.Quota) (*allocator.Orchestrator, error)
	Close(ctx context.Context) error
}

type globalOptions struct {
	configFile string
	logLevel   string
}

// newApp is the application factory. It is a variable so tests can replace
// it.
var newApp = func(_ context.Context, opts globalOptions) (App, error) {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	a, err := app.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// newRootCmd creates the root command. The built App is handed back through
// holder so the caller can close it whatever the command outcome.
func newRootCmd(holder *App) *cobra.Command {
	var opts globalOptions
	cmd := &cobra.Command{
		Use:   "newscorpus",
		Short: "Builds a categorized news text corpus from RSS feeds.",
		Long: `newscorpus discovers article links from per-category RSS feeds,
remembers them in a persistent record store, and crawls them in
chronological order into train and test splits until every quota is met.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Runs after flag parsing and before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), opts)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			*holder = appInstance
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (YAML)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	cmd.AddCommand(
		newCollectCmd(),
		newCrawlCmd(),
		newRunCmd(),
		newStatsCmd(),
		newResetCmd(),
	)
	return cmd
}

// run executes args against a fresh command tree and always closes the App.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var appInstance App
	root := newRootCmd(&appInstance)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if appInstance != nil {
		if cerr := appInstance.Close(context.WithoutCancel(ctx)); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}
	return err
}

// Execute is the main entry point.
func Execute() {
	// A missing .env file is normal; real environment variables still apply.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "newscorpus:", err)
		stop()
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
