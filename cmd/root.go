package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/shelfscan/internal/config"
	"github.com/JakeFAU/shelfscan/internal/crawler"
	"github.com/JakeFAU/shelfscan/internal/logging"
	"github.com/JakeFAU/shelfscan/internal/server"
)

// application is what the subcommands drive. Tests swap in a fake via
// newApp.
type application interface {
	Serve(ctx context.Context) error
	Crawl(ctx context.Context, params crawler.JobParameters) (crawler.Job, error)
	Close()
}

var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (application, error) {
	return server.Build(ctx, cfg, logger)
}

// cliState is shared by the root command and its subcommands. It is filled
// in by the root's PersistentPreRunE.
type cliState struct {
	v       *viper.Viper
	cfgFile string
	out     io.Writer

	cfg    config.Config
	logger *zap.Logger
	app    application
}

func (r *cliState) close() {
	if r.app != nil {
		r.app.Close()
		r.app = nil
	}
}

func newRootCmd(rt *cliState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shelfscan",
		Short: "Crawls retailer product listings into a deduplicated catalogue.",
		Long: `shelfscan walks paginated e-commerce listing pages, extracts product
cards (name, price, image, category), backfills missing images from detail
pages and stores one record per product.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(rt.v, rt.cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(logging.Config{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			app, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				_ = logger.Sync()
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			rt.cfg = cfg
			rt.logger = logger
			rt.app = app
			return nil
		},
	}
	cmd.SetOut(rt.out)
	cmd.PersistentFlags().StringVar(&rt.cfgFile, "config", "", "path to a YAML config file")

	cmd.AddCommand(newServeCmd(rt))
	cmd.AddCommand(newCrawlCmd(rt))
	return cmd
}

// run executes the command line in args. The application, if one was
// built, is closed before returning.
func run(ctx context.Context, args []string, out io.Writer) error {
	rt := &cliState{v: viper.New(), out: out}
	defer rt.close()

	root := newRootCmd(rt)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// Execute is the main entry point.
func Execute() {
	err := run(context.Background(), os.Args[1:], os.Stdout)
	if err == nil {
		return
	}
	var failed *jobFailedError
	if !errors.As(err, &failed) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(1)
}

// bindFlag lets a command-line flag override the config key.
func bindFlag(rt *cliState, cmd *cobra.Command, key, flag string) {
	cobra.CheckErr(rt.v.BindPFlag(key, cmd.Flags().Lookup(flag)))
}
