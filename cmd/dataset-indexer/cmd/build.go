package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tegendraads/registry/internal/domain/indexing"
	"github.com/tegendraads/registry/internal/search/bootstrap"
	"github.com/tegendraads/registry/pkg/codec"
	"github.com/tegendraads/registry/pkg/config"
)

type buildOptions struct {
	pageSize int
	workers  int
}

func newBuildCmd(root *rootOptions) *cobra.Command {
	opts := &buildOptions{}

	cmd := &cobra.Command{
		Use:   "build [sourceURL] [esHosts]",
		Short: "Run one index rebuild and exit",
		Long: `Run one index rebuild. sourceURL is the registry web service base URL and
esHosts a comma separated list of Elasticsearch hosts; both default to the
configuration. The command exits non-zero when the alias was not swapped.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := root.load()
			if err != nil {
				return err
			}
			defer log.Sync()

			if err := opts.apply(cfg, args); err != nil {
				return err
			}

			app, err := bootstrap.New(cfg, log)
			if err != nil {
				return err
			}
			defer app.Close(context.Background())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			run, runErr := app.Service.Rebuild(ctx, indexing.TriggerManual)
			if run != nil {
				if err := codec.Default().Encode(cmd.OutOrStdout(), run); err != nil {
					log.Warn("Failed to print run summary", "error", err)
				}
			}
			return runErr
		},
	}

	cmd.Flags().IntVar(&opts.pageSize, "page-size", 0, "Records per source page (default from configuration)")
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "Concurrent bulk jobs (default from configuration)")

	return cmd
}

// apply layers positional arguments and flags over the loaded configuration.
func (o *buildOptions) apply(cfg *config.Config, args []string) error {
	if len(args) > 0 {
		cfg.Source.URL = args[0]
	}
	if len(args) > 1 {
		cfg.Elasticsearch.Addresses = config.SplitList(args[1])
	}
	if o.pageSize > 0 {
		cfg.Indexer.PageSize = o.pageSize
	}
	if o.workers > 0 {
		cfg.Indexer.Workers = o.workers
	}
	return cfg.Validate()
}
