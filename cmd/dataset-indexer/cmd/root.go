// Package cmd provides the dataset-indexer CLI.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/tegendraads/registry/pkg/config"
	"github.com/tegendraads/registry/pkg/logger"
)

const serviceName = "dataset-indexer"

type rootOptions struct {
	logLevel string
}

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   serviceName,
		Short: "Rebuilds the dataset search index without downtime",
		Long: `dataset-indexer pages through the registry dataset catalog, loads every
record into a freshly created Elasticsearch index and then atomically
repoints the serving alias at it.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override the configured log level")

	cmd.AddCommand(newBuildCmd(opts))
	cmd.AddCommand(newServeCmd(opts))

	return cmd
}

func (o *rootOptions) load() (*config.Config, logger.Logger, error) {
	cfg, err := config.Load(serviceName)
	if err != nil {
		return nil, nil, err
	}
	if o.logLevel != "" {
		cfg.Logger.Level = o.logLevel
	}
	return cfg, logger.New(cfg.Logger.ToLoggerConfig()), nil
}
