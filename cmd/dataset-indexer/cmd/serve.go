package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tegendraads/registry/internal/search/bootstrap"
	"github.com/tegendraads/registry/internal/search/handlers"
	"github.com/tegendraads/registry/internal/search/server"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the rebuild API and run scheduled rebuilds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := root.load()
			if err != nil {
				return err
			}
			defer log.Sync()

			app, err := bootstrap.New(cfg, log)
			if err != nil {
				return err
			}
			defer app.Close(context.Background())

			srv, err := server.New(cfg, app.Service, readinessChecks(app), log)
			if err != nil {
				return err
			}

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start()
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

func readinessChecks(app *bootstrap.App) map[string]handlers.ReadinessCheck {
	return map[string]handlers.ReadinessCheck{
		"dependencies": func(ctx context.Context) error {
			results := app.Ping(ctx)
			names := make([]string, 0, len(results))
			for name := range results {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				if err := results[name]; err != nil {
					return fmt.Errorf("%s: %w", name, err)
				}
			}
			return nil
		},
	}
}
