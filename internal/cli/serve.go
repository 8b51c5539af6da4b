package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/approvals/internal/wire"
)

// shutdownTimeout bounds how long in-flight requests get on SIGINT/SIGTERM.
const shutdownTimeout = 5 * time.Second

// ServeCmd returns the serve command, which runs the JSON API.
func ServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the approval API over HTTP",
		Long: `Serve the JSON API for approval requests.

Mutating calls name the acting user in the X-Actor header.
Prometheus metrics are exposed on /metrics.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = wire.Config().HTTP.Addr
			}
			logger := wire.Logger()

			srv := &http.Server{
				Addr:              addr,
				Handler:           wire.HTTPHandler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			serverErrors := make(chan error, 1)
			go func() {
				logger.Info("starting approvals server", "addr", srv.Addr, "backend", wire.Config().Backend)
				serverErrors <- srv.ListenAndServe()
			}()

			shutdown := make(chan os.Signal, 1)
			signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(shutdown)

			select {
			case err := <-serverErrors:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return fmt.Errorf("server error: %w", err)

			case sig := <-shutdown:
				logger.Info("shutdown started", "signal", sig.String())

				ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()

				if err := srv.Shutdown(ctx); err != nil {
					logger.Warn("graceful shutdown did not complete", "timeout", shutdownTimeout, "error", err)
					if err := srv.Close(); err != nil {
						return fmt.Errorf("failed to stop server: %w", err)
					}
				}
				if err := wire.Close(); err != nil {
					logger.Warn("failed to close storage", "error", err)
				}
				logger.Info("approvals server stopped")
				return nil
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (defaults to http.addr from config)")
	return cmd
}
