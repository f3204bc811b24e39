package commands

import (
	"context"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/survey-manager/internal/web"
)

// ServeCmd starts the browse API.
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the read-only browse API",
	Long: `serve - Start the read-only browse API

Serves the registered collections as JSON on SERVER_HOST:SERVER_PORT until
interrupted. See the SERVER_* environment variables for timeouts, the rate
limit and trusted proxies.

Examples:
  surveyctl serve
  SERVER_PORT=9000 surveyctl serve`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	f, err := files(false)
	if err != nil {
		return err
	}
	slog.Info("configuration loaded",
		"addr", cfg.Server.Addr(),
		"store_backend", cfg.Store.Backend,
		"collections", len(f.Collections),
		"rate_limit", cfg.Server.RateLimit,
	)

	server := web.NewServer(cfg.Server, f, storeOptions()...)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "browse API")
	case <-ctx.Done():
	}

	slog.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	slog.Info("server stopped")
	return nil
}
