package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"lakeflow/internal/api"
	"lakeflow/internal/pipeline"
)

func newServeCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the pipeline service: HTTP API plus cron scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, *envFile)
			if err != nil {
				return err
			}
			defer a.Close()

			// Runs left RUNNING by a previous process are failed before the
			// scheduler can trigger their intervals again.
			if err := a.svc.Recover(ctx); err != nil {
				return err
			}

			scheduler := pipeline.NewScheduler(a.svc, a.logger)
			if err := scheduler.Start(ctx); err != nil {
				return err
			}
			defer scheduler.Stop()

			handler := api.NewHandler(a.svc, a.logger)
			srv := &http.Server{
				Addr:              a.cfg.ListenAddr,
				Handler:           handler.Router(a.cfg.CORSAllowedOrigins),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("http api listening", "addr", a.cfg.ListenAddr)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			a.logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Warn("http shutdown", "error", err)
			}
			scheduler.Stop()
			a.svc.Wait()
			return nil
		},
	}
}
