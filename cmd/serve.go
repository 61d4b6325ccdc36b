package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/abhisek/pathwise/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the scheduling HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		addr := a.cfg.Server.Addr
		if flag, _ := cmd.Flags().GetString("addr"); flag != "" {
			addr = flag
		}

		h := api.New(a.enrollments, a.curricula, a.tracker, a.scheduler, a.logger)
		srv := &http.Server{
			Addr:              addr,
			Handler:           api.NewRouter(h, a.health, a.registry),
			ReadHeaderTimeout: a.cfg.Server.ReadHeaderTimeout,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			a.logger.Info("http server listening", "addr", addr)
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("http server: %w", err)
		case <-ctx.Done():
		}

		a.logger.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (overrides config and PATHWISE_ADDR)")
}
