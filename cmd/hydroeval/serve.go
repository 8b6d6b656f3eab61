package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	httpadapter "github.com/couchcryptid/hydroeval/internal/adapter/http"
)

var serveFields []string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve metrics and joined rows over HTTP",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		db, err := openJoined(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := addFields(ctx, db, serveFields); err != nil {
			return err
		}

		srv := httpadapter.NewServer(cfg.HTTPAddr, db, logger)
		errCh := make(chan error, 1)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case <-ctx.Done():
		case err := <-errCh:
			return err
		}
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}
		logger.Info("shutdown complete")
		return nil
	},
}

func init() {
	serveCmd.Flags().StringArrayVar(&serveFields, "field", nil, "calculated field kind[:name[:params]] (repeatable)")
	rootCmd.AddCommand(serveCmd)
}
