package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shunichi-ikebuchi/reconciliation-ledger/pkg/logger"
	"github.com/shunichi-ikebuchi/reconciliation-ledger/pkg/server"
)

var serveAddr string

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the upload and report HTTP API",
	Long: `Serve the HTTP API.

Endpoints:
  POST /api/uploads           multipart upload (file, policy, key)
  GET  /api/uploads           recent uploads
  GET  /api/uploads/{batchID} one upload
  GET  /api/report            filtered report as JSON
  GET  /api/export/{table}    report table as CSV or XLSX
  GET  /api/stats             trailing seven day totals
  GET  /swagger/doc.json      API description

Example:
  recon serve --addr :8080`,
	Run: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default RECON_HTTP_ADDR or :8080)")
}

func runServe(cmd *cobra.Command, args []string) {
	a := openApp(cmd.Context())
	defer a.Close()

	addr := serveAddr
	if addr == "" {
		addr = a.cfg.HTTPAddr
	}

	// Request logs are JSON unless debugging.
	serverLog := log
	if !debug && !a.cfg.Debug {
		serverLog = logger.NewWithWriter(os.Stderr)
	}

	srv := &http.Server{
		Addr: addr,
		Handler: server.New(server.Config{
			Uploader: a.uploader,
			Reports:  a.reports,
			History:  a.history,
			Log:      serverLog,
		}),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		log.Info().Msg("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
	}()

	log.Info().Str("addr", addr).Str("driver", a.cfg.Database.Driver).Msg("starting reconciliation ledger API")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.exitOnError(err, "server error")
	}

	log.Info().Msg("server stopped")
}
