// Package server exposes upload, report, export and stats endpoints over HTTP.
//
// @title Reconciliation Ledger API
// @version 1.0
// @description Upload reconciliation extracts and read filtered reports, aggregates and daily balances.
// @BasePath /api
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/shunichi-ikebuchi/reconciliation-ledger/pkg/db"
	"github.com/shunichi-ikebuchi/reconciliation-ledger/pkg/ingest"
	"github.com/shunichi-ikebuchi/reconciliation-ledger/pkg/ledger"
	"github.com/shunichi-ikebuchi/reconciliation-ledger/pkg/logger"
	"github.com/shunichi-ikebuchi/reconciliation-ledger/pkg/report"
)

// Uploads reads committed uploads.
type Uploads interface {
	RecentUploads(ctx context.Context, limit int) ([]db.UploadRecord, error)
	GetUpload(ctx context.Context, batchID string) (*db.UploadRecord, error)
}

// Config wires the handlers.
type Config struct {
	Uploader *ingest.Uploader
	Reports  *report.Builder
	// History is optional; without it the upload history routes are not mounted.
	History Uploads
	Log     zerolog.Logger
	// MaxUploadBytes bounds multipart bodies. Zero means 32 MiB.
	MaxUploadBytes int64
	// Timeout bounds each request. Zero means 60s.
	Timeout time.Duration
	// Now is the clock used for defaults and export names. Nil means time.Now.
	Now func() time.Time
}

// New builds the router.
func New(cfg Config) http.Handler {
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = 32 << 20
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	uploads := &uploadsHandler{uploader: cfg.Uploader, history: cfg.History, maxBytes: cfg.MaxUploadBytes}
	reports := &reportsHandler{builder: cfg.Reports, now: cfg.Now}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(cfg.Log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.Timeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Get("/swagger/doc.json", serveDoc)

	r.Route("/api", func(r chi.Router) {
		r.Route("/uploads", func(r chi.Router) {
			r.Post("/", uploads.Create)
			if cfg.History != nil {
				r.Get("/", uploads.List)
				r.Get("/{batchID}", uploads.Get)
			}
		})
		r.Get("/report", reports.Report)
		r.Get("/export/{table}", reports.Export)
		r.Get("/stats", reports.Stats)
	})

	return r
}

// requestLogger logs one line per request and puts a request-scoped logger in the context.
func requestLogger(base zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			log := base.With().Str("request_id", middleware.GetReqID(r.Context())).Logger()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r.WithContext(logger.WithContext(r.Context(), log)))

			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// writeJSONError writes a JSON error response.
func writeJSONError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:            code,
		ErrorDescription: description,
	})
}

// writeError maps validation failures to 400 and everything else to 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ledger.ErrValidation) {
		writeJSONError(w, http.StatusBadRequest, "invalid_parameter", err.Error())
		return
	}
	log := logger.FromContext(r.Context())
	log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	writeJSONError(w, http.StatusInternalServerError, "server_error", err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
