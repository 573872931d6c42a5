package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"crypto-etl/internal/market"
	"crypto-etl/internal/storage"
)

const dataPath = "/api/crypto_data"

//go:embed templates/index.html
var templatesFS embed.FS

var indexTemplate = template.Must(template.ParseFS(templatesFS, "templates/index.html"))

// Store is the read side of the crypto_data table.
type Store interface {
	TopByMarketCap(ctx context.Context, limit int) ([]market.Record, error)
	TableExists(ctx context.Context) (bool, error)
}

// Options configure the HTTP server.
type Options struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RowLimit        int
	Title           string
}

// Server exposes stored market rows over HTTP.
type Server struct {
	store  Store
	opts   Options
	router *mux.Router
	logger zerolog.Logger
}

// NewServer builds the router for store.
func NewServer(store Store, opts Options, logger zerolog.Logger) *Server {
	if opts.Addr == "" {
		opts.Addr = ":5000"
	}
	if opts.RowLimit <= 0 {
		opts.RowLimit = 10
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	if opts.Title == "" {
		opts.Title = "Crypto market snapshot"
	}

	s := &Server{
		store:  store,
		opts:   opts,
		logger: logger.With().Str("component", "web").Logger(),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.accessLog)
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc(dataPath, s.handleCryptoData).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)
	return r
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadTimeout:       s.opts.ReadTimeout,
		ReadHeaderTimeout: s.opts.ReadTimeout,
		WriteTimeout:      s.opts.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("web server listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown web server: %w", err)
	}
	s.logger.Info().Msg("web server stopped")
	return nil
}

func (s *Server) handleCryptoData(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.TopByMarketCap(r.Context(), s.opts.RowLimit)
	switch {
	case errors.Is(err, storage.ErrTableNotFound):
		rows = nil
	case err != nil:
		s.logger.Error().Err(err).Msg("query crypto_data failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if rows == nil {
		rows = []market.Record{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := struct {
		Title    string
		RowLimit int
		DataURL  string
	}{s.opts.Title, s.opts.RowLimit, dataPath}
	if err := indexTemplate.Execute(w, data); err != nil {
		s.logger.Error().Err(err).Msg("render index failed")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ready, err := s.store.TableExists(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	if !ready {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "initialising"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("elapsed", time.Since(start)).
			Msg("request served")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
