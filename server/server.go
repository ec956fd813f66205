package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/resspec/resspec/orchestrator"
	"github.com/resspec/resspec/store"
)

const maxUploadBytes = 64 << 20

// Analyzer runs one recording through inference.
type Analyzer interface {
	Run(ctx context.Context, req orchestrator.Request) (*orchestrator.Report, error)
}

// History reads and removes stored analyses.
type History interface {
	Get(ctx context.Context, id string) (store.Record, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]store.Record, error)
	Delete(ctx context.Context, id string) error
}

type Server struct {
	analyzer Analyzer
	history  History // nil without a database
	hub      *Hub
	log      logrus.FieldLogger
	limit    int

	audioExts []string // accepted upload extensions
}

type Option func(*Server)

// WithAudioExtensions sets the extensions the pipeline accepts so uploads
// without a filename extension are staged under one of them.
func WithAudioExtensions(exts []string) Option {
	return func(s *Server) { s.audioExts = exts }
}

func New(a Analyzer, h History, hub *Hub, log logrus.FieldLogger, historyLimit int, opts ...Option) *Server {
	s := &Server{analyzer: a, history: h, hub: hub, log: log, limit: historyLimit}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", healthHandler(s.log))
	mux.HandleFunc("POST /api/analyses", s.createAnalysis)
	mux.HandleFunc("GET /api/analyses", s.listAnalyses)
	mux.HandleFunc("GET /api/analyses/{id}", s.getAnalysis)
	mux.HandleFunc("DELETE /api/analyses/{id}", s.deleteAnalysis)
	if s.hub != nil {
		mux.Handle("GET /api/events", s.hub)
	}
	return loggingMiddleware(s.log, mux)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("server listening")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Info("shutdown signal received")
	if s.hub != nil {
		s.hub.Close()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.WithError(err).Warn("graceful shutdown failed")
		if closeErr := srv.Close(); closeErr != nil {
			s.log.WithError(closeErr).Error("forced close failed")
		}
		return err
	}
	return nil
}

func healthHandler(log logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := fmt.Fprint(w, `{"status":"ok"}`); err != nil {
			log.WithError(err).Warn("failed to write health response")
		}
	}
}

func writeJSON(w http.ResponseWriter, log logrus.FieldLogger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Error("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, log logrus.FieldLogger, status int, err error) {
	writeJSON(w, log, status, map[string]string{"error": err.Error()})
}

func loggingMiddleware(log logrus.FieldLogger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   lrw.statusCode,
			"duration": time.Since(start),
		}).Info("request")
	})
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(statusCode int) {
	lrw.statusCode = statusCode
	lrw.ResponseWriter.WriteHeader(statusCode)
}

func (lrw *loggingResponseWriter) Unwrap() http.ResponseWriter { return lrw.ResponseWriter }

// Hijack lets the websocket upgrader take over the connection.
func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := lrw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	lrw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}
