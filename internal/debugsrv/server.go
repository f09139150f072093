// Package debugsrv exposes session metrics and health over HTTP while a
// session runs.
package debugsrv

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yegors/sttstream/pkg/logger"
)

// StatusFunc reports the current session status for /healthz
type StatusFunc func() map[string]any

// Server is the debug HTTP listener
type Server struct {
	server *http.Server
	logger *logger.Logger
}

// NewRouter builds the debug routes. A non-nil live handler is mounted at
// /ws.
func NewRouter(gatherer prometheus.Gatherer, status StatusFunc, live http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		body := map[string]any{"ok": true}
		if status != nil {
			for k, v := range status() {
				body[k] = v
			}
		}
		writeJSON(w, http.StatusOK, body)
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	if live != nil {
		r.Handle("/ws", live)
	}

	return r
}

// New creates a debug server listening on addr
func New(addr string, gatherer prometheus.Gatherer, status StatusFunc, live http.Handler, log *logger.Logger) *Server {
	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(gatherer, status, live),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: log.Named("debug-http"),
	}
}

// Start binds the listener and serves in the background. It returns the
// bound address.
func (s *Server) Start() (string, error) {
	lis, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return "", err
	}

	addr := lis.Addr().String()
	s.logger.Info("Starting debug HTTP server", logger.String("addr", addr))

	go func() {
		if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Debug HTTP server error", logger.Error(err))
		}
	}()
	return addr, nil
}

// Shutdown stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
