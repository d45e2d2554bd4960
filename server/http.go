package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/carloslauriano/glomail/session"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthStatus é o corpo retornado por /healthz
type HealthStatus struct {
	Status        string `json:"status"`
	Sessions      int    `json:"sessions"`
	Authenticated int    `json:"authenticated"`
}

// HTTPServer expõe /metrics e /healthz
type HTTPServer struct {
	logger log.Logger
	server *http.Server
}

// NewHTTPHandler monta as rotas de observabilidade
func NewHTTPHandler(gatherer prometheus.Gatherer, table *session.Table, logger log.Logger) http.Handler {
	router := mux.NewRouter()

	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, logger, http.StatusOK, HealthStatus{
			Status:        "ok",
			Sessions:      table.Len(),
			Authenticated: table.Authenticated(),
		})
	}).Methods("GET")

	return router
}

func writeJSON(w http.ResponseWriter, logger log.Logger, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		level.Warn(logger).Log("msg", "failed to encode response", "err", err)
	}
}

// NewHTTPServer cria o servidor de observabilidade em addr
func NewHTTPServer(addr string, handler http.Handler, logger log.Logger) *HTTPServer {
	return &HTTPServer{
		logger: logger,
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// ListenAndServe atende até Shutdown
func (s *HTTPServer) ListenAndServe() error {
	level.Info(s.logger).Log("msg", "listening", "proto", "http", "addr", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("falha no servidor HTTP: %w", err)
	}

	return nil
}

// Shutdown encerra o servidor aguardando as requisições em curso
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
