package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/txwatch/internal/core/domain"
)

// Server provides HTTP endpoints for health monitoring.
type Server struct {
	store  *Store
	server *http.Server
}

// NewServer creates a new health server.
func NewServer(store *Store, port int) *Server {
	s := &Server{store: store}
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.Handler(),
	}
	return s
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/detailed", s.handleDetailed)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.store.Worst()

	response := map[string]string{"status": string(status)}
	w.Header().Set("Content-Type", "application/json")

	if status == domain.HealthCritical || status == domain.HealthUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(response)
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	report := s.store.All()
	if network := r.URL.Query().Get("network"); network != "" {
		res, ok := report[domain.NetworkID(network)]
		if !ok {
			http.Error(w, "unknown network", http.StatusNotFound)
			return
		}
		report = map[domain.NetworkID]domain.HealthCheckResult{res.Network: res}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}
