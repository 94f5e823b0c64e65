package server

import (
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gear6io/replicant/pkg/errors"
	"github.com/gear6io/replicant/server/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router serves /metrics, /status, /bans and /health
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))
	r.Get("/status", s.handleStatus)
	r.Get("/bans", s.handleBans)
	r.Get("/health", s.handleHealth)
	return r
}

func (s *Server) startHTTP() error {
	addr := s.config.GetMetricsAddress()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(ErrHTTPFailed, err, "failed to listen on %s", addr)
	}

	s.httpServer = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()

	s.logger.Info().Str("address", listener.Addr().String()).Msg("Metrics server started")
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.GetStatus())
}

func (s *Server) handleBans(w http.ResponseWriter, r *http.Request) {
	bans, err := s.store.ListBans(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list bans")
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"code":  errors.GetCode(err),
			"error": err.Error(),
		})
		return
	}
	if bans == nil {
		bans = []store.Ban{}
	}
	writeJSON(w, http.StatusOK, bans)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
