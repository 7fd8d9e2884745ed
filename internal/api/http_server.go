package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"slotter/internal/config"
	"slotter/internal/domain"
	"slotter/internal/metrics"
	"slotter/internal/service"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Server is the JSON surface over the booking core: thin handlers that
// decode, call one service operation and render its result or reason.
type Server struct {
	cfg     config.APIConfig
	booking *service.BookingService
	sm      *service.StateMachine
	coord   *service.Coordinator
	logger  *zerolog.Logger
	server  *http.Server
}

func NewServer(cfg config.APIConfig, booking *service.BookingService, sm *service.StateMachine, coord *service.Coordinator, cache domain.BlockCache, monitoring bool, logger *zerolog.Logger) *Server {
	srv := &Server{
		cfg:     cfg,
		booking: booking,
		sm:      sm,
		coord:   coord,
		logger:  logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/bookings", srv.handleCreateBooking)
	mux.HandleFunc("GET /api/v1/bookings/{id}", srv.handleGetBooking)
	mux.HandleFunc("POST /api/v1/bookings/{id}/accept", srv.handleAccept)
	mux.HandleFunc("POST /api/v1/bookings/{id}/cancel", srv.handleCancel)
	mux.HandleFunc("POST /api/v1/bookings/{id}/payment", srv.handlePayment)
	mux.HandleFunc("POST /api/v1/bookings/{id}/job-done", srv.handleJobDone)
	mux.HandleFunc("POST /api/v1/bookings/{id}/complete", srv.handleComplete)
	mux.HandleFunc("POST /api/v1/bookings/{id}/proposals", srv.handlePropose)
	mux.HandleFunc("POST /api/v1/proposals/{id}/respond", srv.handleRespond)
	mux.HandleFunc("GET /api/v1/availability", srv.handleAvailability)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if monitoring {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	a := newAuth(&cfg, cache)
	handler := srv.logging(a.wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	return srv
}

func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("http api listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the composed handler chain for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

const requestIDHeader = "x-request-id"

func (s *Server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		metrics.IncHTTP(endpointLabel(r))
		s.logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// endpointLabel collapses ids so the metric cardinality stays bounded.
func endpointLabel(r *http.Request) string {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	for i, p := range parts {
		if p != "" && strings.Trim(p, "0123456789") == "" {
			parts[i] = ":id"
		}
	}
	return r.Method + " /" + strings.Join(parts, "/")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
