// Package server serves the citizen dashboard over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"fumapis/api"
	"fumapis/models"
	"fumapis/services"
	"fumapis/utils"
)

const shutdownTimeout = 5 * time.Second

// Server wires the dashboard routes to a Refresher.
type Server struct {
	refresher *Refresher
	metrics   *Metrics
	logger    *utils.Logger
	router    chi.Router
}

// New creates a Server. metrics may be nil, in which case /metrics is not
// mounted.
func New(refresher *Refresher, metrics *Metrics, logger *utils.Logger) *Server {
	s := &Server{refresher: refresher, metrics: metrics, logger: logger}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/dashboard", s.handleDashboard)
		r.Get("/summary", s.handleSummary)
		r.Get("/neighborhoods", s.handleNeighborhoods)
		r.Get("/zones", s.handleZones)
		r.Get("/unmapped", s.handleUnmapped)
		r.Post("/cpf/validate", s.handleValidateCPF)
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	return r
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		if s.metrics != nil {
			s.metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		}
		s.logger.Debug("[http] %s %s -> %d in %v (request %s)",
			r.Method, r.URL.Path, status, time.Since(start).Round(time.Microsecond), middleware.GetReqID(r.Context()))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.refresher.Status())
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	report, ok := s.latest(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	report, ok := s.latest(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, report.Summary)
}

func (s *Server) handleNeighborhoods(w http.ResponseWriter, r *http.Request) {
	report, ok := s.latest(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, services.NeighborhoodsByCount(report.ByNeighborhood))
}

func (s *Server) handleZones(w http.ResponseWriter, r *http.Request) {
	report, ok := s.latest(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, report.Zones)
}

func (s *Server) handleUnmapped(w http.ResponseWriter, r *http.Request) {
	report, ok := s.latest(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stats":   report.UnmappedStats,
		"records": report.Unmapped,
	})
}

type cpfRequest struct {
	CPF string `json:"cpf"`
}

type cpfResponse struct {
	Input     string `json:"input"`
	Digits    string `json:"digits"`
	Formatted string `json:"formatted"`
	Valid     bool   `json:"valid"`
}

func (s *Server) handleValidateCPF(w http.ResponseWriter, r *http.Request) {
	var req cpfRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	digits := services.DigitsOnly(req.CPF)
	writeJSON(w, http.StatusOK, cpfResponse{
		Input:     req.CPF,
		Digits:    digits,
		Formatted: services.FormatCPF(digits),
		Valid:     services.ValidateCPF(req.CPF),
	})
}

// latest writes an error response and returns false when no report is
// available yet.
func (s *Server) latest(w http.ResponseWriter) (*models.DashboardReport, bool) {
	report, err := s.refresher.Latest()
	if err != nil {
		status := http.StatusServiceUnavailable
		if errors.Is(err, api.ErrUnauthenticated) {
			status = http.StatusBadGateway
		}
		writeError(w, status, err.Error())
		return nil, false
	}
	return report, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Run serves addr and refreshes the dashboard until ctx is cancelled or the
// listener fails.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("[server] Dashboard listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: listen %s: %w", addr, err)
		}
		return nil
	})

	g.Go(func() error {
		return s.refresher.Run(ctx)
	})

	g.Go(func() error {
		<-ctx.Done()
		s.logger.Info("[server] Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
