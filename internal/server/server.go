// Package server exposes the telemetry HTTP API: flash outcome submission
// plus counter and error log queries.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/gorilla/mux"

	"kiln/internal/api"
	"kiln/internal/config"
	"kiln/internal/errclass"
	"kiln/internal/guard"
	"kiln/internal/logging"
	"kiln/internal/ratelimit"
	"kiln/internal/store"
)

// Server owns the HTTP listener and the telemetry stores.
type Server struct {
	bind     string
	logger   *slog.Logger
	pipeline *guard.Pipeline
	counters *store.CounterStore
	errorLog *store.ErrorLogStore
	router   *mux.Router

	listener net.Listener
	server   *http.Server
}

// New wires the stores, guard pipeline, and routes from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	counters := store.NewCounterStore(cfg.CountersPath(), cfg.Server.MaxCountersBytes, logger)
	errorLog := store.NewErrorLogStore(cfg.ErrorLogPath(), cfg.Server.MaxErrorLogBytes, cfg.Server.MaxErrorEntries, logger)

	var limiter *ratelimit.Limiter
	if cfg.Server.Guards.RateLimit {
		limiter = ratelimit.New(cfg.RateLimitPath(), cfg.Server.RatePerMinute, cfg.Server.RatePerHour, logger)
	}

	s := &Server{
		bind:     strings.TrimSpace(cfg.Server.Bind),
		logger:   logging.NewComponentLogger(logger, "api-server"),
		pipeline: guard.New(cfg.Server, limiter, logger),
		counters: counters,
		errorLog: errorLog,
	}

	router := mux.NewRouter()
	router.Use(s.corsMiddleware)
	router.HandleFunc("/api/flash-log", s.handleFlashLog).Methods(http.MethodPost, http.MethodOptions)
	router.HandleFunc("/api/flash-counts", s.handleFlashCounts).Methods(http.MethodGet, http.MethodOptions)
	router.HandleFunc("/api/flash-errors", s.handleFlashErrors).Methods(http.MethodGet, http.MethodOptions)
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	s.router = router

	s.server = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

// Handler returns the routed handler, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving and shuts down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() {
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleFlashLog(w http.ResponseWriter, r *http.Request) {
	result, rejection := s.pipeline.Evaluate(r)
	if rejection != nil {
		s.writeError(w, rejection.Status, rejection.Message)
		return
	}

	if result.HoneypotHit {
		// Indistinguishable from a real acknowledgement; nothing is stored.
		s.writeJSON(w, http.StatusOK, api.FlashLogResponse{Success: true})
		return
	}

	report := result.Report
	counts, err := s.counters.Increment(report.Project, report.Success)
	if err != nil {
		if errors.Is(err, store.ErrStoreFull) {
			s.writeError(w, http.StatusInsufficientStorage, "Storage limit reached")
			return
		}
		s.logger.Error("counter update failed", logging.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Failed to record flash outcome")
		return
	}

	if !report.Success {
		entry := api.ErrorEntry{
			Project:  report.Project,
			Action:   report.Action,
			Category: report.Category,
			Message:  report.Error,
			Context:  report.Context,
		}
		if err := s.errorLog.Append(entry); err != nil {
			// The counter already recorded the failure; losing the detail
			// entry is not fatal to the submission.
			s.logger.Warn("error log append failed", logging.Error(err))
		}
	}

	s.logger.Info("flash outcome recorded",
		logging.String(logging.FieldProject, report.Project),
		logging.Bool("success", report.Success),
		logging.String(logging.FieldCategory, report.Category))
	s.writeJSON(w, http.StatusOK, api.FlashLogResponse{Success: true, Counts: counts})
}

func (s *Server) handleFlashCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := s.counters.All()
	if err != nil {
		s.logger.Error("counter read failed", logging.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Failed to read counters")
		return
	}
	s.writeJSON(w, http.StatusOK, counts)
}

func (s *Server) handleFlashErrors(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if value := query.Get("summary"); value == "1" || strings.EqualFold(value, "true") {
		summary, err := s.errorLog.Summary()
		if err != nil {
			s.logger.Error("error summary failed", logging.Error(err))
			s.writeError(w, http.StatusInternalServerError, "Failed to read error log")
			return
		}
		s.writeJSON(w, http.StatusOK, summary)
		return
	}

	category := strings.TrimSpace(query.Get("category"))
	if category != "" && !errclass.Valid(errclass.Category(category)) {
		s.writeError(w, http.StatusBadRequest, "Invalid category")
		return
	}
	project := strings.TrimSpace(query.Get("project"))

	limit, _ := strconv.Atoi(query.Get("limit"))
	offset, _ := strconv.Atoi(query.Get("offset"))

	page, err := s.errorLog.Page(category, project, limit, offset)
	if err != nil {
		s.logger.Error("error page read failed", logging.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Failed to read error log")
		return
	}
	s.writeJSON(w, http.StatusOK, page)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}
