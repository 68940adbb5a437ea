// Package dashboard serves a read-only status API: persisted symbol state,
// health and Prometheus metrics.
package dashboard

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/eddiefleurent/wheelbot/internal/storage"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	router    *chi.Mux
	server    *http.Server
	storage   storage.Interface
	metrics   http.Handler
	logger    logrus.FieldLogger
	addr      string
	authToken string
	started   time.Time
	now       func() time.Time
}

type Config struct {
	Addr      string
	AuthToken string
}

// NewServer builds the router. metrics may be nil, in which case /metrics is
// not mounted.
func NewServer(cfg Config, store storage.Interface, metrics http.Handler, logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	addr := cfg.Addr
	if addr == "" {
		addr = ":8080"
	}
	s := &Server{
		router:    chi.NewRouter(),
		storage:   store,
		metrics:   metrics,
		logger:    logger.WithField("component", "dashboard"),
		addr:      addr,
		authToken: cfg.AuthToken,
		now:       time.Now,
	}
	s.started = s.now()
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/state", s.handleGetStates)
	s.router.Get("/api/state/{symbol}", s.handleGetState)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics)
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"duration": time.Since(start).String(),
		}).Debug("HTTP request")
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("Starting status server on %s", s.addr)
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":         "healthy",
		"timestamp":      s.now().Unix(),
		"uptime_seconds": int64(s.now().Sub(s.started).Seconds()),
		"symbols":        len(s.storage.All()),
	}
	s.writeJSON(w, http.StatusOK, health)
}

func (s *Server) handleGetStates(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.storage.All())
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	state, ok := s.storage.Get(symbol)
	if !ok {
		http.Error(w, "Symbol not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, state)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}
