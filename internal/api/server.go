// Package api exposes the HTTP interface for the classifier service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/siteverdict/siteverdict/internal/apikey"
	"github.com/siteverdict/siteverdict/internal/cache"
	"github.com/siteverdict/siteverdict/internal/classify"
	"github.com/siteverdict/siteverdict/internal/config"
	"github.com/siteverdict/siteverdict/internal/publish"
	"github.com/siteverdict/siteverdict/internal/ratelimit"
	"github.com/siteverdict/siteverdict/internal/store"
	"github.com/siteverdict/siteverdict/internal/telemetry"
)

// Pipeline is the classification entry point the boundary invokes once
// its own checks (auth, rate limit, cache) have passed.
type Pipeline interface {
	Classify(ctx context.Context, rawURL string) classify.Result
}

// Server wires HTTP handlers to the pipeline and its collaborators.
type Server struct {
	router    chi.Router
	pipeline  Pipeline
	store     store.Store
	cache     *cache.Results
	keys      *apikey.Service
	limiter   *ratelimit.Limiter
	publisher publish.Publisher
	clock     classify.Clock
	cfg       config.Config
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	pipeline Pipeline,
	st store.Store,
	results *cache.Results,
	keys *apikey.Service,
	limiter *ratelimit.Limiter,
	publisher publish.Publisher,
	clock classify.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = publish.Noop{}
	}
	s := &Server{
		pipeline:  pipeline,
		store:     st,
		cache:     results,
		keys:      keys,
		limiter:   limiter,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(time.Duration(cfg.Server.TimeoutSeconds) * time.Second))
	r.Use(telemetry.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.clientKeyMiddleware)
		r.Use(s.rateLimitMiddleware)
		r.Get("/classify-url", s.classifyURL)
		r.Get("/v1/classify", s.classifyURL)
		r.Get("/v1/classifications", s.listClassifications)
	})

	r.Route("/v1/keys", func(r chi.Router) {
		r.Use(s.masterKeyMiddleware)
		r.Post("/", s.issueKey)
		r.Get("/", s.listKeys)
		r.Delete("/{key}", s.revokeKey)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// presentedKey extracts the caller's credential from header or query.
func presentedKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return r.URL.Query().Get("api_key")
}

// clientKeyMiddleware admits issued keys and the master key.
func (s *Server) clientKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.cfg.Auth.Enabled {
			next.ServeHTTP(w, r)
			return
		}
		key := presentedKey(r)
		if key == "" {
			writeError(w, http.StatusUnauthorized, "api key required")
			return
		}
		if key != s.cfg.Auth.MasterKey {
			if err := s.keys.Validate(r.Context(), key); err != nil {
				switch {
				case errors.Is(err, apikey.ErrUnknownKey), errors.Is(err, apikey.ErrRevokedKey):
					writeError(w, http.StatusForbidden, "invalid api key")
				default:
					s.logger.Error("key validation failed", zap.Error(err))
					writeError(w, http.StatusInternalServerError, "key validation failed")
				}
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// masterKeyMiddleware admits only the master key.
func (s *Server) masterKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.cfg.Auth.Enabled {
			next.ServeHTTP(w, r)
			return
		}
		if presentedKey(r) != s.cfg.Auth.MasterKey {
			writeError(w, http.StatusForbidden, "master key required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil {
			key := presentedKey(r)
			if key == "" {
				key = r.RemoteAddr
			}
			if !s.limiter.Allow(key) {
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	if d <= 0 {
		d = 120 * time.Second
	}
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type requestIDKey struct{}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
