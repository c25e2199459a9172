// Package server exposes the live coding pipeline over HTTP and WebSocket.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/bushportal/livecoding/internal/hub"
	"github.com/bushportal/livecoding/internal/livecoding"
	"github.com/bushportal/livecoding/internal/logging"
	"github.com/bushportal/livecoding/internal/session"
)

const (
	// DefaultWebSocketPath is where clients upgrade when no path is configured.
	DefaultWebSocketPath = "/ws/live-coding"

	defaultReadLimit    = 64 * 1024
	defaultMaxBodyBytes = 1 << 20
)

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger for request and socket records.
func WithLogger(logger *log.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithWebSocketPath sets the upgrade route.
func WithWebSocketPath(path string) Option {
	return func(s *Server) {
		if path = strings.TrimSpace(path); path != "" {
			s.wsPath = path
		}
	}
}

// WithAllowedOrigins restricts WebSocket upgrades to the listed Origin values. An empty list
// accepts any origin.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) {
		s.allowedOrigins = make(map[string]struct{}, len(origins))
		for _, origin := range origins {
			if origin = strings.TrimSpace(origin); origin != "" {
				s.allowedOrigins[origin] = struct{}{}
			}
		}
	}
}

// WithPongWait sets how long a socket may stay silent, pongs included, before it is dropped. Zero
// disables the read deadline.
func WithPongWait(wait time.Duration) Option {
	return func(s *Server) {
		if wait >= 0 {
			s.pongWait = wait
		}
	}
}

// Server routes HTTP and WebSocket traffic to the orchestrator, registry and hub.
type Server struct {
	orchestrator   *livecoding.Orchestrator
	registry       *session.Registry
	hub            *hub.Hub
	logger         *log.Logger
	wsPath         string
	allowedOrigins map[string]struct{}
	pongWait       time.Duration
	upgrader       websocket.Upgrader
	now            func() time.Time

	runs sync.WaitGroup
}

// New builds a server over already-wired collaborators.
func New(orchestrator *livecoding.Orchestrator, registry *session.Registry, fanout *hub.Hub, options ...Option) (*Server, error) {
	if orchestrator == nil {
		return nil, errors.New("orchestrator is required")
	}
	if registry == nil {
		return nil, errors.New("session registry is required")
	}
	if fanout == nil {
		return nil, errors.New("hub is required")
	}

	s := &Server{
		orchestrator: orchestrator,
		registry:     registry,
		hub:          fanout,
		logger:       logging.Discard(),
		wsPath:       DefaultWebSocketPath,
		now:          time.Now,
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(s)
	}
	if !strings.HasPrefix(s.wsPath, "/") {
		return nil, fmt.Errorf("websocket path %q must start with /", s.wsPath)
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s, nil
}

// Handler returns the routed, instrumented handler tree.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, "GET /api/live-coding/sessions", s.handleListSessions)
	s.route(mux, "GET /api/live-coding/sessions/{id}", s.handleGetSession)
	s.route(mux, "POST /api/live-coding/generate", s.handleGenerate)
	s.route(mux, "GET /healthz", s.handleHealth)
	// Upgraded sockets outlive any sensible request span, so the WebSocket route is not traced.
	mux.Handle("GET "+s.wsPath, s.recoverPanics(http.HandlerFunc(s.handleWebSocket)))
	return mux
}

// Wait blocks until every WebSocket-initiated run has returned.
func (s *Server) Wait() {
	s.runs.Wait()
}

func (s *Server) route(mux *http.ServeMux, pattern string, handler http.HandlerFunc) {
	mux.Handle(pattern, otelhttp.NewHandler(s.recoverPanics(s.logRequests(handler)), pattern))
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.allowedOrigins) == 0 {
		return true
	}
	_, ok := s.allowedOrigins[r.Header.Get("Origin")]
	return ok
}

func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recovered := recover(); recovered != nil {
				s.logger.Error("handler panicked", "method", r.Method, "path", r.URL.Path, "panic", fmt.Sprint(recovered))
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", recorder.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
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

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
