package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/MeKo-Tech/snaprec/internal/history"
	"github.com/MeKo-Tech/snaprec/internal/pipeline"
	"github.com/MeKo-Tech/snaprec/internal/recognition"
	"github.com/gorilla/mux"
)

// Controller is the part of the pipeline controller the server drives.
type Controller interface {
	Submit(ctx context.Context, capture pipeline.CapturedImage) (*pipeline.Run, error)
	Latest() pipeline.Snapshot
	History(limit int) []history.Result
	ClearHistory() int
	Preview() ([]byte, bool)
	Subscribe() (<-chan pipeline.Snapshot, func())
	Stats() pipeline.Stats
}

// StatusProber reports whether the recognition service is reachable.
type StatusProber interface {
	Health(ctx context.Context) (*recognition.Health, error)
}

// Server holds the HTTP server state and dependencies.
type Server struct {
	ctrl        Controller
	prober      StatusProber
	logger      *slog.Logger
	corsOrigin  string
	maxUploadMB int64
	timeout     time.Duration
	rateLimiter *RateLimiter
	trustProxy  bool
}

// Config holds server configuration.
type Config struct {
	Host            string
	Port            int
	CORSOrigin      string
	MaxUploadMB     int64
	TimeoutSec      int
	ShutdownTimeout int
	RateLimit       RateLimitConfig
}

// RateLimitConfig bounds how often a client may submit captures.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	RequestsPerHour   int
	MaxRequestsPerDay int
	MaxDataPerDay     int64
	// TrustProxy keys clients by X-Forwarded-For or X-Real-IP instead of
	// the peer address. Enable only behind a proxy that overwrites them.
	TrustProxy bool
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithProber enables GET /status against the recognition service.
func WithProber(p StatusProber) Option {
	return func(s *Server) { s.prober = p }
}

// Response types for API endpoints.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Time    string `json:"time"`
}

// CaptureResponse acknowledges an accepted capture. With wait=true it
// carries the terminal snapshot.
type CaptureResponse struct {
	RunID    string             `json:"run_id"`
	State    pipeline.State     `json:"state"`
	Snapshot *pipeline.Snapshot `json:"snapshot,omitempty"`
}

// HistoryResponse lists results newest first.
type HistoryResponse struct {
	Results []history.Result `json:"results"`
	Count   int              `json:"count"`
	Total   int              `json:"total"`
}

// StatusResponse reports recognition service reachability.
type StatusResponse struct {
	Reachable  bool   `json:"reachable"`
	URL        string `json:"url,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
	LatencyMs  int64  `json:"latency_ms,omitempty"`
	Kind       string `json:"kind,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ErrorResponse is the body of every non-2xx JSON answer.
type ErrorResponse struct {
	Error  string `json:"error"`
	Kind   string `json:"kind,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// NewServer creates a presentation server over ctrl.
func NewServer(config Config, ctrl Controller, opts ...Option) *Server {
	s := &Server{
		ctrl:        ctrl,
		logger:      slog.Default(),
		corsOrigin:  config.CORSOrigin,
		maxUploadMB: config.MaxUploadMB,
		timeout:     time.Duration(config.TimeoutSec) * time.Second,
	}
	if s.corsOrigin == "" {
		s.corsOrigin = "*"
	}
	if s.maxUploadMB <= 0 {
		s.maxUploadMB = 20
	}
	if s.timeout <= 0 {
		s.timeout = 3 * time.Minute
	}
	if config.RateLimit.Enabled {
		rl := config.RateLimit
		s.rateLimiter = NewRateLimiter(rl.RequestsPerMinute, rl.RequestsPerHour, rl.MaxRequestsPerDay, rl.MaxDataPerDay)
		s.trustProxy = rl.TrustProxy
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "server")
	return s
}

// Router builds the HTTP routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.corsMiddleware)

	r.Handle("/metrics", metricsHandler()).Methods(http.MethodGet)
	r.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/status", s.statusHandler).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/stats", s.statsHandler).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/capture", s.rateLimitMiddleware(s.captureHandler)).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/state", s.stateHandler).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/history", s.historyHandler).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/history", s.clearHistoryHandler).Methods(http.MethodDelete)
	r.HandleFunc("/preview", s.previewHandler).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/ws", s.snapshotWebSocketHandler).Methods(http.MethodGet)

	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "method not allowed"})
	})
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "not found"})
	})
	return r
}
