package apihttp

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"streamgate/internal/domain"
	"streamgate/internal/usecase"
)

type StreamTorrentUseCase interface {
	Execute(ctx context.Context, req usecase.StreamTorrentRequest) (*usecase.Stream, error)
}

type StreamLocalUseCase interface {
	Execute(ctx context.Context, req usecase.StreamLocalRequest) (*usecase.Stream, error)
}

type StatusUseCase interface {
	Execute() domain.StatusReport
}

type SessionHistoryUseCase interface {
	Execute(ctx context.Context, limit int) ([]domain.SessionEvent, error)
}

const (
	defaultRateLimitRPS   = 100
	defaultRateLimitBurst = 200
)

type Server struct {
	status         StatusUseCase
	streamTorrent  StreamTorrentUseCase
	streamLocal    StreamLocalUseCase
	history        SessionHistoryUseCase
	allowedOrigins []string
	rateRPS        float64
	rateBurst      int
	logger         *slog.Logger
	handler        http.Handler
	wsHub          *wsHub
}

type ServerOption func(*Server)

func WithStreamTorrent(uc StreamTorrentUseCase) ServerOption {
	return func(s *Server) {
		s.streamTorrent = uc
	}
}

func WithStreamLocal(uc StreamLocalUseCase) ServerOption {
	return func(s *Server) {
		s.streamLocal = uc
	}
}

// WithSessionHistory enables /sessions/history. Without it the endpoint
// reports the journal as disabled.
func WithSessionHistory(uc SessionHistoryUseCase) ServerOption {
	return func(s *Server) {
		s.history = uc
	}
}

// WithAllowedOrigins configures the CORS allowed origins whitelist.
// When empty (default), any origin is permitted.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithRateLimit sets the global token bucket. A non-positive rps disables it.
func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		s.rateRPS = rps
		s.rateBurst = burst
	}
}

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func NewServer(status StatusUseCase, opts ...ServerOption) *Server {
	s := &Server{
		status:    status,
		rateRPS:   defaultRateLimitRPS,
		rateBurst: defaultRateLimitBurst,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	s.wsHub = newWSHub(s.logger)
	go s.wsHub.run()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /stream/{filename}", s.handleStreamLocal)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /ping", s.handlePing)
	mux.HandleFunc("GET /sessions/history", s.handleSessionHistory)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /ws", s.handleWS)

	// A decoded magnet link contains "//" (tracker URLs), which ServeMux
	// would clean and redirect, so /torrent/ is dispatched before it.
	routes := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, torrentPrefix) {
			s.handleStreamTorrent(w, r)
			return
		}
		mux.ServeHTTP(w, r)
	})

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, routes), "streamgate",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/ping" && p != "/ws"
		}),
	)
	s.handler = recoveryMiddleware(s.logger, rateLimitMiddleware(s.rateRPS, s.rateBurst, metricsMiddleware(corsMiddleware(s.allowedOrigins, traced))))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("ws upgrade failed", slog.String("error", err.Error()))
		return
	}
	client := &wsClient{
		hub:  s.wsHub,
		conn: conn,
		send: make(chan []byte, 16),
	}
	if s.status != nil {
		if payload, err := encodeWSMessage("status", s.status.Execute()); err == nil {
			client.send <- payload
		}
	}
	select {
	case s.wsHub.register <- client:
	case <-s.wsHub.done:
		_ = conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()
}

// BroadcastStatus pushes the current status report to every WebSocket client.
func (s *Server) BroadcastStatus() {
	if s.status == nil || s.wsHub.clientCount() == 0 {
		return
	}
	s.wsHub.Broadcast("status", s.status.Execute())
}

// RunStatusPush broadcasts the status every interval until ctx is cancelled.
func (s *Server) RunStatusPush(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.BroadcastStatus()
		}
	}
}

// Close disconnects all WebSocket clients.
func (s *Server) Close() {
	if s.wsHub != nil {
		s.wsHub.Close()
	}
}
