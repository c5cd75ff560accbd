package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/harun/dbperms-mcp/internal/metrics"
	"github.com/harun/dbperms-mcp/internal/tracing"
	"github.com/harun/dbperms-mcp/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// Transport names used in logs and metrics
const (
	HTTPTransport      = "http"
	WebSocketTransport = "websocket"
)

// Server exposes the router over HTTP: single-shot JSON-RPC on /rpc and a
// long-lived WebSocket on /ws, plus /metrics and /healthz.
type Server struct {
	addr            string
	shutdownTimeout time.Duration
	server          *http.Server
	listener        net.Listener
	upgrader        websocket.Upgrader
	router          *Router
	auth            *AuthHandler
	clients         *ClientRegistry
	hostLimiters    *HostRateLimiters
	rpm             int
	maxConcurrent   int
	metrics         *metrics.Metrics
	logger          zerolog.Logger
	isShuttingDown  bool
	shutdownMu      sync.RWMutex
	inFlightReqs    sync.WaitGroup
	serveErr        chan error
}

// Config holds server configuration
type Config struct {
	Host              string
	Port              int
	SharedSecret      string
	RequestsPerMinute int
	MaxConcurrent     int
	ShutdownTimeout   time.Duration
	Router            *Router
	Metrics           *metrics.Metrics
	Logger            zerolog.Logger
}

// NewServer creates a new HTTP server. Port 0 picks a free port on Start.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Router == nil {
		return nil, fmt.Errorf("router is required")
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	s := &Server{
		addr:            net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port)),
		shutdownTimeout: cfg.ShutdownTimeout,
		router:          cfg.Router,
		auth:            NewAuthHandler(cfg.SharedSecret),
		clients:         NewClientRegistry(),
		hostLimiters:    NewHostRateLimiters(cfg.RequestsPerMinute, cfg.MaxConcurrent),
		rpm:             cfg.RequestsPerMinute,
		maxConcurrent:   cfg.MaxConcurrent,
		metrics:         cfg.Metrics,
		logger:          cfg.Logger,
		serveErr:        make(chan error, 1),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	if !s.auth.Enabled() {
		s.logger.Warn().Msg("No shared secret configured, HTTP transport is unauthenticated")
	}

	return s, nil
}

// Handler returns the HTTP handler serving all endpoints
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/rpc", s.handleRPC)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return mux
}

// Start binds the listener and serves in the background
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Starting HTTP transport")

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP transport error")
			s.serveErr <- err
		}
		close(s.serveErr)
	}()

	return nil
}

// Addr returns the bound address, valid after Start
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Wait blocks until the server stops serving and returns the serve error, if any
func (s *Server) Wait() error {
	return <-s.serveErr
}

// Stop gracefully stops the server, waiting for in-flight requests
func (s *Server) Stop(ctx context.Context) error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down HTTP transport")

	ctx, cancel := context.WithTimeout(ctx, s.shutdownTimeout)
	defer cancel()

	var shutdownErr error
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("failed to shutdown server: %w", err)
		}
	}

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All in-flight requests completed")
	case <-ctx.Done():
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	for _, client := range s.clients.all() {
		client.Conn.Close()
	}

	s.logger.Info().Msg("HTTP transport stopped")
	return shutdownErr
}

func (s *Server) shuttingDown() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.isShuttingDown
}

// handleRPC handles single-shot HTTP JSON-RPC requests
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.auth.Authenticate(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	host := remoteHost(r)
	limiter := s.hostLimiters.For(host)
	if ok, reason := limiter.Acquire(); !ok {
		writeJSON(w, http.StatusTooManyRequests, errorResponse(nil, rejectionCode(reason), reason))
		return
	}
	defer limiter.Release()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxMessageSize))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusRequestEntityTooLarge)
		return
	}

	ctx := requestContext(r.Context(), r, HTTPTransport+":"+host)
	resp := s.router.Handle(ctx, HTTPTransport, body)
	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleWebSocket upgrades the connection and serves one JSON-RPC message
// per frame until the client disconnects
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	if !s.auth.Authenticate(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}
	conn.SetReadLimit(MaxMessageSize)

	client := &wsClient{
		ID:          uuid.NewString(),
		Conn:        conn,
		ConnectedAt: time.Now(),
		IPAddress:   remoteHost(r),
		RateLimiter: NewClientRateLimiter(s.rpm, s.maxConcurrent),
	}
	s.clients.add(client)

	s.logger.Info().
		Str("client_id", client.ID).
		Str("ip", client.IPAddress).
		Msg("Client connected")

	ctx := requestContext(context.WithoutCancel(r.Context()), r, WebSocketTransport+":"+client.ID)
	go s.handleClient(ctx, client)
}

// handleClient reads messages from a client until the connection closes
func (s *Server) handleClient(ctx context.Context, client *wsClient) {
	var clientReqs sync.WaitGroup
	defer func() {
		clientReqs.Wait()
		client.Conn.Close()
		s.clients.remove(client.ID)
		s.logger.Info().Str("client_id", client.ID).Msg("Client disconnected")
	}()

	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Error().Err(err).Str("client_id", client.ID).Msg("WebSocket error")
			}
			return
		}

		if ok, reason := client.RateLimiter.Acquire(); !ok {
			s.send(client, errorResponse(messageID(message), rejectionCode(reason), reason))
			continue
		}

		clientReqs.Add(1)
		s.inFlightReqs.Add(1)
		go func() {
			defer s.inFlightReqs.Done()
			defer clientReqs.Done()
			defer client.RateLimiter.Release()

			if resp := s.router.Handle(ctx, WebSocketTransport, message); resp != nil {
				s.send(client, resp)
			}
		}()
	}
}

func (s *Server) send(client *wsClient, resp *RPCResponse) {
	client.writeMu.Lock()
	defer client.writeMu.Unlock()

	if err := client.Conn.WriteJSON(resp); err != nil {
		s.logger.Error().
			Err(err).
			Str("client_id", client.ID).
			Msg("Failed to send response")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	code := http.StatusOK
	if s.shuttingDown() {
		status = "shutting_down"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"status":  status,
		"tools":   s.router.dispatcher.Registry().Len(),
		"clients": s.clients.Count(),
	})
}

// ConnectedClients returns information about connected WebSocket clients
func (s *Server) ConnectedClients() []ClientInfo {
	return s.clients.ConnectedClients()
}

// requestContext adds the inbound trace context of r and the caller identity
// to ctx
func requestContext(ctx context.Context, r *http.Request, caller string) context.Context {
	ctx = tracing.ExtractHeaders(ctx, r.Header)
	if traceID := r.Header.Get("X-Trace-Id"); traceID != "" {
		ctx = tracing.WithTraceID(ctx, traceID)
	}
	return toolexecutor.ContextWithCaller(ctx, caller)
}

// messageID extracts the id of a possibly malformed message so rejections
// can still be correlated
func messageID(message []byte) json.RawMessage {
	id := gjson.GetBytes(message, "id")
	if !id.Exists() || (id.Type != gjson.String && id.Type != gjson.Number) {
		return nil
	}
	return json.RawMessage(id.Raw)
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
