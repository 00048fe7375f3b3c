package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"auctionhouse/core/events"
	"auctionhouse/core/house"
	"auctionhouse/observability"
	"auctionhouse/rpc/middleware"
)

const (
	jsonRPCVersion      = "2.0"
	defaultMaxBodyBytes = 1 << 20
	rpcModule           = "auction"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
)

// ServerConfig controls the HTTP surface.
type ServerConfig struct {
	MaxBodyBytes int64
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Auth         middleware.AuthConfig
	RateLimit    middleware.RateLimit
	LogRequests  bool
}

// Server exposes the house over JSON-RPC and streams committed events over a
// websocket.
type Server struct {
	house   *house.House
	stream  *events.Broadcaster
	logger  *slog.Logger
	cfg     ServerConfig
	auth    *middleware.Authenticator
	limiter *middleware.RateLimiter
	obs     *middleware.Observability
}

func NewServer(h *house.House, stream *events.Broadcaster, cfg ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 15 * time.Second
	}
	s := &Server{
		house:  h,
		stream: stream,
		logger: logger,
		cfg:    cfg,
		auth:   middleware.NewAuthenticator(cfg.Auth, logger),
		obs: middleware.NewObservability(middleware.ObservabilityConfig{
			ServiceName: "auctiond",
			LogRequests: cfg.LogRequests,
		}, logger),
	}
	if cfg.RateLimit.RatePerSecond > 0 {
		s.limiter = middleware.NewRateLimiter(cfg.RateLimit, logger)
	}
	return s
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", s.obs.MetricsHandler())
	r.Group(func(r chi.Router) {
		r.Use(s.obs.Middleware("rpc"))
		if s.limiter != nil {
			r.Use(s.limiter.Middleware(rpcModule))
		}
		r.Post("/", s.handle)
	})
	r.Group(func(r chi.Router) {
		r.Use(s.obs.Middleware("events"))
		r.Use(s.auth.Middleware())
		r.Get("/ws/events", s.handleEventsWS)
	})
	return otelhttp.NewHandler(r, "auctiond")
}

// Start serves until ctx is cancelled and then shuts the listener down.
func (s *Server) Start(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("rpc: listen %s: %w", addr, err)
	}
	return s.Serve(ctx, listener)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.Router(),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("json-rpc server listening", slog.String("addr", listener.Addr().String()))
		errCh <- srv.Serve(listener)
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("rpc: shutdown: %w", err)
		}
		return nil
	}
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// statusWriter remembers the status so per-method metrics can be recorded.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (s *statusWriter) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", s.cfg.MaxBodyBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	start := time.Now()
	recorder := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	defer func() {
		observability.ModuleMetrics().Observe(rpcModule, req.Method, recorder.status, time.Since(start))
	}()

	if txMethod, ok := txMethods[req.Method]; ok {
		ctx, status, authErr := s.auth.Authenticate(r, "auction:write")
		if authErr != nil {
			writeError(recorder, status, req.ID, codeUnauthorized, authErr.Error(), nil)
			return
		}
		s.handleSubmit(recorder, r.WithContext(ctx), req, txMethod)
		return
	}

	switch req.Method {
	case "auction_get":
		s.handleAuctionGet(recorder, r, req)
	case "house_config":
		s.handleHouseConfig(recorder, r, req)
	case "account_get":
		s.handleAccountGet(recorder, r, req)
	case "outbox_status":
		s.handleOutboxStatus(recorder, r, req)
	case "chain_height":
		s.handleChainHeight(recorder, r, req)
	default:
		writeError(recorder, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method), nil)
	}
}
